// Package port file: internal/core/port/service.go
package port

import (
	"context"
	"database/sql"

	"DataNexus/internal/core/domain"
)

// Decryptor 由外部注入，负责解密配置中的密文字段。
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// ConfigLoader 按租户（UUID 或 slug）与可选的显式配置 ID 解析出解密后的数据源配置。
type ConfigLoader interface {
	Load(ctx context.Context, tenantRef, explicitID string) (*domain.DataSourceConfig, error)
}

// MappingStore 只读地提供各类映射行。
type MappingStore interface {
	FieldMappings(ctx context.Context, dataSourceID, dataType string) ([]domain.FieldMapping, error)
	CodeMappings(ctx context.Context, workspaceID, dataSourceID string) ([]domain.CodeMapping, error)
	StatusMappings(ctx context.Context, workspaceID string) ([]domain.StatusMapping, error)
	EndpointMappings(ctx context.Context, dataSourceID string) ([]domain.EndpointMapping, error)
}

// StatusNormalizer 把厂商状态字符串归一化为三态枚举。
type StatusNormalizer interface {
	Normalize(ctx context.Context, raw any, workspaceID string) domain.EquipmentStatus
}

// PoolDescriptor 描述一个连接池条目如何被创建。
type PoolDescriptor struct {
	DriverName string
	DSN        string
}

// PoolSource 是连接池注册表对提供者暴露的能力。
type PoolSource interface {
	GetOrCreate(ctx context.Context, tenant string, kind domain.BackendKind, desc PoolDescriptor) (*sql.DB, error)
	Discard(tenant string, kind domain.BackendKind, handle *sql.DB)
	// Touch 刷新条目的最后使用时间；句柄已被回收或替换时返回 false，调用方应重新获取。
	Touch(tenant string, kind domain.BackendKind, handle *sql.DB) bool
}
