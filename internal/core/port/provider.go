// Package port file: internal/core/port/provider.go
package port

import (
	"context"

	"DataNexus/internal/core/domain"
)

// EquipmentQuery 是设备状态列表的过滤与分页参数。
type EquipmentQuery struct {
	EquipmentType string
	Status        string
	Limit         int
	Offset        int
}

// MeasurementQuery 是测量数据的过滤参数。
type MeasurementQuery struct {
	EquipmentCode   string
	EquipmentType   string
	MeasurementCode string
	Limit           int
}

// 分页默认值与上限。
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Normalized 返回把分页参数限制在合法范围后的副本。
func (q EquipmentQuery) Normalized() EquipmentQuery {
	q.Limit = clampLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Normalized 返回把条数限制在合法范围后的副本。
func (q MeasurementQuery) Normalized() MeasurementQuery {
	q.Limit = clampLimit(q.Limit)
	return q
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// ConnectionTestResult 是连接诊断结果，Details 中的连接串必须已脱敏。
type ConnectionTestResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Provider 是所有后端共享的能力契约。
type Provider interface {
	// Connect 获取（或复用）连接资源，可重复调用。
	Connect(ctx context.Context) error

	// Disconnect 归还连接资源；只有私有连接才会被真正关闭。
	Disconnect(ctx context.Context) error

	GetEquipmentStatus(ctx context.Context, q EquipmentQuery) (*domain.EquipmentPage, error)
	GetMeasurementData(ctx context.Context, q MeasurementQuery) ([]domain.MeasurementRecord, error)

	// GetLatestMeasurement 没有数据时返回 (nil, nil)。
	GetLatestMeasurement(ctx context.Context, equipmentCode string) (*domain.MeasurementRecord, error)

	UpdateEquipmentStatus(ctx context.Context, equipmentCode, status string) (bool, error)
	TestConnection(ctx context.Context) *ConnectionTestResult
	ExecuteSQL(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// Kind 返回后端类型标识。
	Kind() domain.BackendKind
}
