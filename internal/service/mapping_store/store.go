// Package mapping_store 是映射行（字段、编码、状态、端点）的 gorm 只读仓库。
package mapping_store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store 实现 port.MappingStore。
type Store struct {
	db *gorm.DB
}

var _ port.MappingStore = (*Store)(nil)

// New 包装一个已打开的 gorm 连接。
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("mapping store 初始化失败: gorm 实例不能为 nil")
	}
	return &Store{db: db}, nil
}

// NewFromSQL 复用元数据库的 *sql.DB（lib/pq 或其它 PostgreSQL 驱动打开）。
func NewFromSQL(sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, errors.New("mapping store 初始化失败: sql.DB 实例不能为 nil")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: newLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 gorm 连接失败: %w", err)
	}
	return New(db)
}

func newLogger() logger.Interface {
	return logger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Migrate 创建或补齐四张映射表。
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&domain.FieldMapping{},
		&domain.CodeMapping{},
		&domain.StatusMapping{},
		&domain.EndpointMapping{},
	)
	if err != nil {
		return fmt.Errorf("迁移映射表失败: %w", err)
	}
	return nil
}

// FieldMappings 返回某数据源某数据类型的字段映射。
func (s *Store) FieldMappings(ctx context.Context, dataSourceID, dataType string) ([]domain.FieldMapping, error) {
	var out []domain.FieldMapping
	err := s.db.WithContext(ctx).
		Where("data_source_id = ? AND data_type = ?", dataSourceID, dataType).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询字段映射失败: %w", err)
	}
	return out, nil
}

// CodeMappings 返回工作区下某数据源的全部编码映射。
func (s *Store) CodeMappings(ctx context.Context, workspaceID, dataSourceID string) ([]domain.CodeMapping, error) {
	var out []domain.CodeMapping
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND data_source_id = ?", workspaceID, dataSourceID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询编码映射失败: %w", err)
	}
	return out, nil
}

// StatusMappings 返回工作区的状态覆盖表。
func (s *Store) StatusMappings(ctx context.Context, workspaceID string) ([]domain.StatusMapping, error) {
	var out []domain.StatusMapping
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询状态映射失败: %w", err)
	}
	return out, nil
}

// EndpointMappings 返回 REST 数据源的端点映射。
func (s *Store) EndpointMappings(ctx context.Context, dataSourceID string) ([]domain.EndpointMapping, error) {
	var out []domain.EndpointMapping
	err := s.db.WithContext(ctx).
		Where("data_source_id = ?", dataSourceID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("查询端点映射失败: %w", err)
	}
	return out, nil
}
