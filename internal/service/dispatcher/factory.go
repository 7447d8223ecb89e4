// Package dispatcher file: internal/service/dispatcher/factory.go
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"DataNexus/internal/adapter/provider/odbc"
	"DataNexus/internal/adapter/provider/relational"
	"DataNexus/internal/adapter/provider/rest"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"
)

// BuildInput 是构建某个提供者所需的全部输入。
type BuildInput struct {
	Tenant         string
	Config         *domain.DataSourceConfig
	Session        *sql.DB
	SessionDialect string
	Pools          port.PoolSource
	Normalizer     port.StatusNormalizer
	Mappings       port.MappingStore
	Resolver       *mapping.Resolver
}

// Builder 按配置构建一种后端的提供者。
type Builder func(ctx context.Context, in BuildInput) (port.Provider, error)

// FactoryConfig 是各后端共享的进程级设置。
type FactoryConfig struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	HTTPTimeout    time.Duration

	ODBCCatalog        *odbc.DriverCatalog
	ODBCDriverOverride string
	ODBCSettings       odbc.ConnSettings

	RESTRateLimit float64
	RESTBurst     int
}

// Factory 是 backend kind → Builder 的注册表。
type Factory struct {
	mu       sync.RWMutex
	builders map[domain.BackendKind]Builder
}

// NewFactory 创建注册了三种内置后端的工厂。
func NewFactory(cfg FactoryConfig) *Factory {
	f := &Factory{builders: make(map[domain.BackendKind]Builder)}
	f.Register(domain.BackendRelational, func(_ context.Context, in BuildInput) (port.Provider, error) {
		return relational.New(relational.Options{
			Tenant:         in.Tenant,
			Config:         in.Config,
			Session:        in.Session,
			SessionDialect: in.SessionDialect,
			Pools:          in.Pools,
			Normalizer:     in.Normalizer,
			Resolver:       in.Resolver,
			ConnectTimeout: cfg.ConnectTimeout,
			QueryTimeout:   cfg.QueryTimeout,
		})
	})
	f.Register(domain.BackendODBC, func(_ context.Context, in BuildInput) (port.Provider, error) {
		return odbc.New(odbc.Options{
			Tenant:         in.Tenant,
			Config:         in.Config,
			Catalog:        cfg.ODBCCatalog,
			DriverOverride: cfg.ODBCDriverOverride,
			Settings:       cfg.ODBCSettings,
			Pools:          in.Pools,
			Normalizer:     in.Normalizer,
			Resolver:       in.Resolver,
			ConnectTimeout: cfg.ConnectTimeout,
			QueryTimeout:   cfg.QueryTimeout,
		})
	})
	f.Register(domain.BackendREST, func(_ context.Context, in BuildInput) (port.Provider, error) {
		return rest.New(rest.Options{
			Tenant:      in.Tenant,
			Config:      in.Config,
			Store:       in.Mappings,
			Normalizer:  in.Normalizer,
			Resolver:    in.Resolver,
			HTTPTimeout: cfg.HTTPTimeout,
			RateLimit:   cfg.RESTRateLimit,
			Burst:       cfg.RESTBurst,
		})
	})
	return f
}

// Register 注册或替换某种后端的构建函数。
func (f *Factory) Register(kind domain.BackendKind, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = b
}

// Build 按配置中的后端类型构建提供者。没有对应构建函数时返回 UNSUPPORTED_BACKEND_KIND，不会退回到其它后端。
func (f *Factory) Build(ctx context.Context, in BuildInput) (port.Provider, error) {
	const op = "dispatcher.Build"
	if in.Config == nil {
		return nil, port.NewError(port.ErrProviderConstruction, op, fmt.Errorf("缺少数据源配置"))
	}
	f.mu.RLock()
	b, ok := f.builders[in.Config.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, port.NewError(port.ErrUnsupportedBackendKind, op, fmt.Errorf("后端类型 %q 没有注册构建函数", in.Config.Kind)).WithField("backend_kind")
	}
	p, err := b(ctx, in)
	if err != nil {
		return nil, port.Ensure(port.ErrProviderConstruction, op, err)
	}
	if p.Kind() != in.Config.Kind {
		return nil, port.NewError(port.ErrProviderConstruction, op,
			fmt.Errorf("构建出的提供者类型 %q 与配置 %q 不一致", p.Kind(), in.Config.Kind))
	}
	return p, nil
}
