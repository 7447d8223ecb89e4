// Package dispatcher 是数据访问层的门面：按租户加载配置，延迟构建唯一的提供者并转发调用。
package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"
)

// State 是 Dispatcher 的生命周期状态。
type State int

const (
	StateUnconfigured State = iota // 尚未加载配置
	StateConfigured                // 配置已加载，提供者未连接
	StateActive                    // 提供者已连接
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// ErrClosed 表示 Dispatcher 已关闭。
var ErrClosed = errors.New("dispatcher 已关闭")

// Dependencies 是 Dispatcher 的协作者，通常在进程内共享。
type Dependencies struct {
	Loader     port.ConfigLoader
	Factory    *Factory
	Pools      port.PoolSource
	Normalizer port.StatusNormalizer
	Mappings   port.MappingStore
}

// Option 配置单个 Dispatcher。
type Option func(*Dispatcher)

// WithDataSourceID 指定显式的数据源配置 ID，优先于租户的默认配置。
func WithDataSourceID(id string) Option {
	return func(d *Dispatcher) { d.explicitID = id }
}

// WithSession 提供调用方持有的关系型会话，仅关系型后端使用，生命周期由调用方负责。
func WithSession(db *sql.DB, dialect string) Option {
	return func(d *Dispatcher) {
		d.session = db
		d.sessionDialect = dialect
	}
}

// Dispatcher 绑定到一个租户，实例内最多构建一个提供者。并发调用安全。
type Dispatcher struct {
	tenant         string
	explicitID     string
	session        *sql.DB
	sessionDialect string
	deps           Dependencies

	mu       sync.Mutex
	state    State
	closed   bool
	config   *domain.DataSourceConfig
	provider port.Provider
}

var _ port.Provider = (*Dispatcher)(nil)

// New 创建 Dispatcher，不做任何 I/O。
func New(tenant string, deps Dependencies, opts ...Option) *Dispatcher {
	if deps.Factory == nil {
		deps.Factory = NewFactory(FactoryConfig{})
	}
	d := &Dispatcher{tenant: tenant, deps: deps}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State 返回当前状态。
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Config 返回已解析的配置，必要时加载。
func (d *Dispatcher) Config(ctx context.Context) (*domain.DataSourceConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.configureLocked(ctx); err != nil {
		return nil, err
	}
	return d.config, nil
}

func (d *Dispatcher) configureLocked(ctx context.Context) error {
	if d.closed {
		return ErrClosed
	}
	if d.state != StateUnconfigured {
		return nil
	}
	if d.deps.Loader == nil {
		return port.NewError(port.ErrConfigNotFound, "dispatcher.Configure", errors.New("没有配置加载器"))
	}
	cfg, err := d.deps.Loader.Load(ctx, d.tenant, d.explicitID)
	if err != nil {
		slog.Warn("加载数据源配置失败", "tenant", d.tenant, "data_source_id", d.explicitID, "code", port.Code(err), "error", err)
		return port.Ensure(port.ErrConfigNotFound, "dispatcher.Configure", err)
	}
	d.config = cfg
	d.state = StateConfigured
	return nil
}

// active 返回已连接的提供者，必要时依次完成加载配置、构建与连接。
func (d *Dispatcher) active(ctx context.Context) (port.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.configureLocked(ctx); err != nil {
		return nil, err
	}
	if d.state == StateActive {
		return d.provider, nil
	}

	resolver := mapping.NewResolver(d.deps.Mappings, d.config.WorkspaceID, d.config.ID)
	resolver.Load(ctx)
	p, err := d.deps.Factory.Build(ctx, BuildInput{
		Tenant:         d.poolTenantLocked(),
		Config:         d.config,
		Session:        d.session,
		SessionDialect: d.sessionDialect,
		Pools:          d.deps.Pools,
		Normalizer:     d.deps.Normalizer,
		Mappings:       d.deps.Mappings,
		Resolver:       resolver,
	})
	if err != nil {
		slog.Error("构建数据源提供者失败", "tenant", d.tenant, "backend", d.config.Kind, "code", port.Code(err), "error", err)
		return nil, err
	}
	if err := p.Connect(ctx); err != nil {
		_ = p.Disconnect(ctx)
		slog.Warn("数据源连接失败", "tenant", d.tenant, "backend", d.config.Kind, "code", port.Code(err), "error", err)
		return nil, port.Ensure(port.ErrConnectionFailed, "dispatcher.Connect", err)
	}
	d.provider = p
	d.state = StateActive
	slog.Info("数据源提供者已就绪", "tenant", d.tenant, "backend", d.config.Kind, "data_source_id", d.config.ID)
	return p, nil
}

// poolTenantLocked 返回连接池注册表使用的租户键：解析后的 workspace id，
// 同一工作区的 slug 与 UUID 两种引用因此共用一个条目。
func (d *Dispatcher) poolTenantLocked() string {
	if d.config != nil && d.config.WorkspaceID != "" {
		return d.config.WorkspaceID
	}
	return d.tenant
}

// Kind 返回已加载配置的后端类型；未加载时为空。
func (d *Dispatcher) Kind() domain.BackendKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.config == nil {
		return ""
	}
	return d.config.Kind
}

// Connect 立即完成配置加载、构建与连接。
func (d *Dispatcher) Connect(ctx context.Context) error {
	_, err := d.active(ctx)
	return err
}

// Disconnect 断开提供者，保留已加载的配置。
func (d *Dispatcher) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectLocked(ctx, StateConfigured)
}

func (d *Dispatcher) disconnectLocked(ctx context.Context, next State) error {
	var err error
	if d.provider != nil {
		err = d.provider.Disconnect(ctx)
		d.provider = nil
	}
	if d.state == StateActive || next == StateUnconfigured {
		d.state = next
	}
	if next == StateUnconfigured {
		d.config = nil
	}
	return err
}

// Refresh 丢弃配置与提供者，回到未配置状态；下一次调用重新加载。
func (d *Dispatcher) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	slog.Info("刷新数据源", "tenant", d.tenant)
	return d.disconnectLocked(ctx, StateUnconfigured)
}

// Close 释放提供者，之后的调用返回 ErrClosed。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.disconnectLocked(ctx, StateUnconfigured)
	d.closed = true
	return err
}

// GetEquipmentStatus 转发到提供者，并把字段映射诊断附在分页结果上。
func (d *Dispatcher) GetEquipmentStatus(ctx context.Context, q port.EquipmentQuery) (*domain.EquipmentPage, error) {
	p, err := d.active(ctx)
	if err != nil {
		return nil, err
	}
	ctx, diags := port.WithDiagnostics(ctx)
	page, err := p.GetEquipmentStatus(ctx, q)
	if page != nil {
		page.Diagnostics = append(page.Diagnostics, diags.List()...)
	}
	return page, err
}

// GetMeasurementData 转发到提供者。
func (d *Dispatcher) GetMeasurementData(ctx context.Context, q port.MeasurementQuery) ([]domain.MeasurementRecord, error) {
	p, err := d.active(ctx)
	if err != nil {
		return nil, err
	}
	return p.GetMeasurementData(ctx, q)
}

// GetLatestMeasurement 转发到提供者。
func (d *Dispatcher) GetLatestMeasurement(ctx context.Context, equipmentCode string) (*domain.MeasurementRecord, error) {
	p, err := d.active(ctx)
	if err != nil {
		return nil, err
	}
	return p.GetLatestMeasurement(ctx, equipmentCode)
}

// UpdateEquipmentStatus 转发到提供者。
func (d *Dispatcher) UpdateEquipmentStatus(ctx context.Context, equipmentCode, status string) (bool, error) {
	p, err := d.active(ctx)
	if err != nil {
		return false, err
	}
	return p.UpdateEquipmentStatus(ctx, equipmentCode, status)
}

// ExecuteSQL 转发到提供者。
func (d *Dispatcher) ExecuteSQL(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	p, err := d.active(ctx)
	if err != nil {
		return nil, err
	}
	return p.ExecuteSQL(ctx, query, params)
}

// TestConnection 不要求连接成功：配置或构建阶段的失败也以诊断结果返回。
func (d *Dispatcher) TestConnection(ctx context.Context) *port.ConnectionTestResult {
	p, err := d.active(ctx)
	if err != nil {
		details := map[string]any{"code": port.Code(err), "tenant": d.tenant}
		if kind := d.Kind(); kind != "" {
			details["backend"] = string(kind)
		}
		return &port.ConnectionTestResult{Success: false, Message: err.Error(), Details: details}
	}
	return p.TestConnection(ctx)
}
