// Package odbc 实现通过 ODBC（或原生 TDS 兜底）访问 SQL Server 的数据源提供者。
package odbc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DataNexus/internal/adapter/provider/canonical"
	"DataNexus/internal/adapter/provider/sqlkit"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"
	"DataNexus/internal/nxobserve"
)

// Options 是构造 ODBC 提供者所需的依赖。
type Options struct {
	Tenant string
	Config *domain.DataSourceConfig

	Catalog        *DriverCatalog
	DriverOverride string
	Settings       ConnSettings
	SQLDrivers     func() []string

	Pools      port.PoolSource
	Normalizer port.StatusNormalizer
	Resolver   *mapping.Resolver

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// Open 仅在没有注册表时用于创建私有连接池，默认 sql.Open。
	Open func(driverName, dsn string) (*sql.DB, error)
}

// Provider 是 ODBC 数据源提供者。连接池的（重新）创建由 poolMu 串行化。
type Provider struct {
	tenant string
	cfg    *domain.DataSourceConfig
	target Target
	pools  port.PoolSource
	open   func(driverName, dsn string) (*sql.DB, error)
	shaper *canonical.Shaper

	connectTimeout time.Duration
	queryTimeout   time.Duration

	poolMu  sync.Mutex
	pool    *sql.DB
	private bool
}

var _ port.Provider = (*Provider)(nil)

// New 解析连接串并选择驱动，不建立连接。
func New(opts Options) (*Provider, error) {
	if opts.Config == nil {
		return nil, port.NewError(port.ErrProviderConstruction, "odbc.New", errors.New("缺少数据源配置"))
	}
	if opts.Config.ConnectionString == "" {
		return nil, port.NewError(port.ErrProviderConstruction, "odbc.New", errors.New("缺少连接串")).WithField("connection_string")
	}
	override := opts.DriverOverride
	if opts.Config.Options.ODBCDriver != "" {
		override = opts.Config.Options.ODBCDriver
	}
	resolver := &Resolver{Catalog: opts.Catalog, Override: override, Settings: opts.Settings, SQLDrivers: opts.SQLDrivers}
	target, err := resolver.Resolve(opts.Config.ConnectionString)
	if err != nil {
		return nil, port.NewError(port.ErrProviderConstruction, "odbc.New", err).WithField("connection_string")
	}

	p := &Provider{
		tenant:         opts.Tenant,
		cfg:            opts.Config,
		target:         target,
		pools:          opts.Pools,
		open:           opts.Open,
		connectTimeout: opts.Config.Options.ConnectTimeout(opts.ConnectTimeout),
		queryTimeout:   opts.Config.Options.QueryTimeout(opts.QueryTimeout),
		shaper: &canonical.Shaper{
			WorkspaceID: opts.Config.WorkspaceID,
			Resolver:    opts.Resolver,
			Normalizer:  opts.Normalizer,
		},
	}
	if p.tenant == "" {
		p.tenant = opts.Config.WorkspaceID
	}
	if p.open == nil {
		p.open = sql.Open
	}
	if p.connectTimeout <= 0 {
		p.connectTimeout = 15 * time.Second
	}
	slog.Debug("ODBC 连接目标已解析", "tenant", p.tenant, "sql_driver", target.SQLDriver, "odbc_driver", target.ODBCDriver, "dsn", target.Masked)
	return p, nil
}

// Kind 返回后端类型。
func (p *Provider) Kind() domain.BackendKind { return domain.BackendODBC }

// Target 返回解析后的连接目标（连接串已脱敏的版本在 Masked 中）。
func (p *Provider) Target() Target { return p.target }

// Connect 获取连接池并验证连通性。
func (p *Provider) Connect(ctx context.Context) error {
	_, err := p.acquire(ctx)
	return err
}

// Disconnect 放弃对连接池的引用；私有连接池会被关闭，注册表持有的不会。
func (p *Provider) Disconnect(context.Context) error {
	p.poolMu.Lock()
	db, private := p.pool, p.private
	p.pool, p.private = nil, false
	p.poolMu.Unlock()
	if db != nil && private {
		return db.Close()
	}
	return nil
}

func (p *Provider) acquire(ctx context.Context) (*sql.DB, error) {
	p.poolMu.Lock()
	defer p.poolMu.Unlock()
	if p.pool != nil {
		if p.private || p.pools == nil || p.pools.Touch(p.tenant, domain.BackendODBC, p.pool) {
			return p.pool, nil
		}
		// 注册表已回收或替换该连接池
		p.pool = nil
	}

	var (
		db      *sql.DB
		private bool
		err     error
	)
	desc := port.PoolDescriptor{DriverName: p.target.SQLDriver, DSN: p.target.DSN}
	if p.pools != nil {
		db, err = p.pools.GetOrCreate(ctx, p.tenant, domain.BackendODBC, desc)
	} else {
		db, err = p.open(desc.DriverName, desc.DSN)
		private = true
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
		}
	}
	if err != nil {
		return nil, port.NewError(port.ErrConnectionFailed, "odbc.Connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		p.disposeLocked(db, private)
		slog.Warn("ODBC 连接失败", "tenant", p.tenant, "dsn", p.target.Masked, "error", err)
		return nil, port.NewError(port.ErrConnectionFailed, "odbc.Connect", err)
	}
	p.pool, p.private = db, private
	slog.Info("ODBC 连接池就绪", "tenant", p.tenant, "sql_driver", p.target.SQLDriver, "odbc_driver", p.target.ODBCDriver)
	return db, nil
}

// teardown 在查询期间遇到连接错误时销毁并置空连接池，下一次 acquire 会重建。
func (p *Provider) teardown(db *sql.DB) {
	p.poolMu.Lock()
	defer p.poolMu.Unlock()
	if p.pool != db {
		return
	}
	p.disposeLocked(db, p.private)
	p.pool, p.private = nil, false
}

func (p *Provider) disposeLocked(db *sql.DB, private bool) {
	if private {
		_ = db.Close()
		return
	}
	if p.pools != nil {
		p.pools.Discard(p.tenant, domain.BackendODBC, db)
	}
}

func (p *Provider) fail(op, dataType string, db *sql.DB, err error) error {
	if sqlkit.IsConnectionError(err) {
		slog.Warn("ODBC 查询遇到连接错误，连接池将被重建", "tenant", p.tenant, "data_type", dataType, "error", err)
		p.teardown(db)
		return port.NewError(port.ErrConnectionFailed, op, err).WithDataType(dataType)
	}
	return port.NewError(port.ErrQueryExecution, op, err).WithDataType(dataType)
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.queryTimeout)
}

// TestConnection 报告服务器版本、当前数据库、两张规范表的行数与脱敏后的连接串。
func (p *Provider) TestConnection(ctx context.Context) *port.ConnectionTestResult {
	start := time.Now()
	details := map[string]any{
		"backend":           string(domain.BackendODBC),
		"sql_driver":        p.target.SQLDriver,
		"odbc_driver":       p.target.ODBCDriver,
		"connection_string": p.target.Masked,
	}

	db, err := p.acquire(ctx)
	if err != nil {
		return &port.ConnectionTestResult{Success: false, Message: fmt.Sprintf("连接失败: %v", err), Details: details}
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var version, database string
	if err := db.QueryRowContext(qctx, "SELECT @@VERSION").Scan(&version); err != nil {
		return &port.ConnectionTestResult{Success: false, Message: fmt.Sprintf("查询服务器版本失败: %v", p.fail("odbc.TestConnection", domain.DataTypeTestConnection, db, err)), Details: details}
	}
	details["server_version"] = version
	if err := db.QueryRowContext(qctx, "SELECT DB_NAME()").Scan(&database); err == nil {
		details["database"] = database
	}
	for _, table := range []string{"equipment_status", "measurement_info"} {
		var n int64
		if err := db.QueryRowContext(qctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			details[table+"_count"] = fmt.Sprintf("不可用: %v", err)
			continue
		}
		details[table+"_count"] = n
	}
	details["latency_ms"] = time.Since(start).Milliseconds()
	return &port.ConnectionTestResult{Success: true, Message: "连接成功", Details: details}
}

func (p *Provider) observe(op string, start time.Time, err error) {
	nxobserve.ObserveProviderOperation(string(domain.BackendODBC), op, start, err)
}
