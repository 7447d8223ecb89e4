// Package relational 实现基于 database/sql 的关系型数据源提供者。
package relational

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

// Options 是构造关系型提供者所需的依赖。
type Options struct {
	Tenant string
	Config *domain.DataSourceConfig

	// Session 由调用方持有，提供者只借用，不负责关闭。
	Session        *sql.DB
	SessionDialect string

	Pools      port.PoolSource
	Normalizer port.StatusNormalizer
	Resolver   *mapping.Resolver

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// Open 仅在没有注册表时用于创建私有连接，默认 sql.Open。
	Open func(driverName, dsn string) (*sql.DB, error)
}

// Provider 是关系型数据源提供者。
type Provider struct {
	tenant  string
	cfg     *domain.DataSourceConfig
	dialect Dialect
	desc    port.PoolDescriptor

	session *sql.DB
	pools   port.PoolSource
	open    func(driverName, dsn string) (*sql.DB, error)
	shaper  *canonical.Shaper

	connectTimeout time.Duration
	queryTimeout   time.Duration

	mu      sync.Mutex
	db      *sql.DB
	private bool
}

var _ port.Provider = (*Provider)(nil)

// New 构造提供者，不建立任何连接。
func New(opts Options) (*Provider, error) {
	if opts.Config == nil {
		return nil, port.NewError(port.ErrProviderConstruction, "relational.New", errors.New("缺少数据源配置"))
	}
	p := &Provider{
		tenant:         opts.Tenant,
		cfg:            opts.Config,
		session:        opts.Session,
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
	if p.open == nil {
		p.open = sql.Open
	}
	if p.connectTimeout <= 0 {
		p.connectTimeout = 10 * time.Second
	}
	if p.tenant == "" {
		p.tenant = opts.Config.WorkspaceID
	}

	switch {
	case opts.Config.ConnectionString != "":
		dialect, dsn, err := ParseConnectionString(opts.Config.ConnectionString)
		if err != nil {
			return nil, port.NewError(port.ErrProviderConstruction, "relational.New", err).WithField("connection_string")
		}
		p.dialect = dialect
		p.desc = port.PoolDescriptor{DriverName: dialect.DriverName, DSN: dsn}
		// 显式配置了连接串时不使用调用方会话
		p.session = nil
	case opts.Session != nil:
		dialect, err := DialectByName(opts.SessionDialect)
		if err != nil {
			return nil, port.NewError(port.ErrProviderConstruction, "relational.New", err)
		}
		p.dialect = dialect
	default:
		return nil, port.NewError(port.ErrProviderConstruction, "relational.New", errors.New("既没有连接串也没有可用的会话")).WithField("connection_string")
	}
	return p, nil
}

// Kind 返回后端类型。
func (p *Provider) Kind() domain.BackendKind { return domain.BackendRelational }

// Connect 获取连接句柄并做一次 Ping。可重复调用。
func (p *Provider) Connect(ctx context.Context) error {
	_, err := p.handle(ctx)
	return err
}

// Disconnect 释放对句柄的引用；只有私有句柄才会被关闭。
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	db, private := p.db, p.private
	p.db, p.private = nil, false
	p.mu.Unlock()

	if db != nil && private {
		return db.Close()
	}
	return nil
}

func (p *Provider) handle(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		if p.session != nil || p.private || p.pools == nil || p.pools.Touch(p.tenant, domain.BackendRelational, p.db) {
			return p.db, nil
		}
		// 注册表已回收或替换该句柄
		p.db = nil
	}

	var (
		db      *sql.DB
		private bool
		err     error
	)
	switch {
	case p.session != nil:
		db = p.session
	case p.pools != nil:
		db, err = p.pools.GetOrCreate(ctx, p.tenant, domain.BackendRelational, p.desc)
	default:
		db, err = p.open(p.desc.DriverName, p.desc.DSN)
		private = true
	}
	if err != nil {
		return nil, port.NewError(port.ErrConnectionFailed, "relational.Connect", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		switch {
		case private:
			_ = db.Close()
		case p.session == nil && p.pools != nil:
			p.pools.Discard(p.tenant, domain.BackendRelational, db)
		}
		return nil, port.NewError(port.ErrConnectionFailed, "relational.Connect", err)
	}
	p.db, p.private = db, private
	return db, nil
}

// fail 把底层错误归类；连接层错误会让注册表丢弃当前句柄，下一次调用重新创建。
func (p *Provider) fail(op, dataType string, db *sql.DB, err error) error {
	if sqlkit.IsConnectionError(err) {
		p.mu.Lock()
		if p.db == db {
			p.db = nil
		}
		p.mu.Unlock()
		if p.session == nil && p.pools != nil {
			p.pools.Discard(p.tenant, domain.BackendRelational, db)
		}
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

// TestConnection 报告连通性、版本以及两张规范表的行数，连接串已脱敏。
func (p *Provider) TestConnection(ctx context.Context) *port.ConnectionTestResult {
	start := time.Now()
	details := map[string]any{
		"backend": string(domain.BackendRelational),
		"dialect": p.dialect.Name,
	}
	if p.desc.DSN != "" {
		details["connection_string"] = MaskDSN(p.desc.DSN)
	} else {
		details["connection_string"] = "(调用方会话)"
	}

	db, err := p.handle(ctx)
	if err != nil {
		return &port.ConnectionTestResult{Success: false, Message: fmt.Sprintf("连接失败: %v", err), Details: details}
	}

	qctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var version string
	if err := db.QueryRowContext(qctx, p.dialect.VersionQuery).Scan(&version); err != nil {
		slog.Warn("获取数据库版本失败", "tenant", p.tenant, "error", err)
	} else {
		details["server_version"] = version
	}
	for _, table := range []string{"equipment_status", "measurement_info"} {
		var n int64
		if err := db.QueryRowContext(qctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			details[table+"_count"] = fmt.Sprintf("不可用: %v", err)
			continue
		}
		details[table+"_count"] = n
	}
	stats := db.Stats()
	details["open_connections"] = stats.OpenConnections
	details["latency_ms"] = time.Since(start).Milliseconds()
	return &port.ConnectionTestResult{Success: true, Message: "连接成功", Details: details}
}

func (p *Provider) observe(op string, start time.Time, err error) {
	nxobserve.ObserveProviderOperation(string(domain.BackendRelational), op, start, err)
}
