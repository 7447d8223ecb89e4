// Package rest 实现把远程 REST API 包装为数据源的提供者。
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"DataNexus/internal/adapter/provider/canonical"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"
	"DataNexus/internal/nxobserve"

	"golang.org/x/time/rate"
)

// Options 是构造 REST 提供者所需的依赖。
type Options struct {
	Tenant string
	Config *domain.DataSourceConfig

	Store      port.MappingStore
	Normalizer port.StatusNormalizer
	Resolver   *mapping.Resolver

	HTTPTimeout time.Duration
	// 数据源 options 未指定限流时使用的默认值，RateLimit <= 0 表示不限流。
	RateLimit float64
	Burst     int

	// HTTPClient 为空时按 HTTPTimeout 新建。
	HTTPClient *http.Client
}

// Provider 是 REST 数据源提供者。
type Provider struct {
	tenant string
	cfg    *domain.DataSourceConfig
	store  port.MappingStore
	client *client
	shaper *canonical.Shaper

	mu        sync.Mutex
	endpoints endpointTable
}

var _ port.Provider = (*Provider)(nil)

// New 校验配置并创建 HTTP 客户端，不发出任何请求。
func New(opts Options) (*Provider, error) {
	if opts.Config == nil {
		return nil, port.NewError(port.ErrProviderConstruction, "rest.New", errors.New("缺少数据源配置"))
	}
	cfg := opts.Config
	if cfg.ConnectionString == "" {
		return nil, port.NewError(port.ErrProviderConstruction, "rest.New", errors.New("缺少 base URL")).WithField("connection_string")
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := cfg.Options.HTTPTimeout(opts.HTTPTimeout)
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	perSecond, burst := opts.RateLimit, opts.Burst
	if cfg.Options.RateLimitPerSecond > 0 {
		perSecond, burst = cfg.Options.RateLimitPerSecond, cfg.Options.RateLimitBurst
	}
	var limiter *rate.Limiter
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}

	c, err := newClient(cfg.ConnectionString, hc, cfg.Headers, authConfig{
		Scheme: cfg.Options.AuthScheme,
		Key:    cfg.APIKey,
		Header: cfg.Options.APIKeyHeader,
	}, limiter)
	if err != nil {
		field := "connection_string"
		if cfg.Options.AuthScheme != "" {
			field = "options.auth_scheme"
		}
		return nil, port.NewError(port.ErrProviderConstruction, "rest.New", err).WithField(field)
	}

	p := &Provider{
		tenant: opts.Tenant,
		cfg:    cfg,
		store:  opts.Store,
		client: c,
		shaper: &canonical.Shaper{
			WorkspaceID: cfg.WorkspaceID,
			Resolver:    opts.Resolver,
			Normalizer:  opts.Normalizer,
		},
	}
	if p.tenant == "" {
		p.tenant = cfg.WorkspaceID
	}
	return p, nil
}

// Kind 返回后端类型。
func (p *Provider) Kind() domain.BackendKind { return domain.BackendREST }

// Connect 加载端点映射。REST 没有持久连接，网络可达性在各操作中体现。
func (p *Provider) Connect(ctx context.Context) error {
	_, err := p.endpointTable(ctx)
	return err
}

// Disconnect 释放空闲的 keep-alive 连接并丢弃端点缓存。
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	p.endpoints = nil
	p.mu.Unlock()
	p.client.close()
	return nil
}

func (p *Provider) endpointTable(ctx context.Context) (endpointTable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endpoints != nil {
		return p.endpoints, nil
	}

	var rows []domain.EndpointMapping
	if p.store != nil {
		var err error
		rows, err = p.store.EndpointMappings(ctx, p.cfg.ID)
		if err != nil {
			slog.Warn("加载端点映射失败，使用内置端点表", "tenant", p.tenant, "data_source_id", p.cfg.ID, "error", err)
			rows = nil
		}
	}
	table, err := buildEndpointTable(rows)
	if err != nil {
		return nil, port.NewError(port.ErrProviderConstruction, "rest.Connect", err)
	}
	p.endpoints = table
	slog.Debug("REST 端点表已加载", "tenant", p.tenant, "data_source_id", p.cfg.ID, "custom_rows", len(rows))
	return table, nil
}

func (p *Provider) endpoint(ctx context.Context, op, dataType string) (domain.EndpointMapping, error) {
	table, err := p.endpointTable(ctx)
	if err != nil {
		return domain.EndpointMapping{}, err
	}
	e, ok := table.lookup(dataType)
	if !ok {
		return domain.EndpointMapping{}, port.NewError(port.ErrUnsupportedOperation, op,
			fmt.Errorf("数据源未配置 %s 端点", dataType)).WithDataType(dataType)
	}
	return e, nil
}

// TestConnection 调用健康检查端点，报告状态码与耗时。
func (p *Provider) TestConnection(ctx context.Context) *port.ConnectionTestResult {
	start := time.Now()
	details := map[string]any{
		"backend":  string(domain.BackendREST),
		"base_url": p.client.base.Redacted(),
	}
	e, err := p.endpoint(ctx, "rest.TestConnection", domain.DataTypeTestConnection)
	if err != nil {
		return &port.ConnectionTestResult{Success: false, Message: err.Error(), Details: details}
	}
	details["endpoint"] = e.Path

	body, code, err := p.client.do(ctx, e.Method, e.Path, nil, nil)
	details["latency_ms"] = time.Since(start).Milliseconds()
	if code != 0 {
		details["status_code"] = code
	}
	if err != nil {
		return &port.ConnectionTestResult{Success: false, Message: fmt.Sprintf("连接失败: %v", err), Details: details}
	}
	if obj, ok := body.(map[string]any); ok {
		if v, ok := obj["version"]; ok {
			details["server_version"] = v
		}
	}
	return &port.ConnectionTestResult{Success: true, Message: "连接成功", Details: details}
}

func (p *Provider) observe(op string, start time.Time, err error) {
	nxobserve.ObserveProviderOperation(string(domain.BackendREST), op, start, err)
}
