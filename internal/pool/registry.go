// Package pool 实现进程级的连接池注册表，按 (租户, 后端类型) 持有长连接句柄。
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/nxobserve"

	"github.com/robfig/cron/v3"
)

// ErrRegistryClosed 在注册表关闭后调用 GetOrCreate 时返回。
var ErrRegistryClosed = errors.New("连接池注册表已关闭")

// OpenFunc 打开一个数据库句柄，测试中可替换为 sqlmock。
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Sizing 是某一后端类型的池大小设置。
type Sizing struct {
	PoolSize    int           `mapstructure:"size"`
	MaxOverflow int           `mapstructure:"overflow"`
	Recycle     time.Duration `mapstructure:"recycle"`
}

// Config 是注册表的配置。
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Sizing        map[domain.BackendKind]Sizing
	Open          OpenFunc
}

// DefaultSizing 返回内置的池大小：ODBC 池更小、溢出更保守。
func DefaultSizing() map[domain.BackendKind]Sizing {
	return map[domain.BackendKind]Sizing{
		domain.BackendRelational: {PoolSize: 10, MaxOverflow: 20, Recycle: 30 * time.Minute},
		domain.BackendODBC:       {PoolSize: 5, MaxOverflow: 5, Recycle: 30 * time.Minute},
	}
}

type entryKey struct {
	tenant string
	kind   domain.BackendKind
}

type entry struct {
	desc      port.PoolDescriptor
	db        *sql.DB
	createdAt time.Time
	lastUsed  time.Time
	usage     int64
}

// EntryStats 是条目的诊断快照。
type EntryStats struct {
	Tenant          string             `json:"tenant"`
	Kind            domain.BackendKind `json:"kind"`
	DriverName      string             `json:"driver_name"`
	CreatedAt       time.Time          `json:"created_at"`
	LastUsed        time.Time          `json:"last_used"`
	UsageCount      int64              `json:"usage_count"`
	OpenConnections int                `json:"open_connections"`
	InUse           int                `json:"in_use"`
}

// Registry 是连接池注册表。创建与替换条目在 mu 下串行，查询本身不经过该锁。
type Registry struct {
	cfg Config

	mu             sync.Mutex
	entries        map[entryKey]*entry
	sweeper        *cron.Cron
	sweeperStarted bool
	closed         bool

	now func() time.Time
}

var _ port.PoolSource = (*Registry)(nil)

// NewRegistry 创建注册表；后台清理任务在第一次 GetOrCreate 时才启动。
func NewRegistry(cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Sizing == nil {
		cfg.Sizing = DefaultSizing()
	}
	if cfg.Open == nil {
		cfg.Open = sql.Open
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[entryKey]*entry),
		now:     time.Now,
	}
}

// GetOrCreate 返回 (tenant, kind) 对应的句柄。描述符变化时旧句柄被释放并替换。
func (r *Registry) GetOrCreate(_ context.Context, tenant string, kind domain.BackendKind, desc port.PoolDescriptor) (*sql.DB, error) {
	if tenant == "" {
		return nil, errors.New("租户标识不能为空")
	}
	if desc.DriverName == "" || desc.DSN == "" {
		return nil, errors.New("连接描述符不完整")
	}
	key := entryKey{tenant: tenant, kind: kind}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.ensureSweeperLocked()

	var stale *sql.DB
	if e, ok := r.entries[key]; ok {
		if e.desc == desc {
			e.lastUsed = r.now()
			e.usage++
			r.mu.Unlock()
			return e.db, nil
		}
		stale = e.db
		delete(r.entries, key)
		nxobserve.PoolDisposed.WithLabelValues(string(kind), "replaced").Inc()
		slog.Info("连接描述符已变化，替换连接池", "tenant", tenant, "backend", kind)
	}

	db, err := r.cfg.Open(desc.DriverName, desc.DSN)
	if err != nil {
		r.refreshGaugeLocked()
		r.mu.Unlock()
		closeQuietly(stale, tenant, kind)
		return nil, fmt.Errorf("创建连接池失败 (租户 %s, 后端 %s): %w", tenant, kind, err)
	}
	r.applySizing(db, kind)

	now := r.now()
	r.entries[key] = &entry{desc: desc, db: db, createdAt: now, lastUsed: now, usage: 1}
	nxobserve.PoolCreated.WithLabelValues(string(kind)).Inc()
	r.refreshGaugeLocked()
	r.mu.Unlock()

	closeQuietly(stale, tenant, kind)
	slog.Debug("连接池已创建", "tenant", tenant, "backend", kind, "driver", desc.DriverName)
	return db, nil
}

// Discard 在调用方发现句柄已失效时将其移出注册表并关闭；句柄已被替换时不做任何事。
func (r *Registry) Discard(tenant string, kind domain.BackendKind, handle *sql.DB) {
	if handle == nil {
		return
	}
	key := entryKey{tenant: tenant, kind: kind}
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.db != handle {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	nxobserve.PoolDisposed.WithLabelValues(string(kind), "discarded").Inc()
	r.refreshGaugeLocked()
	r.mu.Unlock()

	closeQuietly(handle, tenant, kind)
	slog.Warn("连接池因连接错误被丢弃", "tenant", tenant, "backend", kind)
}

// Touch 在提供者复用缓存的句柄时刷新最后使用时间，避免仍在使用的条目被空闲清理回收。
func (r *Registry) Touch(tenant string, kind domain.BackendKind, handle *sql.DB) bool {
	if handle == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entryKey{tenant: tenant, kind: kind}]
	if !ok || e.db != handle {
		return false
	}
	e.lastUsed = r.now()
	e.usage++
	return true
}

// CloseTenant 释放某租户的全部条目。
func (r *Registry) CloseTenant(tenant string) int {
	r.mu.Lock()
	var victims []*sql.DB
	var kinds []domain.BackendKind
	for k, e := range r.entries {
		if k.tenant != tenant {
			continue
		}
		victims = append(victims, e.db)
		kinds = append(kinds, k.kind)
		delete(r.entries, k)
		nxobserve.PoolDisposed.WithLabelValues(string(k.kind), "closed").Inc()
	}
	r.refreshGaugeLocked()
	r.mu.Unlock()

	for i, db := range victims {
		closeQuietly(db, tenant, kinds[i])
	}
	if len(victims) > 0 {
		slog.Info("租户连接池已关闭", "tenant", tenant, "count", len(victims))
	}
	return len(victims)
}

// CloseAll 停止后台清理任务并释放全部条目。之后注册表拒绝新的请求。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	sweeper := r.sweeper
	r.sweeper = nil
	r.sweeperStarted = false
	entries := r.entries
	r.entries = make(map[entryKey]*entry)
	for k := range entries {
		nxobserve.PoolDisposed.WithLabelValues(string(k.kind), "closed").Inc()
	}
	r.refreshGaugeLocked()
	r.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	for k, e := range entries {
		closeQuietly(e.db, k.tenant, k.kind)
	}
	slog.Info("连接池注册表已关闭", "disposed", len(entries))
}

// Stats 返回所有条目的快照，按租户和后端类型排序。
func (r *Registry) Stats() []EntryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryStats, 0, len(r.entries))
	for k, e := range r.entries {
		dbStats := e.db.Stats()
		out = append(out, EntryStats{
			Tenant:          k.tenant,
			Kind:            k.kind,
			DriverName:      e.desc.DriverName,
			CreatedAt:       e.createdAt,
			LastUsed:        e.lastUsed,
			UsageCount:      e.usage,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant < out[j].Tenant
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// sweepIdle 移除最后使用时间早于 now - IdleTimeout 的条目，返回移除数量。
func (r *Registry) sweepIdle(now time.Time) int {
	type victim struct {
		key entryKey
		db  *sql.DB
	}
	var victims []victim

	r.mu.Lock()
	for k, e := range r.entries {
		if now.Sub(e.lastUsed) > r.cfg.IdleTimeout {
			victims = append(victims, victim{key: k, db: e.db})
			delete(r.entries, k)
			nxobserve.PoolDisposed.WithLabelValues(string(k.kind), "idle").Inc()
		}
	}
	r.refreshGaugeLocked()
	r.mu.Unlock()

	for _, v := range victims {
		closeQuietly(v.db, v.key.tenant, v.key.kind)
		slog.Info("空闲连接池已回收", "tenant", v.key.tenant, "backend", v.key.kind)
	}
	return len(victims)
}

func (r *Registry) ensureSweeperLocked() {
	if r.sweeperStarted {
		return
	}
	r.sweeperStarted = true
	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.cfg.SweepInterval)
	if _, err := c.AddFunc(spec, func() { r.sweepIdle(r.now()) }); err != nil {
		slog.Error("注册空闲清理任务失败", "spec", spec, "error", err)
		return
	}
	c.Start()
	r.sweeper = c
	slog.Info("连接池空闲清理任务已启动", "interval", r.cfg.SweepInterval, "idle_timeout", r.cfg.IdleTimeout)
}

func (r *Registry) applySizing(db *sql.DB, kind domain.BackendKind) {
	s, ok := r.cfg.Sizing[kind]
	if !ok {
		s = DefaultSizing()[domain.BackendRelational]
	}
	if s.PoolSize > 0 {
		db.SetMaxIdleConns(s.PoolSize)
		db.SetMaxOpenConns(s.PoolSize + max(s.MaxOverflow, 0))
	}
	if s.Recycle > 0 {
		db.SetConnMaxLifetime(s.Recycle)
	}
	db.SetConnMaxIdleTime(r.cfg.IdleTimeout)
}

func (r *Registry) refreshGaugeLocked() {
	counts := map[domain.BackendKind]int{domain.BackendRelational: 0, domain.BackendODBC: 0}
	for k := range r.entries {
		counts[k.kind]++
	}
	for kind, n := range counts {
		nxobserve.PoolEntries.WithLabelValues(string(kind)).Set(float64(n))
	}
}

func closeQuietly(db *sql.DB, tenant string, kind domain.BackendKind) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Warn("关闭连接池失败", "tenant", tenant, "backend", kind, "error", err)
	}
}
