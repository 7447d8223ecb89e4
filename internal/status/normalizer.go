// Package status 把各厂商的设备状态字符串归一化为 ACTIVE / PAUSE / STOP 三态。
package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/nxobserve"

	"github.com/jszwec/csvutil"
	"github.com/patrickmn/go-cache"
)

// OverrideSource 提供工作区级别的状态覆盖表。
type OverrideSource interface {
	StatusMappings(ctx context.Context, workspaceID string) ([]domain.StatusMapping, error)
}

// UnmappedStatus 记录一个未能识别的原始状态值。
type UnmappedStatus struct {
	WorkspaceID string    `csv:"workspace_id" json:"workspace_id"`
	RawValue    string    `csv:"raw_value" json:"raw_value"`
	Count       int64     `csv:"count" json:"count"`
	FirstSeen   time.Time `csv:"first_seen" json:"first_seen"`
	LastSeen    time.Time `csv:"last_seen" json:"last_seen"`
}

// Normalizer 实现 port.StatusNormalizer。
type Normalizer struct {
	source    OverrideSource
	overrides *cache.Cache
	loadMu    sync.Mutex

	unmappedMu sync.Mutex
	unmapped   map[string]*UnmappedStatus
	now        func() time.Time
}

var _ port.StatusNormalizer = (*Normalizer)(nil)

// NewNormalizer 创建归一化器。source 可以为 nil，此时只使用内置规则。
// overrideTTL <= 0 表示覆盖表一直缓存，直到显式失效。
func NewNormalizer(source OverrideSource, overrideTTL time.Duration) *Normalizer {
	if overrideTTL <= 0 {
		overrideTTL = cache.NoExpiration
	}
	return &Normalizer{
		source:    source,
		overrides: cache.New(overrideTTL, 10*time.Minute),
		unmapped:  make(map[string]*UnmappedStatus),
		now:       time.Now,
	}
}

// Normalize 按以下顺序解析：规范值本身、工作区覆盖、内置精确表、关键字、默认 STOP。
func (n *Normalizer) Normalize(ctx context.Context, raw any, workspaceID string) domain.EquipmentStatus {
	value := strings.TrimSpace(stringify(raw))
	if value == "" {
		return domain.StatusStop
	}
	key := strings.ToUpper(value)

	// 规范值直接返回，保证幂等。
	if s := domain.EquipmentStatus(key); s.IsCanonical() {
		return s
	}

	if workspaceID != "" && n.source != nil {
		if s, ok := n.overridesFor(ctx, workspaceID)[key]; ok {
			return s
		}
	}

	if s, ok := builtinExact[key]; ok {
		return s
	}

	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(key, kw) {
				return set.status
			}
		}
	}

	n.recordUnmapped(workspaceID, value)
	return domain.StatusStop
}

// Invalidate 使某个工作区的覆盖表缓存失效。
func (n *Normalizer) Invalidate(workspaceID string) {
	n.overrides.Delete(workspaceID)
	slog.Info("状态覆盖表缓存已失效", "workspace_id", workspaceID)
}

// InvalidateAll 清空所有工作区的覆盖表缓存。
func (n *Normalizer) InvalidateAll() {
	n.overrides.Flush()
}

func (n *Normalizer) overridesFor(ctx context.Context, workspaceID string) map[string]domain.EquipmentStatus {
	if v, ok := n.overrides.Get(workspaceID); ok {
		return v.(map[string]domain.EquipmentStatus)
	}

	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	if v, ok := n.overrides.Get(workspaceID); ok {
		return v.(map[string]domain.EquipmentStatus)
	}

	rows, err := n.source.StatusMappings(ctx, workspaceID)
	if err != nil {
		// 加载失败不缓存，下次调用会重试
		slog.Warn("加载工作区状态覆盖表失败，仅使用内置规则", "workspace_id", workspaceID, "error", err)
		return nil
	}

	table := make(map[string]domain.EquipmentStatus, len(rows))
	for _, row := range rows {
		target := domain.EquipmentStatus(strings.ToUpper(strings.TrimSpace(row.TargetStatus)))
		if !target.IsCanonical() {
			slog.Warn("忽略无效的状态覆盖目标值", "workspace_id", workspaceID, "source_status", row.SourceStatus, "target_status", row.TargetStatus)
			continue
		}
		table[strings.ToUpper(strings.TrimSpace(row.SourceStatus))] = target
	}
	n.overrides.Set(workspaceID, table, cache.DefaultExpiration)
	slog.Debug("工作区状态覆盖表已加载", "workspace_id", workspaceID, "entries", len(table))
	return table
}

func (n *Normalizer) recordUnmapped(workspaceID, value string) {
	nxobserve.StatusUnmapped.Inc()
	now := n.now()
	key := workspaceID + "\x00" + value

	n.unmappedMu.Lock()
	defer n.unmappedMu.Unlock()
	if u, ok := n.unmapped[key]; ok {
		u.Count++
		u.LastSeen = now
		return
	}
	n.unmapped[key] = &UnmappedStatus{
		WorkspaceID: workspaceID,
		RawValue:    value,
		Count:       1,
		FirstSeen:   now,
		LastSeen:    now,
	}
	slog.Warn("未能识别的设备状态，按 STOP 处理", "workspace_id", workspaceID, "raw_status", value)
}

// Unmapped 返回所有未识别状态的快照，按出现次数降序。
func (n *Normalizer) Unmapped() []UnmappedStatus {
	n.unmappedMu.Lock()
	out := make([]UnmappedStatus, 0, len(n.unmapped))
	for _, u := range n.unmapped {
		out = append(out, *u)
	}
	n.unmappedMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].WorkspaceID != out[j].WorkspaceID {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return out[i].RawValue < out[j].RawValue
	})
	return out
}

// ExportUnmappedCSV 把未识别状态写成 CSV，便于管理员补充覆盖表。
func (n *Normalizer) ExportUnmappedCSV(w io.Writer) error {
	rows := n.Unmapped()
	if len(rows) == 0 {
		_, err := io.WriteString(w, "workspace_id,raw_value,count,first_seen,last_seen\n")
		return err
	}
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("导出未识别状态失败: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case domain.EquipmentStatus:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
