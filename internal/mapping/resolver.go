// Package mapping 负责租户级的字段重命名、类型转换和编码翻译。
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
)

// Resolver 绑定到一个 (workspace, data source)，映射行在首次使用时加载并在实例内缓存。
type Resolver struct {
	store        port.MappingStore
	workspaceID  string
	dataSourceID string

	mu        sync.Mutex
	codesOnce bool
	codes     map[string]map[string]domain.CodeMapping // mapping_type -> source_code -> mapping
	fields    map[string][]domain.FieldMapping         // data_type -> mappings
}

// NewResolver 创建解析器。store 为 nil 时所有映射均为恒等。
func NewResolver(store port.MappingStore, workspaceID, dataSourceID string) *Resolver {
	return &Resolver{
		store:        store,
		workspaceID:  workspaceID,
		dataSourceID: dataSourceID,
		fields:       make(map[string][]domain.FieldMapping),
	}
}

// FieldMappings 返回某数据类型的字段映射，结果在实例内缓存。
func (r *Resolver) FieldMappings(ctx context.Context, dataType string) ([]domain.FieldMapping, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.fields[dataType]; ok {
		return m, nil
	}
	m, err := r.store.FieldMappings(ctx, r.dataSourceID, dataType)
	if err != nil {
		return nil, fmt.Errorf("加载字段映射失败 (数据源 %s, 数据类型 %s): %w", r.dataSourceID, dataType, err)
	}
	r.fields[dataType] = m
	return m, nil
}

// Load 预加载编码映射。加载失败时记录日志并退化为恒等映射。
func (r *Resolver) Load(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadCodesLocked(ctx)
}

func (r *Resolver) loadCodesLocked(ctx context.Context) {
	if r.codesOnce {
		return
	}
	r.codesOnce = true
	r.codes = make(map[string]map[string]domain.CodeMapping)
	if r.store == nil {
		return
	}
	rows, err := r.store.CodeMappings(ctx, r.workspaceID, r.dataSourceID)
	if err != nil {
		slog.Warn("加载编码映射失败，使用恒等映射", "workspace_id", r.workspaceID, "data_source_id", r.dataSourceID, "error", err)
		return
	}
	for _, row := range rows {
		byType, ok := r.codes[row.MappingType]
		if !ok {
			byType = make(map[string]domain.CodeMapping)
			r.codes[row.MappingType] = byType
		}
		byType[row.SourceCode] = row
	}
}

func (r *Resolver) codeMapping(mappingType, code string) (domain.CodeMapping, bool) {
	if r == nil || code == "" {
		return domain.CodeMapping{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.codesOnce {
		r.loadCodesLocked(context.Background())
	}
	m, ok := r.codes[mappingType][code]
	return m, ok
}

// MapCode 翻译编码，未配置映射时原样返回。
func (r *Resolver) MapCode(code, mappingType string) string {
	if m, ok := r.codeMapping(mappingType, code); ok && m.TargetCode != "" {
		return m.TargetCode
	}
	return code
}

// ApplyEquipment 翻译设备记录中的设备编码。
func (r *Resolver) ApplyEquipment(rec *domain.EquipmentRecord) {
	rec.EquipmentCode = r.MapCode(rec.EquipmentCode, domain.MappingTypeEquipment)
}

// ApplyMeasurement 翻译设备与测点编码，并对测点附带的变换规则重算数值与规格限。
func (r *Resolver) ApplyMeasurement(rec *domain.MeasurementRecord) {
	rec.EquipmentCode = r.MapCode(rec.EquipmentCode, domain.MappingTypeEquipment)

	m, ok := r.codeMapping(domain.MappingTypeMeasurement, rec.MeasurementCode)
	if !ok {
		return
	}
	if m.TargetCode != "" {
		rec.MeasurementCode = m.TargetCode
	}
	if m.TransformRules.IsZero() {
		return
	}
	for _, p := range []*float64{rec.Value, rec.USL, rec.LSL, rec.Target} {
		if p != nil {
			*p = ApplyTransformRules(*p, m.TransformRules)
		}
	}
}
