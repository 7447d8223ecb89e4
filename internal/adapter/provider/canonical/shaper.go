// Package canonical file: internal/adapter/provider/canonical/shaper.go
package canonical

import (
	"context"
	"log/slog"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/mapping"
	"DataNexus/internal/status"
)

var builtinNormalizer = status.NewNormalizer(nil, 0)

// Shaper 把后端原始行依次经过字段映射、解码、状态归一化和编码翻译，得到规范记录。
type Shaper struct {
	WorkspaceID string
	Resolver    *mapping.Resolver
	Normalizer  port.StatusNormalizer
}

func (s *Shaper) normalizer() port.StatusNormalizer {
	if s.Normalizer == nil {
		return builtinNormalizer
	}
	return s.Normalizer
}

// NormalizeStatus 归一化单个状态值。
func (s *Shaper) NormalizeStatus(ctx context.Context, raw any) domain.EquipmentStatus {
	return s.normalizer().Normalize(ctx, raw, s.WorkspaceID)
}

// HasFieldMappings 判断某数据类型是否配置了字段映射。
func (s *Shaper) HasFieldMappings(ctx context.Context, dataType string) bool {
	return len(s.fieldMappings(ctx, dataType)) > 0
}

// MapRows 对行应用字段映射；没有映射时原样返回。
// 映射诊断写入 ctx 上的收集器（见 port.WithDiagnostics），由调用方随结果返回。
func (s *Shaper) MapRows(ctx context.Context, dataType string, rows []map[string]any) []map[string]any {
	fm := s.fieldMappings(ctx, dataType)
	if len(fm) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	var reported []domain.FieldDiagnostic
	for i, row := range rows {
		mapped, diags := mapping.MapFields(row, fm)
		for _, d := range diags {
			slog.Warn("字段映射诊断", "workspace_id", s.WorkspaceID, "data_type", dataType, "row", i, "detail", d.Error())
			reported = append(reported, fieldDiagnostic(dataType, i, d))
		}
		out = append(out, mapped)
	}
	port.ReportDiagnostics(ctx, reported...)
	return out
}

func fieldDiagnostic(dataType string, row int, e mapping.FieldError) domain.FieldDiagnostic {
	d := domain.FieldDiagnostic{
		DataType:    dataType,
		Row:         row,
		TargetField: e.TargetField,
		SourceField: e.SourceField,
		Reason:      e.Reason,
	}
	if e.Err != nil {
		d.Detail = e.Err.Error()
	}
	return d
}

// Equipment 生成规范的设备记录。
func (s *Shaper) Equipment(ctx context.Context, rows []map[string]any) []domain.EquipmentRecord {
	rows = s.MapRows(ctx, domain.DataTypeEquipmentStatus, rows)
	out := make([]domain.EquipmentRecord, 0, len(rows))
	for _, row := range rows {
		rec, rawStatus := Equipment(row)
		rec.Status = s.NormalizeStatus(ctx, rawStatus)
		s.Resolver.ApplyEquipment(&rec)
		out = append(out, rec)
	}
	return out
}

// Measurements 生成规范的测量记录，dataType 决定使用哪一组字段映射。
func (s *Shaper) Measurements(ctx context.Context, dataType string, rows []map[string]any) []domain.MeasurementRecord {
	rows = s.MapRows(ctx, dataType, rows)
	out := make([]domain.MeasurementRecord, 0, len(rows))
	for _, row := range rows {
		rec := Measurement(row)
		s.Resolver.ApplyMeasurement(&rec)
		out = append(out, rec)
	}
	return out
}

func (s *Shaper) fieldMappings(ctx context.Context, dataType string) []domain.FieldMapping {
	fm, err := s.Resolver.FieldMappings(ctx, dataType)
	if err != nil {
		slog.Warn("加载字段映射失败，按原样透传", "workspace_id", s.WorkspaceID, "data_type", dataType, "error", err)
		return nil
	}
	return fm
}
