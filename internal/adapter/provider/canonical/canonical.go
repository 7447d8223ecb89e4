// Package canonical 把后端返回的行（列名可能各不相同）解码为规范记录。
package canonical

import (
	"strings"
	"time"

	"DataNexus/internal/core/domain"

	"github.com/spf13/cast"
)

// 每个规范字段可接受的列名别名，按优先级排列。
var (
	equipmentTypeKeys   = []string{"equipment_type", "type", "equip_type", "device_type"}
	equipmentCodeKeys   = []string{"equipment_code", "code", "equip_code", "equipment_id", "device_code"}
	equipmentNameKeys   = []string{"equipment_name", "name", "equip_name", "device_name"}
	statusKeys          = []string{"status", "state", "equipment_status", "run_status"}
	lastRunTimeKeys     = []string{"last_run_time", "last_run", "updated_at", "update_time"}
	idKeys              = []string{"id", "measurement_id"}
	measurementCodeKeys = []string{"measurement_code", "measure_code", "item_code", "tag"}
	descriptionKeys     = []string{"measurement_desc", "description", "desc", "measurement_name"}
	valueKeys           = []string{"measurement_value", "value", "val"}
	timestampKeys       = []string{"measured_at", "timestamp", "measurement_time", "created_at", "time"}
	specStatusKeys      = []string{"spec_status", "judge", "result"}
	uslKeys             = []string{"usl", "upper_limit", "upper_spec_limit"}
	lslKeys             = []string{"lsl", "lower_limit", "lower_spec_limit"}
	targetKeys          = []string{"target", "target_value", "nominal"}
)

// Equipment 解码设备记录，同时返回未经归一化的原始状态值。
func Equipment(row map[string]any) (domain.EquipmentRecord, any) {
	rawStatus, _ := pick(row, statusKeys)
	return domain.EquipmentRecord{
		EquipmentType: pickString(row, equipmentTypeKeys),
		EquipmentCode: pickString(row, equipmentCodeKeys),
		EquipmentName: pickString(row, equipmentNameKeys),
		LastRunTime:   pickTime(row, lastRunTimeKeys),
	}, rawStatus
}

// Measurement 解码测量记录。后端未给出规格判定时根据上下限推导。
func Measurement(row map[string]any) domain.MeasurementRecord {
	rec := domain.MeasurementRecord{
		ID:              pickString(row, idKeys),
		EquipmentType:   pickString(row, equipmentTypeKeys),
		EquipmentCode:   pickString(row, equipmentCodeKeys),
		MeasurementCode: pickString(row, measurementCodeKeys),
		Description:     pickString(row, descriptionKeys),
		Value:           pickFloat(row, valueKeys),
		Timestamp:       pickTime(row, timestampKeys),
		USL:             pickFloat(row, uslKeys),
		LSL:             pickFloat(row, lslKeys),
		Target:          pickFloat(row, targetKeys),
	}
	raw, _ := pick(row, specStatusKeys)
	if s, ok := domain.ParseSpecStatus(raw); ok {
		rec.SpecStatus = s
	} else if rec.Value != nil {
		rec.SpecStatus = domain.DeriveSpecStatus(*rec.Value, rec.USL, rec.LSL)
	} else {
		rec.SpecStatus = domain.SpecNoSpec
	}
	return rec
}

// EquipmentToMap 把设备记录转换为行，供 ExecuteSQL 的翻译路径使用。
func EquipmentToMap(rec domain.EquipmentRecord) map[string]any {
	row := map[string]any{
		"equipment_type": rec.EquipmentType,
		"equipment_code": rec.EquipmentCode,
		"equipment_name": rec.EquipmentName,
		"status":         string(rec.Status),
		"last_run_time":  nil,
	}
	if rec.LastRunTime != nil {
		row["last_run_time"] = *rec.LastRunTime
	}
	return row
}

// MeasurementToMap 把测量记录转换为行。
func MeasurementToMap(rec domain.MeasurementRecord) map[string]any {
	row := map[string]any{
		"id":               rec.ID,
		"equipment_type":   rec.EquipmentType,
		"equipment_code":   rec.EquipmentCode,
		"measurement_code": rec.MeasurementCode,
		"description":      rec.Description,
		"spec_status":      int(rec.SpecStatus),
	}
	putFloat(row, "value", rec.Value)
	putFloat(row, "usl", rec.USL)
	putFloat(row, "lsl", rec.LSL)
	putFloat(row, "target", rec.Target)
	if rec.Timestamp != nil {
		row["timestamp"] = *rec.Timestamp
	} else {
		row["timestamp"] = nil
	}
	return row
}

func putFloat(row map[string]any, key string, v *float64) {
	if v == nil {
		row[key] = nil
		return
	}
	row[key] = *v
}

func pick(row map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v, true
		}
	}
	// 后端列名大小写不一（如 SQL Server 的 EquipmentCode），退回大小写不敏感匹配
	for _, k := range keys {
		for col, v := range row {
			if v != nil && strings.EqualFold(strings.ReplaceAll(col, "_", ""), strings.ReplaceAll(k, "_", "")) {
				return v, true
			}
		}
	}
	return nil, false
}

func pickString(row map[string]any, keys []string) string {
	v, ok := pick(row, keys)
	if !ok {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func pickFloat(row map[string]any, keys []string) *float64 {
	v, ok := pick(row, keys)
	if !ok {
		return nil
	}
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

func pickTime(row map[string]any, keys []string) *time.Time {
	v, ok := pick(row, keys)
	if !ok {
		return nil
	}
	if t, isTime := v.(time.Time); isTime {
		return &t
	}
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if strings.HasSuffix(s, "Z") {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return &t
			}
		}
		v = s
	}
	t, err := cast.ToTimeInDefaultLocationE(v, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
