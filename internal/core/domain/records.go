// Package domain file: internal/core/domain/records.go
package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// EquipmentStatus 是规范化后的设备状态，只有三种取值。
type EquipmentStatus string

const (
	StatusActive EquipmentStatus = "ACTIVE"
	StatusPause  EquipmentStatus = "PAUSE"
	StatusStop   EquipmentStatus = "STOP"
)

// IsCanonical 判断是否已经是规范状态（大小写敏感）。
func (s EquipmentStatus) IsCanonical() bool {
	switch s {
	case StatusActive, StatusPause, StatusStop:
		return true
	}
	return false
}

// SpecStatus 是测量值相对规格限的判定结果。
type SpecStatus int

const (
	SpecInSpec    SpecStatus = 0
	SpecBelowSpec SpecStatus = 1
	SpecAboveSpec SpecStatus = 2
	SpecNoSpec    SpecStatus = 9
)

func (s SpecStatus) String() string {
	switch s {
	case SpecInSpec:
		return "IN_SPEC"
	case SpecBelowSpec:
		return "BELOW_SPEC"
	case SpecAboveSpec:
		return "ABOVE_SPEC"
	default:
		return "NO_SPEC"
	}
}

// ParseSpecStatus 把各后端的规格判定表示（整数、数字字符串、厂商词汇）统一为 SpecStatus。
// 无法识别时返回 false。
func ParseSpecStatus(v any) (SpecStatus, bool) {
	switch t := v.(type) {
	case nil:
		return SpecNoSpec, false
	case SpecStatus:
		return t, true
	case int:
		return specFromInt(int64(t))
	case int32:
		return specFromInt(int64(t))
	case int64:
		return specFromInt(t)
	case float64:
		if t != math.Trunc(t) {
			return SpecNoSpec, false
		}
		return specFromInt(int64(t))
	case []byte:
		return ParseSpecStatus(string(t))
	case string:
		s := strings.ToUpper(strings.TrimSpace(t))
		if s == "" {
			return SpecNoSpec, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return specFromInt(n)
		}
		switch s {
		case "IN_SPEC", "INSPEC", "OK", "PASS", "NORMAL", "IN":
			return SpecInSpec, true
		case "BELOW_SPEC", "BELOW", "LOW", "UNDER", "LSL", "NG_LOW":
			return SpecBelowSpec, true
		case "ABOVE_SPEC", "ABOVE", "HIGH", "OVER", "USL", "NG_HIGH":
			return SpecAboveSpec, true
		case "NO_SPEC", "NOSPEC", "NONE", "N/A", "NA":
			return SpecNoSpec, true
		}
	}
	return SpecNoSpec, false
}

func specFromInt(n int64) (SpecStatus, bool) {
	switch n {
	case 0:
		return SpecInSpec, true
	case 1:
		return SpecBelowSpec, true
	case 2:
		return SpecAboveSpec, true
	case 9:
		return SpecNoSpec, true
	}
	return SpecNoSpec, false
}

// DeriveSpecStatus 在后端没有给出判定时，根据测量值和规格上下限推导。
func DeriveSpecStatus(value float64, usl, lsl *float64) SpecStatus {
	if usl == nil && lsl == nil {
		return SpecNoSpec
	}
	if lsl != nil && value < *lsl {
		return SpecBelowSpec
	}
	if usl != nil && value > *usl {
		return SpecAboveSpec
	}
	return SpecInSpec
}

// EquipmentRecord 是规范化的设备状态记录。
type EquipmentRecord struct {
	EquipmentType string          `json:"equipment_type"`
	EquipmentCode string          `json:"equipment_code"`
	EquipmentName string          `json:"equipment_name"`
	Status        EquipmentStatus `json:"status"`
	LastRunTime   *time.Time      `json:"last_run_time,omitempty"`
}

// MeasurementRecord 是规范化的测量记录。
type MeasurementRecord struct {
	ID              string     `json:"id"`
	EquipmentType   string     `json:"equipment_type"`
	EquipmentCode   string     `json:"equipment_code"`
	MeasurementCode string     `json:"measurement_code"`
	Description     string     `json:"description"`
	Value           *float64   `json:"value"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	SpecStatus      SpecStatus `json:"spec_status"`
	USL             *float64   `json:"usl,omitempty"`
	LSL             *float64   `json:"lsl,omitempty"`
	Target          *float64   `json:"target,omitempty"`
}

// FieldDiagnostic 是单行字段映射中发现的问题（缺少必填字段、类型转换失败等），
// 随结果返回给调用方，不会让请求失败。
type FieldDiagnostic struct {
	DataType    string `json:"data_type"`
	Row         int    `json:"row"`
	TargetField string `json:"target_field"`
	SourceField string `json:"source_field"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

// EquipmentPage 是分页后的设备状态列表。
type EquipmentPage struct {
	Items       []EquipmentRecord `json:"items"`
	Total       int64             `json:"total"`
	Limit       int               `json:"limit"`
	Offset      int               `json:"offset"`
	HasMore     bool              `json:"has_more"`
	Diagnostics []FieldDiagnostic `json:"diagnostics,omitempty"`
}

// NewEquipmentPage 组装分页信封，并计算 has_more。
func NewEquipmentPage(items []EquipmentRecord, total int64, limit, offset int) *EquipmentPage {
	if items == nil {
		items = []EquipmentRecord{}
	}
	return &EquipmentPage{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}
}
