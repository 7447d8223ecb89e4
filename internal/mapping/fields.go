// Package mapping file: internal/mapping/fields.go
package mapping

import (
	"fmt"
	"math"
	"strings"
	"time"

	"DataNexus/internal/core/domain"

	"github.com/spf13/cast"
)

// FieldError 是单个字段映射的诊断信息，不会中断整条记录的映射。
type FieldError struct {
	TargetField string
	SourceField string
	Reason      string
	Err         error
}

func (e FieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("字段 %s <- %s: %s: %v", e.TargetField, e.SourceField, e.Reason, e.Err)
	}
	return fmt.Sprintf("字段 %s <- %s: %s", e.TargetField, e.SourceField, e.Reason)
}

const (
	ReasonMissingRequired  = "缺少必填字段"
	ReasonConversionFailed = "类型转换失败"
	ReasonUnknownTransform = "未知的转换函数"
)

// MapFields 按映射规则把后端原始记录转换为目标字段。
// 未被任何映射引用的原始字段原样保留（目标字段优先）。
// 转换失败时保留原值并给出诊断；缺少必填字段只报告，不报错。
func MapFields(raw map[string]any, mappings []domain.FieldMapping) (map[string]any, []FieldError) {
	out := make(map[string]any, len(raw)+len(mappings))
	var diags []FieldError
	consumed := make(map[string]struct{}, len(mappings))

	for _, m := range mappings {
		consumed[m.SourceField] = struct{}{}
		value, found := lookup(raw, m.SourceField)
		if !found || value == nil {
			if m.DefaultValue != nil {
				value = *m.DefaultValue
			} else {
				if m.IsRequired {
					diags = append(diags, FieldError{TargetField: m.TargetField, SourceField: m.SourceField, Reason: ReasonMissingRequired})
				}
				continue
			}
		}

		if m.TransformFunction != "" {
			transformed, ok := applyFunction(m.TransformFunction, value)
			if !ok {
				diags = append(diags, FieldError{TargetField: m.TargetField, SourceField: m.SourceField, Reason: ReasonUnknownTransform + ": " + m.TransformFunction})
			} else {
				value = transformed
			}
		}

		if m.Conversion != "" {
			converted, err := Convert(value, m.Conversion)
			if err != nil {
				diags = append(diags, FieldError{TargetField: m.TargetField, SourceField: m.SourceField, Reason: ReasonConversionFailed, Err: err})
			} else {
				value = converted
			}
		}
		out[m.TargetField] = value
	}

	for k, v := range raw {
		if _, used := consumed[k]; used {
			continue
		}
		if _, exists := out[k]; exists {
			continue
		}
		out[k] = v
	}
	return out, diags
}

// lookup 依次尝试：精确键、大小写不敏感键、以 "." 分隔的嵌套路径。
func lookup(raw map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}
	if v, ok := raw[field]; ok {
		return v, true
	}
	for k, v := range raw {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur any = raw
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func applyFunction(name string, value any) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "upper":
		return strings.ToUpper(cast.ToString(value)), true
	case "lower":
		return strings.ToLower(cast.ToString(value)), true
	case "trim":
		return strings.TrimSpace(cast.ToString(value)), true
	case "abs":
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return value, true
		}
		return math.Abs(f), true
	case "round":
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return value, true
		}
		return math.Round(f), true
	}
	return value, false
}

// Convert 把值转换为 int / float / string / boolean / datetime。
// datetime 接受 RFC3339（末尾 Z 视为 UTC）、常见的无时区格式以及 Unix 秒。
func Convert(value any, conversion string) (any, error) {
	switch strings.ToLower(conversion) {
	case domain.ConversionInt, "integer":
		return toInt(value)
	case domain.ConversionFloat, "number", "double":
		return cast.ToFloat64E(trimString(value))
	case domain.ConversionString:
		return cast.ToStringE(value)
	case domain.ConversionBoolean, "bool":
		return toBool(value)
	case domain.ConversionDatetime, "timestamp":
		return toTime(value)
	}
	return value, fmt.Errorf("未知的转换类型 %q", conversion)
}

func trimString(value any) any {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func toInt(value any) (int64, error) {
	value = trimString(value)
	if n, err := cast.ToInt64E(value); err == nil {
		return n, nil
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func toBool(value any) (bool, error) {
	if s, ok := value.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off", "":
			return false, nil
		}
	}
	return cast.ToBoolE(trimString(value))
}

func toTime(value any) (time.Time, error) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if strings.HasSuffix(s, "Z") {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC(), nil
			}
			if t, err := time.ParseInLocation("2006-01-02T15:04:05", strings.TrimSuffix(s, "Z"), time.UTC); err == nil {
				return t, nil
			}
		}
		value = s
	}
	return cast.ToTimeInDefaultLocationE(value, time.UTC)
}
