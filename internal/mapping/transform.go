// Package mapping file: internal/mapping/transform.go
package mapping

import (
	"log/slog"
	"math"
	"strings"

	"DataNexus/internal/core/domain"
)

type unitPair struct{ from, to string }

// unitConversions 只收录现场常见的单位换算。
var unitConversions = map[unitPair]func(float64) float64{
	{"c", "f"}:     func(v float64) float64 { return v*9/5 + 32 },
	{"f", "c"}:     func(v float64) float64 { return (v - 32) * 5 / 9 },
	{"c", "k"}:     func(v float64) float64 { return v + 273.15 },
	{"k", "c"}:     func(v float64) float64 { return v - 273.15 },
	{"mm", "m"}:    func(v float64) float64 { return v / 1000 },
	{"m", "mm"}:    func(v float64) float64 { return v * 1000 },
	{"mm", "um"}:   func(v float64) float64 { return v * 1000 },
	{"um", "mm"}:   func(v float64) float64 { return v / 1000 },
	{"mm", "in"}:   func(v float64) float64 { return v / 25.4 },
	{"in", "mm"}:   func(v float64) float64 { return v * 25.4 },
	{"g", "kg"}:    func(v float64) float64 { return v / 1000 },
	{"kg", "g"}:    func(v float64) float64 { return v * 1000 },
	{"kg", "lb"}:   func(v float64) float64 { return v * 2.20462262 },
	{"lb", "kg"}:   func(v float64) float64 { return v / 2.20462262 },
	{"kpa", "bar"}: func(v float64) float64 { return v / 100 },
	{"bar", "kpa"}: func(v float64) float64 { return v * 100 },
	{"mpa", "kpa"}: func(v float64) float64 { return v * 1000 },
	{"kpa", "mpa"}: func(v float64) float64 { return v / 1000 },
	{"psi", "kpa"}: func(v float64) float64 { return v * 6.894757 },
	{"kpa", "psi"}: func(v float64) float64 { return v / 6.894757 },
	{"s", "ms"}:    func(v float64) float64 { return v * 1000 },
	{"ms", "s"}:    func(v float64) float64 { return v / 1000 },
	{"min", "s"}:   func(v float64) float64 { return v * 60 },
	{"s", "min"}:   func(v float64) float64 { return v / 60 },
}

var unitAliases = map[string]string{
	"°c":         "c",
	"celsius":    "c",
	"degc":       "c",
	"°f":         "f",
	"fahrenheit": "f",
	"degf":       "f",
	"kelvin":     "k",
	"μm":         "um",
	"micron":     "um",
	"inch":       "in",
	"sec":        "s",
	"second":     "s",
}

func normalizeUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

// ApplyTransformRules 按固定顺序变换数值：缩放 -> 偏移 -> 单位换算 -> 取整。
func ApplyTransformRules(v float64, rules *domain.TransformRules) float64 {
	if rules.IsZero() {
		return v
	}
	if rules.Scale != nil {
		v *= *rules.Scale
	}
	if rules.Offset != nil {
		v += *rules.Offset
	}
	if rules.FromUnit != "" && rules.ToUnit != "" {
		from, to := normalizeUnit(rules.FromUnit), normalizeUnit(rules.ToUnit)
		if from != to {
			if fn, ok := unitConversions[unitPair{from, to}]; ok {
				v = fn(v)
			} else {
				slog.Warn("不支持的单位换算，数值保持不变", "from_unit", rules.FromUnit, "to_unit", rules.ToUnit)
			}
		}
	}
	if rules.Decimals != nil && *rules.Decimals >= 0 {
		pow := math.Pow(10, float64(*rules.Decimals))
		v = math.Round(v*pow) / pow
	}
	return v
}
