// Package relational file: internal/adapter/provider/relational/queries.go
package relational

import (
	"fmt"
	"strings"

	"DataNexus/internal/adapter/provider/sqlkit"
)

const (
	equipmentColumns   = "equipment_type, equipment_code, equipment_name, status, last_run_time"
	measurementColumns = "id, equipment_type, equipment_code, measurement_code, measurement_desc, measurement_value, measured_at, spec_status, usl, lsl, target"
)

type statement struct {
	query string
	args  []any
}

// buildEquipmentQueries 返回数据查询与计数查询。
// 自定义查询：过滤条件追加在末尾（已有 WHERE 用 AND），计数查询包装为子查询且不带分页。
func buildEquipmentQueries(custom string, filters []sqlkit.Filter, limit, offset int, ph sqlkit.Placeholder) (data, count statement) {
	if custom != "" {
		q, args := sqlkit.AppendFilters(custom, nil, filters, ph)
		count = statement{query: sqlkit.CountQuery(q), args: args}
		data = statement{
			query: fmt.Sprintf("%s LIMIT %s OFFSET %s", q, ph(len(args)+1), ph(len(args)+2)),
			args:  append(append([]any{}, args...), limit, offset),
		}
		return data, count
	}

	where, args := sqlkit.AppendFilters("", nil, filters, ph)
	count = statement{query: "SELECT COUNT(*) FROM equipment_status" + where, args: args}
	data = statement{
		query: fmt.Sprintf("SELECT %s FROM equipment_status%s ORDER BY equipment_code LIMIT %s OFFSET %s",
			equipmentColumns, where, ph(len(args)+1), ph(len(args)+2)),
		args: append(append([]any{}, args...), limit, offset),
	}
	return data, count
}

// buildMeasurementQuery 构建测量数据查询。自定义查询中的 {{param}} 先绑定，
// 未被模板引用的过滤条件再按等值条件追加。
func buildMeasurementQuery(custom string, params map[string]any, filters []sqlkit.Filter, limit int, ph sqlkit.Placeholder) (statement, error) {
	if custom == "" {
		where, args := sqlkit.AppendFilters("", nil, filters, ph)
		return statement{
			query: fmt.Sprintf("SELECT %s FROM measurement_info%s ORDER BY measured_at DESC LIMIT %s",
				measurementColumns, where, ph(len(args)+1)),
			args: append(args, limit),
		}, nil
	}

	bound, err := sqlkit.BindTemplate(custom, params, ph)
	if err != nil {
		return statement{}, err
	}
	remaining := make([]sqlkit.Filter, 0, len(filters))
	for _, f := range filters {
		if _, used := bound.Used[f.Column]; !used {
			remaining = append(remaining, f)
		}
	}
	q, args := sqlkit.AppendFilters(bound.Query, bound.Args, remaining, ph)
	if _, used := bound.Used["limit"]; !used && !hasLimit(q) {
		q = fmt.Sprintf("%s LIMIT %s", q, ph(len(args)+1))
		args = append(args, limit)
	}
	return statement{query: q, args: args}, nil
}

func buildUpdateStatement(custom string, code, status string, ph sqlkit.Placeholder) (statement, error) {
	if custom == "" {
		return statement{
			query: fmt.Sprintf("UPDATE equipment_status SET status = %s WHERE equipment_code = %s", ph(1), ph(2)),
			args:  []any{status, code},
		}, nil
	}
	bound, err := sqlkit.BindTemplate(custom, map[string]any{"equipment_code": code, "status": status}, ph)
	if err != nil {
		return statement{}, err
	}
	return statement{query: bound.Query, args: bound.Args}, nil
}

func hasLimit(q string) bool {
	return strings.Contains(strings.ToUpper(q), " LIMIT ")
}

// isReadStatement 判断语句是否返回结果集。
func isReadStatement(q string) bool {
	head := strings.ToUpper(strings.TrimSpace(q))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(q), " RETURNING ")
}
