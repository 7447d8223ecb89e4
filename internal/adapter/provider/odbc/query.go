// Package odbc file: internal/adapter/provider/odbc/query.go
package odbc

import (
	"fmt"
	"regexp"
	"strings"

	"DataNexus/internal/adapter/provider/sqlkit"
)

const (
	equipmentColumns   = "equipment_type, equipment_code, equipment_name, status, last_run_time"
	measurementColumns = "id, equipment_type, equipment_code, measurement_code, measurement_desc, measurement_value, measured_at, spec_status, usl, lsl, target"
)

var (
	selectHead   = regexp.MustCompile(`(?is)^\s*SELECT(\s+DISTINCT)?\s+`)
	topClause    = regexp.MustCompile(`(?is)^\s*SELECT(\s+DISTINCT)?\s+TOP\b`)
	lastOrderBy  = regexp.MustCompile(`(?i)\border\s+by\b`)
	offsetClause = regexp.MustCompile(`(?i)\boffset\s+\d+\s+rows\b`)
)

type statement struct {
	query string
	args  []any
}

// paginate 为 SQL Server 查询加分页：无偏移时注入 TOP (n)，有偏移时使用 OFFSET … FETCH NEXT，
// 缺少 ORDER BY 时补 ORDER BY (SELECT NULL)。
func paginate(query string, limit, offset int) string {
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	if offset <= 0 {
		if topClause.MatchString(query) || offsetClause.MatchString(query) {
			return query
		}
		loc := selectHead.FindStringSubmatchIndex(query)
		if loc == nil {
			return query
		}
		distinct := ""
		if loc[2] >= 0 {
			distinct = query[loc[2]:loc[3]]
		}
		return fmt.Sprintf("SELECT%s TOP (%d) %s", distinct, limit, query[loc[1]:])
	}
	if !sqlkit.HasOrderBy(query) {
		query += " ORDER BY (SELECT NULL)"
	}
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", query, offset, limit)
}

// splitTrailingOrderBy 拆出末尾（最外层）的 ORDER BY 子句；括号内的 ORDER BY 不算。
func splitTrailingOrderBy(query string) (base, orderBy string) {
	locs := lastOrderBy.FindAllStringIndex(query, -1)
	if len(locs) == 0 {
		return query, ""
	}
	last := locs[len(locs)-1][0]
	if strings.Contains(query[last:], ")") {
		return query, ""
	}
	return strings.TrimSpace(query[:last]), strings.TrimSpace(query[last:])
}

// stripTrailingOrderBy 去掉末尾的 ORDER BY，SQL Server 不允许子查询中出现它。
func stripTrailingOrderBy(query string) string {
	base, _ := splitTrailingOrderBy(query)
	return base
}

// bindCustom 绑定 {{param}} 占位符，再把模板未引用的过滤条件插到末尾 ORDER BY 之前。
func bindCustom(custom string, params map[string]any, filters []sqlkit.Filter, ph sqlkit.Placeholder) (statement, map[string]struct{}, error) {
	bound, err := sqlkit.BindTemplate(custom, params, ph)
	if err != nil {
		return statement{}, nil, err
	}
	remaining := make([]sqlkit.Filter, 0, len(filters))
	for _, f := range filters {
		if _, used := bound.Used[f.Column]; !used {
			remaining = append(remaining, f)
		}
	}
	if len(remaining) == 0 {
		return statement{query: strings.TrimRight(strings.TrimSpace(bound.Query), ";"), args: bound.Args}, bound.Used, nil
	}
	base, orderBy := splitTrailingOrderBy(strings.TrimRight(strings.TrimSpace(bound.Query), ";"))
	q, args := sqlkit.AppendFilters(base, bound.Args, remaining, ph)
	if orderBy != "" {
		q += " " + orderBy
	}
	return statement{query: q, args: args}, bound.Used, nil
}

func buildEquipmentQueries(custom string, params map[string]any, filters []sqlkit.Filter, limit, offset int, ph sqlkit.Placeholder) (data, count statement, err error) {
	if custom == "" {
		where, args := sqlkit.AppendFilters("", nil, filters, ph)
		base := "SELECT " + equipmentColumns + " FROM equipment_status" + where
		count = statement{query: "SELECT COUNT(*) FROM equipment_status" + where, args: args}
		data = statement{query: paginate(base+" ORDER BY equipment_code", limit, offset), args: args}
		return data, count, nil
	}
	stmt, _, err := bindCustom(custom, params, filters, ph)
	if err != nil {
		return statement{}, statement{}, err
	}
	count = statement{query: sqlkit.CountQuery(stripTrailingOrderBy(stmt.query)), args: stmt.args}
	data = statement{query: paginate(stmt.query, limit, offset), args: stmt.args}
	return data, count, nil
}

func buildMeasurementQuery(custom string, params map[string]any, filters []sqlkit.Filter, limit int, ph sqlkit.Placeholder) (statement, error) {
	if custom == "" {
		where, args := sqlkit.AppendFilters("", nil, filters, ph)
		return statement{
			query: fmt.Sprintf("SELECT TOP (%d) %s FROM measurement_info%s ORDER BY measured_at DESC", limit, measurementColumns, where),
			args:  args,
		}, nil
	}
	stmt, used, err := bindCustom(custom, params, filters, ph)
	if err != nil {
		return statement{}, err
	}
	if _, ok := used["limit"]; !ok {
		stmt.query = paginate(stmt.query, limit, 0)
	}
	return stmt, nil
}

func buildUpdateStatement(custom, code, status string, ph sqlkit.Placeholder) (statement, error) {
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

func isReadStatement(q string) bool {
	head := strings.ToUpper(strings.TrimSpace(q))
	for _, prefix := range []string{"SELECT", "WITH", "EXEC", "EXECUTE", "SP_"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(q), " OUTPUT ")
}
