// Package sqlkit file: internal/adapter/provider/sqlkit/template.go
package sqlkit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder 根据 1 起始的序号生成绑定占位符。
type Placeholder func(n int) string

// Question 生成 "?"，用于 MySQL、SQLite 与 ODBC 驱动管理器。
func Question(int) string { return "?" }

// Dollar 生成 "$n"，用于 PostgreSQL。
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// AtP 生成 "@pn"，用于 go-mssqldb 的 sqlserver 驱动（它不改写 "?"）。
func AtP(n int) string { return "@p" + strconv.Itoa(n) }

var (
	templateParam = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	whereKeyword  = regexp.MustCompile(`(?i)\bwhere\b`)
	orderByClause = regexp.MustCompile(`(?i)\border\s+by\b`)
)

// Bound 是绑定后的查询文本及按顺序排列的参数。
type Bound struct {
	Query string
	Args  []any
	// Used 记录模板中出现过的参数名，供调用方判断哪些过滤条件已被模板消费。
	Used map[string]struct{}
}

// BindTemplate 把 {{name}} 占位符替换为绑定参数，参数值按出现顺序收集；同名参数出现多次时重复绑定。
// 模板中引用了 params 中不存在的参数时返回错误。
func BindTemplate(query string, params map[string]any, ph Placeholder) (*Bound, error) {
	b := &Bound{Used: make(map[string]struct{})}
	var missing []string
	b.Query = templateParam.ReplaceAllStringFunc(query, func(match string) string {
		name := templateParam.FindStringSubmatch(match)[1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		b.Used[name] = struct{}{}
		b.Args = append(b.Args, v)
		return ph(len(b.Args))
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("查询模板缺少参数: %s", strings.Join(missing, ", "))
	}
	return b, nil
}

// HasTemplateParams 判断查询中是否包含 {{name}} 占位符。
func HasTemplateParams(query string) bool {
	return templateParam.MatchString(query)
}

// HasWhere 判断查询中是否已有 WHERE 关键字。
func HasWhere(query string) bool {
	return whereKeyword.MatchString(query)
}

// HasOrderBy 判断查询中是否已有 ORDER BY 子句。
func HasOrderBy(query string) bool {
	return orderByClause.MatchString(query)
}

// Filter 是一个等值过滤条件。
type Filter struct {
	Column string
	Value  any
}

// AppendFilters 把等值条件追加到查询末尾：已有 WHERE 时用 AND 连接，否则生成 WHERE。
// 占位符序号从 len(args)+1 开始，返回追加后的查询与完整参数列表。
func AppendFilters(query string, args []any, filters []Filter, ph Placeholder) (string, []any) {
	if len(filters) == 0 {
		return query, args
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(strings.TrimSpace(query), ";"))
	hasWhere := HasWhere(query)
	for _, f := range filters {
		if hasWhere {
			sb.WriteString(" AND ")
		} else {
			sb.WriteString(" WHERE ")
			hasWhere = true
		}
		args = append(args, f.Value)
		sb.WriteString(f.Column)
		sb.WriteString(" = ")
		sb.WriteString(ph(len(args)))
	}
	return sb.String(), args
}

// CountQuery 把查询包装为计数查询。
func CountQuery(query string) string {
	return "SELECT COUNT(*) FROM (" + strings.TrimRight(strings.TrimSpace(query), ";") + ") AS _sub"
}

// NonEmptyFilters 过滤掉值为空字符串的条件。
func NonEmptyFilters(filters ...Filter) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if s, ok := f.Value.(string); ok && s == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
