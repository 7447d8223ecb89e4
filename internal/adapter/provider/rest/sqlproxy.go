// Package rest file: internal/adapter/provider/rest/sqlproxy.go
package rest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"DataNexus/internal/adapter/provider/canonical"
	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"

	"github.com/spf13/cast"
)

var (
	simpleSelect = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+([A-Za-z_][\w.]*)(?:\s+WHERE\s+(.+?))?(?:\s+LIMIT\s+(\d+)(?:\s+OFFSET\s+(\d+))?)?\s*;?\s*$`)
	andSplit     = regexp.MustCompile(`(?i)\s+AND\s+`)
	equality     = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(?:'([^']*)'|"([^"]*)"|\{\{\s*(\w+)\s*\}\}|([^\s'"]+))$`)
	identifier   = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

var (
	equipmentFilterColumns   = []string{"equipment_type", "status"}
	measurementFilterColumns = []string{"equipment_code", "equipment_type", "measurement_code"}
)

// selectPlan 是从简单 SELECT 语句翻译出的类型化调用。
type selectPlan struct {
	target  string // equipment | measurement
	columns []string
	filters map[string]string
	limit   int
	offset  int
}

var errNotTranslatable = errors.New("REST 数据源只能执行形如 SELECT … FROM equipment*/measurement* 的简单查询")

// ExecuteSQL 优先转发到配置的 execute_sql 端点；否则尝试把简单 SELECT 翻译成类型化调用，
// 其余语句返回 UNSUPPORTED_OPERATION。
func (p *Provider) ExecuteSQL(ctx context.Context, query string, params map[string]any) (out []map[string]any, err error) {
	const op = "rest.ExecuteSQL"
	start := time.Now()
	defer func() { p.observe("execute_sql", start, err) }()

	table, err := p.endpointTable(ctx)
	if err != nil {
		return nil, err
	}
	if e, ok := table.lookup(domain.DataTypeExecuteSQL); ok {
		if params == nil {
			params = map[string]any{}
		}
		body, _, err := p.client.do(ctx, e.Method, e.Path, nil, map[string]any{"query": query, "params": params})
		if err != nil {
			return nil, classify(op, domain.DataTypeExecuteSQL, err)
		}
		rows, err := extractItems(body, e.ResponsePath)
		if err != nil {
			return nil, port.NewError(port.ErrQueryExecution, op, err).WithDataType(domain.DataTypeExecuteSQL)
		}
		return rows, nil
	}

	plan, err := planSelect(query, params)
	if err != nil {
		kind := port.ErrUnsupportedOperation
		if !errors.Is(err, errNotTranslatable) {
			kind = port.ErrQueryExecution
		}
		return nil, port.NewError(kind, op, err).WithDataType(domain.DataTypeExecuteSQL)
	}

	var rows []map[string]any
	switch plan.target {
	case "equipment":
		page, err := p.GetEquipmentStatus(ctx, port.EquipmentQuery{
			EquipmentType: plan.filters["equipment_type"],
			Status:        plan.filters["status"],
			Limit:         plan.limit,
			Offset:        plan.offset,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Items {
			rows = append(rows, canonical.EquipmentToMap(rec))
		}
	case "measurement":
		records, err := p.GetMeasurementData(ctx, port.MeasurementQuery{
			EquipmentCode:   plan.filters["equipment_code"],
			EquipmentType:   plan.filters["equipment_type"],
			MeasurementCode: plan.filters["measurement_code"],
			Limit:           plan.limit,
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			rows = append(rows, canonical.MeasurementToMap(rec))
		}
	}
	return project(rows, plan.columns), nil
}

// planSelect 识别简单 SELECT：表名以 equipment 或 measurement 开头，条件只能是 AND 连接的等值比较。
func planSelect(query string, params map[string]any) (*selectPlan, error) {
	m := simpleSelect.FindStringSubmatch(query)
	if m == nil {
		return nil, errNotTranslatable
	}
	plan := &selectPlan{filters: map[string]string{}}

	tableName := strings.ToLower(m[2])
	if i := strings.LastIndex(tableName, "."); i >= 0 {
		tableName = tableName[i+1:]
	}
	var allowed []string
	switch {
	case strings.HasPrefix(tableName, "equipment"):
		plan.target, allowed = "equipment", equipmentFilterColumns
	case strings.HasPrefix(tableName, "measurement"):
		plan.target, allowed = "measurement", measurementFilterColumns
	default:
		return nil, fmt.Errorf("%w: 未知的表 %q", errNotTranslatable, m[2])
	}

	if cols := strings.TrimSpace(m[1]); cols != "*" {
		for _, c := range strings.Split(cols, ",") {
			c = strings.TrimSpace(c)
			if !identifier.MatchString(c) {
				return nil, fmt.Errorf("%w: 不支持的列表达式 %q", errNotTranslatable, c)
			}
			plan.columns = append(plan.columns, strings.ToLower(c))
		}
	}

	if where := strings.TrimSpace(m[3]); where != "" {
		for _, cond := range andSplit.Split(where, -1) {
			em := equality.FindStringSubmatch(strings.TrimSpace(cond))
			if em == nil {
				return nil, fmt.Errorf("%w: 不支持的条件 %q", errNotTranslatable, cond)
			}
			column := strings.ToLower(em[1])
			if !slices.Contains(allowed, column) {
				return nil, fmt.Errorf("%w: 列 %q 不能用于过滤", errNotTranslatable, em[1])
			}
			value := em[2] + em[3] + em[5]
			if name := em[4]; name != "" {
				v, ok := params[name]
				if !ok {
					return nil, fmt.Errorf("查询模板缺少参数: %s", name)
				}
				value = cast.ToString(v)
			}
			plan.filters[column] = value
		}
	}

	if m[4] != "" {
		plan.limit, _ = strconv.Atoi(m[4])
	}
	if m[5] != "" {
		plan.offset, _ = strconv.Atoi(m[5])
	}
	return plan, nil
}

func project(rows []map[string]any, columns []string) []map[string]any {
	if rows == nil {
		rows = []map[string]any{}
	}
	if len(columns) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		picked := make(map[string]any, len(columns))
		for _, c := range columns {
			picked[c] = row[c]
		}
		out = append(out, picked)
	}
	return out
}
