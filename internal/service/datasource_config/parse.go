// Package datasource_config file: internal/service/datasource_config/parse.go
package datasource_config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"DataNexus/internal/core/domain"

	"github.com/spf13/cast"
)

// kindAliases 把历史上出现过的后端类型写法归并为三种规范类型。
var kindAliases = map[string]domain.BackendKind{
	"relational": domain.BackendRelational,
	"sql":        domain.BackendRelational,
	"database":   domain.BackendRelational,
	"db":         domain.BackendRelational,
	"postgres":   domain.BackendRelational,
	"postgresql": domain.BackendRelational,
	"pg":         domain.BackendRelational,
	"mysql":      domain.BackendRelational,
	"mariadb":    domain.BackendRelational,
	"sqlite":     domain.BackendRelational,
	"sqlite3":    domain.BackendRelational,
	"odbc":       domain.BackendODBC,
	"mssql":      domain.BackendODBC,
	"sqlserver":  domain.BackendODBC,
	"sql_server": domain.BackendODBC,
	"tds":        domain.BackendODBC,
	"rest":       domain.BackendREST,
	"rest_api":   domain.BackendREST,
	"restful":    domain.BackendREST,
	"api":        domain.BackendREST,
	"http":       domain.BackendREST,
	"https":      domain.BackendREST,
	"web_api":    domain.BackendREST,
}

// NormalizeKind 规范化后端类型标签，大小写与 '-'、' ' 不敏感。
func NormalizeKind(tag string) (domain.BackendKind, error) {
	key := strings.ToLower(strings.TrimSpace(tag))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if kind, ok := kindAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("未知的后端类型 %q", tag)
}

func isNullJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// parseHeaders 解析 headers 列，非字符串的值按字符串处理。
func parseHeaders(raw []byte) (map[string]string, error) {
	if isNullJSON(raw) {
		return map[string]string{}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("headers 不是合法的 JSON 对象: %w", err)
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("header %q 的值无法转换为字符串: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// customQueryError 标明哪个数据类型的自定义查询格式错误。
type customQueryError struct {
	DataType string
	Err      error
}

func (e *customQueryError) Error() string {
	return fmt.Sprintf("数据类型 %s 的自定义查询格式错误: %v", e.DataType, e.Err)
}

func (e *customQueryError) Unwrap() error { return e.Err }

// parseCustomQueries 解析 custom_queries 列。每项可以是 {"query": …, "description": …}，也可以直接是查询字符串。
func parseCustomQueries(raw []byte) (map[string]domain.CustomQuery, error) {
	if isNullJSON(raw) {
		return map[string]domain.CustomQuery{}, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("custom_queries 不是合法的 JSON 对象: %w", err)
	}
	out := make(map[string]domain.CustomQuery, len(entries))
	for dataType, entry := range entries {
		var (
			q     domain.CustomQuery
			plain string
		)
		if err := json.Unmarshal(entry, &plain); err == nil {
			q.Query = plain
		} else if err := json.Unmarshal(entry, &q); err != nil {
			return nil, &customQueryError{DataType: dataType, Err: err}
		}
		if strings.TrimSpace(q.Query) == "" {
			return nil, &customQueryError{DataType: dataType, Err: fmt.Errorf("query 为空")}
		}
		out[dataType] = q
	}
	return out, nil
}

func parseOptions(raw []byte) (domain.DataSourceOptions, error) {
	var opts domain.DataSourceOptions
	if isNullJSON(raw) {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("options 不是合法的 JSON 对象: %w", err)
	}
	return opts, nil
}
