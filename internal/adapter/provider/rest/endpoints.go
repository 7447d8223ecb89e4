// Package rest file: internal/adapter/provider/rest/endpoints.go
package rest

import (
	_ "embed"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"DataNexus/internal/core/domain"

	"gopkg.in/yaml.v3"
)

//go:embed endpoints.yaml
var builtinEndpointsYAML []byte

type endpointFile struct {
	Endpoints []domain.EndpointMapping `yaml:"endpoints"`
}

var loadBuiltinEndpoints = sync.OnceValues(func() ([]domain.EndpointMapping, error) {
	var f endpointFile
	if err := yaml.Unmarshal(builtinEndpointsYAML, &f); err != nil {
		return nil, fmt.Errorf("解析内置端点表失败: %w", err)
	}
	return f.Endpoints, nil
})

// endpointTable 是 data_type → 端点 的查找表。
type endpointTable map[string]domain.EndpointMapping

// buildEndpointTable 以内置表为底，用数据源自己的映射行逐条覆盖。
func buildEndpointTable(rows []domain.EndpointMapping) (endpointTable, error) {
	builtin, err := loadBuiltinEndpoints()
	if err != nil {
		return nil, err
	}
	t := make(endpointTable, len(builtin)+len(rows))
	for _, e := range builtin {
		t[e.DataType] = normalizeEndpoint(e)
	}
	for _, e := range rows {
		if e.DataType == "" || e.Path == "" {
			continue
		}
		t[e.DataType] = normalizeEndpoint(e)
	}
	return t, nil
}

func normalizeEndpoint(e domain.EndpointMapping) domain.EndpointMapping {
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = http.MethodGet
	}
	e.ResponsePath = strings.TrimSpace(e.ResponsePath)
	return e
}

func (t endpointTable) lookup(dataType string) (domain.EndpointMapping, bool) {
	e, ok := t[dataType]
	return e, ok
}

// expandPath 替换路径中的 {name} 占位符，值经过路径转义。
// 返回路径中已使用的参数名，调用方不再把它们放进查询串。
func expandPath(path string, params map[string]string) (string, map[string]struct{}) {
	used := make(map[string]struct{})
	for name, value := range params {
		token := "{" + name + "}"
		if !strings.Contains(path, token) {
			continue
		}
		path = strings.ReplaceAll(path, token, url.PathEscape(value))
		used[name] = struct{}{}
	}
	return path, used
}
