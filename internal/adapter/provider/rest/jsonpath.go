// Package rest file: internal/adapter/provider/rest/jsonpath.go
package rest

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// 未配置 response_path 时依次尝试的信封字段。
var envelopeKeys = []string{"data", "result", "items"}

// 信封中表示总数的字段，可以在顶层，也可以在 meta / pagination 下。
var (
	totalKeys     = []string{"total", "total_count", "totalCount", "count"}
	totalSections = []string{"", "meta", "pagination", "page"}
)

// resolvePath 解析 "$"、"$.a" 或 "$.a.b" 形式的路径。只支持对象字段的逐级访问。
func resolvePath(body any, path string) (any, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return body, nil
	}
	if !strings.HasPrefix(path, "$.") {
		return nil, fmt.Errorf("不支持的响应路径 %q", path)
	}
	cur := body
	for _, seg := range strings.Split(path[2:], ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("响应路径 %q 在 %q 处不是对象", path, seg)
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, nil
		}
	}
	return cur, nil
}

// extractItems 取出响应中的记录列表。单个对象视为一条记录，null 或缺失视为空。
func extractItems(body any, responsePath string) ([]map[string]any, error) {
	var (
		node any
		err  error
	)
	if strings.TrimSpace(responsePath) == "" {
		node = autoDetect(body)
	} else if node, err = resolvePath(body, responsePath); err != nil {
		return nil, err
	}

	switch v := node.(type) {
	case nil:
		return []map[string]any{}, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		items := make([]map[string]any, 0, len(v))
		for i, el := range v {
			obj, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("响应第 %d 项不是对象 (%T)", i, el)
			}
			items = append(items, obj)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("响应路径 %q 指向的值既不是对象也不是数组 (%T)", responsePath, node)
	}
}

func autoDetect(body any) any {
	obj, ok := body.(map[string]any)
	if !ok {
		return body
	}
	for _, k := range envelopeKeys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return body
}

// envelopeTotal 从响应信封中读取总数。
func envelopeTotal(body any) (int64, bool) {
	obj, ok := body.(map[string]any)
	if !ok {
		return 0, false
	}
	for _, section := range totalSections {
		scope := obj
		if section != "" {
			nested, ok := obj[section].(map[string]any)
			if !ok {
				continue
			}
			scope = nested
		}
		for _, k := range totalKeys {
			v, ok := scope[k]
			if !ok {
				continue
			}
			if n, err := cast.ToInt64E(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
