// Package rest file: internal/adapter/provider/rest/client.go
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"DataNexus/internal/core/port"

	"golang.org/x/time/rate"
)

const (
	authBearer = "bearer"
	authAPIKey = "api_key"
	authNone   = "none"

	defaultAPIKeyHeader = "X-API-Key"
	maxErrorBody        = 512
)

// statusError 是非 2xx 响应。
type statusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s 返回 HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// client 是绑定到一个数据源的长连接 HTTP 客户端，所有请求先经过限流器。
type client struct {
	base    *url.URL
	http    *http.Client
	headers http.Header
	limiter *rate.Limiter
}

type authConfig struct {
	Scheme string
	Key    string
	Header string
}

func newClient(baseURL string, hc *http.Client, headers map[string]string, auth authConfig, limiter *rate.Limiter) (*client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("base URL 无法解析: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL 必须是 http 或 https，实际为 %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, errors.New("base URL 缺少主机")
	}

	h := make(http.Header, len(headers)+2)
	h.Set("Accept", "application/json")
	for k, v := range headers {
		h.Set(k, v)
	}
	if auth.Key != "" {
		scheme := strings.ToLower(auth.Scheme)
		if scheme == "" {
			scheme = authBearer
		}
		switch scheme {
		case authBearer:
			h.Set("Authorization", "Bearer "+auth.Key)
		case authAPIKey:
			name := auth.Header
			if name == "" {
				name = defaultAPIKeyHeader
			}
			h.Set(name, auth.Key)
		case authNone:
		default:
			return nil, fmt.Errorf("未知的认证方式 %q", auth.Scheme)
		}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &client{base: base, http: hc, headers: h, limiter: limiter}, nil
}

// resolve 拼接 base URL 与端点路径，保留 base 自带的路径前缀。path 已经过路径转义。
func (c *client) resolve(path string, query url.Values) (string, error) {
	u := *c.base
	raw := strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("端点路径非法: %w", err)
	}
	u.Path, u.RawPath = unescaped, raw
	if len(query) > 0 {
		merged := c.base.Query()
		for k, vs := range query {
			merged[k] = vs
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

// do 发送请求并把 JSON 响应解码为通用结构。空响应体返回 nil。
func (c *client) do(ctx context.Context, method, path string, query url.Values, payload any) (any, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("等待限流令牌失败: %w", err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("请求体编码失败: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	target, err := c.resolve(path, query)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header = c.headers.Clone()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, resp.StatusCode, &statusError{Method: method, URL: path, Status: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, resp.StatusCode, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("响应不是合法的 JSON: %w", err)
	}
	return decoded, resp.StatusCode, nil
}

func (c *client) close() {
	c.http.CloseIdleConnections()
}

// classify 把 HTTP 层错误归入错误种类：网络不可达、认证失败与 502/503/504 视为连接失败。
func classify(op, dataType string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusUnauthorized, http.StatusForbidden,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return port.NewError(port.ErrConnectionFailed, op, err).WithDataType(dataType)
		}
		return port.NewError(port.ErrQueryExecution, op, err).WithDataType(dataType)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return port.NewError(port.ErrConnectionFailed, op, err).WithDataType(dataType)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return port.NewError(port.ErrConnectionFailed, op, err).WithDataType(dataType)
	}
	return port.NewError(port.ErrQueryExecution, op, err).WithDataType(dataType)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
