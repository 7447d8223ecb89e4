// Package odbc file: internal/adapter/provider/odbc/connstr.go
package odbc

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ConnParts 是从简写或完整连接串中解析出的各部分。
type ConnParts struct {
	Host     string
	Instance string
	Port     int
	Database string
	User     string
	Password string
	Driver   string            // 完整连接串中显式给出的 DRIVER
	Extra    map[string]string // 其它未识别的键，键名保留原样
}

// ConnSettings 是附加到连接串上的驱动选项。
// MARSConnection 让池中同一条连接可交替执行多条语句，仅 Microsoft 驱动识别；
// 连接复用本身由 database/sql 与连接池注册表负责，驱动管理器级别的池化在 odbcinst.ini 中配置。
type ConnSettings struct {
	TrustServerCertificate bool `mapstructure:"trust_server_certificate"`
	RetryCount             int  `mapstructure:"retry_count"`
	RetryIntervalSeconds   int  `mapstructure:"retry_interval"`
	LoginTimeoutSeconds    int  `mapstructure:"login_timeout"`
	MARSConnection         bool `mapstructure:"mars_connection"`
}

// DefaultConnSettings 返回默认驱动选项。
func DefaultConnSettings() ConnSettings {
	return ConnSettings{TrustServerCertificate: true, RetryCount: 3, RetryIntervalSeconds: 10, LoginTimeoutSeconds: 15, MARSConnection: true}
}

// ParseConnString 解析 "server=host\instance;Database=db;Id=user;Password=pwd" 形式的简写，
// 也接受带 DRIVER= 的完整 ODBC 连接串。键名大小写不敏感，host 与 instance 之间可用 / 或 \。
func ParseConnString(raw string) (ConnParts, error) {
	parts := ConnParts{Extra: map[string]string{}}
	for _, segment := range splitSegments(raw) {
		eq := strings.Index(segment, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(segment[:eq])
		value := unquoteValue(strings.TrimSpace(segment[eq+1:]))
		switch strings.ToLower(key) {
		case "server", "data source", "address", "addr":
			parts.Host, parts.Instance, parts.Port = splitServer(value)
		case "port":
			if n, err := strconv.Atoi(value); err == nil {
				parts.Port = n
			}
		case "database", "initial catalog":
			parts.Database = value
		case "id", "uid", "user id", "user":
			parts.User = value
		case "password", "pwd":
			parts.Password = value
		case "driver":
			parts.Driver = value
		default:
			parts.Extra[key] = value
		}
	}
	if parts.Host == "" {
		return parts, errors.New("ODBC 连接串缺少 server")
	}
	return parts, nil
}

// splitSegments 按 ';' 切分，但保留 {…} 中的分号（ODBC 允许在花括号内转义）。
func splitSegments(raw string) []string {
	var (
		out   []string
		cur   strings.Builder
		depth int
	)
	for _, r := range raw {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case r == ';' && depth == 0:
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func splitServer(value string) (host, instance string, port int) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "tcp:")
	if i := strings.LastIndex(value, ","); i >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(value[i+1:])); err == nil {
			port = n
		}
		value = value[:i]
	}
	if i := strings.IndexAny(value, `\/`); i >= 0 {
		return value[:i], value[i+1:], port
	}
	return value, "", port
}

func (p ConnParts) server() string {
	s := p.Host
	if p.Instance != "" {
		s += `\` + p.Instance
	}
	if p.Port > 0 {
		s += "," + strconv.Itoa(p.Port)
	}
	return s
}

// BuildODBC 生成完整的 ODBC 连接串。FreeTDS 需要单独的 PORT 与 TDS_Version。
func BuildODBC(driver string, p ConnParts, s ConnSettings) string {
	var sb strings.Builder
	write := func(k, v string) {
		if v == "" {
			return
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(v)
		sb.WriteString(";")
	}

	write("DRIVER", "{"+driver+"}")
	if isFreeTDS(driver) {
		server := p.Host
		if p.Instance != "" {
			server += `\` + p.Instance
		}
		write("SERVER", server)
		port := p.Port
		if port == 0 && p.Instance == "" {
			port = 1433
		}
		if port > 0 {
			write("PORT", strconv.Itoa(port))
		}
	} else {
		write("SERVER", p.server())
	}
	write("DATABASE", p.Database)
	write("UID", p.User)
	write("PWD", quoteValue(p.Password))

	if isFreeTDS(driver) {
		write("TDS_Version", "7.4")
	} else {
		if s.TrustServerCertificate {
			write("TrustServerCertificate", "yes")
		}
		if s.RetryCount > 0 {
			write("ConnectRetryCount", strconv.Itoa(s.RetryCount))
		}
		if s.RetryIntervalSeconds > 0 {
			write("ConnectRetryInterval", strconv.Itoa(s.RetryIntervalSeconds))
		}
		if s.MARSConnection {
			write("MARS_Connection", "yes")
		}
	}
	if s.LoginTimeoutSeconds > 0 {
		write("LoginTimeout", strconv.Itoa(s.LoginTimeoutSeconds))
	}

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if managedKey(k) {
			continue
		}
		write(k, p.Extra[k])
	}
	return sb.String()
}

// managedKey 判断键是否由 ConnSettings 生成，用户给出的同名键被忽略。
func managedKey(k string) bool {
	for _, m := range []string{"TrustServerCertificate", "ConnectRetryCount", "ConnectRetryInterval", "MARS_Connection"} {
		if strings.EqualFold(k, m) {
			return true
		}
	}
	return false
}

// BuildSQLServerURL 生成 go-mssqldb 使用的 sqlserver:// 连接串，用于没有 ODBC 驱动管理器的环境。
func BuildSQLServerURL(p ConnParts, s ConnSettings) string {
	u := &url.URL{Scheme: "sqlserver", Host: p.Host}
	if p.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", p.Host, p.Port)
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	if p.Instance != "" {
		u.Path = "/" + p.Instance
	}
	q := url.Values{}
	if p.Database != "" {
		q.Set("database", p.Database)
	}
	if s.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if s.LoginTimeoutSeconds > 0 {
		q.Set("connection timeout", strconv.Itoa(s.LoginTimeoutSeconds))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MaskConnectionString 隐藏 ODBC 连接串与 sqlserver:// URL 中的密码。
func MaskConnectionString(conn string) string {
	if strings.HasPrefix(strings.ToLower(conn), "sqlserver://") {
		if u, err := url.Parse(conn); err == nil && u.User != nil {
			if _, has := u.User.Password(); has {
				u.User = url.UserPassword(u.User.Username(), "____")
				return strings.Replace(u.String(), "____", "****", 1)
			}
		}
		return conn
	}
	segments := splitSegments(conn)
	for i, seg := range segments {
		eq := strings.Index(seg, "=")
		if eq <= 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(seg[:eq])) {
		case "pwd", "password":
			segments[i] = seg[:eq+1] + "****"
		}
	}
	out := strings.Join(segments, ";")
	if strings.HasSuffix(conn, ";") {
		out += ";"
	}
	return out
}

func quoteValue(v string) string {
	if strings.ContainsAny(v, ";{}") {
		return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
	}
	return v
}

func unquoteValue(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
		return strings.ReplaceAll(v[1:len(v)-1], "}}", "}")
	}
	return v
}

func isFreeTDS(driver string) bool {
	return strings.EqualFold(driver, "FreeTDS")
}
