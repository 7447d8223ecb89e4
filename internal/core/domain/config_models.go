// Package domain file: internal/core/domain/config_models.go
package domain

import (
	"encoding/json"
	"time"
)

// BackendKind 标识数据源的物理后端类型，只允许三种取值。
type BackendKind string

const (
	BackendRelational BackendKind = "relational"
	BackendODBC       BackendKind = "odbc"
	BackendREST       BackendKind = "rest"
)

// 业务数据类型，同时作为自定义查询、字段映射和端点映射的键。
const (
	DataTypeEquipmentStatus       = "equipment_status"
	DataTypeMeasurementData       = "measurement_data"
	DataTypeLatestMeasurement     = "latest_measurement"
	DataTypeUpdateEquipmentStatus = "update_equipment_status"
	DataTypeExecuteSQL            = "execute_sql"
	DataTypeTestConnection        = "test_connection"
)

// CustomQuery 是某一数据类型的自定义查询覆盖。
type CustomQuery struct {
	Query       string `json:"query"`
	Description string `json:"description,omitempty"`
}

// DataSourceOptions 对应配置行中的 options 列，所有字段均可缺省。
type DataSourceOptions struct {
	ConnectTimeoutSeconds int     `json:"connect_timeout_seconds,omitempty"`
	QueryTimeoutSeconds   int     `json:"query_timeout_seconds,omitempty"`
	HTTPTimeoutSeconds    int     `json:"http_timeout_seconds,omitempty"`
	AuthScheme            string  `json:"auth_scheme,omitempty"` // bearer | api_key | none
	APIKeyHeader          string  `json:"api_key_header,omitempty"`
	RateLimitPerSecond    float64 `json:"rate_limit_per_second,omitempty"`
	RateLimitBurst        int     `json:"rate_limit_burst,omitempty"`
	ODBCDriver            string  `json:"odbc_driver,omitempty"`
}

// DataSourceConfigRow 是 data_source_configs 表中的一行原始记录，密文尚未解密。
type DataSourceConfigRow struct {
	ID                  string
	WorkspaceID         string
	BackendKind         string
	EncryptedConnection string
	EncryptedAPIKey     string
	Headers             json.RawMessage
	CustomQueries       json.RawMessage
	Options             json.RawMessage
	IsActive            bool
	CreatedAt           time.Time
}

// DataSourceConfig 是解密、规范化之后的数据源配置。
// 它只存在于单个 Dispatcher 实例的生命周期内，不跨租户共享。
type DataSourceConfig struct {
	ID               string      `validate:"required"`
	WorkspaceID      string      `validate:"required"`
	Kind             BackendKind `validate:"required,oneof=relational odbc rest"`
	ConnectionString string      `validate:"required_if=Kind odbc,required_if=Kind rest"`
	APIKey           string
	Headers          map[string]string
	CustomQueries    map[string]CustomQuery
	Options          DataSourceOptions
	CreatedAt        time.Time
}

// CustomQueryFor 返回某数据类型的自定义查询，未配置或为空时返回 false。
func (c *DataSourceConfig) CustomQueryFor(dataType string) (string, bool) {
	if c == nil || c.CustomQueries == nil {
		return "", false
	}
	q, ok := c.CustomQueries[dataType]
	if !ok || q.Query == "" {
		return "", false
	}
	return q.Query, true
}

// ConnectTimeout 返回连接超时，未配置时使用 fallback。
func (o DataSourceOptions) ConnectTimeout(fallback time.Duration) time.Duration {
	return secondsOr(o.ConnectTimeoutSeconds, fallback)
}

// QueryTimeout 返回单条命令的超时，未配置时使用 fallback。
func (o DataSourceOptions) QueryTimeout(fallback time.Duration) time.Duration {
	return secondsOr(o.QueryTimeoutSeconds, fallback)
}

// HTTPTimeout 返回 HTTP 请求超时，未配置时使用 fallback。
func (o DataSourceOptions) HTTPTimeout(fallback time.Duration) time.Duration {
	return secondsOr(o.HTTPTimeoutSeconds, fallback)
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}
