// Package nxobserve 暴露 Prometheus 指标
package nxobserve

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datanexus_http_request_duration_seconds",
		Help:    "HTTP 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	// PoolEntries 是注册表中当前的连接池条目数，按后端类型区分。
	PoolEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "datanexus_pool_entries",
		Help: "连接池注册表中的条目数",
	}, []string{"backend"})

	// PoolCreated 统计新建的连接池条目。
	PoolCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datanexus_pool_created_total",
		Help: "新建的连接池条目数",
	}, []string{"backend"})

	// PoolDisposed 统计被释放的连接池条目，reason 为 replaced/idle/closed/discarded。
	PoolDisposed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datanexus_pool_disposed_total",
		Help: "被释放的连接池条目数",
	}, []string{"backend", "reason"})

	providerOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datanexus_provider_operation_duration_seconds",
		Help:    "后端提供者操作耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation", "outcome"})

	// StatusUnmapped 统计无法识别、回落为 STOP 的状态值。
	StatusUnmapped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datanexus_status_unmapped_total",
		Help: "未能映射的设备状态值次数",
	})
)

var registerOnce sync.Once

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(httpRequestDuration, PoolEntries, PoolCreated, PoolDisposed, providerOperationDuration, StatusUnmapped)
}

// RegisterOnce 与 Register 相同，但多次调用是安全的。
func RegisterOnce() {
	registerOnce.Do(Register)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// ObserveProviderOperation 记录一次提供者操作的耗时与结果。
func ObserveProviderOperation(backend, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerOperationDuration.WithLabelValues(backend, operation, outcome).Observe(time.Since(start).Seconds())
}

// PrometheusMiddleware 记录每个请求的耗时，path 使用路由模板以控制基数。
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
