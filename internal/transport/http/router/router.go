// file: internal/transport/http/router/router.go
package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"DataNexus/internal/core/domain"
	"DataNexus/internal/core/port"
	"DataNexus/internal/nxobserve"
	"DataNexus/internal/pool"
	"DataNexus/internal/service/dispatcher"
	"DataNexus/internal/transport/http/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// DataSourceHeader 指定显式的数据源配置 ID。
const DataSourceHeader = "X-Data-Source-ID"

// PoolAdmin 是注册表对管理接口暴露的能力。
type PoolAdmin interface {
	CloseTenant(tenant string) int
	Stats() []pool.EntryStats
}

// StatusAdmin 是状态归一化器对管理接口暴露的能力。
type StatusAdmin interface {
	Invalidate(workspaceID string)
	InvalidateAll()
	ExportUnmappedCSV(w io.Writer) error
}

// WorkspaceResolver 把租户引用解析为工作区 ID。
type WorkspaceResolver interface {
	ResolveWorkspace(ctx context.Context, tenantRef string) (string, error)
}

// Dependencies 注入到路由器中的依赖。
type Dependencies struct {
	Dispatch   dispatcher.Dependencies
	Pools      PoolAdmin
	Status     StatusAdmin
	Workspaces WorkspaceResolver
	RateLimit  *middleware.RateLimiter
}

// New 创建基于 Gin 的 HTTP 路由器 (V1)。
func New(deps Dependencies) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), nxobserve.PrometheusMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", DataSourceHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	// 错误处理必须在 gzip 之内，否则响应体写入时压缩流已关闭
	router.Use(middleware.ErrorHandlingMiddleware())
	if deps.RateLimit != nil {
		router.Use(deps.RateLimit.Middleware())
	}

	router.GET("/metrics", gin.WrapH(nxobserve.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := router.Group("/api/v1")
	{
		// --- 数据平面 ---
		tenant := v1.Group("/tenants/:tenant")
		{
			tenant.GET("/equipment", equipmentStatusHandler(deps.Dispatch))
			tenant.GET("/measurements", measurementDataHandler(deps.Dispatch))
			tenant.GET("/equipment/:code/measurements/latest", latestMeasurementHandler(deps.Dispatch))
			tenant.PUT("/equipment/:code/status", updateStatusHandler(deps.Dispatch))
			tenant.POST("/sql", executeSQLHandler(deps.Dispatch))
			tenant.GET("/connection", testConnectionHandler(deps.Dispatch))
		}

		// --- 控制平面 ---
		admin := v1.Group("/admin")
		{
			admin.GET("/pools", poolStatsHandler(deps.Pools))
			admin.DELETE("/tenants/:tenant/pools", closeTenantHandler(deps))
			admin.GET("/status/unmapped", unmappedStatusHandler(deps.Status))
		}
	}
	return router
}

// dispatcherFor 为单个请求创建 Dispatcher，调用方负责 Close。
func dispatcherFor(c *gin.Context, deps dispatcher.Dependencies) *dispatcher.Dispatcher {
	var opts []dispatcher.Option
	if id := c.GetHeader(DataSourceHeader); id != "" {
		opts = append(opts, dispatcher.WithDataSourceID(id))
	}
	return dispatcher.New(c.Param("tenant"), deps, opts...)
}

func closeDispatcher(c *gin.Context, d *dispatcher.Dispatcher) {
	if err := d.Close(context.WithoutCancel(c.Request.Context())); err != nil {
		slog.Warn("释放数据源提供者失败", "tenant", c.Param("tenant"), "error", err)
	}
}

// --- 数据平面处理器 ---

func equipmentStatusHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	type queryParams struct {
		EquipmentType string `form:"equipment_type"`
		Status        string `form:"status"`
		Limit         int    `form:"limit" binding:"omitempty,min=1,max=1000"`
		Offset        int    `form:"offset" binding:"omitempty,min=0"`
	}
	return func(c *gin.Context) {
		var q queryParams
		if err := c.ShouldBindQuery(&q); err != nil {
			_ = c.Error(middleware.BadRequest(err))
			return
		}
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		page, err := d.GetEquipmentStatus(c.Request.Context(), port.EquipmentQuery{
			EquipmentType: q.EquipmentType,
			Status:        q.Status,
			Limit:         q.Limit,
			Offset:        q.Offset,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": page})
	}
}

func measurementDataHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	type queryParams struct {
		EquipmentCode   string `form:"equipment_code"`
		EquipmentType   string `form:"equipment_type"`
		MeasurementCode string `form:"measurement_code"`
		Limit           int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	}
	return func(c *gin.Context) {
		var q queryParams
		if err := c.ShouldBindQuery(&q); err != nil {
			_ = c.Error(middleware.BadRequest(err))
			return
		}
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		ctx, diags := port.WithDiagnostics(c.Request.Context())
		records, err := d.GetMeasurementData(ctx, port.MeasurementQuery{
			EquipmentCode:   q.EquipmentCode,
			EquipmentType:   q.EquipmentType,
			MeasurementCode: q.MeasurementCode,
			Limit:           q.Limit,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		if records == nil {
			records = []domain.MeasurementRecord{}
		}
		c.JSON(http.StatusOK, withDiagnostics(gin.H{"data": records}, diags))
	}
}

func latestMeasurementHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		ctx, diags := port.WithDiagnostics(c.Request.Context())
		rec, err := d.GetLatestMeasurement(ctx, c.Param("code"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		// 没有数据时返回 data: null，而不是 404
		c.JSON(http.StatusOK, withDiagnostics(gin.H{"data": rec}, diags))
	}
}

func updateStatusHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	type body struct {
		Status string `json:"status" binding:"required"`
	}
	return func(c *gin.Context) {
		var req body
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(middleware.BadRequest(err))
			return
		}
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		ok, err := d.UpdateEquipmentStatus(c.Request.Context(), c.Param("code"), req.Status)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": ok})
	}
}

func executeSQLHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	type body struct {
		Query  string         `json:"query" binding:"required"`
		Params map[string]any `json:"params"`
	}
	return func(c *gin.Context) {
		var req body
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(middleware.BadRequest(err))
			return
		}
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		rows, err := d.ExecuteSQL(c.Request.Context(), req.Query, req.Params)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

func testConnectionHandler(deps dispatcher.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := dispatcherFor(c, deps)
		defer closeDispatcher(c, d)

		res := d.TestConnection(c.Request.Context())
		status := http.StatusOK
		if !res.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, res)
	}
}

func withDiagnostics(body gin.H, diags *port.Diagnostics) gin.H {
	if list := diags.List(); len(list) > 0 {
		body["diagnostics"] = list
	}
	return body
}

// --- 控制平面处理器 ---

func poolStatsHandler(pools PoolAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pools == nil {
			c.JSON(http.StatusOK, gin.H{"data": []pool.EntryStats{}})
			return
		}
		stats := pools.Stats()
		if stats == nil {
			stats = []pool.EntryStats{}
		}
		c.JSON(http.StatusOK, gin.H{"data": stats})
	}
}

// closeTenantHandler 关闭租户的全部连接池，并让其状态覆盖表在下次使用时重新加载。
// 连接池按 workspace id 登记，slug 与 UUID 两种引用先解析为同一个键。
func closeTenantHandler(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.Param("tenant")
		ws, resolved := resolveWorkspace(c.Request.Context(), deps, tenant)
		key := tenant
		if resolved {
			key = ws
		}
		closed := 0
		if deps.Pools != nil {
			closed = deps.Pools.CloseTenant(key)
		}
		if deps.Status != nil {
			if resolved {
				deps.Status.Invalidate(ws)
			} else {
				deps.Status.InvalidateAll()
			}
		}
		slog.Info("已关闭租户连接池", "tenant", tenant, "workspace_id", key, "closed", closed)
		c.JSON(http.StatusOK, gin.H{"tenant": tenant, "workspace_id": key, "closed": closed})
	}
}

func resolveWorkspace(ctx context.Context, deps Dependencies, tenant string) (string, bool) {
	if deps.Workspaces == nil {
		return "", false
	}
	ws, err := deps.Workspaces.ResolveWorkspace(ctx, tenant)
	if err != nil {
		slog.Warn("解析租户工作区失败，按原始引用关闭并清空全部状态覆盖缓存", "tenant", tenant, "error", err)
		return "", false
	}
	return ws, true
}
