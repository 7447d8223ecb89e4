// Package middleware file: internal/transport/http/middleware/limiter.go
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// LimitSetting 是一层限流的速率与峰值，Rate <= 0 表示不限制。
type LimitSetting struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// RateLimitConfig 是入站限流配置。
type RateLimitConfig struct {
	Global    LimitSetting  `mapstructure:"global"`
	PerIP     LimitSetting  `mapstructure:"per_ip"`
	PerTenant LimitSetting  `mapstructure:"per_tenant"`
	IdleTTL   time.Duration `mapstructure:"idle_ttl"`
}

// RateLimiter 组合全局、按 IP、按租户三层令牌桶。
// 不活跃的桶由 go-cache 过期回收，每次命中都会续期。
type RateLimiter struct {
	cfg     RateLimitConfig
	global  *rate.Limiter
	buckets *cache.Cache
}

// NewRateLimiter 创建限流器。
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		global:  newLimiter(cfg.Global),
		buckets: cache.New(cfg.IdleTTL, 10*time.Minute),
	}
	slog.Info("入站限流器初始化完成",
		"global_rate", cfg.Global.Rate, "per_ip_rate", cfg.PerIP.Rate, "per_tenant_rate", cfg.PerTenant.Rate)
	return rl
}

func newLimiter(s LimitSetting) *rate.Limiter {
	if s.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.Rate), burst)
}

// bucket 返回 key 对应的令牌桶，不存在时创建。
func (rl *RateLimiter) bucket(key string, s LimitSetting) *rate.Limiter {
	if x, ok := rl.buckets.Get(key); ok {
		l := x.(*rate.Limiter)
		rl.buckets.SetDefault(key, l)
		return l
	}
	l := newLimiter(s)
	if err := rl.buckets.Add(key, l, cache.DefaultExpiration); err != nil {
		// 并发创建，使用先写入的那个
		if x, ok := rl.buckets.Get(key); ok {
			return x.(*rate.Limiter)
		}
	}
	return l
}

// Middleware 顺序：全局 -> IP -> 租户（仅在路由带 :tenant 参数时）。
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.global.Allow() {
			rl.reject(c, "global", "系统繁忙，请稍后再试")
			return
		}
		if rl.cfg.PerIP.Rate > 0 && !rl.bucket("ip:"+c.ClientIP(), rl.cfg.PerIP).Allow() {
			rl.reject(c, "per_ip", "您的请求过于频繁，请稍后再试")
			return
		}
		if tenant := c.Param("tenant"); tenant != "" && rl.cfg.PerTenant.Rate > 0 &&
			!rl.bucket("tenant:"+tenant, rl.cfg.PerTenant).Allow() {
			rl.reject(c, "per_tenant", "该租户请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, layer, msg string) {
	slog.Debug("请求被限流", "layer", layer, "ip", c.ClientIP(), "tenant", c.Param("tenant"))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, APIError{Code: "RATE_LIMITED", Message: msg})
}
