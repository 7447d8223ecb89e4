// Package nxobserve file: internal/nxobserve/debug.go
package nxobserve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // 注册 /debug/pprof
	"time"
)

// EnablePprof 在指定地址上暴露 /debug/pprof 端点，返回的函数用于关闭。
// addr 为空时不启动。
func EnablePprof(addr string) func(context.Context) error {
	if addr == "" {
		slog.Info("pprof 端点未启用")
		return func(context.Context) error { return nil }
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("pprof 端点启动", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
	return srv.Shutdown
}
