// Package nxobserve file: internal/nxobserve/logging.go
package nxobserve

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 把配置中的级别字符串转换为 slog.Level，无法识别时为 INFO。
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 构造一个结构化日志记录器，format 为 "text" 时输出文本，否则输出 JSON。
func NewLogger(w io.Writer, levelStr, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(levelStr),
		AddSource: true,
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// InitLogger 初始化全局的结构化日志记录器，应在 main 的早期调用。
func InitLogger(levelStr, format string) {
	slog.SetDefault(NewLogger(os.Stdout, levelStr, format))
}

// MaskSecret 把密钥替换为固定掩码，只保留是否为空的信息。
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
