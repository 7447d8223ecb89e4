// Package middleware file: internal/transport/http/middleware/error_handler.go
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"DataNexus/internal/core/port"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// APIError 是所有错误响应的统一结构。
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// kindStatus 把错误种类映射为 HTTP 状态码。
var kindStatus = []struct {
	kind   error
	status int
}{
	{port.ErrConfigNotFound, http.StatusNotFound},
	{port.ErrUnsupportedBackendKind, http.StatusUnprocessableEntity},
	{port.ErrUnsupportedOperation, http.StatusNotImplemented},
	{port.ErrDecryptionFailed, http.StatusInternalServerError},
	{port.ErrProviderConstruction, http.StatusServiceUnavailable},
	{port.ErrConnectionFailed, http.StatusServiceUnavailable},
	{port.ErrQueryExecution, http.StatusBadGateway},
}

// StatusFor 返回错误对应的 HTTP 状态码，未知错误为 500。
func StatusFor(err error) int {
	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			return ks.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorHandlingMiddleware 集中处理处理器通过 c.Error 附加的错误，只看最后一个。
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			body := APIError{Code: "INVALID_REQUEST", Message: "请求参数验证失败: " + ve.Error()}
			if len(ve) > 0 {
				body.Field = ve[0].Field()
			}
			c.JSON(http.StatusBadRequest, body)
			return
		}
		if errors.Is(err, errBadRequest) {
			c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_REQUEST", Message: err.Error()})
			return
		}

		status := StatusFor(err)
		body := APIError{Code: port.Code(err), Message: err.Error()}
		var perr *port.Error
		if errors.As(err, &perr) {
			body.Field = perr.Field
		}
		if status == http.StatusInternalServerError && body.Code == "INTERNAL" {
			body.Message = "服务器内部错误"
		}
		slog.Warn("请求处理失败", "path", c.FullPath(), "status", status, "code", body.Code, "error", err)
		c.JSON(status, body)
	}
}

var errBadRequest = errors.New("无效的请求")

// BadRequest 把绑定错误等标记为 400。
func BadRequest(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return err
	}
	return fmt.Errorf("%w: %w", errBadRequest, err)
}
