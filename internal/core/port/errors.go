// Package port file: internal/core/port/errors.go
package port

import (
	"errors"
	"strings"
)

// 标准错误种类。调用方通过 errors.Is 判断种类，通过 Code 取稳定的标签。
var (
	ErrConfigNotFound         = errors.New("未找到可用的数据源配置")
	ErrDecryptionFailed       = errors.New("数据源密文解密失败")
	ErrUnsupportedBackendKind = errors.New("不支持的数据源后端类型")
	ErrProviderConstruction   = errors.New("数据源提供者构建失败")
	ErrConnectionFailed       = errors.New("数据源连接失败")
	ErrQueryExecution         = errors.New("数据源查询执行失败")
	ErrUnsupportedOperation   = errors.New("数据源不支持该操作")
)

var errorKinds = []struct {
	err  error
	code string
}{
	{ErrConfigNotFound, "CONFIG_NOT_FOUND"},
	{ErrDecryptionFailed, "DECRYPTION_FAILED"},
	{ErrUnsupportedBackendKind, "UNSUPPORTED_BACKEND_KIND"},
	{ErrProviderConstruction, "PROVIDER_CONSTRUCTION_FAILED"},
	{ErrConnectionFailed, "CONNECTION_FAILED"},
	{ErrQueryExecution, "QUERY_EXECUTION_FAILED"},
	{ErrUnsupportedOperation, "UNSUPPORTED_OPERATION"},
}

// Error 是带上下文的种类错误。Field / DataType 用于定位问题，绝不携带明文密钥。
type Error struct {
	Kind     error
	Op       string
	Field    string
	DataType string
	Err      error
}

// NewError 构造一个种类错误。
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithField 附加出错的字段名。
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithDataType 附加出错的数据类型。
func (e *Error) WithDataType(dataType string) *Error {
	e.DataType = dataType
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.Error())
	if e.DataType != "" {
		sb.WriteString(" (数据类型: ")
		sb.WriteString(e.DataType)
		sb.WriteString(")")
	}
	if e.Field != "" {
		sb.WriteString(" (字段: ")
		sb.WriteString(e.Field)
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap 同时暴露种类哨兵和底层原因。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code 返回错误的稳定种类标签；不属于任何种类时返回 "INTERNAL"。
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL"
}

// Ensure 保证 err 带有种类；已经带有种类的错误原样返回，否则包装为 kind。
func Ensure(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return err
		}
	}
	return NewError(kind, op, err)
}
