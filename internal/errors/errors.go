package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示桥接层内统一的错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	// Numeric 是暴露给 C 调用方的稳定数值错误码。
	Numeric   int32
	Retryable bool
}

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeInvalidName          Code = "INVALID_NAME"
	CodeAlreadyRegistered    Code = "ALREADY_REGISTERED"
	CodeInitializationFailed Code = "INITIALIZATION_FAILED"
	CodeShutdownFailed       Code = "SHUTDOWN_FAILED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUnsupportedFormat    Code = "UNSUPPORTED_FORMAT"
	CodeMissingCapability    Code = "MISSING_CAPABILITY"
	CodeEncoding             Code = "ENCODING_ERROR"
	CodeDeserialization      Code = "DESERIALIZATION_ERROR"
	CodeForeignPanic         Code = "FOREIGN_PANIC"
	CodeNullResult           Code = "NULL_OR_EMPTY_RESULT"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeBridgeClosed         Code = "BRIDGE_CLOSED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:              {Message: "unknown error", Severity: SeverityCritical, Numeric: 1},
		CodeInvalidArgument:      {Message: "invalid argument", Severity: SeverityInfo, Numeric: 2},
		CodeInvalidName:          {Message: "invalid plugin name", Severity: SeverityInfo, Numeric: 3},
		CodeAlreadyRegistered:    {Message: "plugin already registered", Severity: SeverityInfo, Numeric: 4},
		CodeInitializationFailed: {Message: "plugin initialization failed", Severity: SeverityWarning, Numeric: 5, Retryable: true},
		CodeShutdownFailed:       {Message: "plugin shutdown failed", Severity: SeverityWarning, Numeric: 6},
		CodeNotFound:             {Message: "plugin not found", Severity: SeverityInfo, Numeric: 7},
		CodeUnsupportedFormat:    {Message: "unsupported format", Severity: SeverityInfo, Numeric: 8},
		CodeMissingCapability:    {Message: "foreign object is missing required methods", Severity: SeverityWarning, Numeric: 9},
		CodeEncoding:             {Message: "encoding error", Severity: SeverityWarning, Numeric: 10},
		CodeDeserialization:      {Message: "deserialization error", Severity: SeverityWarning, Numeric: 11},
		CodeForeignPanic:         {Message: "foreign call panicked", Severity: SeverityCritical, Numeric: 12},
		CodeNullResult:           {Message: "foreign call returned null or empty result", Severity: SeverityWarning, Numeric: 13},
		CodeValidationFailed:     {Message: "validation failed", Severity: SeverityInfo, Numeric: 14},
		CodeBridgeClosed:         {Message: "bridge closed", Severity: SeverityWarning, Numeric: 15},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是桥接层统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithPlugin 记录出错插件的名称。
func WithPlugin(name string) Option {
	return WithMetadata("plugin", name)
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中最外层统一错误的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// NumericCodeOf 返回错误对应的数值错误码，nil 返回 0。
func NumericCodeOf(err error) int32 {
	if err == nil {
		return 0
	}
	return AttributesOf(CodeOf(err)).Numeric
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Retryable
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
