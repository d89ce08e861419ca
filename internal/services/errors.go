package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 引擎错误分类
type ErrorKind string

const (
	KindValidation            ErrorKind = "VALIDATION_FAILED"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindInvalidState          ErrorKind = "INVALID_STATE"
	KindDependencyUnavailable ErrorKind = "DEPENDENCY_UNAVAILABLE"
)

// EngineError 引擎统一错误
type EngineError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// HTTPStatus 错误对应的 HTTP 状态码
func (e *EngineError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(message string, details map[string]any) error {
	return &EngineError{Kind: KindValidation, Message: message, Details: details}
}

func NewNotFoundError(resource string, details map[string]any) error {
	return &EngineError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource), Details: details}
}

func NewInvalidStateError(message string, details map[string]any) error {
	return &EngineError{Kind: KindInvalidState, Message: message, Details: details}
}

// NewDependencyUnavailable 工单存储不可用（不自动重试，由外部调度器决定）
func NewDependencyUnavailable(op string, err error) error {
	return &EngineError{
		Kind:    KindDependencyUnavailable,
		Message: fmt.Sprintf("ticket store unavailable during %s", op),
		Details: map[string]any{"op": op},
		Err:     err,
	}
}

// AsEngineError 提取 EngineError
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsKind 判断错误链中是否包含指定分类
func IsKind(err error, kind ErrorKind) bool {
	ee, ok := AsEngineError(err)
	return ok && ee.Kind == kind
}
