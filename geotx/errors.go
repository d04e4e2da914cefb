package geotx

import (
	"context"
	"errors"
	"fmt"
)

// Kind 编辑错误分类
type Kind string

const (
	KindVersionConflict   Kind = "version_conflict"
	KindNotFound          Kind = "not_found"
	KindMissingIdentifier Kind = "missing_identifier"
	KindNotImplemented    Kind = "not_implemented"
	KindBatchAborted      Kind = "batch_aborted"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindCommitFailed      Kind = "commit_failed"
	KindRollbackFailed    Kind = "rollback_failed"
	KindCancelled         Kind = "cancelled"
	KindTimeout           Kind = "timeout"
)

// EditError 带分类和结构化详情的编辑错误
type EditError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *EditError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// NewError 构造指定分类的编辑错误
func NewError(kind Kind, message string) *EditError {
	return &EditError{Kind: kind, Message: message}
}

// WrapError 包装底层错误
func WrapError(kind Kind, message string, err error) *EditError {
	return &EditError{Kind: kind, Message: message, Err: err}
}

// WithDetail 追加一条详情, 返回自身便于链式调用
func (e *EditError) WithDetail(key string, value interface{}) *EditError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail 读取详情, 不存在返回 nil
func (e *EditError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// AsEditError 从错误链中提取 *EditError
func AsEditError(err error) (*EditError, bool) {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// KindOf 错误链中的分类, 非 EditError 返回空串
func KindOf(err error) Kind {
	if ee, ok := AsEditError(err); ok {
		return ee.Kind
	}
	return ""
}

// fromContextErr 把 context 终止原因映射为超时或取消
func fromContextErr(err error) *EditError {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, "operation exceeded transaction timeout", err)
	}
	return WrapError(KindCancelled, "operation cancelled", err)
}

// asEdit 保证任意错误都落入分类体系, 未分类的按 fallback 处理
func asEdit(err error, fallback Kind, message string) *EditError {
	if ee, ok := AsEditError(err); ok {
		return ee
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fromContextErr(err)
	}
	return WrapError(fallback, message, err)
}
