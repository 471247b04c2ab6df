package service

import (
	"errors"
	"fmt"

	"food_order/internal/store"
)

// 错误分类。router 按 Kind 映射 HTTP 状态码：400 / 404 / 409。
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict 表示并发下输掉了库存/用券/状态竞争，客户端可重试。
	ErrConflict = errors.New("conflict")
)

// Error 带分类的业务错误，Message 直接返回给用户。
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// translateTxError 把数据库层的序列化失败/死锁转成 ConflictError，其余原样返回。
func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	if store.IsRetryable(err) {
		return &Error{Kind: ErrConflict, Message: "concurrent update, please retry"}
	}
	return err
}
