// Package errx 提供带错误码的错误类型，用于向调用方区分校验失败的具体原因
package errx

import (
	"errors"
	"fmt"

	"rulekeeper/pkg/domain"
)

type Code string

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

// Invalid 构造规则校验错误，统一包裹 domain.ErrInvalidRule
func Invalid(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: domain.ErrInvalidRule}
}

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf 返回错误链中第一个 *Error 的错误码
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

const (
	CodeInvalidRule         Code = "INVALID_RULE"
	CodeInvalidCondition    Code = "INVALID_CONDITION"
	CodeInvalidAction       Code = "INVALID_ACTION"
	CodeInvalidDomain       Code = "INVALID_DOMAIN"
	CodeInvalidHeader       Code = "INVALID_HEADER"
	CodeInvalidResourceType Code = "INVALID_RESOURCE_TYPE"
	CodeInvalidMethod       Code = "INVALID_METHOD"
	CodeInvalidRegex        Code = "INVALID_REGEX"
	CodeInvalidRedirect     Code = "INVALID_REDIRECT"
	CodeInvalidEdit         Code = "INVALID_EDIT"
)
