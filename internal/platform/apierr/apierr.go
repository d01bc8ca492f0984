// Package apierr is the error model shared by every feature package and its
// mapping onto HTTP responses.
package apierr

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // 在庫不足・使用済みコード・Pending以外など
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func Invalid(msg string) *Error      { return &Error{Code: CodeInvalidArgument, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Code: CodeNotFound, Message: msg} }
func Conflict(msg string) *Error     { return &Error{Code: CodeConflict, Message: msg} }
func Unauthorized(msg string) *Error { return &Error{Code: CodeUnauthorized, Message: msg} }
func Forbidden(msg string) *Error    { return &Error{Code: CodeForbidden, Message: msg} }
func RateLimited(msg string) *Error  { return &Error{Code: CodeRateLimited, Message: msg} }
func Internal(msg string) *Error     { return &Error{Code: CodeInternal, Message: msg} }

// CodeOf returns the code carried by err, or CodeInternal for anything that
// is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    Code   `json:"code" example:"NOT_FOUND"`
	Message string `json:"message" example:"book not found"`
}

func Body(code Code, msg string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: msg}}
}

// Respond writes err as the JSON error envelope. Unexpected errors are logged
// and their text is not exposed to the client.
func Respond(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		c.JSON(HTTPStatus(err), Body(e.Code, e.Message))
		return
	}
	log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, Body(CodeInternal, "internal error"))
}

// Abort is Respond for middleware: it stops the handler chain.
func Abort(c *gin.Context, err error) {
	Respond(c, err)
	c.Abort()
}

// BadJSON is the response for a body that failed to bind.
func BadJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, Body(CodeInvalidArgument, "invalid json"))
}
