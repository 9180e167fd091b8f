package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/lecture-qa/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

// NewValidationError is a 400 that tells the caller which input was wrong.
func NewValidationError(msg string) *ApiError {
	e := newApiError(http.StatusBadRequest)
	e.Message = msg
	e.Reason = string(server.ReasonValidation)
	return e
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable)
	e.Err = err
	return e
}

var reasonStatus = map[server.Reason]int{
	server.ReasonValidation:      http.StatusBadRequest,
	server.ReasonNotOngoing:      http.StatusBadRequest,
	server.ReasonUnauthenticated: http.StatusUnauthorized,
	server.ReasonForbidden:       http.StatusForbidden,
	server.ReasonNotFound:        http.StatusNotFound,
	server.ReasonUnexpected:      http.StatusInternalServerError,
}

// fromServerError converts an error returned by the lecture server. The
// server's message is kept since it is already safe to show to clients.
func fromServerError(err error) *ApiError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewServiceUnavailableError(err)
	}

	se := server.AsError(err)
	code, ok := reasonStatus[se.Reason]
	if !ok {
		code = http.StatusInternalServerError
	}

	return &ApiError{
		StatusCode: code,
		Message:    se.Message,
		Reason:     string(se.Reason),
		Err:        se.Err,
	}
}
