package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
)

var (
	ErrNoContextFactory = errors.New("no context factory provided")
	ErrNilResponse      = errors.New("nil response")
	ErrInvalidMethod    = errors.New("invalid http method")
	ErrInvalidPattern   = errors.New("invalid route path pattern")
	ErrMiddlewareOrder  = errors.New("middlewares must be added before routes")

	ErrRouteNotFound    error = &statusError{status: http.StatusNotFound, msg: "route not found"}
	ErrMethodNotAllowed error = &statusError{status: http.StatusMethodNotAllowed, msg: "method not allowed"}
)

type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }

// StatusCoder is implemented by errors that carry their own HTTP status.
type StatusCoder interface {
	StatusCode() int
}

func defaultErrorHandler[C handler.Context](ctx C, err error) {
	w := ctx.ResponseWriter()
	if Written(w) {
		return
	}

	status := http.StatusInternalServerError
	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}

	http.Error(w, err.Error(), status)
}

// PanicError wraps a recovered panic value and its stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
