package handler

import (
	"context"
	"net/http"
)

// Context is the per-request value handlers receive. Implementations delegate
// context.Context to the underlying request.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
	Param(key string) string
	SetValue(key, val any)
}

// Response renders an HTTP response. Returned errors go to the router's ErrorHandler.
type Response func(w http.ResponseWriter, r *http.Request) error

// HandlerFunc handles a request with a typed context.
type HandlerFunc[C Context] func(ctx C) Response

// ErrorHandler renders errors returned by handlers or responses.
type ErrorHandler[C Context] func(ctx C, err error)

// Middleware wraps a HandlerFunc.
type Middleware[C Context] func(next HandlerFunc[C]) HandlerFunc[C]

// Chain applies middlewares so that the first one is the outermost.
func Chain[C Context](h HandlerFunc[C], middlewares ...Middleware[C]) HandlerFunc[C] {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
