package router

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
)

// Option configures a Router during creation.
type Option[C handler.Context] func(*mux[C])

// WithErrorHandler sets the handler for errors returned by handlers and responses.
func WithErrorHandler[C handler.Context](h handler.ErrorHandler[C]) Option[C] {
	return func(m *mux[C]) {
		if h != nil {
			m.root.errorHandler = h
		}
	}
}

// WithMiddleware adds router-wide middleware.
func WithMiddleware[C handler.Context](middlewares ...handler.Middleware[C]) Option[C] {
	return func(m *mux[C]) {
		m.middlewares = append(m.middlewares, middlewares...)
	}
}

// WithContextFactory sets the constructor for request contexts.
// Required for any context type other than *Context.
func WithContextFactory[C handler.Context](f func(http.ResponseWriter, *http.Request, map[string]string) C) Option[C] {
	return func(m *mux[C]) {
		if f != nil {
			m.root.newContext = f
		}
	}
}

// WithLogger sets the logger used for panics after the response was written.
func WithLogger[C handler.Context](logger *slog.Logger) Option[C] {
	return func(m *mux[C]) {
		if logger != nil {
			m.root.logger = logger
		}
	}
}
