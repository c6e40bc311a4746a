package router

import (
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
)

// Router registers typed handlers and serves them as an http.Handler.
type Router[C handler.Context] interface {
	http.Handler
	Routes

	Get(pattern string, h handler.HandlerFunc[C])
	Post(pattern string, h handler.HandlerFunc[C])
	Head(pattern string, h handler.HandlerFunc[C])
	Method(pattern string, h handler.HandlerFunc[C], methods ...string)

	// MountHTTP serves a plain http.Handler (metrics, pprof) under pattern,
	// bypassing typed middleware.
	MountHTTP(pattern string, h http.Handler)

	// NotFound serves requests under the router's prefix that match no
	// route, through the router's middleware. A path registered for other
	// methods gets ErrMethodNotAllowed instead.
	NotFound(h handler.HandlerFunc[C])

	Use(middlewares ...handler.Middleware[C])
	With(middlewares ...handler.Middleware[C]) Router[C]
	Group(fn func(r Router[C])) Router[C]
	Route(prefix string, fn func(r Router[C])) Router[C]
}

// Routes lists registered routes.
type Routes interface {
	Routes() []Route
}

// Route describes one registered method and pattern.
type Route struct {
	Method  string
	Pattern string
}

// New creates a router. Patterns follow net/http.ServeMux syntax without the
// method prefix, e.g. "/order/{token}/finalize".
func New[C handler.Context](opts ...Option[C]) Router[C] {
	return newMux(opts...)
}
