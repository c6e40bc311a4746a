package router

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrymomot/acmefront/core/handler"
)

// root is the state shared by a router and every inline router derived from it.
type root[C handler.Context] struct {
	mux          *http.ServeMux
	errorHandler handler.ErrorHandler[C]
	newContext   func(http.ResponseWriter, *http.Request, map[string]string) C
	logger       *slog.Logger

	// paths matches registered patterns regardless of method, so the
	// fallback can tell an unknown path from a wrong method.
	paths *http.ServeMux

	mu     sync.Mutex
	routes []Route
	allow  map[string][]string
	sealed bool
}

type mux[C handler.Context] struct {
	root        *root[C]
	prefix      string
	middlewares []handler.Middleware[C]
	inline      bool
}

func newMux[C handler.Context](opts ...Option[C]) *mux[C] {
	m := &mux[C]{
		root: &root[C]{
			mux:          http.NewServeMux(),
			errorHandler: defaultErrorHandler[C],
			logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			paths:        http.NewServeMux(),
			allow:        make(map[string][]string),
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.root.newContext == nil {
		m.root.newContext = func(w http.ResponseWriter, r *http.Request, params map[string]string) C {
			var zero C
			if _, ok := any(zero).(*Context); ok {
				return any(newContext(w, r, params)).(C)
			}
			panic(ErrNoContextFactory)
		}
	}

	return m
}

func (m *mux[C]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.root.mux.ServeHTTP(w, r)
}

func (m *mux[C]) Get(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodGet, pattern, h)
}

func (m *mux[C]) Post(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodPost, pattern, h)
}

func (m *mux[C]) Head(pattern string, h handler.HandlerFunc[C]) {
	m.handle(http.MethodHead, pattern, h)
}

func (m *mux[C]) Method(pattern string, h handler.HandlerFunc[C], methods ...string) {
	if len(methods) == 0 {
		panic(fmt.Errorf("%w: no methods provided", ErrInvalidMethod))
	}
	seen := make(map[string]bool, len(methods))
	for _, method := range methods {
		method = strings.ToUpper(method)
		if !validMethod(method) {
			panic(fmt.Errorf("%w: %s", ErrInvalidMethod, method))
		}
		if seen[method] {
			continue
		}
		seen[method] = true
		m.handle(method, pattern, h)
	}
}

func (m *mux[C]) MountHTTP(pattern string, h http.Handler) {
	full := m.fullPattern(pattern)
	m.root.mu.Lock()
	m.root.sealed = true
	m.root.routes = append(m.root.routes, Route{Method: "*", Pattern: full})
	m.root.mu.Unlock()
	m.root.mux.Handle(full, h)
}

func (m *mux[C]) NotFound(h handler.HandlerFunc[C]) {
	full := m.fullPattern("/")
	notFound := handler.Chain(h, m.middlewares...)
	notAllowed := handler.Chain(func(C) handler.Response {
		return func(http.ResponseWriter, *http.Request) error { return ErrMethodNotAllowed }
	}, m.middlewares...)

	m.root.mu.Lock()
	m.root.sealed = true
	m.root.mu.Unlock()

	m.root.mux.HandleFunc(full, func(w http.ResponseWriter, r *http.Request) {
		if methods := m.root.allowed(r); len(methods) > 0 {
			w.Header().Set("Allow", strings.Join(methods, ", "))
			m.root.serve(w, r, nil, notAllowed)
			return
		}
		m.root.serve(w, r, nil, notFound)
	})
}

func (m *mux[C]) Use(middlewares ...handler.Middleware[C]) {
	if !m.inline {
		m.root.mu.Lock()
		sealed := m.root.sealed
		m.root.mu.Unlock()
		if sealed {
			panic(ErrMiddlewareOrder)
		}
	}
	m.middlewares = append(m.middlewares, middlewares...)
}

func (m *mux[C]) With(middlewares ...handler.Middleware[C]) Router[C] {
	return &mux[C]{
		root:        m.root,
		prefix:      m.prefix,
		middlewares: append(slices.Clone(m.middlewares), middlewares...),
		inline:      true,
	}
}

func (m *mux[C]) Group(fn func(r Router[C])) Router[C] {
	im := m.With()
	if fn != nil {
		fn(im)
	}
	return im
}

func (m *mux[C]) Route(prefix string, fn func(r Router[C])) Router[C] {
	if prefix == "" || prefix[0] != '/' {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, prefix))
	}
	im := &mux[C]{
		root:        m.root,
		prefix:      m.prefix + strings.TrimSuffix(prefix, "/"),
		middlewares: slices.Clone(m.middlewares),
		inline:      true,
	}
	if fn != nil {
		fn(im)
	}
	return im
}

func (m *mux[C]) Routes() []Route {
	m.root.mu.Lock()
	defer m.root.mu.Unlock()
	return slices.Clone(m.root.routes)
}

func (m *mux[C]) fullPattern(pattern string) string {
	if pattern == "" || pattern[0] != '/' {
		panic(fmt.Errorf("%w: '%s'", ErrInvalidPattern, pattern))
	}
	return m.prefix + pattern
}

func (m *mux[C]) handle(method, pattern string, fn handler.HandlerFunc[C]) {
	full := m.fullPattern(pattern)
	names := wildcardNames(full)
	h := handler.Chain(fn, m.middlewares...)

	m.root.mu.Lock()
	m.root.sealed = true
	m.root.routes = append(m.root.routes, Route{Method: method, Pattern: full})
	if _, ok := m.root.allow[full]; !ok {
		m.root.paths.HandleFunc(full, http.NotFound)
	}
	m.root.allow[full] = append(m.root.allow[full], method)
	m.root.mu.Unlock()

	m.root.mux.HandleFunc(method+" "+full, func(w http.ResponseWriter, r *http.Request) {
		m.root.serve(w, r, names, h)
	})
}

// allowed returns the methods registered for the path of r, if any.
func (rt *root[C]) allowed(r *http.Request) []string {
	_, pattern := rt.paths.Handler(r)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return slices.Clone(rt.allow[pattern])
}

func (rt *root[C]) serve(w http.ResponseWriter, r *http.Request, names []string, h handler.HandlerFunc[C]) {
	ww := &responseWriter{ResponseWriter: w}

	var params map[string]string
	if len(names) > 0 {
		params = make(map[string]string, len(names))
		for _, name := range names {
			params[name] = r.PathValue(name)
		}
	}

	ctx := rt.newContext(ww, r, params)

	defer func() {
		if p := recover(); p != nil {
			perr := &PanicError{Value: p, Stack: debug.Stack()}
			if ww.Written() {
				rt.logger.Error("panic after response written",
					slog.Any("panic", p),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("stack", string(perr.Stack)))
				return
			}
			rt.errorHandler(ctx, perr)
		}
	}()

	resp := h(ctx)
	if resp == nil {
		rt.errorHandler(ctx, ErrNilResponse)
		return
	}

	// Middleware may have replaced the request (SetValue); render with the latest one.
	if err := resp(ww, ctx.Request()); err != nil {
		rt.errorHandler(ctx, err)
	}
}

// wildcardNames extracts {name} and {name...} segments from a ServeMux pattern.
func wildcardNames(pattern string) []string {
	var names []string
	for _, seg := range strings.Split(pattern, "/") {
		if len(seg) < 3 || seg[0] != '{' || seg[len(seg)-1] != '}' {
			continue
		}
		name := strings.TrimSuffix(seg[1:len(seg)-1], "...")
		if name == "$" || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func validMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return true
	}
	return false
}
