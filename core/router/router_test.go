package router_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/router"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return http.StatusText(e.code) }
func (e statusErr) StatusCode() int { return e.code }

func text(body string) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	}
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Params(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Post("/order/{token}/finalize", func(ctx *router.Context) handler.Response {
		return text("finalize:" + ctx.Param("token"))
	})

	w := serve(r, http.MethodPost, "/order/abc123/finalize")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "finalize:abc123", w.Body.String())

	w = serve(r, http.MethodGet, "/order/abc123/finalize")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	t.Parallel()

	var seen []string
	r := router.New[*router.Context]()
	r.Route("/acme", func(r router.Router[*router.Context]) {
		r.Use(func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
			return func(ctx *router.Context) handler.Response {
				seen = append(seen, ctx.Request().URL.Path)
				return next(ctx)
			}
		})
		r.Get("/directory", func(*router.Context) handler.Response { return text("dir") })
		r.Post("/order/{token}", func(*router.Context) handler.Response { return text("order") })
		r.NotFound(func(*router.Context) handler.Response {
			return func(http.ResponseWriter, *http.Request) error { return router.ErrRouteNotFound }
		})
	})

	tests := []struct {
		name   string
		method string
		target string
		status int
		allow  string
	}{
		{name: "matched", method: http.MethodGet, target: "/acme/directory", status: http.StatusOK},
		{name: "unknown path", method: http.MethodGet, target: "/acme/nope", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, target: "/acme/order/abc", status: http.StatusMethodNotAllowed, allow: http.MethodPost},
	}

	for _, tt := range tests {
		w := serve(r, tt.method, tt.target)
		assert.Equal(t, tt.status, w.Code, tt.name)
		assert.Equal(t, tt.allow, w.Header().Get("Allow"), tt.name)
	}
	assert.Equal(t, []string{"/acme/directory", "/acme/nope", "/acme/order/abc"}, seen)

	// Outside the prefix the plain mux answers.
	w := serve(r, http.MethodGet, "/other")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, seen, 3)
}

func TestRouter_MiddlewareOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) handler.Middleware[*router.Context] {
		return func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
			return func(ctx *router.Context) handler.Response {
				order = append(order, name+"-before")
				resp := next(ctx)
				order = append(order, name+"-after")
				return resp
			}
		}
	}

	r := router.New[*router.Context]()
	r.Use(mw("outer"))
	r.With(mw("inner")).Get("/x", func(ctx *router.Context) handler.Response {
		order = append(order, "handler")
		return text("ok")
	})

	w := serve(r, http.MethodGet, "/x")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"outer-before", "inner-before", "handler", "inner-after", "outer-after"}, order)

	assert.Panics(t, func() { r.Use(mw("late")) })
}

func TestRouter_SetValueVisibleToResponse(t *testing.T) {
	t.Parallel()

	type key struct{}
	r := router.New[*router.Context]()
	r.Use(func(next handler.HandlerFunc[*router.Context]) handler.HandlerFunc[*router.Context] {
		return func(ctx *router.Context) handler.Response {
			ctx.SetValue(key{}, "v")
			return next(ctx)
		}
	})
	r.Get("/v", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, req *http.Request) error {
			v, _ := req.Context().Value(key{}).(string)
			_, err := w.Write([]byte(v))
			return err
		}
	})

	assert.Equal(t, "v", serve(r, http.MethodGet, "/v").Body.String())
}

func TestRouter_Errors(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Get("/status", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, r *http.Request) error {
			return statusErr{code: http.StatusTeapot}
		}
	})
	r.Get("/plain", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, r *http.Request) error {
			return errors.New("boom")
		}
	})
	r.Get("/nil", func(ctx *router.Context) handler.Response { return nil })
	r.Get("/panic", func(ctx *router.Context) handler.Response { panic("kaboom") })

	assert.Equal(t, http.StatusTeapot, serve(r, http.MethodGet, "/status").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/plain").Code)
	assert.Contains(t, serve(r, http.MethodGet, "/nil").Body.String(), router.ErrNilResponse.Error())

	w := serve(r, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "kaboom")
}

func TestRouter_CustomErrorHandler(t *testing.T) {
	t.Parallel()

	var captured error
	r := router.New[*router.Context](router.WithErrorHandler(func(ctx *router.Context, err error) {
		captured = err
		ctx.ResponseWriter().WriteHeader(http.StatusBadRequest)
	}))
	r.Get("/e", func(ctx *router.Context) handler.Response {
		return func(w http.ResponseWriter, r *http.Request) error { return errors.New("bad") }
	})

	w := serve(r, http.MethodGet, "/e")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualError(t, captured, "bad")
}

func TestRouter_RouteAndRoutes(t *testing.T) {
	t.Parallel()

	r := router.New[*router.Context]()
	r.Route("/acme", func(r router.Router[*router.Context]) {
		r.Method("/new-nonce", func(ctx *router.Context) handler.Response { return text("nonce") }, "get", "HEAD", "GET")
	})
	r.MountHTTP("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, "nonce", serve(r, http.MethodGet, "/acme/new-nonce").Body.String())
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/healthz").Code)
	assert.ElementsMatch(t, []router.Route{
		{Method: http.MethodGet, Pattern: "/acme/new-nonce"},
		{Method: http.MethodHead, Pattern: "/acme/new-nonce"},
		{Method: "*", Pattern: "/healthz"},
	}, r.Routes())

	assert.Panics(t, func() { r.Method("/bad", nil, "FETCH") })
	assert.Panics(t, func() { r.Get("no-slash", nil) })
}
