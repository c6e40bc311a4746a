package router

import (
	"context"
	"net/http"
	"time"
)

// Context is the default handler.Context implementation.
type Context struct {
	w      http.ResponseWriter
	r      *http.Request
	params map[string]string
}

func newContext(w http.ResponseWriter, r *http.Request, params map[string]string) *Context {
	return &Context{w: w, r: r, params: params}
}

func (c *Context) Deadline() (time.Time, bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{} { return c.r.Context().Done() }
func (c *Context) Err() error { return c.r.Context().Err() }
func (c *Context) Value(key any) any { return c.r.Context().Value(key) }
func (c *Context) Request() *http.Request { return c.r }
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }

// Param returns a path wildcard value, or "" when absent.
func (c *Context) Param(key string) string {
	return c.params[key]
}

// SetValue stores val on the request context.
func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}
