package acme

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dmitrymomot/acmefront/core/jws"
)

// Auth is the authenticated state the gate attaches to a signed request.
type Auth struct {
	Message *jws.Message
	// Account is nil for JWK-signed requests to new-acct.
	Account *Account
	// Key verified the signature: the account key or the embedded JWK.
	Key *jose.JSONWebKey
}

type authKey struct{}

// Context is the request context of the ACME router.
type Context struct {
	w      http.ResponseWriter
	r      *http.Request
	params map[string]string
}

// NewContext is the router context factory.
func NewContext(w http.ResponseWriter, r *http.Request, params map[string]string) *Context {
	return &Context{w: w, r: r, params: params}
}

func (c *Context) Deadline() (time.Time, bool) { return c.r.Context().Deadline() }
func (c *Context) Done() <-chan struct{}       { return c.r.Context().Done() }
func (c *Context) Err() error                  { return c.r.Context().Err() }
func (c *Context) Value(key any) any           { return c.r.Context().Value(key) }
func (c *Context) Request() *http.Request      { return c.r }

func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }

func (c *Context) Param(key string) string { return c.params[key] }

func (c *Context) SetValue(key, val any) {
	c.r = c.r.WithContext(context.WithValue(c.r.Context(), key, val))
}

// Auth returns the state set by the gate, or nil for unauthenticated requests.
func (c *Context) Auth() *Auth {
	a, _ := c.Value(authKey{}).(*Auth)
	return a
}
