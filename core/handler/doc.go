// Package handler defines the request-handling contracts shared by the router,
// middleware and the ACME endpoints: a typed Context, HandlerFunc returning a
// deferred Response, ErrorHandler and Middleware.
//
// Handlers never write to the ResponseWriter directly; they return a Response
// so middleware can decorate headers (Replay-Nonce, X-Request-ID) before the
// body is written.
package handler
