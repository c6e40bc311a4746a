// Package middleware provides generic HTTP middleware for handler.Context
// based routers.
//
// RequestID tags every request with an identifier, stores it on the request
// context and echoes it in the X-Request-ID header. Pair it with
// RequestIDExtractor so every log record of the request carries the ID:
//
//	log := logger.New(logger.WithContextExtractors(middleware.RequestIDExtractor))
//	r.Use(middleware.RequestID[*acme.Context](), middleware.LoggingWithLogger[*acme.Context](log))
//
// Logging writes one record per request after the response is rendered,
// escalating to warn for 4xx and slow requests and to error for 5xx.
package middleware
