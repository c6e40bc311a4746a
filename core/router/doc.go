// Package router provides a generic router on top of net/http.ServeMux.
//
// Routes are registered per method with ServeMux wildcard patterns; path
// values are exposed through Context.Param. Handlers return a deferred
// handler.Response, and any error it (or the handler) produces is passed to
// the configured ErrorHandler, which is also used for recovered panics.
//
//	r := router.New[*acme.Context](
//		router.WithContextFactory(acme.NewContext),
//		router.WithErrorHandler(acme.ErrorHandler(log)),
//	)
//	r.Use(middleware.RequestID[*acme.Context]())
//	r.Get("/directory", h.Directory)
//	r.With(h.Gate()).Post("/order/{token}/finalize", h.Finalize)
//
// Router-wide middleware must be added with Use before the first route.
// With, Group and Route derive inline routers that share the same ServeMux.
package router
