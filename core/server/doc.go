// Package server runs an http.Handler with configured timeouts, optional TLS
// and graceful shutdown. Run plugs into errgroup:
//
//	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
//	g.Go(srv.Run(ctx, router))
package server
