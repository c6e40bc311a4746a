// Package health serves liveness and readiness probes.
//
// Liveness never touches dependencies. Readiness runs every named check with
// a shared deadline and answers 503 when any of them fails:
//
//	r.Get("/healthz", health.Liveness[*app.Context])
//	r.Get("/readyz", health.Readiness[*app.Context](logger, 2*time.Second,
//		health.Check{Name: "pg", Fn: pg.Healthcheck(pool)},
//		health.Check{Name: "redis", Fn: redis.Healthcheck(client)},
//	))
package health
