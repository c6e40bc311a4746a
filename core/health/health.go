package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
)

// Check is one named dependency probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness answers 200 while the process runs.
func Liveness[C handler.Context](C) handler.Response {
	return response.JSON(Report{Status: "ok"})
}

// Readiness runs checks concurrently. timeout <= 0 means the request
// context alone bounds them.
func Readiness[C handler.Context](log *slog.Logger, timeout time.Duration, checks ...Check) handler.HandlerFunc[C] {
	if log == nil {
		log = logger.NewNope()
	}
	return func(ctx C) handler.Response {
		report, err := Run(ctx, timeout, checks...)
		if err != nil {
			log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			return response.JSONWithStatus(report, http.StatusServiceUnavailable)
		}
		return response.JSON(report)
	}
}

// Run executes checks and returns the per-check outcome with all failures
// joined.
func Run(ctx context.Context, timeout time.Duration, checks ...Check) (Report, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	report := Report{Status: "ok", Checks: make(map[string]string, len(checks))}
	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Fn(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Checks[c.Name] = err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
				return
			}
			report.Checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		report.Status = "unavailable"
		return report, err
	}
	return report, nil
}
