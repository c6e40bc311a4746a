package acme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/metrics"
	"github.com/dmitrymomot/acmefront/core/nonce"
	"github.com/dmitrymomot/acmefront/core/response"
	"github.com/dmitrymomot/acmefront/core/router"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

// Engine is the part of the fulfillment engine the ACME surface drives.
// *fulfillment.Engine implements it.
type Engine interface {
	Order(ctx context.Context, id int64) (*fulfillment.Order, error)
	OrderByEABKeyID(ctx context.Context, keyID string) (*fulfillment.Order, error)
	MarkEABUsed(ctx context.Context, orderID int64) error
	History(ctx context.Context, orderID int64) ([]fulfillment.Cert, error)

	Cert(ctx context.Context, id int64) (*fulfillment.Cert, error)
	CertByToken(ctx context.Context, token string) (*fulfillment.Cert, error)
	CertBySerial(ctx context.Context, serial string) (*fulfillment.Cert, error)
	Chain(ctx context.Context, c *fulfillment.Cert) (string, error)

	PrepareACME(ctx context.Context, orderID int64, identifiers []string, token string) (*fulfillment.Cert, error)
	Commit(ctx context.Context, orderID int64, actor string) (*fulfillment.Cert, error)
	Sync(ctx context.Context, orderID int64, force bool) (*fulfillment.Cert, error)
	Revalidate(ctx context.Context, orderID int64, actor string) (*fulfillment.Cert, error)
	Finalize(ctx context.Context, orderID int64, csrDER []byte, actor string) (*fulfillment.Cert, error)
	RevokeCert(ctx context.Context, certID int64, reason int, actor string) (*fulfillment.Cert, error)
}

// Server serves the ACME resources.
type Server struct {
	cfg     Config
	engine  Engine
	repo    Repository
	nonces  *nonce.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	origin string
	prefix string
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer validates cfg.BaseURL and returns a Server.
func NewServer(cfg Config, engine Engine, repo Repository, nonces *nonce.Manager, opts ...Option) (*Server, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("acme: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.OrderLifetime <= 0 {
		cfg.OrderLifetime = DefaultConfig().OrderLifetime
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		repo:   repo,
		nonces: nonces,
		logger: logger.NewNope(),
		now:    time.Now,
		origin: u.Scheme + "://" + u.Host,
		prefix: strings.TrimRight(u.Path, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("acme"))
	return s, nil
}

// Prefix is the path the ACME routes are mounted under.
func (s *Server) Prefix() string { return s.prefix }

// url returns the externally visible URL of path.
func (s *Server) url(path string, parts ...string) string {
	u := s.origin + s.prefix + path
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// Register mounts the ACME routes on r.
func (s *Server) Register(r router.Router[*Context]) {
	mount := func(r router.Router[*Context]) {
		r.Use(s.observe, s.replayNonce)

		r.Get("/directory", s.directory)
		r.Method("/new-nonce", s.newNonce, http.MethodGet, http.MethodHead)

		r.With(s.gate(true)).Post("/new-acct", s.newAccount)

		signed := r.With(s.gate(false))
		signed.Post("/acct/{keyId}", s.account)
		signed.Post("/acct/{keyId}/orders", s.accountOrders)
		signed.Post("/new-order", s.newOrder)
		signed.Post("/order/{token}", s.order)
		signed.Post("/order/{token}/finalize", s.finalize)
		signed.Post("/chall/{token}", s.challenge)
		signed.Post("/cert/{token}", s.certificate)
		signed.Post("/revoke-cert", s.revokeCert)

		r.Get("/authz/{token}", s.authorization)
		signed.Post("/authz/{token}", s.authorization)

		r.NotFound(s.unmatched)
	}

	if s.prefix == "" {
		r.Group(mount)
		return
	}
	r.Route(s.prefix, mount)
}

// Handler returns a standalone router serving the ACME routes.
func (s *Server) Handler() http.Handler {
	r := router.New[*Context](
		router.WithContextFactory(NewContext),
		router.WithErrorHandler[*Context](s.ErrorHandler),
		router.WithLogger[*Context](s.logger),
	)
	s.Register(r)
	return r
}

// ErrorHandler renders errors as problem documents.
func (s *Server) ErrorHandler(ctx *Context, err error) {
	w := ctx.ResponseWriter()
	if router.Written(w) {
		return
	}

	p := problemFor(err)
	s.metrics.ACMEProblem(p.Code())
	attrs := []any{
		logger.Problem(p.Code()),
		logger.Method(ctx.Request().Method),
		logger.Path(ctx.Request().URL.Path),
		logger.StatusCode(p.Status),
		logger.Error(err),
	}
	if p.Status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "acme request failed", attrs...)
	} else {
		s.logger.DebugContext(ctx, "acme problem", attrs...)
	}

	if werr := response.TypedJSON(p, p.Status, "application/problem+json")(w, ctx.Request()); werr != nil {
		s.logger.WarnContext(ctx, "write problem", logger.Error(werr))
	}
}

// replayNonce puts a fresh nonce and the directory link on every response.
func (s *Server) replayNonce(next handler.HandlerFunc[*Context]) handler.HandlerFunc[*Context] {
	return func(ctx *Context) handler.Response {
		n, err := s.nonces.Generate(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "nonce generation failed", logger.Error(err))
		} else {
			s.metrics.Nonce("issued")
		}

		resp := next(ctx)
		return func(w http.ResponseWriter, r *http.Request) error {
			if n != "" {
				w.Header().Set("Replay-Nonce", n)
			}
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Add("Link", link(s.url("/directory"), "index"))
			return resp(w, r)
		}
	}
}

type statusReporter interface {
	Status() int
}

// observe counts requests per route and status.
func (s *Server) observe(next handler.HandlerFunc[*Context]) handler.HandlerFunc[*Context] {
	return func(ctx *Context) handler.Response {
		resp := next(ctx)
		return func(w http.ResponseWriter, r *http.Request) error {
			err := resp(w, r)
			route := r.Pattern
			if i := strings.IndexByte(route, ' '); i >= 0 {
				route = route[i+1:]
			}
			status := http.StatusOK
			if err != nil {
				status = problemFor(err).Status
			} else if sr, ok := w.(statusReporter); ok && sr.Status() != 0 {
				status = sr.Status()
			}
			s.metrics.ACMERequest(route, status)
			return err
		}
	}
}

func link(target, rel string) string {
	return fmt.Sprintf("<%s>;rel=%q", target, rel)
}

// owned reports whether c belongs to the business order of the account.
func owned(a *Account, c *fulfillment.Cert) bool {
	return a != nil && c != nil && a.OrderID != 0 && a.OrderID == c.OrderID
}

// unmatched answers ACME paths with no route, so they still carry a nonce.
func (s *Server) unmatched(*Context) handler.Response {
	return func(http.ResponseWriter, *http.Request) error {
		return router.ErrRouteNotFound
	}
}

// notFound maps lookup misses to a 404 malformed problem, leaving other
// errors untouched.
func notFound(err error, what string) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, fulfillment.ErrNotFound) {
		return NewProblem(CodeMalformed, "%s not found", what).WithStatus(http.StatusNotFound)
	}
	return err
}
