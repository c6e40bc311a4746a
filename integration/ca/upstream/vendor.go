package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	jose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/internal/ca"
)

const tracerName = "github.com/dmitrymomot/acmefront/integration/ca/upstream"

// Vendor talks to an upstream ACME CA.
type Vendor struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	http   *http.Client

	mu         sync.Mutex
	core       *api.Core
	thumbprint string
}

// Option configures a Vendor.
type Option func(*Vendor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vendor) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithTracerProvider overrides the global otel tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Vendor) {
		if tp != nil {
			v.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Vendor) {
		if c != nil {
			v.http = c
		}
	}
}

// New creates the vendor. No network call is made until the first action.
func New(cfg Config, opts ...Option) (*Vendor, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	v := &Vendor{
		cfg:    cfg,
		logger: logger.NewNope(),
		tracer: otel.Tracer(tracerName),
		http:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(logger.Component("upstream"), logger.Vendor(cfg.Name))
	return v, nil
}

func (v *Vendor) Name() string { return v.cfg.Name }

// Call implements ca.Vendor.
func (v *Vendor) Call(ctx context.Context, action ca.Action, req ca.Request) (env *ca.Envelope, err error) {
	ctx, span := v.tracer.Start(ctx, "upstream."+action.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ca.vendor", v.cfg.Name),
			attribute.String("ca.action", action.String()),
			attribute.String("ca.api_id", req.VendorID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if !env.OK() {
			span.SetAttributes(attribute.String("ca.rejected", env.Msg))
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	core, thumbprint, err := v.client(ctx)
	if err != nil {
		return nil, err
	}

	switch action {
	case ca.ActionSubmit:
		env, err = v.submit(core, thumbprint, req)
	case ca.ActionGet:
		env, err = v.get(core, thumbprint, req)
	case ca.ActionRevalidate:
		env, err = v.revalidate(core, thumbprint, req)
	case ca.ActionUpdateDCV:
		env, err = v.read(core, thumbprint, req.VendorID, req.DCVMethod, false)
	case ca.ActionFinalize:
		env, err = v.finalize(core, thumbprint, req)
	case ca.ActionCancel:
		env, err = v.cancel(core, thumbprint, req)
	case ca.ActionRevoke:
		env, err = v.revoke(core, req)
	default:
		return nil, fmt.Errorf("%w: %s", ca.ErrUnsupportedAction, action)
	}

	return rejectProblem(env, err)
}

// client registers the upstream account on first use.
func (v *Vendor) client(ctx context.Context) (*api.Core, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.core != nil {
		return v.core, v.thumbprint, nil
	}

	key, err := loadAccountKey(v.cfg.AccountKeyPath)
	if err != nil {
		return nil, "", err
	}

	core, err := api.New(v.http, v.cfg.UserAgent, v.cfg.DirectoryURL, "", key)
	if err != nil {
		return nil, "", fmt.Errorf("upstream directory: %w", err)
	}

	msg := acme.Account{TermsOfServiceAgreed: true}
	if v.cfg.Email != "" {
		msg.Contact = []string{"mailto:" + v.cfg.Email}
	}
	if v.cfg.EABKeyID != "" {
		_, err = core.Accounts.NewEAB(msg, v.cfg.EABKeyID, v.cfg.EABHMAC)
	} else {
		_, err = core.Accounts.New(msg)
	}
	if err != nil {
		return nil, "", errors.Join(ErrRegisterAccount, err)
	}

	thumbprint, err := jws.Thumbprint(&jose.JSONWebKey{Key: key.Public()})
	if err != nil {
		return nil, "", errors.Join(ErrRegisterAccount, err)
	}

	v.logger.InfoContext(ctx, "upstream account ready", slog.String("directory", v.cfg.DirectoryURL))
	v.core = core
	v.thumbprint = thumbprint
	return core, thumbprint, nil
}

func (v *Vendor) submit(core *api.Core, thumbprint string, req ca.Request) (*ca.Envelope, error) {
	order, err := core.Orders.New(req.Identifiers)
	if err != nil {
		return nil, err
	}
	return v.envelope(core, thumbprint, order, req.DCVMethod, false)
}

func (v *Vendor) get(core *api.Core, thumbprint string, req ca.Request) (*ca.Envelope, error) {
	return v.read(core, thumbprint, req.VendorID, req.DCVMethod, true)
}

func (v *Vendor) read(core *api.Core, thumbprint, orderURL, method string, download bool) (*ca.Envelope, error) {
	order, err := core.Orders.Get(orderURL)
	if err != nil {
		return nil, err
	}
	return v.envelope(core, thumbprint, order, method, download)
}

func (v *Vendor) revalidate(core *api.Core, thumbprint string, req ca.Request) (*ca.Envelope, error) {
	order, err := core.Orders.Get(req.VendorID)
	if err != nil {
		return nil, err
	}
	typ := challengeType(req.DCVMethod)
	for _, authzURL := range order.Authorizations {
		authz, err := core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, err
		}
		if authz.Status != acme.StatusPending {
			continue
		}
		chlg, ok := findChallenge(authz, typ)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoChallenge, identifierOf(authz))
		}
		if _, err := core.Challenges.New(chlg.URL); err != nil {
			return nil, err
		}
	}
	return v.read(core, thumbprint, req.VendorID, req.DCVMethod, false)
}

func (v *Vendor) finalize(core *api.Core, thumbprint string, req ca.Request) (*ca.Envelope, error) {
	order, err := core.Orders.Get(req.VendorID)
	if err != nil {
		return nil, err
	}
	updated, err := core.Orders.UpdateForCSR(order.Finalize, req.CSR)
	if err != nil {
		return nil, err
	}
	updated.Location = req.VendorID
	return v.envelope(core, thumbprint, updated, req.DCVMethod, true)
}

func (v *Vendor) cancel(core *api.Core, thumbprint string, req ca.Request) (*ca.Envelope, error) {
	order, err := core.Orders.Get(req.VendorID)
	if err != nil {
		return nil, err
	}
	for _, authzURL := range order.Authorizations {
		authz, err := core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, err
		}
		if authz.Status != acme.StatusPending && authz.Status != acme.StatusValid {
			continue
		}
		if err := core.Authorizations.Deactivate(authzURL); err != nil {
			return nil, err
		}
	}
	env, err := v.read(core, thumbprint, req.VendorID, req.DCVMethod, false)
	if err != nil {
		return nil, err
	}
	env.Data.CertApplyStatus = ca.ApplyCancelled
	return env, nil
}

func (v *Vendor) revoke(core *api.Core, req ca.Request) (*ca.Envelope, error) {
	reason := uint(req.Reason)
	err := core.Certificates.Revoke(acme.RevokeCertMessage{
		Certificate: base64.RawURLEncoding.EncodeToString(req.Certificate),
		Reason:      &reason,
	})
	if err != nil {
		return nil, err
	}
	return ca.Accepted(ca.Data{APIID: req.VendorID, CertApplyStatus: ca.ApplyRevoked}), nil
}

func (v *Vendor) envelope(core *api.Core, thumbprint string, order acme.ExtendedOrder, method string, download bool) (*ca.Envelope, error) {
	if method == "" {
		method = ca.MethodDNSTXT
	}
	data := ca.Data{
		APIID:           order.Location,
		CertApplyStatus: applyStatus(order.Order),
		DCV:             &ca.DCV{Method: method},
	}

	for _, authzURL := range order.Authorizations {
		authz, err := core.Authorizations.Get(authzURL)
		if err != nil {
			return nil, err
		}
		val, err := validationFor(authz, method, thumbprint)
		if err != nil {
			return ca.Rejected(err.Error(), identifierOf(authz)), nil
		}
		data.Validation = append(data.Validation, val)
	}

	if download && order.Status == acme.StatusValid && order.Certificate != "" {
		leaf, issuer, err := core.Certificates.Get(order.Certificate, false)
		if err != nil {
			return nil, err
		}
		data.Cert = string(leaf)
		data.Intermediate = string(issuer)
	}

	return ca.Accepted(data), nil
}

// rejectProblem turns ACME problem documents into rejection envelopes.
func rejectProblem(env *ca.Envelope, err error) (*ca.Envelope, error) {
	if err == nil {
		return env, nil
	}
	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		return ca.Rejected(problem.Detail, problem.Type), nil
	}
	return nil, err
}

var _ ca.Vendor = (*Vendor)(nil)
