package fulfillment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/acmefront/core/kvstore"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/metrics"
	"github.com/dmitrymomot/acmefront/core/notify"
	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/delegation"
)

// Engine runs the order and certificate state machine.
type Engine struct {
	cfg      Config
	store    Store
	vendors  *ca.Registry
	tasks    TaskQueue
	kv       kvstore.Store
	catalog  *Catalog
	notifier Notifier
	dcv      DCVProvisioner
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog sets the product catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithDCV enables automatic DNS token publishing.
func WithDCV(p DCVProvisioner) Option {
	return func(e *Engine) { e.dcv = p }
}

// WithMetrics records transitions and vendor calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, store Store, vendors *ca.Registry, tasks TaskQueue, kv kvstore.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   store,
		vendors: vendors,
		tasks:   tasks,
		kv:      kv,
		logger:  logger.NewNope(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = DefaultCatalog(cfg.DefaultVendor)
	}
	e.logger = e.logger.With(logger.Component("fulfillment"))
	return e
}

// Catalog returns the product catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// call performs a vendor action for c. Rejections become KindVendor errors.
func (e *Engine) call(ctx context.Context, c *Cert, action ca.Action, req ca.Request) (*ca.Data, error) {
	name := c.Vendor
	if name == "" {
		name = e.cfg.DefaultVendor
	}
	v, err := e.vendors.Get(name)
	if err != nil {
		return nil, err
	}
	if req.VendorID == "" {
		req.VendorID = c.VendorID
	}
	if req.DCVMethod == "" {
		req.DCVMethod = c.DCVMethod
	}

	start := e.now()
	data, err := ca.Do(ctx, v, action, req)
	e.metrics.VendorCall(name, action.String(), err, e.now().Sub(start))
	if err != nil {
		e.logger.WarnContext(ctx, "vendor call failed",
			logger.Vendor(name),
			logger.Action(action.String()),
			logger.OrderID(c.OrderID),
			logger.CertID(c.ID),
			logger.Error(err))
		if ca.IsRejected(err) {
			return nil, &Error{Kind: KindVendor, Op: action.String(), Err: err}
		}
		return nil, err
	}
	return data, nil
}

func (e *Engine) transition(ctx context.Context, c *Cert, to Status) {
	from := c.Status
	c.Status = to
	c.UpdatedAt = e.now()
	e.metrics.Transition(string(from), string(to))
	e.logger.InfoContext(ctx, "cert transition",
		logger.OrderID(c.OrderID),
		logger.CertID(c.ID),
		logger.Transition(string(from), string(to)))
}

// guard rejects a repeat of the same call by the same actor within GuardTTL.
// The key store is advisory: when it is unavailable the call proceeds.
func (e *Engine) guard(ctx context.Context, action string, params any, actor string) error {
	if actor == "" || e.kv == nil {
		return nil
	}
	key, err := guardKey(action, params, actor)
	if err != nil {
		return err
	}
	ok, err := e.kv.SetNX(ctx, "guard:"+key, actor, e.cfg.GuardTTL)
	if err != nil {
		e.logger.WarnContext(ctx, "duplicate-submission guard unavailable", logger.Action(action), logger.Error(err))
		return nil
	}
	if !ok {
		return newError(KindPolicy, action, ErrDuplicateSubmission, "repeated within %s", e.cfg.GuardTTL)
	}
	return nil
}

// guardKey hashes action, canonical JSON params and actor.
func guardKey(action string, params any, actor string) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("guard params: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("guard params: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("guard params: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(action))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(actor))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// throttle reports whether an upstream poll for orderID may run now.
func (e *Engine) throttle(ctx context.Context, orderID int64) bool {
	if e.kv == nil || e.cfg.SyncThrottle <= 0 {
		return true
	}
	ok, err := e.kv.SetNX(ctx, "sync:"+strconv.FormatInt(orderID, 10), "1", e.cfg.SyncThrottle)
	if err != nil {
		return true
	}
	return ok
}

func (e *Engine) event(typ string, o *Order, c *Cert) notify.Event {
	payload := map[string]any{
		"order_id":    c.OrderID,
		"identifiers": c.Identifiers,
		"contact":     o.Contact,
		"status":      string(c.Status),
	}
	if len(c.Identifiers) > 0 {
		payload["domain"] = c.Identifiers[0]
	}
	if c.NotAfter != nil {
		payload["not_after"] = c.NotAfter.Format(time.RFC3339)
	}
	return notify.Event{
		Type:        typ,
		SubjectType: "cert",
		SubjectID:   c.ID,
		Payload:     payload,
		Channels:    e.cfg.NotifyChannels,
	}
}

// dispatch delivers events after the transaction committed. Delivery
// failures are logged; they never undo a state change.
func (e *Engine) dispatch(ctx context.Context, events []notify.Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := e.notifier.Dispatch(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "notification failed",
				logger.Event(ev.Type),
				logger.CertID(ev.SubjectID),
				logger.Error(err))
		}
	}
}

// normalizeIdentifiers lowercases, punycodes and dedupes identifiers and
// checks them against the product.
func normalizeIdentifiers(p Product, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		wildcard := strings.HasPrefix(strings.TrimSpace(id), "*.")
		ascii, err := delegation.Normalize(id)
		if err != nil {
			return nil, newError(KindValidation, "identifiers", ErrInvalidIdentifier, "%q", id)
		}
		if wildcard {
			if !p.Wildcard {
				return nil, newError(KindValidation, "identifiers", ErrWildcardNotAllowed, "%q", id)
			}
			ascii = "*." + ascii
		}
		if !slices.Contains(out, ascii) {
			out = append(out, ascii)
		}
	}
	if p.MaxDomains > 0 && len(out) > p.MaxDomains {
		return nil, newError(KindValidation, "identifiers", ErrTooManyIdentifiers, "%d > %d", len(out), p.MaxDomains)
	}
	return out, nil
}

func validDCVMethod(method string) bool {
	return method == ca.MethodDNSTXT || method == ca.MethodHTTPFile
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (e *Engine) product(o *Order) (Product, error) {
	p, err := e.catalog.Get(o.ProductID)
	if err != nil {
		return Product{}, newError(KindValidation, "product", err, "order %d", o.ID)
	}
	return p, nil
}
