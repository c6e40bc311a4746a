package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/metrics"
)

// Service matches, provisions and checks delegations.
type Service struct {
	cfg      Config
	repo     Repository
	dns      DNSProvider
	resolver Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records provider writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithResolver overrides the CNAME resolver.
func WithResolver(r Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service.
func NewService(cfg Config, repo Repository, dns DNSProvider, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		repo:   repo,
		dns:    dns,
		logger: logger.NewNope(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewDNSResolver(cfg.Resolver, cfg.ResolveTimeout)
	}
	s.logger = s.logger.With(logger.Component("delegation"))
	return s
}

// Bind creates the delegation for domain, or returns the existing one.
// The caller shows the customer Source() and TargetFQDN to set up the CNAME.
func (s *Service) Bind(ctx context.Context, userID int64, domain, prefix string) (*Delegation, error) {
	zone, err := Normalize(domain)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = s.cfg.DefaultPrefix
	}

	label := Label(userID, prefix+"."+zone)
	existing, err := s.repo.GetDelegationByLabel(ctx, label)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup delegation: %w", err)
	}

	d := &Delegation{
		UserID:     userID,
		Zone:       zone,
		Prefix:     prefix,
		Label:      label,
		TargetFQDN: label + "." + strings.TrimSuffix(s.cfg.BaseZone, "."),
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}
	if err := s.repo.CreateDelegation(ctx, d); err != nil {
		return nil, fmt.Errorf("create delegation: %w", err)
	}

	s.logger.InfoContext(ctx, "delegation bound",
		logger.UserID(userID),
		logger.DelegationID(d.ID),
		logger.Zone(zone),
		slog.String("target", d.TargetFQDN))
	return d, nil
}

// Match finds the delegation serving identifier under prefix. Exact-only
// prefixes need a delegation on the identifier itself; other prefixes prefer
// it and fall back to the registrable root.
func (s *Service) Match(ctx context.Context, userID int64, identifier, prefix string) (*Delegation, error) {
	zone, err := Normalize(identifier)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = s.cfg.DefaultPrefix
	}

	zones := []string{zone}
	var root string
	if !s.cfg.exactOnly(prefix) {
		if root, err = RegistrableRoot(zone); err == nil && root != zone {
			zones = append(zones, root)
		}
	}

	found, err := s.repo.FindDelegations(ctx, userID, prefix, zones)
	if err != nil {
		return nil, fmt.Errorf("find delegations: %w", err)
	}

	var fallback *Delegation
	for i := range found {
		switch found[i].Zone {
		case zone:
			return &found[i], nil
		case root:
			fallback = &found[i]
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDelegation, zone)
}

// CanProvision reports whether a token for identifier published at name can
// be written through a delegation.
func (s *Service) CanProvision(ctx context.Context, userID int64, identifier, name string) (bool, error) {
	_, err := s.Match(ctx, userID, identifier, prefixOf(name, identifier, s.cfg.DefaultPrefix))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoDelegation), errors.Is(err, ErrInvalidDomain):
		return false, nil
	default:
		return false, err
	}
}

// Provision publishes every unwritten entry that has a delegation, one
// provider call per delegation, and returns the entries with written markers
// set. Entries without a delegation are left untouched. Write failures are
// joined into the returned error; entries of other delegations still succeed.
func (s *Service) Provision(ctx context.Context, userID int64, entries []Entry) ([]Entry, error) {
	out := make([]Entry, len(entries))
	copy(out, entries)

	type batch struct {
		delegation *Delegation
		values     []string
		indexes    []int
	}
	batches := make(map[int64]*batch)
	var order []int64

	for i, e := range out {
		if e.Written() || e.Value == "" {
			continue
		}
		d, err := s.Match(ctx, userID, e.Identifier, prefixOf(e.Name, e.Identifier, s.cfg.DefaultPrefix))
		if errors.Is(err, ErrNoDelegation) || errors.Is(err, ErrInvalidDomain) {
			continue
		}
		if err != nil {
			return out, err
		}
		b, ok := batches[d.ID]
		if !ok {
			b = &batch{delegation: d}
			batches[d.ID] = b
			order = append(order, d.ID)
		}
		b.values = append(b.values, e.Value)
		b.indexes = append(b.indexes, i)
	}

	if len(batches) == 0 {
		return out, nil
	}
	if s.cfg.HostedZoneID == "" {
		return out, ErrHostedZoneMissing
	}

	var errs []error
	for _, id := range order {
		b := batches[id]
		err := s.dns.UpsertTXT(ctx, s.cfg.HostedZoneID, b.delegation.TargetFQDN, b.values)
		if errors.Is(err, ErrRecordExists) {
			err = nil
		}
		s.metrics.DelegationWrite(err)
		if err != nil {
			s.logger.WarnContext(ctx, "delegation write failed",
				logger.DelegationID(id),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("delegation %d: %w", id, err))
			continue
		}

		at := s.now()
		for _, i := range b.indexes {
			out[i].WrittenAt = &at
			out[i].DelegationID = id
		}
		s.logger.InfoContext(ctx, "delegation records written",
			logger.DelegationID(id),
			logger.Count("records", len(b.values)))
	}

	return out, errors.Join(errs...)
}

// Check resolves the live CNAME of d and records the outcome.
func (s *Service) Check(ctx context.Context, d *Delegation) error {
	target, err := s.resolver.LookupCNAME(ctx, d.Source())
	if err == nil && !strings.EqualFold(strings.TrimSuffix(target, "."), d.TargetFQDN) {
		err = fmt.Errorf("%w: got %s", ErrCNAMEMismatch, target)
	}

	now := s.now()
	d.CheckedAt = &now
	d.UpdatedAt = now
	if err != nil {
		d.Valid = false
		d.FailCount++
		d.LastError = err.Error()
	} else {
		d.Valid = true
		d.FailCount = 0
		d.LastError = ""
	}

	if uerr := s.repo.UpdateDelegationHealth(ctx, d); uerr != nil {
		return errors.Join(err, fmt.Errorf("update delegation health: %w", uerr))
	}
	return err
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked int
	Failing int
	Pruned  int
}

// Sweep prunes unreferenced delegations older than MinAge and health-checks
// the rest. Failing delegations that are still referenced are kept.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	all, err := s.repo.ListDelegations(ctx)
	if err != nil {
		return res, fmt.Errorf("list delegations: %w", err)
	}

	for i := range all {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d := &all[i]

		referenced, err := s.repo.DelegationReferenced(ctx, *d)
		if err != nil {
			return res, fmt.Errorf("delegation %d references: %w", d.ID, err)
		}

		if !referenced && s.now().Sub(d.CreatedAt) >= s.cfg.MinAge {
			if err := s.prune(ctx, d); err != nil {
				return res, err
			}
			res.Pruned++
			continue
		}

		res.Checked++
		if err := s.Check(ctx, d); err != nil {
			res.Failing++
			level := slog.LevelInfo
			if referenced {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "delegation check failed",
				logger.DelegationID(d.ID),
				logger.Zone(d.Zone),
				slog.Int("fail_count", d.FailCount),
				slog.Bool("referenced", referenced),
				logger.Error(err))
		}
	}

	return res, nil
}

func (s *Service) prune(ctx context.Context, d *Delegation) error {
	if s.cfg.HostedZoneID != "" {
		err := s.dns.DeleteTXT(ctx, s.cfg.HostedZoneID, d.TargetFQDN)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("delete delegation %d records: %w", d.ID, err)
		}
	}
	if err := s.repo.DeleteDelegation(ctx, d.ID); err != nil {
		return fmt.Errorf("delete delegation %d: %w", d.ID, err)
	}
	s.logger.InfoContext(ctx, "delegation pruned",
		logger.DelegationID(d.ID),
		logger.Zone(d.Zone))
	return nil
}
