package delegation_test

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/internal/delegation"
)

type repo struct {
	mu         sync.Mutex
	seq        int64
	items      map[int64]delegation.Delegation
	referenced map[int64]bool
}

func newRepo() *repo {
	return &repo{items: map[int64]delegation.Delegation{}, referenced: map[int64]bool{}}
}

func (r *repo) CreateDelegation(_ context.Context, d *delegation.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	d.ID = r.seq
	r.items[d.ID] = *d
	return nil
}

func (r *repo) GetDelegationByLabel(_ context.Context, label string) (*delegation.Delegation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.items {
		if d.Label == label {
			return &d, nil
		}
	}
	return nil, delegation.ErrNotFound
}

func (r *repo) FindDelegations(_ context.Context, userID int64, prefix string, zones []string) ([]delegation.Delegation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delegation.Delegation
	for _, d := range r.items {
		if d.UserID == userID && d.Prefix == prefix && slices.Contains(zones, d.Zone) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *repo) ListDelegations(context.Context) ([]delegation.Delegation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delegation.Delegation
	for _, d := range r.items {
		out = append(out, d)
	}
	return out, nil
}

func (r *repo) UpdateDelegationHealth(_ context.Context, d *delegation.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[d.ID] = *d
	return nil
}

func (r *repo) DeleteDelegation(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *repo) DelegationReferenced(_ context.Context, d delegation.Delegation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.referenced[d.ID], nil
}

type provider struct {
	mu      sync.Mutex
	upserts int
	deletes int
	records map[string][]string
	fail    error
}

func (p *provider) UpsertTXT(_ context.Context, _, name string, values []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upserts++
	if p.fail != nil {
		return p.fail
	}
	if p.records == nil {
		p.records = map[string][]string{}
	}
	p.records[name] = append(p.records[name], values...)
	return nil
}

func (p *provider) DeleteTXT(_ context.Context, _, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	delete(p.records, name)
	return nil
}

type staticResolver map[string]string

func (r staticResolver) LookupCNAME(_ context.Context, name string) (string, error) {
	if t, ok := r[name]; ok {
		return t, nil
	}
	return "", delegation.ErrCNAMEMissing
}

func testConfig() delegation.Config {
	cfg := delegation.DefaultConfig()
	cfg.BaseZone = "dcv.example.net"
	cfg.HostedZoneID = "Z1"
	return cfg
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Example.COM.":      "example.com",
		"*.example.com":     "example.com",
		"  www.Example.com": "www.example.com",
		"bücher.example":    "xn--bcher-kva.example",
	}
	for in, want := range cases {
		got, err := delegation.Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := delegation.Normalize("*.")
	assert.ErrorIs(t, err, delegation.ErrInvalidDomain)
	assert.Equal(t, "bücher.example", delegation.Display("xn--bcher-kva.example"))
}

func TestLabel(t *testing.T) {
	t.Parallel()

	a := delegation.Label(1, "_acme-challenge.example.com")
	assert.Len(t, a, delegation.LabelSize*2)
	assert.Equal(t, a, delegation.Label(1, "_acme-challenge.example.com."))
	assert.NotEqual(t, a, delegation.Label(2, "_acme-challenge.example.com"))
	assert.NotEqual(t, a, delegation.Label(1, "_acme-challenge.example.org"))
}

func TestBind_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := delegation.NewService(testConfig(), newRepo(), &provider{})
	first, err := svc.Bind(ctx, 7, "Example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "_acme-challenge.example.com", first.Source())
	assert.Equal(t, first.Label+".dcv.example.net", first.TargetFQDN)

	second, err := svc.Bind(ctx, 7, "example.com.", "_acme-challenge")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.Bind(ctx, 8, "example.com", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Label, other.Label)
}

func TestMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := delegation.NewService(testConfig(), newRepo(), &provider{})

	sub, err := svc.Bind(ctx, 1, "a.b.com", "_dnsauth")
	require.NoError(t, err)
	root, err := svc.Bind(ctx, 1, "b.com", "_dnsauth")
	require.NoError(t, err)

	got, err := svc.Match(ctx, 1, "a.b.com", "_dnsauth")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID, "exact delegation wins over root")

	got, err = svc.Match(ctx, 1, "c.b.com", "_dnsauth")
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID, "fallback to registrable root")

	_, err = svc.Match(ctx, 2, "a.b.com", "_dnsauth")
	assert.ErrorIs(t, err, delegation.ErrNoDelegation, "other users never match")
}

func TestMatch_ExactOnlyPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := delegation.NewService(testConfig(), newRepo(), &provider{})
	_, err := svc.Bind(ctx, 1, "b.com", "_acme-challenge")
	require.NoError(t, err)

	_, err = svc.Match(ctx, 1, "a.b.com", "_acme-challenge")
	assert.ErrorIs(t, err, delegation.ErrNoDelegation)

	exact, err := svc.Bind(ctx, 1, "a.b.com", "_acme-challenge")
	require.NoError(t, err)
	got, err := svc.Match(ctx, 1, "*.a.b.com", "_acme-challenge")
	require.NoError(t, err)
	assert.Equal(t, exact.ID, got.ID)

	ok, err := svc.CanProvision(ctx, 1, "a.b.com", "_acme-challenge.a.b.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.CanProvision(ctx, 1, "c.b.com", "_acme-challenge.c.b.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvision_BatchesAndSkipsWritten(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dnsp := &provider{}
	svc := delegation.NewService(testConfig(), newRepo(), dnsp)
	d, err := svc.Bind(ctx, 1, "example.com", "")
	require.NoError(t, err)

	entries := []delegation.Entry{
		{Identifier: "example.com", Name: "_acme-challenge.example.com", Value: "tok-1"},
		{Identifier: "*.example.com", Name: "_acme-challenge.example.com", Value: "tok-2"},
		{Identifier: "unbound.org", Name: "_acme-challenge.unbound.org", Value: "tok-3"},
	}

	out, err := svc.Provision(ctx, 1, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, dnsp.upserts, "one call per delegation")
	assert.Equal(t, []string{"tok-1", "tok-2"}, dnsp.records[d.TargetFQDN])
	assert.True(t, out[0].Written())
	assert.Equal(t, d.ID, out[1].DelegationID)
	assert.False(t, out[2].Written())
	assert.False(t, entries[0].Written(), "input is not mutated")

	_, err = svc.Provision(ctx, 1, out[:2])
	require.NoError(t, err)
	assert.Equal(t, 1, dnsp.upserts, "written entries issue no dns calls")
}

func TestProvision_RecordExistsIsSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dnsp := &provider{fail: delegation.ErrRecordExists}
	svc := delegation.NewService(testConfig(), newRepo(), dnsp)
	_, err := svc.Bind(ctx, 1, "example.com", "")
	require.NoError(t, err)

	out, err := svc.Provision(ctx, 1, []delegation.Entry{
		{Identifier: "example.com", Name: "_acme-challenge.example.com", Value: "tok"},
	})
	require.NoError(t, err)
	assert.True(t, out[0].Written())
}

func TestProvision_FailureLeavesUnwritten(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	boom := errors.New("route53 down")
	svc := delegation.NewService(testConfig(), newRepo(), &provider{fail: boom})
	_, err := svc.Bind(ctx, 1, "example.com", "")
	require.NoError(t, err)

	out, err := svc.Provision(ctx, 1, []delegation.Entry{
		{Identifier: "example.com", Name: "_acme-challenge.example.com", Value: "tok"},
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, out[0].Written())
}

func TestSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	r := newRepo()
	dnsp := &provider{}
	resolver := staticResolver{}
	svc := delegation.NewService(testConfig(), r, dnsp, delegation.WithResolver(resolver), delegation.WithClock(clock))

	now = now.Add(-30 * 24 * time.Hour)
	stale, err := svc.Bind(ctx, 1, "stale.com", "")
	require.NoError(t, err)
	broken, err := svc.Bind(ctx, 1, "broken.com", "")
	require.NoError(t, err)
	healthy, err := svc.Bind(ctx, 1, "healthy.com", "")
	require.NoError(t, err)
	now = now.Add(30 * 24 * time.Hour)

	r.referenced[broken.ID] = true
	r.referenced[healthy.ID] = true
	resolver[healthy.Source()] = healthy.TargetFQDN + "."
	resolver[broken.Source()] = "elsewhere.example."

	res, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, delegation.SweepResult{Checked: 2, Failing: 1, Pruned: 1}, res)
	assert.Equal(t, 1, dnsp.deletes)

	_, err = r.GetDelegationByLabel(ctx, stale.Label)
	assert.ErrorIs(t, err, delegation.ErrNotFound)

	kept, err := r.GetDelegationByLabel(ctx, broken.Label)
	require.NoError(t, err)
	assert.False(t, kept.Valid)
	assert.Equal(t, 1, kept.FailCount)
	assert.Contains(t, kept.LastError, "does not point")

	ok, err := r.GetDelegationByLabel(ctx, healthy.Label)
	require.NoError(t, err)
	assert.True(t, ok.Valid)
	assert.NotNil(t, ok.CheckedAt)
}

func TestDNSResolver(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if req.Question[0].Name == "_acme-challenge.example.com." {
			m.Answer = append(m.Answer, &dns.CNAME{
				Hdr:    dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60},
				Target: "ABC.dcv.example.net.",
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	<-started

	r := delegation.NewDNSResolver(pc.LocalAddr().String(), time.Second)

	target, err := r.LookupCNAME(context.Background(), "_acme-challenge.example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc.dcv.example.net.", target)

	_, err = r.LookupCNAME(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, delegation.ErrCNAMEMissing)
}
