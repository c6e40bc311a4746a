package acme_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/kvstore"
	"github.com/dmitrymomot/acmefront/core/metrics"
	"github.com/dmitrymomot/acmefront/core/nonce"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
	"github.com/dmitrymomot/acmefront/internal/store"
)

const baseURL = "http://acme.test/acme"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// nonceTTL outlives the clock advances the tests use to expire sync
// throttles, so a cached Replay-Nonce stays usable across them.
const nonceTTL = time.Hour

type env struct {
	handler  http.Handler
	engine   *fulfillment.Engine
	db       *store.Memory
	vendor   *ca.Fake
	clock    *clock
	registry *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		db:       store.NewMemory(),
		vendor:   ca.NewFake("fake"),
		clock:    &clock{now: time.Now()},
		registry: prometheus.NewRegistry(),
	}
	e.vendor.AutoApprove = true

	tasks := queue.NewMemoryStorage(queue.WithClock(e.clock.Now))
	enq, err := queue.NewEnqueuer(tasks)
	require.NoError(t, err)
	kv := kvstore.NewMemoryStore().WithClock(e.clock.Now)

	fcfg := fulfillment.DefaultConfig()
	fcfg.DefaultVendor = "fake"
	e.engine = fulfillment.NewEngine(fcfg, e.db, ca.NewRegistry(e.vendor), enq, kv,
		fulfillment.WithCatalog(fulfillment.NewCatalog(fulfillment.Product{
			ID:         "dv",
			Vendor:     "fake",
			Prices:     map[int]int64{12: 1000},
			ReissueFee: 250,
			DCVMethod:  ca.MethodDNSTXT,
			MaxDomains: 3,
			Wildcard:   true,
		})),
		fulfillment.WithClock(e.clock.Now))

	cfg := acme.DefaultConfig()
	cfg.BaseURL = baseURL
	srv, err := acme.NewServer(cfg, e.engine, e.db, nonce.NewManager(kv, nonceTTL),
		acme.WithClock(e.clock.Now),
		acme.WithMetrics(metrics.New(e.registry)))
	require.NoError(t, err)
	e.handler = srv.Handler()
	return e
}

// businessOrder creates a paid order ready to be driven over ACME.
func (e *env) businessOrder(t *testing.T, userID int64) *fulfillment.Order {
	t.Helper()
	ctx := context.Background()
	o, _, err := e.engine.New(ctx, fulfillment.NewParams{
		UserID:    userID,
		ProductID: "dv",
		Channel:   fulfillment.ChannelACME,
	})
	require.NoError(t, err)
	_, err = e.engine.Pay(ctx, o.ID, "")
	require.NoError(t, err)
	return o
}

type client struct {
	t     *testing.T
	env   *env
	key   *ecdsa.PrivateKey
	kid   string
	nonce string
}

func (e *env) client(t *testing.T) *client {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &client{t: t, env: e, key: key}
}

func (c *client) send(method, url string, body []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/jose+json")
	}
	rec := httptest.NewRecorder()
	c.env.handler.ServeHTTP(rec, req)
	if n := rec.Header().Get("Replay-Nonce"); n != "" {
		c.nonce = n
	}
	return rec
}

func (c *client) sign(url string, payload []byte) []byte {
	c.t.Helper()
	if c.nonce == "" {
		rec := c.send(http.MethodHead, baseURL+"/new-nonce", nil)
		require.Equal(c.t, http.StatusOK, rec.Code)
	}

	opts := (&jose.SignerOptions{EmbedJWK: c.kid == ""}).
		WithHeader("nonce", c.nonce).
		WithHeader("url", url)
	if c.kid != "" {
		opts = opts.WithHeader("kid", c.kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: c.key}, opts)
	require.NoError(c.t, err)
	obj, err := signer.Sign(payload)
	require.NoError(c.t, err)
	c.nonce = ""
	return []byte(obj.FullSerialize())
}

// post signs payload for url; a nil payload is a POST-as-GET.
func (c *client) post(url string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	raw := []byte{}
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(c.t, err)
	}
	return c.send(http.MethodPost, url, c.sign(url, raw))
}

func (c *client) eab(o *fulfillment.Order) json.RawMessage {
	c.t.Helper()
	payload, err := (&jose.JSONWebKey{Key: &c.key.PublicKey}).MarshalJSON()
	require.NoError(c.t, err)
	opts := (&jose.SignerOptions{}).
		WithHeader("kid", o.EABKeyID).
		WithHeader("url", baseURL+"/new-acct")
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: o.EABHMAC}, opts)
	require.NoError(c.t, err)
	obj, err := signer.Sign(payload)
	require.NoError(c.t, err)
	return json.RawMessage(obj.FullSerialize())
}

func (c *client) register(o *fulfillment.Order) *httptest.ResponseRecorder {
	c.t.Helper()
	rec := c.post(baseURL+"/new-acct", map[string]any{
		"termsOfServiceAgreed":   true,
		"contact":                []string{"mailto:ops@example.com"},
		"externalAccountBinding": c.eab(o),
	})
	if rec.Code == http.StatusCreated || rec.Code == http.StatusOK {
		c.kid = rec.Header().Get("Location")
	}
	return rec
}

type orderDoc struct {
	Status         string   `json:"status"`
	Authorizations []string `json:"authorizations"`
	Finalize       string   `json:"finalize"`
	Certificate    string   `json:"certificate"`
}

type challengeDoc struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Token  string `json:"token"`
}

type authzDoc struct {
	Status     string `json:"status"`
	Identifier struct {
		Value string `json:"value"`
	} `json:"identifier"`
	Challenges []challengeDoc `json:"challenges"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Replay-Nonce"), "problems carry a fresh nonce")

	p := decode[struct {
		Type   string `json:"type"`
		Status int    `json:"status"`
	}](t, rec)
	assert.Equal(t, "urn:ietf:params:acme:error:"+code, p.Type)
	assert.Equal(t, status, p.Status)
}

func (c *client) newOrder(names ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	ids := make([]map[string]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, map[string]string{"type": "dns", "value": n})
	}
	return c.post(baseURL+"/new-order", map[string]any{"identifiers": ids})
}

func newCSR(t *testing.T, names ...string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{DNSNames: names}, key)
	require.NoError(t, err)
	return jws.EncodeSegment(der)
}

func TestDirectory(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)

	rec := c.send(http.MethodGet, baseURL+"/directory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dir := decode[map[string]any](t, rec)
	assert.Equal(t, baseURL+"/new-nonce", dir["newNonce"])
	assert.Equal(t, baseURL+"/new-acct", dir["newAccount"])
	assert.Equal(t, baseURL+"/new-order", dir["newOrder"])
	assert.Equal(t, baseURL+"/revoke-cert", dir["revokeCert"])
	assert.Equal(t, true, dir["meta"].(map[string]any)["externalAccountRequired"])
}

func TestNewNonce(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)

	head := c.send(http.MethodHead, baseURL+"/new-nonce", nil)
	assert.Equal(t, http.StatusOK, head.Code)
	assert.NotEmpty(t, head.Header().Get("Replay-Nonce"))
	assert.Equal(t, "no-store", head.Header().Get("Cache-Control"))
	assert.Contains(t, head.Header().Get("Link"), `<`+baseURL+`/directory>;rel="index"`)

	get := c.send(http.MethodGet, baseURL+"/new-nonce", nil)
	assert.Equal(t, http.StatusNoContent, get.Code)
	assert.NotEqual(t, head.Header().Get("Replay-Nonce"), get.Header().Get("Replay-Nonce"))
}

func TestUnmatchedRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		status int
		allow  string
	}{
		{name: "unknown path", method: http.MethodGet, path: "/nope", status: http.StatusNotFound},
		{name: "unknown nested path", method: http.MethodPost, path: "/order/tok/nope", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPost, path: "/directory", status: http.StatusMethodNotAllowed, allow: http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			c := e.client(t)

			rec := c.send(tt.method, baseURL+tt.path, nil)
			requireProblem(t, rec, tt.status, acme.CodeMalformed)
			assert.Contains(t, rec.Header().Get("Link"), `<`+baseURL+`/directory>;rel="index"`)
			if tt.allow != "" {
				assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
			}
		})
	}
}

func TestGate_NonceIsSingleUse(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)
	o := e.businessOrder(t, 1)

	head := c.send(http.MethodHead, baseURL+"/new-nonce", nil)
	require.Equal(t, http.StatusOK, head.Code)
	issued := c.nonce

	body := c.sign(baseURL+"/new-acct", mustJSON(t, map[string]any{
		"externalAccountBinding": c.eab(o),
	}))
	first := c.send(http.MethodPost, baseURL+"/new-acct", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.NotEqual(t, issued, first.Header().Get("Replay-Nonce"))

	replay := c.send(http.MethodPost, baseURL+"/new-acct", body)
	requireProblem(t, replay, http.StatusBadRequest, acme.CodeBadNonce)

	assert.Equal(t, 1.0, counterValue(t, e.registry, "acmefront_nonces_total", "result", "rejected"))
	assert.Equal(t, 1.0, counterValue(t, e.registry, "acmefront_acme_problems_total", "problem", acme.CodeBadNonce))
}

func TestGate_ExpiredNonce(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)

	head := c.send(http.MethodHead, baseURL+"/new-nonce", nil)
	require.Equal(t, http.StatusOK, head.Code)
	require.NotEmpty(t, c.nonce)

	e.clock.Advance(nonceTTL + time.Second)
	rec := c.post(baseURL+"/new-acct", map[string]any{"onlyReturnExisting": true})
	requireProblem(t, rec, http.StatusBadRequest, acme.CodeBadNonce)

	// A fresh nonce from the problem response works again.
	rec = c.post(baseURL+"/new-acct", map[string]any{"onlyReturnExisting": true})
	requireProblem(t, rec, http.StatusNotFound, acme.CodeAccountDoesNotExist)
}

func TestGate_Rejections(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	t.Run("url mismatch", func(t *testing.T) {
		body := c.sign(baseURL+"/order/elsewhere", mustJSON(t, map[string]any{}))
		rec := c.send(http.MethodPost, baseURL+"/new-order", body)
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeMalformed)
	})

	t.Run("not a jws", func(t *testing.T) {
		rec := c.send(http.MethodPost, baseURL+"/new-order", []byte(`{"hello":"world"}`))
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeMalformed)
	})

	t.Run("jwk outside account creation", func(t *testing.T) {
		anon := e.client(t)
		rec := anon.newOrder("a.example.com")
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeMalformed)
	})

	t.Run("unknown account", func(t *testing.T) {
		ghost := e.client(t)
		ghost.kid = baseURL + "/acct/nobody"
		rec := ghost.newOrder("a.example.com")
		requireProblem(t, rec, http.StatusNotFound, acme.CodeAccountDoesNotExist)
	})

	t.Run("kid with a foreign key", func(t *testing.T) {
		thief := e.client(t)
		thief.kid = c.kid
		rec := thief.newOrder("a.example.com")
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeBadSignatureAlgorithm)
	})
}

func TestNewAccount(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	o := e.businessOrder(t, 1)
	c := e.client(t)

	rec := c.post(baseURL+"/new-acct", map[string]any{"onlyReturnExisting": true})
	requireProblem(t, rec, http.StatusNotFound, acme.CodeAccountDoesNotExist)

	rec = c.post(baseURL+"/new-acct", map[string]any{"termsOfServiceAgreed": true})
	requireProblem(t, rec, http.StatusUnauthorized, acme.CodeExternalAccountRequired)

	wrong := *o
	wrong.EABHMAC = []byte("0000000000000000000000000000000000")
	rec = c.post(baseURL+"/new-acct", map[string]any{"externalAccountBinding": c.eab(&wrong)})
	requireProblem(t, rec, http.StatusForbidden, acme.CodeUnauthorized)

	rec = c.register(o)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	thumb, err := jws.Thumbprint(&jose.JSONWebKey{Key: &c.key.PublicKey})
	require.NoError(t, err)
	assert.Equal(t, baseURL+"/acct/"+thumb, rec.Header().Get("Location"))
	assert.Equal(t, "valid", decode[map[string]any](t, rec)["status"])

	bound, err := e.engine.Order(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.EABUsedAt)
	firstUse := *bound.EABUsedAt

	// Same key again: the existing account, no new row.
	c.kid = ""
	e.clock.Advance(time.Minute)
	again := c.register(o)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, rec.Header().Get("Location"), again.Header().Get("Location"))

	c.kid = ""
	existing := c.post(baseURL+"/new-acct", map[string]any{"onlyReturnExisting": true})
	assert.Equal(t, http.StatusOK, existing.Code)

	// The binding is reusable by a second key and keeps its first use time.
	other := e.client(t)
	require.Equal(t, http.StatusCreated, other.register(o).Code)
	bound, err = e.engine.Order(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, firstUse.Equal(*bound.EABUsedAt))
}

func TestAccount_UpdateAndDeactivate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	rec := c.post(c.kid, map[string]any{"contact": []string{"tel:+1555"}})
	requireProblem(t, rec, http.StatusBadRequest, acme.CodeMalformed)

	rec = c.post(c.kid, map[string]any{"contact": []string{"mailto:new@example.com"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	acct := decode[map[string]any](t, rec)
	assert.Equal(t, []any{"mailto:new@example.com"}, acct["contact"])
	assert.Equal(t, c.kid+"/orders", acct["orders"])

	rec = c.post(c.kid, map[string]any{"status": "deactivated"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deactivated", decode[map[string]any](t, rec)["status"])

	rec = c.newOrder("a.example.com")
	requireProblem(t, rec, http.StatusUnauthorized, acme.CodeUnauthorized)
}

func TestNewOrder(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	t.Run("empty", func(t *testing.T) {
		rec := c.post(baseURL+"/new-order", map[string]any{"identifiers": []any{}})
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeMalformed)
	})

	t.Run("ip identifier", func(t *testing.T) {
		rec := c.post(baseURL+"/new-order", map[string]any{
			"identifiers": []map[string]string{{"type": "ip", "value": "192.0.2.1"}},
		})
		requireProblem(t, rec, http.StatusBadRequest, acme.CodeUnsupportedIdentifier)
	})

	t.Run("two names", func(t *testing.T) {
		rec := c.newOrder("a.example.com", "b.example.com")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		loc := rec.Header().Get("Location")
		assert.True(t, strings.HasPrefix(loc, baseURL+"/order/"))
		assert.GreaterOrEqual(t, len(path.Base(loc)), 32, "order tokens are unguessable")

		doc := decode[orderDoc](t, rec)
		assert.Equal(t, "pending", doc.Status)
		assert.Len(t, doc.Authorizations, 2)
		assert.Equal(t, loc+"/finalize", doc.Finalize)
		assert.Empty(t, doc.Certificate)

		list := c.post(c.kid+"/orders", nil)
		require.Equal(t, http.StatusOK, list.Code)
		assert.Equal(t, []string{loc}, decode[map[string][]string](t, list)["orders"])
	})
}

func TestAuthorization_NeverAheadOfCert(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	rec := c.newOrder("a.example.com", "b.example.com")
	require.Equal(t, http.StatusCreated, rec.Code)
	orderURL := rec.Header().Get("Location")
	doc := decode[orderDoc](t, rec)

	cert, err := e.engine.CertByToken(ctx, path.Base(orderURL))
	require.NoError(t, err)

	authzByName := map[string]string{}
	for _, u := range doc.Authorizations {
		a := decode[authzDoc](t, c.send(http.MethodGet, u, nil))
		authzByName[a.Identifier.Value] = u
	}
	require.Len(t, authzByName, 2)

	// check reads every authorization and compares it with the stored cert.
	check := func() map[string]string {
		t.Helper()
		got := map[string]string{}
		for name, u := range authzByName {
			got[name] = decode[authzDoc](t, c.send(http.MethodGet, u, nil)).Status
		}
		stored, err := e.engine.Cert(ctx, cert.ID)
		require.NoError(t, err)
		for name, status := range got {
			if status != "valid" {
				continue
			}
			v, ok := stored.ValidationFor(name)
			require.True(t, ok)
			assert.Equal(t, ca.ValidationValid, v.Status, "authz %s ahead of cert", name)
		}
		return got
	}

	e.clock.Advance(time.Minute)
	e.vendor.SetValidation(cert.VendorID, "a.example.com", ca.ValidationValid)
	status := check()
	assert.Equal(t, "valid", status["a.example.com"])
	assert.Equal(t, "pending", status["b.example.com"])

	// The CA already agrees on b, but the refresh is throttled: the
	// authorization stays pending until the cert learns about it.
	e.vendor.SetValidation(cert.VendorID, "b.example.com", ca.ValidationValid)
	assert.Equal(t, "pending", check()["b.example.com"])
	assert.Equal(t, "pending", decode[orderDoc](t, c.post(orderURL, nil)).Status)

	e.clock.Advance(time.Minute)
	assert.Equal(t, "valid", check()["b.example.com"])
	assert.Equal(t, "ready", decode[orderDoc](t, c.post(orderURL, nil)).Status)
}

func TestAuthorization_OwnershipOnPost(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	owner := e.client(t)
	require.Equal(t, http.StatusCreated, owner.register(e.businessOrder(t, 1)).Code)
	stranger := e.client(t)
	require.Equal(t, http.StatusCreated, stranger.register(e.businessOrder(t, 2)).Code)

	rec := owner.newOrder("a.example.com")
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decode[orderDoc](t, rec)

	assert.Equal(t, http.StatusOK, stranger.send(http.MethodGet, doc.Authorizations[0], nil).Code)
	requireProblem(t, stranger.post(doc.Authorizations[0], nil), http.StatusForbidden, acme.CodeUnauthorized)
	requireProblem(t, stranger.post(rec.Header().Get("Location"), nil), http.StatusForbidden, acme.CodeUnauthorized)
	assert.Equal(t, http.StatusOK, owner.post(doc.Authorizations[0], nil).Code)
}

func TestIssuance(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	rec := c.newOrder("a.example.com", "*.a.example.com")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	orderURL := rec.Header().Get("Location")
	doc := decode[orderDoc](t, rec)

	// Finalizing early is refused.
	early := c.post(doc.Finalize, map[string]string{"csr": newCSR(t, "a.example.com", "*.a.example.com")})
	requireProblem(t, early, http.StatusForbidden, acme.CodeOrderNotReady)

	for _, u := range doc.Authorizations {
		a := decode[authzDoc](t, c.post(u, nil))
		require.Len(t, a.Challenges, 1)
		ch := a.Challenges[0]
		assert.Equal(t, acme.ChallengeDNS01, ch.Type)
		assert.NotEmpty(t, ch.Token)

		resp := c.post(ch.URL, map[string]any{})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		assert.Contains(t, resp.Header().Values("Link"), `<`+u+`>;rel="up"`)
		assert.Equal(t, "valid", decode[challengeDoc](t, resp).Status)
	}
	revalidations := e.vendor.Calls(ca.ActionRevalidate)
	assert.Equal(t, 1, revalidations, "the second challenge found its authorization valid")

	ready := decode[orderDoc](t, c.post(orderURL, nil))
	require.Equal(t, "ready", ready.Status)

	bad := c.post(doc.Finalize, map[string]string{"csr": newCSR(t, "a.example.com", "evil.example.com")})
	requireProblem(t, bad, http.StatusBadRequest, acme.CodeBadCSR)

	csr := newCSR(t, "*.a.example.com", "a.example.com")
	done := c.post(doc.Finalize, map[string]string{"csr": csr})
	require.Equal(t, http.StatusOK, done.Code, done.Body.String())
	final := decode[orderDoc](t, done)
	assert.Equal(t, "valid", final.Status)
	require.NotEmpty(t, final.Certificate)

	// Finalize with the same CSR again is harmless.
	assert.Equal(t, http.StatusOK, c.post(doc.Finalize, map[string]string{"csr": csr}).Code)
	assert.Equal(t, 1, e.vendor.Calls(ca.ActionFinalize))

	cert := c.post(final.Certificate, nil)
	require.Equal(t, http.StatusOK, cert.Code)
	assert.Equal(t, "application/pem-certificate-chain", cert.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(cert.Body.String(), "BEGIN CERTIFICATE"))

	stranger := e.client(t)
	require.Equal(t, http.StatusCreated, stranger.register(e.businessOrder(t, 2)).Code)
	requireProblem(t, stranger.post(final.Certificate, nil), http.StatusForbidden, acme.CodeUnauthorized)

	block, _ := pem.Decode(cert.Body.Bytes())
	require.NotNil(t, block)
	leaf := jws.EncodeSegment(block.Bytes)

	requireProblem(t, stranger.post(baseURL+"/revoke-cert", map[string]any{"certificate": leaf}),
		http.StatusForbidden, acme.CodeUnauthorized)
	requireProblem(t, c.post(baseURL+"/revoke-cert", map[string]any{"certificate": leaf, "reason": 7}),
		http.StatusBadRequest, acme.CodeBadRevocationReason)

	revoked := c.post(baseURL+"/revoke-cert", map[string]any{"certificate": leaf, "reason": 1})
	require.Equal(t, http.StatusOK, revoked.Code, revoked.Body.String())

	stored, err := e.engine.CertByToken(ctx, path.Base(orderURL))
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StatusRevoked, stored.Status)
	requireProblem(t, c.post(final.Certificate, nil), http.StatusForbidden, acme.CodeOrderNotReady)
}

func TestOrder_RejectedByCA(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	c := e.client(t)
	require.Equal(t, http.StatusCreated, c.register(e.businessOrder(t, 1)).Code)

	e.vendor.RejectNext(ca.ActionSubmit, "domain blocked")
	rec := c.newOrder("a.example.com")
	requireProblem(t, rec, http.StatusInternalServerError, acme.CodeServerInternal)
	assert.NotContains(t, rec.Body.String(), "domain blocked")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
