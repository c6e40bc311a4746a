package acmefront_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/app/acmefront"
	"github.com/dmitrymomot/acmefront/core/email"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/queue"
	"github.com/dmitrymomot/acmefront/core/server"
	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/delegation"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

type nopDNS struct {
	mu     sync.Mutex
	writes int
}

func (d *nopDNS) UpsertTXT(context.Context, string, string, []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	return nil
}

func (d *nopDNS) DeleteTXT(context.Context, string, string) error { return nil }

func memoryConfig() acmefront.Config {
	fcfg := fulfillment.DefaultConfig()
	fcfg.DefaultVendor = "fake"

	acfg := acme.DefaultConfig()
	acfg.BaseURL = "http://acme.test/acme"

	return acmefront.Config{
		AppName:     "acmefront-test",
		Env:         "test",
		Storage:     acmefront.StorageMemory,
		FakeCA:      true,
		Server:      server.Config{Addr: "127.0.0.1:0"},
		Queue:       queue.DefaultConfig(),
		ACME:        acfg,
		Fulfillment: fcfg,
		Delegation:  delegation.DefaultConfig(),
	}
}

func newApp(t *testing.T, cfg acmefront.Config, opts ...acmefront.AppOption) *acmefront.App {
	t.Helper()
	opts = append([]acmefront.AppOption{
		acmefront.WithLogger(logger.NewNope()),
		acmefront.WithEmailSender(email.NewDevSender(t.TempDir())),
	}, opts...)

	app, err := acmefront.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })
	return app
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	app := newApp(t, memoryConfig())
	h := app.Handler()

	t.Run("directory", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/acme/directory")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.NotEmpty(t, w.Header().Get("Replay-Nonce"))

		var dir map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dir))
		assert.Equal(t, "http://acme.test/acme/new-order", dir["newOrder"])
	})

	t.Run("new nonce", func(t *testing.T) {
		w := serve(h, http.MethodHead, "/acme/new-nonce")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("Replay-Nonce"))
	})

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz").Code)
		assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz").Code)
		assert.NoError(t, app.Ready(context.Background()))
	})

	t.Run("metrics", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/metrics")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "acmefront_acme_requests_total")
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

func TestApp_MemoryMode(t *testing.T) {
	t.Parallel()

	app := newApp(t, memoryConfig())

	_, err := app.Migrator()
	assert.ErrorIs(t, err, acmefront.ErrNoDatabase)

	assert.Nil(t, app.Delegation())
	_, err = app.Sweep(context.Background())
	assert.Error(t, err)

	order, cert, err := app.Engine().New(context.Background(), fulfillment.NewParams{
		UserID:    1,
		ProductID: "default",
		Channel:   fulfillment.ChannelACME,
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, fulfillment.StatusUnpaid, cert.Status)
}

func TestApp_DelegationWithInjectedDNS(t *testing.T) {
	t.Parallel()

	dns := &nopDNS{}
	app := newApp(t, memoryConfig(), acmefront.WithDNSProvider(dns))
	require.NotNil(t, app.Delegation())

	d, err := app.Delegation().Bind(context.Background(), 7, "example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Zone)
	assert.Equal(t, "_acme-challenge", d.Prefix)
	assert.Zero(t, dns.writes)
}

func TestApp_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*acmefront.Config)
	}{
		{name: "unknown storage", mutate: func(c *acmefront.Config) { c.Storage = "cassandra" }},
		{name: "missing default vendor", mutate: func(c *acmefront.Config) { c.FakeCA = false }},
		{name: "bad base url", mutate: func(c *acmefront.Config) { c.ACME.BaseURL = "::" }},
		{name: "no listen address", mutate: func(c *acmefront.Config) { c.Server.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := memoryConfig()
			tt.mutate(&cfg)
			_, err := acmefront.New(context.Background(), cfg,
				acmefront.WithLogger(logger.NewNope()),
				acmefront.WithEmailSender(email.NewDevSender(t.TempDir())))
			assert.Error(t, err)
		})
	}
}

func TestApp_NilOptions(t *testing.T) {
	t.Parallel()

	_, err := acmefront.New(context.Background(), memoryConfig(), acmefront.WithLogger(nil))
	assert.Error(t, err)
	_, err = acmefront.New(context.Background(), memoryConfig(), acmefront.WithDNSProvider(nil))
	assert.Error(t, err)
}
