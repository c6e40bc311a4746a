package upstream

import (
	"crypto"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-acme/lego/v4/acme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/internal/ca"
)

func TestApplyStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		acme.StatusPending:     ca.ApplyProcessing,
		acme.StatusReady:       ca.ApplyProcessing,
		acme.StatusProcessing:  ca.ApplyApproving,
		acme.StatusValid:       ca.ApplyIssued,
		acme.StatusInvalid:     ca.ApplyFailed,
		acme.StatusDeactivated: ca.ApplyCancelled,
	}
	for in, want := range cases {
		assert.Equal(t, want, applyStatus(acme.Order{Status: in}), in)
	}
}

func TestValidationFor(t *testing.T) {
	t.Setenv("LEGO_DISABLE_CNAME_SUPPORT", "true")

	authz := acme.Authorization{
		Status:     acme.StatusPending,
		Identifier: acme.Identifier{Type: "dns", Value: "example.com"},
		Wildcard:   true,
		Challenges: []acme.Challenge{
			{Type: "http-01", Token: "tok-http", URL: "https://ca/chall/1"},
			{Type: "dns-01", Token: "tok-dns", URL: "https://ca/chall/2"},
		},
	}

	dns, err := validationFor(authz, ca.MethodDNSTXT, "thumb")
	require.NoError(t, err)
	assert.Equal(t, "*.example.com", dns.Identifier)
	assert.Equal(t, "_acme-challenge.example.com", dns.Name)
	assert.NotEmpty(t, dns.Value)
	assert.Equal(t, ca.ValidationPending, dns.Status)

	http, err := validationFor(authz, ca.MethodHTTPFile, "thumb")
	require.NoError(t, err)
	assert.Equal(t, "/.well-known/acme-challenge/tok-http", http.Name)
	assert.Equal(t, "tok-http.thumb", http.Value)

	authz.Challenges = authz.Challenges[:1]
	_, err = validationFor(authz, ca.MethodDNSTXT, "thumb")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRejectProblem(t *testing.T) {
	t.Parallel()

	env, err := rejectProblem(nil, &acme.ProblemDetails{Type: "urn:ietf:params:acme:error:rejectedIdentifier", Detail: "blocked"})
	require.NoError(t, err)
	assert.False(t, env.OK())
	assert.Equal(t, "blocked", env.Msg)

	boom := errors.New("dial tcp: timeout")
	_, err = rejectProblem(nil, boom)
	assert.ErrorIs(t, err, boom)
}

func TestLoadAccountKey_CreatesAndReuses(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "account.pem")
	first, err := loadAccountKey(path)
	require.NoError(t, err)
	second, err := loadAccountKey(path)
	require.NoError(t, err)
	pub, ok := first.Public().(interface{ Equal(crypto.PublicKey) bool })
	require.True(t, ok)
	assert.True(t, pub.Equal(second.Public()))
}

func TestNew_RequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
