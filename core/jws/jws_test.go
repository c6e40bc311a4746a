package jws_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/jws"
)

const testURL = "https://acme.test/acme/new-order"

func sign(t *testing.T, alg jose.SignatureAlgorithm, key any, payload []byte, embed bool) []byte {
	t.Helper()

	opts := (&jose.SignerOptions{EmbedJWK: embed}).
		WithHeader("nonce", "n0nce").
		WithHeader("url", testURL)
	if !embed {
		opts = opts.WithHeader("kid", "https://acme.test/acme/acct/abc")
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, opts)
	require.NoError(t, err)

	obj, err := signer.Sign(payload)
	require.NoError(t, err)
	return []byte(obj.FullSerialize())
}

func publicJWK(key any) *jose.JSONWebKey {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &jose.JSONWebKey{Key: &k.PublicKey}
	case *ecdsa.PrivateKey:
		return &jose.JSONWebKey{Key: &k.PublicKey}
	}
	return &jose.JSONWebKey{Key: key}
}

func mustECKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return k
}

func TestParse(t *testing.T) {
	t.Parallel()

	key := mustECKey(t, elliptic.P256())
	body := sign(t, jose.ES256, key, []byte(`{"hello":"world"}`), true)

	msg, err := jws.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "ES256", msg.Algorithm)
	assert.Equal(t, "n0nce", msg.Nonce)
	assert.Equal(t, testURL, msg.URL)
	assert.Empty(t, msg.KeyID)
	require.NotNil(t, msg.JWK)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg.Payload))

	t.Run("kid", func(t *testing.T) {
		msg, err := jws.Parse(sign(t, jose.ES256, key, []byte(""), false))
		require.NoError(t, err)
		assert.Equal(t, "https://acme.test/acme/acct/abc", msg.KeyID)
		assert.Nil(t, msg.JWK)
		assert.Empty(t, msg.Payload)
	})

	t.Run("rejects garbage and non-flattened forms", func(t *testing.T) {
		_, err := jws.Parse([]byte("not json"))
		assert.ErrorIs(t, err, jws.ErrMalformed)

		_, err = jws.Parse([]byte(`{"payload":"e30","signatures":[]}`))
		assert.ErrorIs(t, err, jws.ErrSignatureCount)

		_, err = jws.Parse([]byte(`{"payload":"e30","signature":"AA"}`))
		assert.ErrorIs(t, err, jws.ErrNotFlattened)
	})
}

func TestVerify_AlgorithmPinning(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p256 := mustECKey(t, elliptic.P256())
	p384 := mustECKey(t, elliptic.P384())
	p521 := mustECKey(t, elliptic.P521())
	payload := []byte(`{}`)

	tests := []struct {
		name string
		body []byte
		key  *jose.JSONWebKey
		want bool
	}{
		{"rsa RS256", sign(t, jose.RS256, rsaKey, payload, true), publicJWK(rsaKey), true},
		{"rsa PS384", sign(t, jose.PS384, rsaKey, payload, true), publicJWK(rsaKey), true},
		{"p256 ES256", sign(t, jose.ES256, p256, payload, true), publicJWK(p256), true},
		{"p384 ES384", sign(t, jose.ES384, p384, payload, true), publicJWK(p384), true},
		{"p521 ES512", sign(t, jose.ES512, p521, payload, true), publicJWK(p521), true},
		{"rsa key with ES256", sign(t, jose.ES256, p256, payload, true), publicJWK(rsaKey), false},
		{"p256 key with ES384", sign(t, jose.ES384, p384, payload, true), publicJWK(p256), false},
		{"oct key", sign(t, jose.HS256, []byte("0123456789abcdef0123456789abcdef"), payload, false),
			&jose.JSONWebKey{Key: []byte("0123456789abcdef0123456789abcdef")}, false},
		{"wrong rsa key", sign(t, jose.RS256, rsaKey, payload, true), publicJWK(mustRSA(t)), false},
		{"private key", sign(t, jose.ES256, p256, payload, true), &jose.JSONWebKey{Key: p256}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := jws.Parse(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, jws.Verify(msg, tt.key))
		})
	}

	assert.False(t, jws.Verify(nil, publicJWK(p256)))
}

func mustRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func TestThumbprint(t *testing.T) {
	t.Parallel()

	key := mustECKey(t, elliptic.P256())
	jwk := publicJWK(key)

	a, err := jws.Thumbprint(jwk)
	require.NoError(t, err)
	b, err := jws.Thumbprint(jwk)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 43)

	// Extra members and member order do not matter.
	raw, err := jwk.MarshalJSON()
	require.NoError(t, err)
	var members map[string]any
	require.NoError(t, json.Unmarshal(raw, &members))
	decorated := `{"use":"sig","kid":"decoration","y":"` + members["y"].(string) +
		`","x":"` + members["x"].(string) + `","crv":"P-256","kty":"EC","alg":"ES256"}`

	var other jose.JSONWebKey
	require.NoError(t, json.Unmarshal([]byte(decorated), &other))
	c, err := jws.Thumbprint(&other)
	require.NoError(t, err)
	assert.Equal(t, a, c)

	t.Run("rfc 7638 example", func(t *testing.T) {
		const rfcKey = `{"kty":"RSA","n":"0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw","e":"AQAB","alg":"RS256","kid":"2011-04-29"}`
		var k jose.JSONWebKey
		require.NoError(t, json.Unmarshal([]byte(rfcKey), &k))
		tp, err := jws.Thumbprint(&k)
		require.NoError(t, err)
		assert.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs", tp)
	})

	_, err = jws.Thumbprint(&jose.JSONWebKey{Key: []byte("secret")})
	assert.ErrorIs(t, err, jws.ErrUnsupportedKey)
}

func TestSegments(t *testing.T) {
	t.Parallel()

	enc := jws.EncodeSegment([]byte{0xfb, 0xff, 0xfe})
	assert.Equal(t, "-__-", enc)

	dec, err := jws.DecodeSegment(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfb, 0xff, 0xfe}, dec)

	_, err = jws.DecodeSegment("+//+")
	assert.ErrorIs(t, err, jws.ErrInvalidSegment)
	_, err = jws.DecodeSegment("YQ==")
	assert.ErrorIs(t, err, jws.ErrInvalidSegment)
}

func TestVerifyEAB(t *testing.T) {
	t.Parallel()

	account := mustECKey(t, elliptic.P256())
	accountJWK := publicJWK(account)
	secret := []byte("0123456789abcdef0123456789abcdef")
	const newAcctURL = "https://acme.test/acme/new-acct"

	eab := func(t *testing.T, kid, url string, payloadKey *jose.JSONWebKey, hmacKey []byte) json.RawMessage {
		t.Helper()
		payload, err := payloadKey.MarshalJSON()
		require.NoError(t, err)
		opts := (&jose.SignerOptions{}).WithHeader("kid", kid).WithHeader("url", url)
		signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: hmacKey}, opts)
		require.NoError(t, err)
		obj, err := signer.Sign(payload)
		require.NoError(t, err)
		return json.RawMessage(obj.FullSerialize())
	}

	lookup := func(_ context.Context, kid string) ([]byte, error) {
		if kid == "order-1" {
			return secret, nil
		}
		return nil, errors.New("not found")
	}

	kid, err := jws.VerifyEAB(context.Background(), eab(t, "order-1", newAcctURL, accountJWK, secret), accountJWK, newAcctURL, lookup)
	require.NoError(t, err)
	assert.Equal(t, "order-1", kid)

	_, err = jws.VerifyEAB(context.Background(), eab(t, "order-2", newAcctURL, accountJWK, secret), accountJWK, newAcctURL, lookup)
	assert.ErrorIs(t, err, jws.ErrEABUnknownKeyID)

	_, err = jws.VerifyEAB(context.Background(), eab(t, "order-1", newAcctURL, accountJWK, []byte("another-secret-another-secret-00")), accountJWK, newAcctURL, lookup)
	assert.ErrorIs(t, err, jws.ErrEABSignature)

	_, err = jws.VerifyEAB(context.Background(), eab(t, "order-1", "https://acme.test/other", accountJWK, secret), accountJWK, newAcctURL, lookup)
	assert.ErrorIs(t, err, jws.ErrEABURLMismatch)

	other := publicJWK(mustECKey(t, elliptic.P256()))
	_, err = jws.VerifyEAB(context.Background(), eab(t, "order-1", newAcctURL, other, secret), accountJWK, newAcctURL, lookup)
	assert.ErrorIs(t, err, jws.ErrEABKeyMismatch)

	_, err = jws.VerifyEAB(context.Background(), nil, accountJWK, newAcctURL, lookup)
	assert.ErrorIs(t, err, jws.ErrEABMalformed)
}
