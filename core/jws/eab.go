package jws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

var eabAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512}

// HMACLookup resolves an EAB key id to its shared secret.
type HMACLookup func(ctx context.Context, keyID string) ([]byte, error)

// VerifyEAB validates an externalAccountBinding object and returns its key id.
// The inner JWS must be HMAC-signed with the secret behind its kid, carry the
// same url as the outer request, and have the account JWK as payload.
func VerifyEAB(ctx context.Context, raw json.RawMessage, accountKey *jose.JSONWebKey, url string, lookup HMACLookup) (string, error) {
	if len(raw) == 0 || accountKey == nil {
		return "", ErrEABMalformed
	}

	sig, err := jose.ParseSignedJSON(string(raw), eabAlgorithms)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEABMalformed, err)
	}
	if len(sig.Signatures) != 1 {
		return "", ErrEABMalformed
	}

	protected := sig.Signatures[0].Protected
	if protected.KeyID == "" || protected.Nonce != "" {
		return "", ErrEABMalformed
	}
	if u, _ := protected.ExtraHeaders[jose.HeaderKey("url")].(string); u != url {
		return "", ErrEABURLMismatch
	}

	secret, err := lookup(ctx, protected.KeyID)
	if err != nil {
		return "", errors.Join(ErrEABUnknownKeyID, err)
	}
	if len(secret) == 0 {
		return "", ErrEABUnknownKeyID
	}

	payload, err := sig.Verify(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEABSignature, err)
	}

	var bound jose.JSONWebKey
	if err := json.Unmarshal(payload, &bound); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEABMalformed, err)
	}

	want, err := Thumbprint(accountKey)
	if err != nil {
		return "", err
	}
	got, err := Thumbprint(&bound)
	if err != nil || got != want {
		return "", ErrEABKeyMismatch
	}

	return protected.KeyID, nil
}
