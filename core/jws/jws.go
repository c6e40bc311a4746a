package jws

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"

	jose "github.com/go-jose/go-jose/v4"
)

// parseAlgorithms lists everything Parse accepts; Verify narrows it per key.
var parseAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

var rsaAlgorithms = []string{
	string(jose.RS256), string(jose.RS384), string(jose.RS512),
	string(jose.PS256), string(jose.PS384), string(jose.PS512),
}

// Message is a parsed flattened JWS. Payload is unverified until Verify succeeds.
type Message struct {
	Algorithm string
	Nonce     string
	URL       string
	KeyID     string
	JWK       *jose.JSONWebKey
	Payload   []byte

	sig *jose.JSONWebSignature
}

type flattened struct {
	Protected  *string          `json:"protected"`
	Payload    *string          `json:"payload"`
	Signature  *string          `json:"signature"`
	Signatures json.RawMessage  `json:"signatures"`
	Header     *json.RawMessage `json:"header"`
}

// Parse decodes a flattened JSON JWS with a single protected signature.
func Parse(body []byte) (*Message, error) {
	var raw flattened
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if raw.Signatures != nil {
		return nil, ErrSignatureCount
	}
	if raw.Protected == nil || raw.Payload == nil || raw.Signature == nil || raw.Header != nil {
		return nil, ErrNotFlattened
	}

	sig, err := jose.ParseSignedJSON(string(body), parseAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(sig.Signatures) != 1 {
		return nil, ErrSignatureCount
	}

	protected := sig.Signatures[0].Protected
	if protected.Algorithm == "" {
		return nil, ErrMissingAlgorithm
	}

	msg := &Message{
		Algorithm: protected.Algorithm,
		Nonce:     protected.Nonce,
		KeyID:     protected.KeyID,
		JWK:       protected.JSONWebKey,
		Payload:   sig.UnsafePayloadWithoutVerification(),
		sig:       sig,
	}
	if u, ok := protected.ExtraHeaders[jose.HeaderKey("url")].(string); ok {
		msg.URL = u
	}

	return msg, nil
}

// Verify checks msg against key. The algorithm is pinned to the key: RSA keys
// accept RS* and PS*, EC keys only the ES variant of their curve. Symmetric,
// OKP, private and unknown keys never verify.
func Verify(msg *Message, key *jose.JSONWebKey) bool {
	if msg == nil || msg.sig == nil || key == nil || !key.Valid() || !key.IsPublic() {
		return false
	}
	if !AlgorithmAllowed(key, msg.Algorithm) {
		return false
	}

	payload, err := msg.sig.Verify(key)
	if err != nil {
		return false
	}
	return bytes.Equal(payload, msg.Payload)
}

// AlgorithmAllowed reports whether alg may be used with key.
func AlgorithmAllowed(key *jose.JSONWebKey, alg string) bool {
	switch k := key.Key.(type) {
	case *rsa.PublicKey:
		return slices.Contains(rsaAlgorithms, alg)
	case *ecdsa.PublicKey:
		switch k.Curve.Params().Name {
		case "P-256":
			return alg == string(jose.ES256)
		case "P-384":
			return alg == string(jose.ES384)
		case "P-521":
			return alg == string(jose.ES512)
		}
	}
	return false
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of key, base64url
// without padding. Only required members take part, so extra members and
// member order do not change it.
func Thumbprint(key *jose.JSONWebKey) (string, error) {
	if key == nil || key.Key == nil {
		return "", ErrUnsupportedKey
	}
	switch key.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return "", ErrUnsupportedKey
	}

	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jws: thumbprint: %w", err)
	}
	return EncodeSegment(sum), nil
}

// EncodeSegment is base64url without padding (RFC 4648 §5).
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment rejects padding and the standard alphabet.
func DecodeSegment(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSegment, err)
	}
	return b, nil
}
