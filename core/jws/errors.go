package jws

import "errors"

var (
	ErrMalformed        = errors.New("jws: malformed message")
	ErrNotFlattened     = errors.New("jws: message must use flattened JSON serialization")
	ErrSignatureCount   = errors.New("jws: message must carry exactly one signature")
	ErrMissingAlgorithm = errors.New("jws: protected header has no alg")
	ErrUnsupportedKey   = errors.New("jws: unsupported key type")
	ErrEABMalformed     = errors.New("jws: malformed external account binding")
	ErrEABSignature     = errors.New("jws: external account binding signature is invalid")
	ErrEABKeyMismatch   = errors.New("jws: external account binding does not match the account key")
	ErrEABURLMismatch   = errors.New("jws: external account binding url mismatch")
	ErrEABUnknownKeyID  = errors.New("jws: external account binding key id is unknown")
	ErrInvalidSegment   = errors.New("jws: invalid base64url segment")
)
