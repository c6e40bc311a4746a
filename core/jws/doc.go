// Package jws parses and verifies the flattened JSON Web Signatures carried
// by ACME requests.
//
// Verify pins the signature algorithm to the key type, so an RSA key cannot
// be paired with an ECDSA algorithm, an EC key only accepts the ES variant of
// its curve, and symmetric keys never authenticate a request. Thumbprint
// derives the account key id per RFC 7638. VerifyEAB checks external account
// bindings signed with a shared HMAC secret.
package jws
