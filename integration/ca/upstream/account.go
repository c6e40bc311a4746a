package upstream

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
)

// loadAccountKey reads the PEM account key at path. A missing file is created
// with a fresh P-256 key; an empty path yields an ephemeral key.
func loadAccountKey(path string) (crypto.Signer, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := certcrypto.ParsePEMPrivateKey(data)
		if err != nil {
			return nil, errors.Join(ErrLoadAccountKey, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrLoadAccountKey, key)
		}
		return signer, nil
	case errors.Is(err, fs.ErrNotExist):
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, errors.Join(ErrLoadAccountKey, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Join(ErrLoadAccountKey, err)
		}
		if err := os.WriteFile(path, certcrypto.PEMEncode(key), 0o600); err != nil {
			return nil, errors.Join(ErrLoadAccountKey, err)
		}
		return key, nil
	default:
		return nil, errors.Join(ErrLoadAccountKey, err)
	}
}
