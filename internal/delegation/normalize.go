package delegation

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

// LabelSize is the hash width in bytes; labels are twice as many hex chars.
const LabelSize = 16

// Normalize returns the ASCII form of domain: trimmed, wildcard and trailing
// dot stripped, NFC-normalized, lowercased and punycode-encoded.
func Normalize(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "*.")
	d = strings.TrimSuffix(d, ".")
	d = strings.ToLower(norm.NFC.String(d))
	if d == "" {
		return "", ErrInvalidDomain
	}

	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidDomain, domain, err)
	}
	return ascii, nil
}

// Display returns the Unicode form of an ASCII domain for humans.
func Display(ascii string) string {
	u, err := idna.Display.ToUnicode(ascii)
	if err != nil {
		return ascii
	}
	return u
}

// RegistrableRoot returns the eTLD+1 of an ASCII domain.
func RegistrableRoot(ascii string) (string, error) {
	root, err := publicsuffix.EffectiveTLDPlusOne(ascii)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidDomain, ascii, err)
	}
	return root, nil
}

// Label derives the delegation label for a user and a normalized source fqdn.
func Label(userID int64, fqdn string) string {
	h, _ := blake2b.New(LabelSize, nil)
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strings.TrimSuffix(fqdn, ".")))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// prefixOf extracts the validation prefix from a record name such as
// "_acme-challenge.example.com" given the identifier "example.com".
func prefixOf(name, identifier, fallback string) string {
	n := strings.ToLower(strings.TrimSuffix(name, "."))
	id, err := Normalize(identifier)
	if err != nil {
		return fallback
	}
	if p, ok := strings.CutSuffix(n, "."+id); ok && p != "" && !strings.Contains(p, ".") {
		return p
	}
	return fallback
}
