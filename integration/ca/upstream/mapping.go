package upstream

import (
	"strings"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/challenge/http01"

	"github.com/dmitrymomot/acmefront/internal/ca"
)

// challengeType maps a DCV method onto the ACME challenge type.
func challengeType(method string) challenge.Type {
	if method == ca.MethodHTTPFile {
		return challenge.HTTP01
	}
	return challenge.DNS01
}

// applyStatus maps an upstream order status to a vendor apply status.
func applyStatus(order acme.Order) string {
	switch order.Status {
	case acme.StatusPending, acme.StatusReady:
		return ca.ApplyProcessing
	case acme.StatusProcessing:
		return ca.ApplyApproving
	case acme.StatusValid:
		return ca.ApplyIssued
	case acme.StatusInvalid:
		return ca.ApplyFailed
	case acme.StatusExpired:
		return ca.ApplyExpired
	case acme.StatusRevoked:
		return ca.ApplyRevoked
	case acme.StatusDeactivated:
		return ca.ApplyCancelled
	default:
		return ca.ApplyPending
	}
}

func validationStatus(status string) string {
	switch status {
	case acme.StatusValid:
		return ca.ValidationValid
	case acme.StatusInvalid, acme.StatusDeactivated, acme.StatusExpired, acme.StatusRevoked:
		return ca.ValidationInvalid
	default:
		return ca.ValidationPending
	}
}

func identifierOf(authz acme.Authorization) string {
	if authz.Wildcard && !strings.HasPrefix(authz.Identifier.Value, "*.") {
		return "*." + authz.Identifier.Value
	}
	return authz.Identifier.Value
}

func findChallenge(authz acme.Authorization, typ challenge.Type) (acme.Challenge, bool) {
	for _, chlg := range authz.Challenges {
		if chlg.Type == string(typ) {
			return chlg, true
		}
	}
	return acme.Challenge{}, false
}

// validationFor builds the vendor validation entry for one authorization.
// keyAuth is token.thumbprint for the chosen challenge.
func validationFor(authz acme.Authorization, method, thumbprint string) (ca.Validation, error) {
	chlg, ok := findChallenge(authz, challengeType(method))
	if !ok {
		return ca.Validation{}, ErrNoChallenge
	}

	keyAuth := chlg.Token + "." + thumbprint
	v := ca.Validation{
		Identifier: identifierOf(authz),
		Method:     method,
		Status:     validationStatus(authz.Status),
	}

	switch method {
	case ca.MethodHTTPFile:
		v.Name = http01.ChallengePath(chlg.Token)
		v.Value = keyAuth
	default:
		info := dns01.GetChallengeInfo(authz.Identifier.Value, keyAuth)
		v.Name = strings.TrimSuffix(info.FQDN, ".")
		v.Value = info.Value
	}
	return v, nil
}
