package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

func TestAuthzStatus(t *testing.T) {
	t.Parallel()

	const id = "a.example.com"
	entry := func(status string) []fulfillment.Validation {
		return []fulfillment.Validation{{Identifier: id, Method: "dns", Status: status}}
	}

	tests := []struct {
		name string
		cert fulfillment.Cert
		want string
	}{
		{
			name: "unresolved entry on issued cert stays pending",
			cert: fulfillment.Cert{Status: fulfillment.StatusActive, CertPEM: "pem", Validation: entry(ca.ValidationPending)},
			want: StatusPending,
		},
		{
			name: "resolved valid entry",
			cert: fulfillment.Cert{Status: fulfillment.StatusProcessing, Validation: entry(ca.ValidationValid)},
			want: StatusValid,
		},
		{
			name: "resolved invalid entry",
			cert: fulfillment.Cert{Status: fulfillment.StatusActive, CertPEM: "pem", Validation: entry(ca.ValidationInvalid)},
			want: StatusInvalid,
		},
		{
			name: "issued cert without entry",
			cert: fulfillment.Cert{Status: fulfillment.StatusActive, CertPEM: "pem"},
			want: StatusValid,
		},
		{
			name: "unresolved entry on failed cert",
			cert: fulfillment.Cert{Status: fulfillment.StatusFailed, Validation: entry(ca.ValidationPending)},
			want: StatusInvalid,
		},
		{
			name: "pending cert without entry",
			cert: fulfillment.Cert{Status: fulfillment.StatusPending},
			want: StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authzStatus(&tt.cert, id))
		})
	}
}
