package ca_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/internal/ca"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := ca.NewRegistry(ca.NewFake("alpha"), ca.NewFake("beta"))
	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())

	v, err := reg.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", v.Name())

	_, err = reg.Get("gamma")
	assert.ErrorIs(t, err, ca.ErrUnknownVendor)

	assert.ErrorIs(t, reg.Register(ca.NewFake("alpha")), ca.ErrDuplicateVendor)
}

func TestDo_Rejection(t *testing.T) {
	t.Parallel()

	f := ca.NewFake("fake")
	f.RejectNext(ca.ActionSubmit, "domain blocked")

	_, err := ca.Do(context.Background(), f, ca.ActionSubmit, ca.Request{Identifiers: []string{"example.com"}})
	require.Error(t, err)
	assert.True(t, ca.IsRejected(err))

	var re *ca.RejectedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "domain blocked", re.Msg)
	assert.Equal(t, ca.ActionSubmit, re.Action)
}

func TestDo_TransportError(t *testing.T) {
	t.Parallel()

	f := ca.NewFake("fake")
	boom := errors.New("connection reset")
	f.FailNext(ca.ActionGet, boom)

	_, err := ca.Do(context.Background(), f, ca.ActionGet, ca.Request{VendorID: "x"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ca.IsRejected(err))
}

func TestDo_UnknownAction(t *testing.T) {
	t.Parallel()

	_, err := ca.Do(context.Background(), ca.NewFake("fake"), ca.Action("explode"), ca.Request{})
	assert.ErrorIs(t, err, ca.ErrUnsupportedAction)
}

func TestFake_IssueFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := ca.NewFake("fake")
	f.AutoApprove = true

	data, err := ca.Do(ctx, f, ca.ActionSubmit, ca.Request{Identifiers: []string{"example.com", "www.example.com"}})
	require.NoError(t, err)
	require.Len(t, data.Validation, 2)
	assert.Equal(t, ca.ApplyProcessing, data.CertApplyStatus)
	assert.Equal(t, "_acme-challenge.example.com", data.Validation[0].Name)
	assert.False(t, data.Validation[0].Resolved())

	_, err = ca.Do(ctx, f, ca.ActionFinalize, ca.Request{VendorID: data.APIID, CSR: testCSR(t)})
	assert.True(t, ca.IsRejected(err), "finalize before validation must be rejected")

	_, err = ca.Do(ctx, f, ca.ActionRevalidate, ca.Request{VendorID: data.APIID})
	require.NoError(t, err)

	issued, err := ca.Do(ctx, f, ca.ActionFinalize, ca.Request{VendorID: data.APIID, CSR: testCSR(t)})
	require.NoError(t, err)
	assert.Equal(t, ca.ApplyIssued, issued.CertApplyStatus)

	block, _ := pem.Decode([]byte(issued.Cert))
	require.NotNil(t, block)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, leaf.DNSNames)
	assert.NotEmpty(t, issued.Intermediate)

	revoked, err := ca.Do(ctx, f, ca.ActionRevoke, ca.Request{VendorID: data.APIID})
	require.NoError(t, err)
	assert.Equal(t, ca.ApplyRevoked, revoked.CertApplyStatus)
	assert.Equal(t, 1, f.Calls(ca.ActionRevoke))
}

func testCSR(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: "example.com"},
		DNSNames: []string{"example.com", "www.example.com"},
	}, key)
	require.NoError(t, err)
	return der
}
