package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/internal/acme"
	"github.com/dmitrymomot/acmefront/internal/delegation"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
	"github.com/dmitrymomot/acmefront/internal/store"
)

// seedOrder must get the transaction ctx when called inside InTx.
func seedOrder(ctx context.Context, t *testing.T, m *store.Memory, userID int64) *fulfillment.Order {
	t.Helper()
	o := &fulfillment.Order{UserID: userID, ProductID: "default", Period: 12, EABKeyID: "kid"}
	require.NoError(t, m.CreateOrder(ctx, o))
	return o
}

func TestMemory_RollbackRestoresState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := store.NewMemory()
	o := seedOrder(ctx, t, m, 1)

	boom := errors.New("boom")
	err := m.InTx(ctx, func(ctx context.Context) error {
		o.Amount = 500
		require.NoError(t, m.UpdateOrder(ctx, o))
		require.NoError(t, m.CreateCert(ctx, &fulfillment.Cert{OrderID: o.ID, Status: fulfillment.StatusUnpaid}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Amount)

	_, err = m.GetLatestCert(ctx, o.ID)
	assert.ErrorIs(t, err, fulfillment.ErrNotFound)
}

func TestMemory_NestedTxJoinsOuter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := store.NewMemory()

	var o *fulfillment.Order
	boom := errors.New("boom")
	err := m.InTx(ctx, func(ctx context.Context) error {
		if err := m.InTx(ctx, func(ctx context.Context) error {
			o = seedOrder(ctx, t, m, 1)
			return nil
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The inner commit belonged to the outer transaction and was rolled back.
	_, err = m.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, fulfillment.ErrNotFound)
}

func TestMemory_LatestCertAndCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := store.NewMemory()
	o := seedOrder(ctx, t, m, 1)

	first := &fulfillment.Cert{OrderID: o.ID, Status: fulfillment.StatusRenewed}
	require.NoError(t, m.CreateCert(ctx, first))
	second := &fulfillment.Cert{OrderID: o.ID, LastCertID: first.ID, Status: fulfillment.StatusUnpaid, Token: "tok"}
	require.NoError(t, m.CreateCert(ctx, second))
	require.NoError(t, m.CreateAuthorizations(ctx, []acme.Authorization{{Token: "az", CertID: second.ID, Identifier: "a.example.com"}}))

	latest, err := m.GetLatestCert(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	byToken, err := m.GetCertByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byToken.ID)

	require.NoError(t, m.DeleteOrder(ctx, o.ID))
	_, err = m.GetCert(ctx, first.ID)
	assert.ErrorIs(t, err, fulfillment.ErrNotFound)
	_, err = m.GetAuthorization(ctx, "az")
	assert.ErrorIs(t, err, acme.ErrNotFound)
}

func TestMemory_Accounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := store.NewMemory()

	a := &acme.Account{KeyID: "thumb", Status: acme.AccountValid, Contact: []string{"mailto:a@example.com"}}
	require.NoError(t, m.CreateAccount(ctx, a))
	assert.ErrorIs(t, m.CreateAccount(ctx, a), acme.ErrAccountExists)

	got, err := m.GetAccount(ctx, "thumb")
	require.NoError(t, err)
	got.Contact[0] = "changed"

	again, err := m.GetAccount(ctx, "thumb")
	require.NoError(t, err)
	assert.Equal(t, "mailto:a@example.com", again.Contact[0])
}

func TestMemory_DelegationReferenced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := store.NewMemory()
	o := seedOrder(ctx, t, m, 7)

	d := &delegation.Delegation{UserID: 7, Zone: "example.com", Prefix: "_acme-challenge", Label: "l1", CreatedAt: time.Now()}
	require.NoError(t, m.CreateDelegation(ctx, d))
	assert.ErrorIs(t, m.CreateDelegation(ctx, &delegation.Delegation{Label: "l1"}), delegation.ErrRecordExists)

	ref, err := m.DelegationReferenced(ctx, *d)
	require.NoError(t, err)
	assert.False(t, ref)

	c := &fulfillment.Cert{OrderID: o.ID, Status: fulfillment.StatusProcessing, Identifiers: []string{"*.www.example.com"}}
	require.NoError(t, m.CreateCert(ctx, c))
	ref, err = m.DelegationReferenced(ctx, *d)
	require.NoError(t, err)
	assert.True(t, ref)

	c.Status = fulfillment.StatusCancelled
	require.NoError(t, m.UpdateCert(ctx, c))
	ref, err = m.DelegationReferenced(ctx, *d)
	require.NoError(t, err)
	assert.False(t, ref)

	other := &delegation.Delegation{UserID: 8, Zone: "example.com", Prefix: "_acme-challenge", Label: "l2"}
	require.NoError(t, m.CreateDelegation(ctx, other))
	c.Status = fulfillment.StatusActive
	require.NoError(t, m.UpdateCert(ctx, c))
	ref, err = m.DelegationReferenced(ctx, *other)
	require.NoError(t, err)
	assert.False(t, ref, "certs of another user do not keep a delegation alive")

	found, err := m.FindDelegations(ctx, 7, "_acme-challenge", []string{"example.com", "www.example.com"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, d.ID, found[0].ID)
}
