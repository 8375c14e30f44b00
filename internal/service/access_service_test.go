package service

import (
	"context"
	"testing"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/events"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bobAddr domain.Principal = devnet.Wallet2

func TestAccessLifecycleAliceAndBob(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)

	st, err := bob.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusNone, st.Status)

	out, err := bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)
	require.True(t, out.Applied())
	first, err := bob.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusPending, first.Status)

	_, err = alice.access.Grant(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	st, err = bob.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusGranted, st.Status)

	_, err = alice.access.Revoke(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	st, err = alice.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusRevoked, st.Status)
	require.NotNil(t, st.UpdatedAt)
	assert.GreaterOrEqual(t, *st.UpdatedAt, st.RequestedAt)

	_, err = bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)
	again, err := bob.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusPending, again.Status)
	assert.Greater(t, again.RequestedAt, first.RequestedAt)

	var types []events.Type
	for _, e := range w.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.Type{
		events.PatientRegistered,
		events.AccessRequested,
		events.AccessGranted,
		events.AccessRevoked,
		events.AccessRequested,
	}, types)
}

func TestDoubleRequestIsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)

	_, err := bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)
	height := w.ledger.Height()

	_, err = bob.access.Request(ctx, "alice-123")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, height, w.ledger.Height(), "rejected before submission")

	_, err = alice.access.Grant(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	_, err = bob.access.Request(ctx, "alice-123")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRequestForUnknownPatientFailsAtSettlement(t *testing.T) {
	w := newWorld(t)
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")

	out, err := bob.access.Request(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NotNil(t, out)
	assert.Equal(t, domain.SettlementFailed, out.Settlement.Status)
}

func TestGrantWithoutPendingRequestIsNotFound(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	registerAlice(t, alice)
	height := w.ledger.Height()

	_, err := alice.access.Grant(ctx, "alice-123", bobAddr)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = alice.access.Revoke(ctx, "alice-123", bobAddr)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, height, w.ledger.Height())
}

func TestOnlyOwnerCanGrant(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)
	_, err := bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)

	out, err := bob.access.Grant(ctx, "alice-123", bobAddr)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	require.NotNil(t, out)
	assert.False(t, out.Applied())

	st, err := alice.access.Status(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.Equal(t, access.StatusPending, st.Status)
}

func TestGrantRecoversFromSettlementTimeout(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)
	_, err := bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)

	w.ledger.SetPendingPolls(100)
	out, err := alice.access.Grant(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	assert.True(t, out.Settlement.TimedOut())
	assert.True(t, out.Confirmed)
}

func TestAccessInputValidation(t *testing.T) {
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")

	_, err := alice.access.Request(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = alice.access.Grant(context.Background(), "alice-123", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = alice.access.Status(context.Background(), "alice-123", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRequestKeyRoundTrip(t *testing.T) {
	id, p, ok := splitRequestKey(requestKey("clinic/alice-1", bobAddr))
	require.True(t, ok)
	assert.Equal(t, "clinic/alice-1", id)
	assert.Equal(t, bobAddr, p)

	_, _, ok = splitRequestKey("no-separator")
	assert.False(t, ok)
}
