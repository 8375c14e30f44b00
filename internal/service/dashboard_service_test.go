package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/access"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/gateway/devnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientDashboardShowsRecordsAndRequesters(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)
	_, err := alice.records.Publish(ctx, checkup())
	require.NoError(t, err)
	_, err = bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)
	_, err = alice.access.Grant(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	alice.settle()

	d, err := alice.dashboard.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, d.Profile.Role)
	assert.Empty(t, d.Providers)
	require.Len(t, d.Patients, 1)

	panel := d.Patients[0]
	assert.Equal(t, "alice-123", panel.PatientID)
	assert.Empty(t, panel.Error)
	require.NotNil(t, panel.Records)
	assert.Len(t, panel.Records.Value.Entries, 1)
	require.Len(t, panel.Access, 1)
	assert.Equal(t, access.StatusGranted, panel.Access[0].Value.Status)
	assert.Equal(t, bobAddr, panel.Access[0].Value.Requester)
}

func TestProviderDashboardLoadsRecordsOnlyWhenGranted(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)
	_, err := bob.access.Request(ctx, "alice-123")
	require.NoError(t, err)
	bob.settle()

	d, err := bob.dashboard.Dashboard(ctx)
	require.NoError(t, err)
	require.Len(t, d.Providers, 1)
	assert.Equal(t, access.StatusPending, d.Providers[0].Request.Value.Status)
	assert.Nil(t, d.Providers[0].Records)

	_, err = alice.access.Grant(ctx, "alice-123", bobAddr)
	require.NoError(t, err)
	// the grant happened in another session; drop bob's cached views
	bob.dashboard.Reset()

	d, err = bob.dashboard.Dashboard(ctx)
	require.NoError(t, err)
	require.Len(t, d.Providers, 1)
	assert.Equal(t, access.StatusGranted, d.Providers[0].Request.Value.Status)
	require.NotNil(t, d.Providers[0].Records)
	assert.True(t, d.Providers[0].Records.Value.IsEmpty())
}

func TestDashboardReportsPanelErrorsInline(t *testing.T) {
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")

	d, err := alice.dashboard.Dashboard(context.Background(), "nobody")
	require.NoError(t, err)
	require.Len(t, d.Patients, 1)
	assert.Equal(t, "not_found", d.Patients[0].Error)
}

func TestRoleScopedViews(t *testing.T) {
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")

	_, err := alice.dashboard.ProviderDashboard(context.Background())
	assert.ErrorIs(t, err, ErrRoleNotPermitted)
	_, err = bob.dashboard.PatientDashboard(context.Background())
	assert.ErrorIs(t, err, ErrRoleNotPermitted)
}

func TestSpeculativePatchAfterPublish(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	registerAlice(t, alice)

	before, err := alice.records.Snapshot(ctx, "alice-123")
	require.NoError(t, err)
	assert.True(t, before.Value.IsEmpty())

	res, err := alice.records.Publish(ctx, checkup())
	require.NoError(t, err)
	alice.settle()

	after, err := alice.records.Snapshot(ctx, "alice-123")
	require.NoError(t, err)
	assert.False(t, after.Speculative, "the background refetch replaced the patch")
	require.Len(t, after.Value.Entries, 1)
	assert.Equal(t, res.Entry.ID, after.Value.Entries[0].ID)
	assert.Equal(t, res.RecordHash, after.Value.Header.RecordHash)
}

func TestDashboardRemembersOnlyExtrasThatLoad(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")
	bob := w.signIn(t, devnet.Wallet2, "Dr. Bob", "provider")
	registerAlice(t, alice)

	d, err := alice.dashboard.Dashboard(ctx, "nobody")
	require.NoError(t, err)
	require.Len(t, d.Patients, 2)
	assert.Equal(t, "not_found", d.Patients[1].Error)
	assert.Equal(t, []string{"alice-123"}, alice.watch.Patients(devnet.Wallet1))

	d, err = bob.dashboard.Dashboard(ctx, "alice-123")
	require.NoError(t, err)
	require.Len(t, d.Providers, 1)
	assert.Empty(t, d.Providers[0].Error)
	assert.Equal(t, []string{"alice-123"}, bob.watch.Patients(bobAddr))
}

func TestDashboardRejectsInvalidExtras(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.signIn(t, devnet.Wallet1, "Alice", "patient")

	_, err := alice.dashboard.Dashboard(ctx, strings.Repeat("x", 65))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	many := make([]string, maxWatchedPatients+1)
	for i := range many {
		many[i] = fmt.Sprintf("p-%d", i)
	}
	_, err = alice.dashboard.Dashboard(ctx, many...)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, alice.watch.Patients(devnet.Wallet1))
}

func TestWatchlistKeepsMostRecent(t *testing.T) {
	w := NewWatchlist()
	me := domain.Principal(devnet.Wallet1)
	for i := range maxWatchedPatients + 5 {
		w.AddPatient(me, fmt.Sprintf("p-%d", i))
	}
	ids := w.Patients(me)
	require.Len(t, ids, maxWatchedPatients)
	assert.Equal(t, "p-5", ids[0])

	w.AddPatient(me, "p-5")
	ids = w.Patients(me)
	require.Len(t, ids, maxWatchedPatients)
	assert.Equal(t, "p-6", ids[0])
	assert.Equal(t, "p-5", ids[len(ids)-1])
}
