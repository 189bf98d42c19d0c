package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidgeissler/newsprint/app/models"
)

var testNow = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

func TestSyncFromSnapshot_CreatesRecord(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	snap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)

	rec, err := svc.SyncFromSnapshot(context.Background(), SyncInput{
		Snapshot:        snap,
		UserExternalID:  "user-1",
		UserEmail:       "Alice@Example.com",
		ProviderEventID: "evt_1",
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.PlanPremiumMonthly, rec.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, rec.Status)
	assert.Equal(t, "sub_123", deref(rec.ProviderSubscriptionID))
	assert.Equal(t, "cus_456", deref(rec.ProviderCustomerID))
	assert.Equal(t, "price_month", deref(rec.ProviderPriceID))
	assert.Equal(t, "user-1", deref(rec.UserExternalID))
	assert.Equal(t, "alice@example.com", deref(rec.UserEmail))
	require.NotNil(t, rec.SyncedAt)
	assert.True(t, rec.SyncedAt.Equal(testNow))
	assert.Nil(t, rec.MismatchReason)
	assert.Equal(t, "evt_1", rec.Metadata[models.MetaLastProviderEventID])
	assert.Equal(t, testNow.Format(time.RFC3339), rec.Metadata[models.MetaLastProviderSyncAt])

	assert.True(t, HasPremiumAccess(rec, testNow))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncFromSnapshot_RequiresSubscriptionID(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil, testNow)
	_, err := svc.SyncFromSnapshot(context.Background(), SyncInput{
		Snapshot:       Snapshot{Plan: models.PlanCustom, Status: models.SubscriptionStatusActive},
		UserExternalID: "user-1",
	})
	require.Error(t, err)
}

func TestSyncFromSnapshot_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	snap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)
	in := SyncInput{Snapshot: snap, UserExternalID: "user-1", ProviderEventID: "evt_1"}

	first, err := svc.SyncFromSnapshot(context.Background(), in)
	require.NoError(t, err)
	firstCopy := *first

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	second, err := svc.SyncFromSnapshot(context.Background(), in)
	require.NoError(t, err)

	// Same record, same field values; only the sync bookkeeping moves.
	assert.Equal(t, firstCopy.UUID, second.UUID)
	assert.Equal(t, firstCopy.Plan, second.Plan)
	assert.Equal(t, firstCopy.Status, second.Status)
	assert.Equal(t, deref(firstCopy.ProviderSubscriptionID), deref(second.ProviderSubscriptionID))
	assert.Equal(t, deref(firstCopy.ProviderPriceID), deref(second.ProviderPriceID))
	assert.Equal(t, firstCopy.CancelAtPeriodEnd, second.CancelAtPeriodEnd)
	assert.True(t, firstCopy.CurrentPeriodEnd.Equal(*second.CurrentPeriodEnd))
	assert.True(t, second.SyncedAt.After(*firstCopy.SyncedAt))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncFromSnapshot_MetadataMergeIsAdditive(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	snap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)

	rec, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: snap, UserExternalID: "user-1", ProviderEventID: "evt_1"})
	require.NoError(t, err)

	// Simulate an out-of-band annotation written by another tool.
	rec.Metadata["opsTicket"] = "OPS-1432"
	require.NoError(t, repo.Update(rec))

	updated, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: snap, UserExternalID: "user-1", ProviderEventID: "evt_2"})
	require.NoError(t, err)

	assert.Equal(t, "OPS-1432", updated.Metadata["opsTicket"])
	assert.Equal(t, "evt_2", updated.Metadata[models.MetaLastProviderEventID])
}

func TestSyncFromSnapshot_IdentityFillInOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	snap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)

	_, err := svc.SyncFromSnapshot(context.Background(), SyncInput{
		Snapshot:       snap,
		UserExternalID: "user-1",
		UserEmail:      "alice@example.com",
	})
	require.NoError(t, err)

	// A later provider-originated event carries no identity context.
	rec, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: snap})
	require.NoError(t, err)

	assert.Equal(t, "user-1", deref(rec.UserExternalID))
	assert.Equal(t, "alice@example.com", deref(rec.UserEmail))
}

// An older event replayed after a newer one wins because snapshots carry no
// ordering token; this pins the documented last-write-wins behavior.
func TestSyncFromSnapshot_LastWriteWins(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	activeSnap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)
	canceledSnap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "canceled", periodEnd), testPlans)

	_, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: canceledSnap, UserExternalID: "user-1", ProviderEventID: "evt_newer"})
	require.NoError(t, err)

	rec, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: activeSnap, ProviderEventID: "evt_older"})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, rec.Status)
	assert.Equal(t, "evt_older", rec.Metadata[models.MetaLastProviderEventID])
}

// Scenario: a record drifts out of sync when the provider cancels the
// subscription, and converges again after the next sync.
func TestSyncFromSnapshot_ConvergesAfterDrift(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	activeSnap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)
	canceledSnap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "canceled", periodEnd), testPlans)

	rec, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: activeSnap, UserExternalID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, MismatchReasons(rec, &activeSnap))

	reasons := MismatchReasons(rec, &canceledSnap)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "status differs")

	rec, err = svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: canceledSnap})
	require.NoError(t, err)
	assert.Empty(t, MismatchReasons(rec, &canceledSnap))
	assert.False(t, HasPremiumAccess(rec, testNow))
}

func TestSyncFromCheckout_RequiresIdentity(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProvider(), testNow)
	_, err := svc.SyncFromCheckout(context.Background(), CheckoutSyncInput{SubscriptionID: "sub_123"})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestSyncFromCheckout_ResolvesIDOnlyReference(t *testing.T) {
	repo := newFakeRepo()
	provider := newFakeProvider()
	periodEnd := testNow.Add(20 * 24 * time.Hour)
	provider.register(providerSubscription("sub_123", "cus_456", "price_year", "active", periodEnd))
	svc := newTestService(repo, provider, testNow)

	rec, err := svc.SyncFromCheckout(context.Background(), CheckoutSyncInput{
		SubscriptionID:    "sub_123",
		UserExternalID:    "user-1",
		CheckoutSessionID: "cs_test_1",
		ProviderEventID:   "evt_1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PlanPremiumYearly, rec.Plan)
	assert.Equal(t, "sub_123", deref(rec.ProviderSubscriptionID))
	assert.Equal(t, "cs_test_1", deref(rec.CheckoutSessionID))
	assert.Equal(t, "cs_test_1", rec.Metadata[models.MetaLastCheckoutSessionID])
}

func TestSyncFromCheckout_ProviderRequiredForIDOnlyReference(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil, testNow)
	_, err := svc.SyncFromCheckout(context.Background(), CheckoutSyncInput{
		SubscriptionID: "sub_123",
		UserExternalID: "user-1",
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestGetEntitlement_NoHints(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil, testNow)
	_, _, err := svc.GetEntitlement(context.Background(), IdentityHints{})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestGetEntitlement_SynthesizedDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	rec, premium, err := svc.GetEntitlement(context.Background(), IdentityHints{UserExternalID: "user-unknown"})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.PlanFree, rec.Plan)
	assert.Equal(t, models.SubscriptionStatusNone, rec.Status)
	assert.Equal(t, "user-unknown", deref(rec.UserExternalID))
	assert.False(t, premium)

	// The synthesized default must not be persisted.
	count, err := repo.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetEntitlement_ExistingRecord(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil, testNow)

	periodEnd := testNow.Add(20 * 24 * time.Hour)
	snap := SnapshotFromSubscription(providerSubscription("sub_123", "cus_456", "price_month", "active", periodEnd), testPlans)
	_, err := svc.SyncFromSnapshot(context.Background(), SyncInput{Snapshot: snap, UserExternalID: "user-1"})
	require.NoError(t, err)

	rec, premium, err := svc.GetEntitlement(context.Background(), IdentityHints{UserExternalID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanPremiumMonthly, rec.Plan)
	assert.True(t, premium)
}

func TestHasPremiumAccess(t *testing.T) {
	soonExpired := testNow.Add(-time.Minute)
	longExpired := testNow.Add(-10 * time.Minute)
	future := testNow.Add(24 * time.Hour)

	tests := []struct {
		name      string
		plan      string
		status    string
		periodEnd *time.Time
		want      bool
	}{
		{"free plan never grants access", models.PlanFree, models.SubscriptionStatusActive, &future, false},
		{"active within period", models.PlanPremiumMonthly, models.SubscriptionStatusActive, &future, true},
		{"active without period end", models.PlanCustom, models.SubscriptionStatusActive, nil, true},
		{"trialing grants access", models.PlanPremiumMonthly, models.SubscriptionStatusTrialing, &future, true},
		{"past_due grants access", models.PlanPremiumMonthly, models.SubscriptionStatusPastDue, &future, true},
		{"canceled denies access", models.PlanPremiumMonthly, models.SubscriptionStatusCanceled, &future, false},
		{"unpaid denies access", models.PlanPremiumMonthly, models.SubscriptionStatusUnpaid, &future, false},
		{"period end inside grace window", models.PlanPremiumMonthly, models.SubscriptionStatusActive, &soonExpired, true},
		{"period end beyond grace window", models.PlanPremiumMonthly, models.SubscriptionStatusActive, &longExpired, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &models.EntitlementRecord{
				Plan:             tt.plan,
				Status:           tt.status,
				CurrentPeriodEnd: tt.periodEnd,
			}
			if got := HasPremiumAccess(rec, testNow); got != tt.want {
				t.Errorf("HasPremiumAccess() = %t, want %t", got, tt.want)
			}
		})
	}

	assert.False(t, HasPremiumAccess(nil, testNow))
}
