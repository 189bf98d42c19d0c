package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/davidgeissler/newsprint/app/models"
)

// periodEndGrace keeps access alive across short renewal/webhook delays when
// the stored period end has just lapsed.
const periodEndGrace = 5 * time.Minute

// Service owns the entitlement write path (provider snapshots into local
// records) and the read path (premium access checks). The provider client
// may be nil; only operations that genuinely need it will fail.
type Service struct {
	repo     Repository
	provider ProviderClient
	plans    PlanConfig
	now      func() time.Time
}

// NewService creates an entitlement service from injected collaborators.
func NewService(repo Repository, provider ProviderClient, plans PlanConfig) *Service {
	return &Service{repo: repo, provider: provider, plans: plans, now: time.Now}
}

// NewServiceFromDB creates an entitlement service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider ProviderClient, plans PlanConfig) *Service {
	return NewService(NewRepository(db), provider, plans)
}

// SyncInput is one normalized provider snapshot plus caller-supplied context
// for identity and audit metadata.
type SyncInput struct {
	Snapshot          Snapshot
	UserExternalID    string
	UserEmail         string
	CheckoutSessionID string
	ProviderEventID   string
}

// SyncFromSnapshot upserts the local record for a provider snapshot. The
// provider is authoritative for all provider-sourced fields; identity fields
// only fill in when the caller supplies them. Safe to call repeatedly with
// the same snapshot: a second application converges to the same field values
// and differs only in syncedAt/metadata timestamps.
//
// Ordering is last-write-wins: lastProviderEventId is recorded for audit but
// never compared, so an older event replayed after a newer one regresses the
// record until the next sync. Rejecting stale snapshots needs an ordering
// token the provider events do not currently carry.
func (s *Service) SyncFromSnapshot(ctx context.Context, in SyncInput) (*models.EntitlementRecord, error) {
	_ = ctx
	snap := in.Snapshot
	if strings.TrimSpace(snap.ProviderSubscriptionID) == "" {
		return nil, errors.New("snapshot is missing a provider subscription id")
	}

	// Enrich the caller's hints with the snapshot's own identifiers so the
	// record is found even when the caller only knows the external user id.
	hints := IdentityHints{
		UserExternalID:         strings.TrimSpace(in.UserExternalID),
		UserEmail:              in.UserEmail,
		ProviderCustomerID:     snap.ProviderCustomerID,
		ProviderSubscriptionID: snap.ProviderSubscriptionID,
	}
	existing, err := ResolveRecord(s.repo, hints)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	meta := datatypes.JSONMap{}
	if existing != nil {
		for k, v := range existing.Metadata {
			meta[k] = v
		}
	}
	if eventID := strings.TrimSpace(in.ProviderEventID); eventID != "" {
		meta[models.MetaLastProviderEventID] = eventID
	}
	meta[models.MetaLastProviderSyncAt] = now.Format(time.RFC3339)
	if sessionID := strings.TrimSpace(in.CheckoutSessionID); sessionID != "" {
		meta[models.MetaLastCheckoutSessionID] = sessionID
	}

	rec := existing
	if rec == nil {
		rec = &models.EntitlementRecord{}
	}
	rec.Plan = snap.Plan
	rec.Status = snap.Status
	rec.ProviderSubscriptionID = strPtr(snap.ProviderSubscriptionID)
	rec.ProviderCustomerID = strPtr(snap.ProviderCustomerID)
	rec.ProviderPriceID = strPtr(snap.ProviderPriceID)
	rec.ProviderProductID = strPtr(snap.ProviderProductID)
	rec.LatestInvoiceID = strPtr(snap.LatestInvoiceID)
	rec.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	rec.CurrentPeriodStart = snap.CurrentPeriodStart
	rec.CurrentPeriodEnd = snap.CurrentPeriodEnd
	rec.TrialEndsAt = snap.TrialEndsAt
	if v := strings.TrimSpace(in.UserExternalID); v != "" {
		rec.UserExternalID = &v
	}
	if v := NormalizeEmail(in.UserEmail); v != "" {
		rec.UserEmail = &v
	}
	if v := strings.TrimSpace(in.CheckoutSessionID); v != "" {
		rec.CheckoutSessionID = &v
	}
	rec.SyncedAt = &now
	rec.MismatchReason = nil
	rec.Metadata = meta

	if existing != nil {
		err = s.repo.Update(rec)
	} else {
		err = s.repo.Create(rec)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckoutSyncInput describes an inbound checkout completion or subscription
// notification. Subscription may be a fully expanded object; when it is
// absent or id-only, the full object is resolved from the provider first.
type CheckoutSyncInput struct {
	SubscriptionID    string
	Subscription      *stripe.Subscription
	UserExternalID    string
	UserEmail         string
	CheckoutSessionID string
	ProviderEventID   string
}

// SyncFromCheckout is the event-driven sync entry point for checkout
// completions. It requires at least one application-side identity hint so a
// freshly created record is attributable to a user.
func (s *Service) SyncFromCheckout(ctx context.Context, in CheckoutSyncInput) (*models.EntitlementRecord, error) {
	if strings.TrimSpace(in.UserExternalID) == "" && NormalizeEmail(in.UserEmail) == "" {
		return nil, ErrMissingIdentity
	}

	sub := in.Subscription
	if sub == nil || sub.Items == nil {
		id := strings.TrimSpace(in.SubscriptionID)
		if id == "" && sub != nil {
			id = strings.TrimSpace(sub.ID)
		}
		if id == "" {
			return nil, errors.New("checkout completion carries no subscription reference")
		}
		if s.provider == nil {
			return nil, ErrProviderUnavailable
		}
		full, err := s.provider.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if full == nil {
			return nil, fmt.Errorf("provider subscription %s not found", id)
		}
		sub = full
	}

	return s.SyncFromSnapshot(ctx, SyncInput{
		Snapshot:          SnapshotFromSubscription(sub, s.plans),
		UserExternalID:    in.UserExternalID,
		UserEmail:         in.UserEmail,
		CheckoutSessionID: in.CheckoutSessionID,
		ProviderEventID:   in.ProviderEventID,
	})
}

// GetEntitlement returns the current record for the given hints, or a
// synthesized free/none default when none exists, plus the derived premium
// access flag. The synthesized default is not persisted.
func (s *Service) GetEntitlement(ctx context.Context, hints IdentityHints) (*models.EntitlementRecord, bool, error) {
	_ = ctx
	if hints.IsEmpty() {
		return nil, false, ErrMissingIdentity
	}

	rec, err := ResolveRecord(s.repo, hints)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		rec = &models.EntitlementRecord{
			Plan:           models.PlanFree,
			Status:         models.SubscriptionStatusNone,
			UserExternalID: strPtr(hints.UserExternalID),
			UserEmail:      strPtr(NormalizeEmail(hints.UserEmail)),
			Metadata:       datatypes.JSONMap{},
		}
	}
	return rec, HasPremiumAccess(rec, s.now()), nil
}

// HasPremiumAccess reports whether a record grants paid access: a paid plan,
// an entitling status, and a current period that is absent or not lapsed
// beyond the grace window.
func HasPremiumAccess(rec *models.EntitlementRecord, now time.Time) bool {
	if rec == nil || rec.Plan == models.PlanFree {
		return false
	}
	switch rec.Status {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue:
	default:
		return false
	}
	if rec.CurrentPeriodEnd == nil {
		return true
	}
	return !rec.CurrentPeriodEnd.Add(periodEndGrace).Before(now)
}
