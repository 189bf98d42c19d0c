package entitlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/davidgeissler/newsprint/app/models"
)

// Operator-triggered reconciliation actions.
const (
	ActionSyncFromProvider = "sync_from_provider"
	ActionResetToFree      = "reset_to_free"
)

const noteNoProviderSubscription = "manual sync requested but no provider subscription was found"

// ActionInput addresses one record by its public UUID. ActorID identifies
// the operator for the audit trail.
type ActionInput struct {
	EntitlementID string
	Action        string
	ActorID       string
}

// ActionResult carries the updated record and an operator-facing note.
type ActionResult struct {
	Action string                    `json:"action"`
	Record *models.EntitlementRecord `json:"updatedRecord"`
	Note   string                    `json:"note"`
}

// HandleAction runs one operator-triggered reconciliation action.
// Unsupported actions are rejected before any record lookup; a missing or
// unknown record id is a client error, never a silent no-op.
func (s *Service) HandleAction(ctx context.Context, in ActionInput) (*ActionResult, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	switch action {
	case ActionSyncFromProvider, ActionResetToFree:
	default:
		return nil, ErrUnsupportedAction
	}

	id := strings.TrimSpace(in.EntitlementID)
	if id == "" {
		return nil, ErrMissingEntitlementID
	}
	rec, err := s.repo.FindByUUID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if action == ActionSyncFromProvider {
		return s.syncFromProvider(ctx, rec)
	}
	return s.resetToFree(rec, in.ActorID)
}

// syncFromProvider pulls live provider state through the shared fallback
// chain. A full provider miss is not a failure: the record is annotated and
// the action reports success with an explanatory note.
func (s *Service) syncFromProvider(ctx context.Context, rec *models.EntitlementRecord) (*ActionResult, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	sub, err := lookupProviderSubscription(ctx, s.provider, rec)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		now := s.now().UTC()
		reason := noteNoProviderSubscription
		rec.MismatchReason = &reason
		rec.SyncedAt = &now
		if err := s.repo.Update(rec); err != nil {
			return nil, err
		}
		return &ActionResult{Action: ActionSyncFromProvider, Record: rec, Note: noteNoProviderSubscription}, nil
	}

	snap := SnapshotFromSubscription(sub, s.plans)
	updated, err := s.SyncFromSnapshot(ctx, SyncInput{
		Snapshot: snap,
		// Carry the record's own identity so the upsert lands on this record
		// even when the subscription was located via customer id or email.
		UserExternalID: deref(rec.UserExternalID),
		UserEmail:      deref(rec.UserEmail),
	})
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		Action: ActionSyncFromProvider,
		Record: updated,
		Note:   "synchronized from provider subscription " + snap.ProviderSubscriptionID,
	}, nil
}

// resetToFree is a local-only override: it zeroes the provider linkage and
// access state without calling the provider, so it must never be read as
// canceling the underlying subscription. The customer id is kept so a later
// manual sync can still find the customer's subscriptions.
func (s *Service) resetToFree(rec *models.EntitlementRecord, actorID string) (*ActionResult, error) {
	now := s.now().UTC()
	meta := datatypes.JSONMap{}
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	meta[models.MetaLastManualResetBy] = strings.TrimSpace(actorID)
	meta[models.MetaLastManualResetAt] = now.Format(time.RFC3339)

	rec.Plan = models.PlanFree
	rec.Status = models.SubscriptionStatusNone
	rec.ProviderSubscriptionID = nil
	rec.ProviderPriceID = nil
	rec.ProviderProductID = nil
	rec.LatestInvoiceID = nil
	rec.CancelAtPeriodEnd = false
	rec.CurrentPeriodStart = nil
	rec.CurrentPeriodEnd = nil
	rec.TrialEndsAt = nil
	rec.SyncedAt = &now
	rec.MismatchReason = nil
	rec.Metadata = meta

	if err := s.repo.Update(rec); err != nil {
		return nil, err
	}
	return &ActionResult{
		Action: ActionResetToFree,
		Record: rec,
		Note:   "entitlement reset to free locally; any provider subscription was left untouched",
	}, nil
}
