package entitlement

import (
	"fmt"
	"time"

	"github.com/davidgeissler/newsprint/app/models"
)

// periodSkewTolerance absorbs clock and serialization skew when comparing
// period timestamps between the local record and the provider.
const periodSkewTolerance = 60 * time.Second

// Mismatch reasons for records without any provider snapshot.
const (
	ReasonProviderSubscriptionMissing = "provider subscription could not be found"
	ReasonPaidWithoutProviderSource   = "local entitlement indicates paid access without a provider source"
)

// MismatchReasons compares a local record against a provider snapshot (nil
// means the provider had no subscription for the record) and returns one
// human-readable reason per disagreeing field. An empty result means the
// record is in sync. Pure and side-effect-free; the report path and the
// tests use it identically.
func MismatchReasons(rec *models.EntitlementRecord, snap *Snapshot) []string {
	var reasons []string
	if rec == nil {
		return reasons
	}

	if snap == nil {
		if deref(rec.ProviderSubscriptionID) != "" {
			reasons = append(reasons, ReasonProviderSubscriptionMissing)
		}
		// A record that is already free/none simply has nothing to compare.
		if rec.Plan != models.PlanFree || rec.Status != models.SubscriptionStatusNone {
			reasons = append(reasons, ReasonPaidWithoutProviderSource)
		}
		return reasons
	}

	if rec.Plan != snap.Plan {
		reasons = append(reasons, fmt.Sprintf("plan differs: local=%s provider=%s", rec.Plan, snap.Plan))
	}
	if rec.Status != snap.Status {
		reasons = append(reasons, fmt.Sprintf("status differs: local=%s provider=%s", rec.Status, snap.Status))
	}
	if deref(rec.ProviderPriceID) != snap.ProviderPriceID {
		reasons = append(reasons, fmt.Sprintf("price id differs: local=%s provider=%s",
			orNone(deref(rec.ProviderPriceID)), orNone(snap.ProviderPriceID)))
	}
	if rec.CancelAtPeriodEnd != snap.CancelAtPeriodEnd {
		reasons = append(reasons, fmt.Sprintf("cancel-at-period-end differs: local=%t provider=%t",
			rec.CancelAtPeriodEnd, snap.CancelAtPeriodEnd))
	}
	if deref(rec.LatestInvoiceID) != snap.LatestInvoiceID {
		reasons = append(reasons, fmt.Sprintf("latest invoice id differs: local=%s provider=%s",
			orNone(deref(rec.LatestInvoiceID)), orNone(snap.LatestInvoiceID)))
	}
	if !timesAligned(rec.CurrentPeriodStart, snap.CurrentPeriodStart) {
		reasons = append(reasons, fmt.Sprintf("current period start differs: local=%s provider=%s",
			formatTime(rec.CurrentPeriodStart), formatTime(snap.CurrentPeriodStart)))
	}
	if !timesAligned(rec.CurrentPeriodEnd, snap.CurrentPeriodEnd) {
		reasons = append(reasons, fmt.Sprintf("current period end differs: local=%s provider=%s",
			formatTime(rec.CurrentPeriodEnd), formatTime(snap.CurrentPeriodEnd)))
	}
	return reasons
}

// timesAligned treats both-nil as aligned, exactly one nil as misaligned and
// otherwise compares within the skew tolerance.
func timesAligned(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d <= periodSkewTolerance
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}
