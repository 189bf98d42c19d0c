package entitlement

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/davidgeissler/newsprint/app/models"
)

// providerStatusTable maps the provider's free-text subscription status to
// the local status enum. Unmapped values (including empty) fall back to
// SubscriptionStatusNone instead of failing, so a new provider status is a
// one-line change here.
var providerStatusTable = map[string]string{
	"incomplete":         models.SubscriptionStatusIncomplete,
	"incomplete_expired": models.SubscriptionStatusIncompleteExpired,
	"trialing":           models.SubscriptionStatusTrialing,
	"active":             models.SubscriptionStatusActive,
	"past_due":           models.SubscriptionStatusPastDue,
	"canceled":           models.SubscriptionStatusCanceled,
	"unpaid":             models.SubscriptionStatusUnpaid,
	"paused":             models.SubscriptionStatusPaused,
}

// SnapshotFromSubscription normalizes one provider subscription object into a
// Snapshot. It performs no I/O and is total over any syntactically valid
// provider object: missing pieces degrade to zero values, never panic.
func SnapshotFromSubscription(sub *stripe.Subscription, cfg PlanConfig) Snapshot {
	if sub == nil {
		return Snapshot{Plan: models.PlanCustom, Status: models.SubscriptionStatusNone}
	}

	snap := Snapshot{
		ProviderSubscriptionID: strings.TrimSpace(sub.ID),
		Status:                 statusFromProvider(string(sub.Status)),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		TrialEndsAt:            unixToTime(sub.TrialEnd),
	}

	// The customer reference may arrive as a bare id or an expanded object;
	// stripe-go models both as a struct whose ID is always populated.
	if sub.Customer != nil {
		snap.ProviderCustomerID = strings.TrimSpace(sub.Customer.ID)
	}
	if sub.LatestInvoice != nil {
		snap.LatestInvoiceID = strings.TrimSpace(sub.LatestInvoice.ID)
	}

	// Price, product and period data live on the first line item. A
	// subscription without items is unexpected but must not crash.
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snap.ProviderPriceID = strings.TrimSpace(item.Price.ID)
			if item.Price.Product != nil {
				snap.ProviderProductID = strings.TrimSpace(item.Price.Product.ID)
			}
		}
		snap.CurrentPeriodStart = unixToTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixToTime(item.CurrentPeriodEnd)
	}

	snap.Plan = planForPrice(snap.ProviderPriceID, cfg)
	return snap
}

// planForPrice derives the internal plan from a provider price id by
// comparing against the two configured reference prices. Anything else,
// including a missing price, is a custom (non-standard) paid plan.
func planForPrice(priceID string, cfg PlanConfig) string {
	switch {
	case priceID != "" && priceID == cfg.MonthlyPriceID:
		return models.PlanPremiumMonthly
	case priceID != "" && priceID == cfg.YearlyPriceID:
		return models.PlanPremiumYearly
	default:
		return models.PlanCustom
	}
}

func statusFromProvider(raw string) string {
	if mapped, ok := providerStatusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return models.SubscriptionStatusNone
}

// unixToTime converts provider Unix-seconds fields; non-positive values map
// to nil (absent).
func unixToTime(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
