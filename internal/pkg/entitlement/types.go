package entitlement

import (
	"errors"
	"strings"
	"time"

	"github.com/davidgeissler/newsprint/internal/pkg/env"
)

// Snapshot is the provider-agnostic, transient projection of exactly one
// provider subscription object. It is never persisted as-is; the sync engine
// folds it into an EntitlementRecord.
type Snapshot struct {
	ProviderSubscriptionID string     `json:"providerSubscriptionId"`
	ProviderCustomerID     string     `json:"providerCustomerId,omitempty"`
	ProviderPriceID        string     `json:"providerPriceId,omitempty"`
	ProviderProductID      string     `json:"providerProductId,omitempty"`
	LatestInvoiceID        string     `json:"latestInvoiceId,omitempty"`
	Plan                   string     `json:"plan"`
	Status                 string     `json:"status"`
	CancelAtPeriodEnd      bool       `json:"cancelAtPeriodEnd"`
	CurrentPeriodStart     *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"currentPeriodEnd,omitempty"`
	TrialEndsAt            *time.Time `json:"trialEndsAt,omitempty"`
}

// PlanConfig holds the two configured reference price ids used for plan
// detection. Any other (or missing) price id maps to PlanCustom.
type PlanConfig struct {
	MonthlyPriceID string
	YearlyPriceID  string
}

// PlanConfigFromEnv reads the reference price ids from the environment.
func PlanConfigFromEnv() PlanConfig {
	return PlanConfig{
		MonthlyPriceID: strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MONTHLY", "")),
		YearlyPriceID:  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_YEARLY", "")),
	}
}

// IdentityHints carries the optional keys usable to locate a record. Any
// subset may be set; empty strings count as absent.
type IdentityHints struct {
	UserExternalID         string
	UserEmail              string
	ProviderCustomerID     string
	ProviderSubscriptionID string
}

// IsEmpty reports whether no usable hint is present.
func (h IdentityHints) IsEmpty() bool {
	return strings.TrimSpace(h.UserExternalID) == "" &&
		NormalizeEmail(h.UserEmail) == "" &&
		strings.TrimSpace(h.ProviderCustomerID) == "" &&
		strings.TrimSpace(h.ProviderSubscriptionID) == ""
}

// NormalizeEmail trims and lower-cases an email hint. An empty result counts
// as an absent hint.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	// ErrMissingEntitlementID is returned when an action is requested
	// without a record id.
	ErrMissingEntitlementID = errors.New("entitlement id is required")
	// ErrUnsupportedAction is returned for unknown action identifiers,
	// before any record lookup is attempted.
	ErrUnsupportedAction = errors.New("unsupported reconciliation action")
	// ErrRecordNotFound is returned when the addressed record does not exist.
	ErrRecordNotFound = errors.New("entitlement record not found")
	// ErrMissingIdentity is returned when an operation requires at least one
	// identity hint and none was supplied.
	ErrMissingIdentity = errors.New("at least one identity hint is required")
	// ErrProviderUnavailable is returned when the billing provider client is
	// required but not configured.
	ErrProviderUnavailable = errors.New("billing provider is not configured")
)

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
