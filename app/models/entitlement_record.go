package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Internal plans derived from provider price ids.
const (
	PlanFree           = "free"
	PlanPremiumMonthly = "premium_monthly"
	PlanPremiumYearly  = "premium_yearly"
	PlanCustom         = "custom"
)

// Subscription statuses mirrored from the provider. StatusNone marks records
// without a live provider subscription (fresh records, manual resets,
// unmapped provider values).
const (
	SubscriptionStatusNone              = "none"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusActive            = "active"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusPaused            = "paused"
)

// Metadata keys written by the entitlement engine. The metadata column is an
// additive bag: writers merge their keys and must not drop keys they do not
// own.
const (
	MetaLastProviderEventID   = "lastProviderEventId"
	MetaLastProviderSyncAt    = "lastProviderSyncAt"
	MetaLastCheckoutSessionID = "lastCheckoutSessionId"
	MetaLastManualResetBy     = "lastManualResetBy"
	MetaLastManualResetAt     = "lastManualResetAt"
)

// EntitlementRecord is the locally cached paid-access state for one
// user/billing relationship. Provider-sourced columns are nullable and
// unique where non-null; rows are never hard-deleted (reset_to_free zeroes
// the provider linkage instead).
type EntitlementRecord struct {
	ID                     uint              `gorm:"primaryKey" json:"-"`
	UUID                   string            `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"id"`
	UserExternalID         *string           `gorm:"type:varchar(191);uniqueIndex:ux_entitlement_records_user_external" json:"user_external_id,omitempty"`
	UserEmail              *string           `gorm:"type:varchar(200);index" json:"user_email,omitempty"`
	Plan                   string            `gorm:"type:varchar(32);not null;default:'free';index" json:"plan"`
	Status                 string            `gorm:"type:varchar(32);not null;default:'none';index" json:"status"`
	ProviderCustomerID     *string           `gorm:"type:varchar(191);uniqueIndex:ux_entitlement_records_provider_customer" json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID *string           `gorm:"type:varchar(191);uniqueIndex:ux_entitlement_records_provider_subscription" json:"provider_subscription_id,omitempty"`
	ProviderPriceID        *string           `gorm:"type:varchar(191)" json:"provider_price_id,omitempty"`
	ProviderProductID      *string           `gorm:"type:varchar(191)" json:"provider_product_id,omitempty"`
	LatestInvoiceID        *string           `gorm:"type:varchar(191)" json:"latest_invoice_id,omitempty"`
	CancelAtPeriodEnd      bool              `gorm:"default:false" json:"cancel_at_period_end"`
	CurrentPeriodStart     *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time        `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEndsAt            *time.Time        `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CheckoutSessionID      *string           `gorm:"type:varchar(191)" json:"checkout_session_id,omitempty"`
	SyncedAt               *time.Time        `gorm:"type:timestamp;default:null" json:"synced_at,omitempty"`
	MismatchReason         *string           `gorm:"type:text" json:"mismatch_reason,omitempty"`
	Metadata               datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt              time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the public UUID used on all API surfaces.
func (r *EntitlementRecord) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	return nil
}
