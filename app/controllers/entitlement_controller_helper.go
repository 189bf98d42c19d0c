package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/davidgeissler/newsprint/app/models"
	"github.com/davidgeissler/newsprint/internal/pkg/cache"
	"github.com/davidgeissler/newsprint/internal/pkg/database"
	"github.com/davidgeissler/newsprint/internal/pkg/entitlement"
)

const entitlementAccessCacheTTL = 60 * time.Second

// newEntitlementService wires the entitlement engine for one request. The
// provider client is optional: read and report paths degrade without it, the
// manual sync action fails explicitly.
func newEntitlementService() *entitlement.Service {
	provider, err := entitlement.NewProviderClientFromEnv()
	if err != nil {
		provider = nil
	}
	return entitlement.NewServiceFromDB(database.GetDB(), provider, entitlement.PlanConfigFromEnv())
}

// entitlementAccessCacheKey returns a cache key when exactly one identity
// hint is present. Combined-hint lookups are always served fresh, so the
// write-path invalidation below stays exact.
func entitlementAccessCacheKey(h entitlement.IdentityHints) string {
	var keys []string
	if v := strings.TrimSpace(h.UserExternalID); v != "" {
		keys = append(keys, "entitlement:access:uid:"+v)
	}
	if v := entitlement.NormalizeEmail(h.UserEmail); v != "" {
		keys = append(keys, "entitlement:access:email:"+v)
	}
	if v := strings.TrimSpace(h.ProviderCustomerID); v != "" {
		keys = append(keys, "entitlement:access:cus:"+v)
	}
	if v := strings.TrimSpace(h.ProviderSubscriptionID); v != "" {
		keys = append(keys, "entitlement:access:sub:"+v)
	}
	if len(keys) == 1 {
		return keys[0]
	}
	return ""
}

// invalidateEntitlementCache drops cached access lookups for every identity
// key on a freshly written record. Best-effort: a cold cache only costs one
// DB read.
func invalidateEntitlementCache(rec *models.EntitlementRecord) {
	if rec == nil {
		return
	}
	var keys []string
	if rec.UserExternalID != nil && *rec.UserExternalID != "" {
		keys = append(keys, "entitlement:access:uid:"+*rec.UserExternalID)
	}
	if rec.UserEmail != nil && *rec.UserEmail != "" {
		keys = append(keys, "entitlement:access:email:"+*rec.UserEmail)
	}
	if rec.ProviderCustomerID != nil && *rec.ProviderCustomerID != "" {
		keys = append(keys, "entitlement:access:cus:"+*rec.ProviderCustomerID)
	}
	if rec.ProviderSubscriptionID != nil && *rec.ProviderSubscriptionID != "" {
		keys = append(keys, "entitlement:access:sub:"+*rec.ProviderSubscriptionID)
	}
	if len(keys) == 0 {
		return
	}
	if err := cache.Delete(keys...); err != nil {
		log.Warnf("entitlement cache invalidation failed: %v", err)
	}
}
