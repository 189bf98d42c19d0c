package controllers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/davidgeissler/newsprint/internal/pkg/cache"
	"github.com/davidgeissler/newsprint/internal/pkg/entitlement"
)

// HandleGetEntitlement is the read accessor the host application calls to
// gate premium features. Unknown users get a synthesized free/none record so
// callers never need a special-case for "no row yet".
func HandleGetEntitlement(c *fiber.Ctx) error {
	hints := entitlement.IdentityHints{
		UserExternalID:         c.Query("user_external_id"),
		UserEmail:              c.Query("email"),
		ProviderCustomerID:     c.Query("provider_customer_id"),
		ProviderSubscriptionID: c.Query("provider_subscription_id"),
	}

	cacheKey := entitlementAccessCacheKey(hints)
	if cacheKey != "" {
		if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
			c.Type("json")
			return c.SendString(cached)
		}
	}

	svc := newEntitlementService()
	rec, premium, err := svc.GetEntitlement(context.Background(), hints)
	if err != nil {
		if errors.Is(err, entitlement.ErrMissingIdentity) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		}
		log.Errorf("entitlement lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	body, err := json.Marshal(fiber.Map{"record": rec, "has_premium_access": premium})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "encode_failed"})
	}
	if cacheKey != "" {
		// Best-effort: a cache failure only costs the next caller a DB read.
		_ = cache.Set(cacheKey, string(body), entitlementAccessCacheTTL)
	}
	c.Type("json")
	return c.Send(body)
}
