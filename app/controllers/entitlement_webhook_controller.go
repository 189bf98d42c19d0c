package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/davidgeissler/newsprint/app/models"
	"github.com/davidgeissler/newsprint/internal/pkg/database"
	"github.com/davidgeissler/newsprint/internal/pkg/entitlement"
	"github.com/davidgeissler/newsprint/internal/pkg/env"
)

// HandleBillingWebhook is the event-driven sync entry point. Events are
// persisted idempotently before processing; a replayed event id is
// acknowledged without a second sync.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := webhook.ConstructEvent(rawBody, c.Get("Stripe-Signature"), secret)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	db := database.GetDB()
	created, stored, err := models.CreateProviderWebhookEventIfNotExists(db, &models.ProviderWebhookEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	svc := newEntitlementService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var rec *models.EntitlementRecord
	var syncErr error

	switch string(event.Type) {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			_ = models.MarkProviderWebhookProcessed(db, stored.ID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		rec, syncErr = svc.SyncFromSnapshot(ctx, entitlement.SyncInput{
			Snapshot:        entitlement.SnapshotFromSubscription(&sub, entitlement.PlanConfigFromEnv()),
			ProviderEventID: event.ID,
		})

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			_ = models.MarkProviderWebhookProcessed(db, stored.ID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		rec, syncErr = svc.SyncFromCheckout(ctx, entitlement.CheckoutSyncInput{
			Subscription:      sess.Subscription,
			UserExternalID:    sess.ClientReferenceID,
			UserEmail:         checkoutEmail(&sess),
			CheckoutSessionID: sess.ID,
			ProviderEventID:   event.ID,
		})
		if errors.Is(syncErr, entitlement.ErrMissingIdentity) {
			_ = models.MarkProviderWebhookProcessed(db, stored.ID, syncErr)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_identity", "message": syncErr.Error()})
		}

	default:
		_ = models.MarkProviderWebhookProcessed(db, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	_ = models.MarkProviderWebhookProcessed(db, stored.ID, syncErr)
	if syncErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
	}

	invalidateEntitlementCache(rec)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func checkoutEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && strings.TrimSpace(sess.CustomerDetails.Email) != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}
