package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/davidgeissler/newsprint/internal/pkg/entitlement"
	"github.com/davidgeissler/newsprint/internal/pkg/middleware"
)

type reconciliationActionRequest struct {
	EntitlementID string `json:"entitlement_id"`
	Action        string `json:"action"`
}

// HandleEntitlementReconciliationReport renders the operator comparison of
// local entitlement records against live provider state.
func HandleEntitlementReconciliationReport(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	svc := newEntitlementService()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := svc.BuildReport(ctx, limit)
	if err != nil {
		log.Errorf("reconciliation report failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "report_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

// HandleEntitlementReconciliationAction applies one operator-triggered
// reconciliation action to a record.
func HandleEntitlementReconciliationAction(c *fiber.Ctx) error {
	var req reconciliationActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	actor, _ := c.Locals(middleware.OperatorIDLocal).(string)

	svc := newEntitlementService()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.HandleAction(ctx, entitlement.ActionInput{
		EntitlementID: req.EntitlementID,
		Action:        req.Action,
		ActorID:       actor,
	})
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrUnsupportedAction),
			errors.Is(err, entitlement.ErrMissingEntitlementID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
		case errors.Is(err, entitlement.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
		case errors.Is(err, entitlement.ErrProviderUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "provider_unavailable", "message": err.Error()})
		default:
			log.Errorf("reconciliation action %q failed: %v", req.Action, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "action_failed"})
		}
	}

	invalidateEntitlementCache(result.Record)
	return c.Status(fiber.StatusOK).JSON(result)
}
