package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/docsignal/DocSignal/internal/pkg/webhook"
)

var (
	processorGateway *webhook.Gateway
	billingGateway   *webhook.Gateway
)

// SetupWebhookGateways wires the gateways used by the webhook handlers.
// Called once during application startup.
func SetupWebhookGateways(processor, billing *webhook.Gateway) {
	processorGateway = processor
	billingGateway = billing
}

// HandleDocumentEventWebhook receives document processing events from the
// external processor pipeline.
func HandleDocumentEventWebhook(c *fiber.Ctx) error {
	return handleWebhook(c, processorGateway, c.Get("X-Webhook-Signature"))
}

// HandleBillingEventWebhook receives subscription lifecycle events from
// the billing provider.
func HandleBillingEventWebhook(c *fiber.Ctx) error {
	return handleWebhook(c, billingGateway, c.Get("X-Billing-Signature"))
}

func handleWebhook(c *fiber.Ctx, gateway *webhook.Gateway, signatureHeader string) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := gateway.Process(ctx, rawBody, signatureHeader)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrSignatureInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, webhook.ErrMalformedPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			// Transient: tell the sender to retry.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
		}
	}

	if res.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success", "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success"})
}
