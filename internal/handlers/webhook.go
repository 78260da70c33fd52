package handlers

import (
	"log"

	"dealflow/internal/services/escrow"
	"dealflow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	reconciler escrow.Service
}

func NewWebhookHandler(reconciler escrow.Service) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandlePaymentWebhook receives the payment processor's signed event
// payload. Signature failures are the processor's fault and get a 400.
// Internal failures while processing a recognized event still return 200
// with {received:true}: the processor redelivers at-least-once and a
// non-2xx would only produce a retry storm, so the failure is logged for
// out-of-band alerting instead.
func (h *WebhookHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")

	event, err := h.reconciler.VerifyAndParse(payload, sigHeader)
	if err != nil {
		log.Printf("webhook signature verification failed: %v", err)
		return response.FromError(c, err)
	}

	if err := h.reconciler.HandleEvent(c.Context(), event); err != nil {
		log.Printf("webhook processing error for event %s (%s): %v", event.ID, event.Type, err)
	}

	return c.JSON(fiber.Map{"received": true})
}
