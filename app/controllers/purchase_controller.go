package controllers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/billing"
)

// PurchaseController receives payment confirmations.
type PurchaseController struct {
	purchases *billing.Service
	secret    string
}

func NewPurchaseController(svc *Services) *PurchaseController {
	return &PurchaseController{purchases: svc.Purchases, secret: svc.WebhookSecret}
}

// HandleConfirm applies a confirmed purchase. Redelivered events answer 200
// with duplicate=true; new ones answer 201.
func (pc *PurchaseController) HandleConfirm(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if pc.secret != "" && !billing.VerifyPurchaseSignature(rawBody, c.Get(billing.SignatureHeader), pc.secret) {
		log.Warnf("[Purchase] Rejected confirmation with invalid signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Signature verification failed"})
	}

	var event models.PurchaseEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return badRequest(c, "Malformed JSON body")
	}

	result, err := pc.purchases.OnPurchaseConfirmed(c.UserContext(), event)
	if err != nil {
		return errorResponse(c, err)
	}
	if result.Duplicate {
		return c.JSON(result)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}
