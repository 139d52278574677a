package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
)

var validate = validator.New()

// errorResponse maps engine errors to status codes and actionable messages.
func errorResponse(c *fiber.Ctx, err error) error {
	status, code, message := fiber.StatusInternalServerError, "internal_server_error", "Unexpected error"

	switch {
	case errors.Is(err, entitlements.ErrCapacityExceeded):
		status, code, message = fiber.StatusConflict, "capacity_exceeded", "All slots are taken, buy more slots"
	case errors.Is(err, entitlements.ErrInsufficientCredits):
		status, code, message = fiber.StatusPaymentRequired, "insufficient_credits", "No bump credits left, buy more credits"
	case entitlements.IsEntitlementError(err):
		status, code, message = fiber.StatusForbidden, "not_entitled", "Subscription inactive, renew to reactivate"
	case errors.Is(err, entitlements.ErrAlreadyAssigned):
		status, code, message = fiber.StatusConflict, "already_assigned", "Listing already holds this kind of slot"
	case errors.Is(err, entitlements.ErrNotAssigned):
		status, code, message = fiber.StatusConflict, "not_assigned", "Listing does not hold this slot"
	case errors.Is(err, entitlements.ErrConcurrencyConflict):
		status, code, message = fiber.StatusServiceUnavailable, "conflict", "Concurrent update, try again"
	case errors.Is(err, entitlements.ErrNotFound):
		status, code, message = fiber.StatusNotFound, "not_found", "Resource not found"
	case errors.Is(err, entitlements.ErrInvalidTransition):
		status, code, message = fiber.StatusConflict, "invalid_transition", "Listing cannot change to this status"
	case errors.Is(err, entitlements.ErrInvalidInput):
		status, code, message = fiber.StatusBadRequest, "invalid_input", "Invalid request"
	default:
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
	}

	return c.Status(status).JSON(fiber.Map{"error": code, "message": message, "detail": err.Error()})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_input", "message": message})
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("malformed JSON body")
	}
	return validate.Struct(out)
}

func param(c *fiber.Ctx, name string) string {
	return strings.TrimSpace(c.Params(name))
}
