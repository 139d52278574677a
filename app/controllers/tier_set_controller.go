package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
)

// TierSetController assigns listings to purchased tier slots.
type TierSetController struct {
	allocator *tierslots.Allocator
}

func NewTierSetController(svc *Services) *TierSetController {
	return &TierSetController{allocator: svc.Allocator}
}

// HandleAssign puts a listing into a free slot of the set.
func (tc *TierSetController) HandleAssign(c *fiber.Ctx) error {
	listing, err := tc.allocator.Assign(c.UserContext(), param(c, "id"), param(c, "listing_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(listing)
}

// HandleRelease frees the listing's slot.
func (tc *TierSetController) HandleRelease(c *fiber.Ctx) error {
	if err := tc.allocator.Release(c.UserContext(), param(c, "id"), param(c, "listing_id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
