package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/bumpwallet"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
)

// SellerController reads a seller's entitlements.
type SellerController struct {
	lifecycle *subscription.Lifecycle
	allocator *tierslots.Allocator
	wallet    *bumpwallet.Wallet
}

func NewSellerController(svc *Services) *SellerController {
	return &SellerController{lifecycle: svc.Lifecycle, allocator: svc.Allocator, wallet: svc.Wallet}
}

func (sc *SellerController) HandleEntitlement(c *fiber.Ctx) error {
	e, err := sc.lifecycle.Entitlement(c.UserContext(), param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"entitlement": e,
		"free_ads":    e.FreeAds(),
		"live":        e.IsLive(sc.lifecycle.Clock().Now()),
	})
}

// HandleWallet returns the bump balance; sellers without a wallet have 0.
func (sc *SellerController) HandleWallet(c *fiber.Ctx) error {
	wallet, err := sc.wallet.Balance(c.UserContext(), param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(wallet)
}

func (sc *SellerController) HandleTierSets(c *fiber.Ctx) error {
	sets, err := sc.allocator.Sets(c.UserContext(), param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"tier_sets": sets})
}
