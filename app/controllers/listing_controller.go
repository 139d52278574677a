package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/app/models"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/bumpwallet"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
)

// ListingController exposes the listing state machine and bumps.
type ListingController struct {
	lifecycle *subscription.Lifecycle
	wallet    *bumpwallet.Wallet
}

func NewListingController(svc *Services) *ListingController {
	return &ListingController{lifecycle: svc.Lifecycle, wallet: svc.Wallet}
}

type createListingRequest struct {
	ID       string `json:"id" validate:"omitempty,max=36"`
	SellerID string `json:"seller_id" validate:"required,max=64"`
}

type bumpRequest struct {
	SellerID string `json:"seller_id" validate:"required,max=64"`
}

// HandleCreate registers a new draft listing.
func (lc *ListingController) HandleCreate(c *fiber.Ctx) error {
	var req createListingRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	listing, err := lc.lifecycle.CreateDraft(c.UserContext(), req.SellerID, req.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(listing)
}

// HandleGet returns the engine state of a listing.
func (lc *ListingController) HandleGet(c *fiber.Ctx) error {
	listing, err := lc.lifecycle.Listing(c.UserContext(), param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(listing)
}

func (lc *ListingController) HandlePublish(c *fiber.Ctx) error {
	return lc.respond(c, lc.lifecycle.Publish)
}

func (lc *ListingController) HandleApprove(c *fiber.Ctx) error {
	return lc.respond(c, lc.lifecycle.Approve)
}

func (lc *ListingController) HandleReject(c *fiber.Ctx) error {
	return lc.respond(c, lc.lifecycle.Reject)
}

func (lc *ListingController) HandleResubmit(c *fiber.Ctx) error {
	return lc.respond(c, lc.lifecycle.Resubmit)
}

// HandleBump spends one bump credit of the seller on the listing.
func (lc *ListingController) HandleBump(c *fiber.Ctx) error {
	var req bumpRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	wallet, err := lc.wallet.Debit(c.UserContext(), req.SellerID, param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(wallet)
}

func (lc *ListingController) respond(c *fiber.Ctx, op func(ctx context.Context, listingID string) (*models.Listing, error)) error {
	listing, err := op(c.UserContext(), param(c, "id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(listing)
}
