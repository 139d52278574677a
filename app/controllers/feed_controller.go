package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/ranking"
)

// FeedController orders candidate listings for display.
type FeedController struct {
	ranking *ranking.Engine
}

func NewFeedController(svc *Services) *FeedController {
	return &FeedController{ranking: svc.Ranking}
}

type feedRequest struct {
	ListingIDs []string `json:"listing_ids" validate:"required,min=1,max=1000,dive,required,max=36"`
	Placement  string   `json:"placement" validate:"omitempty,max=50"`
}

// HandleFeed returns the active candidates in feed order.
func (fc *FeedController) HandleFeed(c *fiber.Ctx) error {
	var req feedRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	listings, err := fc.ranking.Order(c.UserContext(), req.ListingIDs, req.Placement)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"placement":   req.Placement,
		"listing_ids": ranking.IDs(listings),
		"listings":    listings,
	})
}
