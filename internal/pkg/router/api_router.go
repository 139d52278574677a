package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/MarktBoost/app/controllers"
)

type ApiRouter struct {
	services *controllers.Services
	opts     Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	handlers := []fiber.Handler{}
	if h.opts.RateLimit > 0 {
		handlers = append(handlers, limiter.New(limiter.Config{
			Max:        h.opts.RateLimit,
			Expiration: time.Minute,
			Storage:    h.opts.LimiterStorage,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
			},
		}))
	}
	api := app.Group("/api", handlers...)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "MarktBoost entitlement engine",
		})
	})

	v1 := api.Group("/v1")

	purchases := controllers.NewPurchaseController(h.services)
	v1.Post("/purchases", purchases.HandleConfirm)

	listings := controllers.NewListingController(h.services)
	v1.Post("/listings", listings.HandleCreate)
	v1.Get("/listings/:id", listings.HandleGet)
	v1.Post("/listings/:id/publish", listings.HandlePublish)
	v1.Post("/listings/:id/approve", listings.HandleApprove)
	v1.Post("/listings/:id/reject", listings.HandleReject)
	v1.Post("/listings/:id/resubmit", listings.HandleResubmit)
	v1.Post("/listings/:id/bump", listings.HandleBump)

	tierSets := controllers.NewTierSetController(h.services)
	v1.Post("/tier-sets/:id/listings/:listing_id", tierSets.HandleAssign)
	v1.Delete("/tier-sets/:id/listings/:listing_id", tierSets.HandleRelease)

	feed := controllers.NewFeedController(h.services)
	v1.Post("/feed", feed.HandleFeed)

	sellers := controllers.NewSellerController(h.services)
	v1.Get("/sellers/:id/entitlement", sellers.HandleEntitlement)
	v1.Get("/sellers/:id/wallet", sellers.HandleWallet)
	v1.Get("/sellers/:id/tier-sets", sellers.HandleTierSets)

	admin := controllers.NewAdminController(h.services)
	v1.Post("/admin/reconcile", admin.HandleReconcile)
	v1.Get("/admin/reconcile", admin.HandleReconcileStatus)
	v1.Get("/admin/notifications", admin.HandleNotifications)
}

func NewApiRouter(svc *controllers.Services, opts Options) *ApiRouter {
	return &ApiRouter{services: svc, opts: opts}
}
