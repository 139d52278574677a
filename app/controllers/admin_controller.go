package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/reconcile"
)

// AdminController exposes operational endpoints.
type AdminController struct {
	scheduler *reconcile.Scheduler
	recorder  *notify.Recorder
}

func NewAdminController(svc *Services) *AdminController {
	return &AdminController{scheduler: svc.Scheduler, recorder: svc.Recorder}
}

// HandleReconcile runs a sweep now and returns its report.
func (ac *AdminController) HandleReconcile(c *fiber.Ctx) error {
	report, err := ac.scheduler.TriggerNow(c.UserContext())
	if errors.Is(err, reconcile.ErrSweepInFlight) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":      "in_flight",
			"message":     "A sweep is already running",
			"last_report": ac.scheduler.LastReport(),
		})
	}
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"status": "done", "report": report})
}

// HandleReconcileStatus reports the scheduler state and the last sweep.
func (ac *AdminController) HandleReconcileStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"running":     ac.scheduler.IsRunning(),
		"interval":    ac.scheduler.Interval().String(),
		"last_report": ac.scheduler.LastReport(),
	})
}

// HandleNotifications lists recently delivered notifications, optionally
// filtered by ?kind=.
func (ac *AdminController) HandleNotifications(c *fiber.Ctx) error {
	if ac.recorder == nil {
		return c.JSON(fiber.Map{"notifications": []notify.Event{}})
	}
	events := ac.recorder.Events()
	if kind := c.Query("kind"); kind != "" {
		events = ac.recorder.OfKind(notify.Kind(kind))
	}
	return c.JSON(fiber.Map{"notifications": events})
}
