package notify

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// LogNotifier writes events to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindLowBumpBalance:
		balance := int64(0)
		if ev.Balance != nil {
			balance = *ev.Balance
		}
		log.Infof("[Notify] %s seller=%s balance=%d", ev.Kind, ev.SellerID, balance)
	default:
		log.Infof("[Notify] %s seller=%s listings=%d", ev.Kind, ev.SellerID, len(ev.ListingIDs))
	}
	return nil
}
