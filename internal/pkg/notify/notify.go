package notify

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Kind identifies a seller-facing notification.
type Kind string

const (
	KindLowBumpBalance      Kind = "LowBumpBalance"
	KindSubscriptionExpired Kind = "SubscriptionExpired"
	KindListingsReactivated Kind = "ListingsReactivated"
)

// Event is emitted after the state change it describes has committed.
type Event struct {
	Kind       Kind      `json:"kind"`
	SellerID   string    `json:"seller_id"`
	ListingIDs []string  `json:"listing_ids,omitempty"`
	Balance    *int64    `json:"balance,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events to the notification service.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch delivers events one by one. Delivery is best effort: failures are
// logged and never returned.
func Dispatch(ctx context.Context, n Notifier, events []Event) {
	if n == nil {
		return
	}
	for _, ev := range events {
		if err := n.Notify(ctx, ev); err != nil {
			log.Warnf("[Notify] Failed to deliver %s for seller %s: %v", ev.Kind, ev.SellerID, err)
		}
	}
}

// Outbox collects events produced inside a transaction. It is flushed only
// after the transaction committed; a retried attempt starts a new outbox.
type Outbox struct {
	events []Event
}

// Add queues ev. A nil outbox drops it.
func (o *Outbox) Add(ev Event) {
	if o == nil {
		return
	}
	o.events = append(o.events, ev)
}

// Events returns the queued events.
func (o *Outbox) Events() []Event {
	if o == nil {
		return nil
	}
	return o.events
}

// Flush dispatches and clears the queued events.
func (o *Outbox) Flush(ctx context.Context, n Notifier) {
	if o == nil {
		return
	}
	Dispatch(ctx, n, o.events)
	o.events = nil
}
