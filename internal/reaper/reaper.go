package reaper

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
)

type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Reaper releases orders whose payment window lapsed. Each order is handled
// in its own transaction with the status re-checked under lock, so a payment
// landing mid-sweep always wins.
type Reaper struct {
	Store    orders.Store
	Notifier notify.Notifier
	Events   EventSink // optional, order.canceled

	Interval time.Duration
	Service  string
	Now      func() time.Time
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Run sweeps on a ticker until the context is canceled. One sweep runs
// immediately at startup.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce releases every currently expired order. A failure on one order is
// logged and the sweep moves on; the next tick retries whatever is left.
func (r *Reaper) RunOnce(ctx context.Context) (released int) {
	now := r.now()
	expired, err := r.Store.FindExpiredPending(ctx, now)
	if err != nil {
		log.Printf("reaper: listing expired orders: %v", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}
	log.Printf("reaper: %d expired order(s) to release", len(expired))

	for _, exp := range expired {
		o, ok, err := r.Store.ReleaseExpired(ctx, exp.ID, now)
		if err != nil {
			// o is nil here, log the id from the listing
			log.Printf("reaper: releasing %s: %v", exp.ID, err)
			continue
		}
		if !ok {
			// paid or canceled since the listing
			continue
		}
		released++
		restocked := o.PaymentMethod.Eager()
		log.Printf("reaper: order %s expired and canceled restocked=%t", o.Reference, restocked)

		r.publish(o, restocked)
		if err := r.Notifier.SendStatusUpdate(ctx, o); err != nil {
			log.Printf("reaper: status mail for %s: %v", o.Reference, err)
		}
	}
	return released
}

func (r *Reaper) publish(o *orders.Order, restocked bool) {
	if r.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCanceled,
		EventVersion:  1,
		OccurredAt:    r.now(),
		Producer:      r.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCanceledPayload{
			OrderID:   o.ID,
			Reference: o.Reference,
			UserID:    o.UserID,
			Restocked: restocked,
			Refunded:  false,
			Cause:     "expiry",
		}),
	}
	r.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCanceled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
