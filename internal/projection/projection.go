package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

// Projector maintains the Redis order-status read cache from the domain
// event stream. The cache is advisory: reads fall back to Postgres on a
// miss, so losing an event only costs a cache round trip.
type Projector struct {
	Redis *redis.Client
}

// Handle is installed as the consumer handler on every order topic. Each
// payload carries the owning user, cached next to the status so the read
// API can serve cache hits without an ownership lookup.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message, commit and move on
		log.Printf("projection: undecodable message on %s: %v", m.Topic, err)
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "projection", env.EventID)
	if seen, _ := redisx.Exists(ctx, p.Redis, dkey); seen {
		return nil
	}

	switch env.EventType {
	case orders.EventOrderCreated:
		pl, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return p.poison(env.EventID, err)
		}
		return p.set(ctx, dkey, pl.OrderID, pl.UserID, orders.StatusAwaitingPayment)
	case orders.EventOrderPaid:
		pl, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return p.poison(env.EventID, err)
		}
		return p.set(ctx, dkey, pl.OrderID, pl.UserID, orders.StatusPaid)
	case orders.EventPaymentFailed:
		pl, err := kafkax.UnwrapPayload[orders.PaymentFailedPayload](env.Payload)
		if err != nil {
			return p.poison(env.EventID, err)
		}
		return p.set(ctx, dkey, pl.OrderID, pl.UserID, orders.StatusFailed)
	case orders.EventOrderCanceled:
		// cancellation and expiry both land on CANCELED
		pl, err := kafkax.UnwrapPayload[orders.OrderCanceledPayload](env.Payload)
		if err != nil {
			return p.poison(env.EventID, err)
		}
		return p.set(ctx, dkey, pl.OrderID, pl.UserID, orders.StatusCanceled)
	case orders.EventStatusChanged:
		pl, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil {
			return p.poison(env.EventID, err)
		}
		return p.set(ctx, dkey, pl.OrderID, pl.UserID, orders.Status(pl.NewStatus))
	}
	return nil
}

func (p *Projector) poison(eventID string, err error) error {
	log.Printf("projection: bad payload for %s: %v", eventID, err)
	return nil
}

func (p *Projector) set(ctx context.Context, dedupKey, orderID, userID string, status orders.Status) error {
	e := redisx.OrderStatusEntry{Status: string(status), UserID: userID}
	if err := redisx.SetOrderStatus(ctx, p.Redis, orderID, e); err != nil {
		// returning the error leaves the offset uncommitted for a retry
		return err
	}
	_ = p.Redis.Set(ctx, dedupKey, "1", redisx.TTLDedup).Err()
	return nil
}
