package cancel

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
)

// Causes carried on the cancellation event.
const (
	CauseCustomer = "customer"
	CauseAdmin    = "admin"
)

type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Outcome reports what the compensation actually did. RefundErr is set when
// the cancellation committed but the refund call failed; the order stays
// canceled and the refund needs a manual retry.
type Outcome struct {
	Order     *orders.Order
	Restocked bool
	Refunded  bool
	RefundErr error
}

// Compensator cancels orders and unwinds their side effects: restock when
// stock was claimed, refund when money was captured. The state change
// commits first; refund and notification run after and never undo it.
type Compensator struct {
	Store    orders.Store
	Gateway  payment.Gateway
	Notifier notify.Notifier
	Events   EventSink // optional, order.canceled

	Service string
	Now     func() time.Time
}

func (c *Compensator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Cancel cancels the order on behalf of its owner. userID must match.
func (c *Compensator) Cancel(ctx context.Context, orderID, userID string) (*Outcome, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, orders.ErrNotFound
	}
	return c.cancel(ctx, o, CauseCustomer)
}

// AdminCancel cancels without an ownership check (back-office).
func (c *Compensator) AdminCancel(ctx context.Context, orderID string) (*Outcome, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return c.cancel(ctx, o, CauseAdmin)
}

func (c *Compensator) cancel(ctx context.Context, o *orders.Order, cause string) (*Outcome, error) {
	// The restock and refund decisions come from the status the store read
	// under the row lock: a paid webhook landing between our pre-read and
	// the cancel transaction must still get restock and refund.
	o, prev, err := c.Store.Cancel(ctx, o.ID, c.now())
	if err != nil {
		return nil, err
	}

	wasPaid := prev.Processed()
	out := &Outcome{Order: o, Restocked: orders.StockHeld(prev, o.PaymentMethod)}

	// Refund after commit. A captured payment without an intent id cannot be
	// refunded automatically and is flagged for manual handling.
	if wasPaid {
		switch {
		case o.GatewayRefundID != "":
			out.Refunded = true
		case o.GatewayPaymentIntentID == "":
			log.Printf("cancel: order %s paid but no payment intent recorded, manual refund required", o.Reference)
		default:
			refundID, err := c.Gateway.Refund(ctx, o.GatewayPaymentIntentID, o.TotalCents, "requested_by_customer")
			if err != nil {
				log.Printf("cancel: refund failed for %s, order stays canceled: %v", o.Reference, err)
				out.RefundErr = err
			} else {
				out.Refunded = true
				if err := c.Store.RecordRefund(ctx, o.ID, refundID, c.now()); err != nil {
					log.Printf("cancel: could not persist refund id for %s: %v", o.Reference, err)
				}
			}
		}
	}

	c.publish(o, out.Restocked, out.Refunded, cause)

	if err := c.Notifier.SendCancellationNotice(ctx, o, out.Refunded); err != nil {
		log.Printf("cancel: notice mail for %s: %v", o.Reference, err)
	}

	log.Printf("cancel: order %s canceled cause=%s restocked=%t refunded=%t", o.Reference, cause, out.Restocked, out.Refunded)
	return out, nil
}

func (c *Compensator) publish(o *orders.Order, restocked, refunded bool, cause string) {
	if c.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCanceled,
		EventVersion:  1,
		OccurredAt:    c.now(),
		Producer:      c.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCanceledPayload{
			OrderID:   o.ID,
			Reference: o.Reference,
			UserID:    o.UserID,
			Restocked: restocked,
			Refunded:  refunded,
			Cause:     cause,
		}),
	}
	c.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCanceled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
