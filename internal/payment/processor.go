package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/maisonvintage/orderflow/internal/invoice"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

// Processing results reported back on the webhook response body. Everything
// except a signature failure or a transient error is a durable decision the
// gateway must not retry.
const (
	ResultProcessed        = "processed"
	ResultAlreadyProcessed = "already_processed"
	ResultMailFailed       = "processed_mail_client_failed"
	ResultOrderNotFound    = "order_not_found"
	ResultIgnoredNoRef     = "ignored_no_order_ref"
	ResultIgnoredNotPaid   = "ignored_not_paid"
	ResultIgnoredType      = "ignored"
	ResultConflictCanceled = "conflict_canceled"
	ResultFailed           = "failed_recorded"
)

// EventSink is the async domain-event bus (satisfied by kafka.Producer).
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Processor consumes gateway webhook events and drives orders to PAID
// exactly once, whatever the gateway delivers: duplicates, reordering,
// events for unknown orders.
//
// Two guards make the pipeline idempotent:
//   - the PAID status guard makes the stock decrement happen at most once;
//   - the invoiceSent flag, set only after the customer notification is
//     confirmed dispatched, makes the notification happen at most once
//     while letting a replay finish it after a mail failure.
type Processor struct {
	Store    orders.Store
	Invoices invoice.Generator
	Notifier notify.Notifier
	// one producer per topic, both optional
	EventsPaid   EventSink
	EventsFailed EventSink
	Redis        *redis.Client // optional dedup fast path; the DB stays the truth
	Secret       string
	Service      string
	Now          func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// HandleEvent verifies and processes one webhook delivery. A returned error
// is either ErrBadSignature (respond non-2xx, never processed) or a
// transient failure (respond 5xx so the gateway redelivers); every other
// outcome is final and reported through the result string.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	ev, err := VerifyEvent(payload, sigHeader, p.Secret, DefaultTolerance, p.now())
	if err != nil {
		return "", err
	}

	if dup, _ := p.seenBefore(ctx, ev.ID); dup {
		return ResultAlreadyProcessed, nil
	}

	switch ev.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		obj := ev.Data.Object
		if obj.OrderRef() == "" {
			return ResultIgnoredNoRef, nil
		}
		if obj.PaymentStatus != "paid" {
			return ResultIgnoredNotPaid, nil
		}
		res, err := p.processPaid(ctx, obj.OrderRef(), obj.ID, obj.PaymentIntent)
		p.markSeen(ctx, ev.ID, res, err)
		return res, err

	case EventPaymentIntentSucceeded:
		obj := ev.Data.Object
		if obj.OrderRef() == "" {
			return ResultIgnoredNoRef, nil
		}
		res, err := p.processPaid(ctx, obj.OrderRef(), "", obj.ID)
		p.markSeen(ctx, ev.ID, res, err)
		return res, err

	case EventAsyncPaymentFailed, EventPaymentIntentFailed:
		res, err := p.processFailed(ctx, ev.Data.Object)
		p.markSeen(ctx, ev.ID, res, err)
		return res, err

	default:
		log.Printf("webhook: event type %s ignored", ev.Type)
		return ResultIgnoredType, nil
	}
}

func (p *Processor) processPaid(ctx context.Context, orderRef, sessionID, intentID string) (string, error) {
	o, err := p.Store.GetByReference(ctx, orderRef)
	if errors.Is(err, orders.ErrNotFound) {
		log.Printf("webhook: no order for reference %s", orderRef)
		return ResultOrderNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", orderRef, err)
	}

	// record gateway ids write-once; failure here must not block payment
	if sessionID != "" || intentID != "" {
		if err := p.Store.RecordGatewayRefs(ctx, o.ID, sessionID, intentID); err != nil {
			log.Printf("webhook: could not record gateway refs for %s: %v", orderRef, err)
		}
	}

	// idempotence gate: the whole pipeline already ran to completion
	if o.InvoiceSent {
		return ResultAlreadyProcessed, nil
	}

	o, already, err := p.Store.MarkPaid(ctx, orderRef, p.now())
	if errors.Is(err, orders.ErrNotAwaitingPayment) {
		// the reaper or a cancellation won the race; the captured payment
		// needs a manual refund
		log.Printf("webhook: paid event for %s order %s, no state change", o.Status, orderRef)
		return ResultConflictCanceled, nil
	}
	if err != nil {
		return "", fmt.Errorf("mark paid %s: %w", orderRef, err)
	}

	if !already {
		p.publish(p.EventsPaid, orders.EventOrderPaid, o.ID, orders.OrderPaidPayload{
			OrderID: o.ID, Reference: o.Reference, UserID: o.UserID, TotalCents: o.TotalCents, PaidAt: *o.PaidAt,
		})
	}

	// Post-commit side effects. The order is PAID and stock is taken; from
	// here only the notification remains, completable by a later replay.
	clientDoc, err := p.Invoices.Generate(ctx, o, invoice.CopyClient)
	if err != nil {
		return "", fmt.Errorf("generate client invoice %s: %w", orderRef, err)
	}

	if err := p.Notifier.SendOrderConfirmation(ctx, o, clientDoc); err != nil {
		log.Printf("webhook: client mail failed for %s, invoice NOT marked sent: %v", orderRef, err)
		return ResultMailFailed, nil
	}
	if err := p.Store.MarkInvoiceSent(ctx, o.ID); err != nil {
		log.Printf("webhook: could not persist invoice_sent for %s: %v", orderRef, err)
	}

	// seller copy never gates anything
	if sellerDoc, err := p.Invoices.Generate(ctx, o, invoice.CopySeller); err != nil {
		log.Printf("webhook: seller invoice for %s: %v", orderRef, err)
	} else if err := p.Notifier.SendSellerCopy(ctx, o, sellerDoc); err != nil {
		log.Printf("webhook: seller mail for %s: %v", orderRef, err)
	}

	log.Printf("webhook: order %s processed, stock decremented, client notified", orderRef)
	return ResultProcessed, nil
}

func (p *Processor) processFailed(ctx context.Context, obj EventObject) (string, error) {
	orderRef := obj.OrderRef()
	if orderRef == "" {
		return ResultIgnoredNoRef, nil
	}
	if obj.LastPaymentError != nil {
		log.Printf("webhook: payment failed for %s: %s (%s)", orderRef, obj.LastPaymentError.Message, obj.LastPaymentError.Code)
	}

	o, err := p.Store.MarkFailed(ctx, orderRef, p.now())
	if errors.Is(err, orders.ErrNotFound) {
		return ResultOrderNotFound, nil
	}
	if errors.Is(err, orders.ErrInvalidTransition) {
		// already paid, canceled or failed: nothing to record
		return ResultAlreadyProcessed, nil
	}
	if err != nil {
		return "", fmt.Errorf("mark failed %s: %w", orderRef, err)
	}

	reason := ""
	if obj.LastPaymentError != nil {
		reason = obj.LastPaymentError.Code
	}
	p.publish(p.EventsFailed, orders.EventPaymentFailed, o.ID, orders.PaymentFailedPayload{
		OrderID: o.ID, Reference: o.Reference, UserID: o.UserID, Reason: reason,
	})

	if o.UserEmail != "" {
		if err := p.Notifier.SendStatusUpdate(ctx, o); err != nil {
			log.Printf("webhook: status mail for %s: %v", orderRef, err)
		}
	}
	return ResultFailed, nil
}

func (p *Processor) publish(sink EventSink, eventType, orderID string, payload any) {
	if sink == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    p.now(),
		Producer:      p.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	sink.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (p *Processor) seenBefore(ctx context.Context, eventID string) (bool, error) {
	if p.Redis == nil || eventID == "" {
		return false, nil
	}
	key := fmt.Sprintf(redisx.KeyDedup, "webhook", eventID)
	return redisx.Exists(ctx, p.Redis, key)
}

// markSeen records the event id only after a fully settled outcome.
// Transient failures and a failed client mail stay retryable: a replayed
// event must still be able to finish the notification.
func (p *Processor) markSeen(ctx context.Context, eventID, result string, procErr error) {
	if p.Redis == nil || eventID == "" || procErr != nil || result == ResultMailFailed {
		return
	}
	key := fmt.Sprintf(redisx.KeyDedup, "webhook", eventID)
	_ = p.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
}
