package payment

import (
	"context"
	"errors"
)

// ErrGatewayUnavailable marks a failed call to the payment provider. The
// order is left in a state where the call can simply be retried.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type LineItem struct {
	Name       string
	UnitAmount int // cents
	Quantity   int
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
}

type SessionInfo struct {
	ID              string
	PaymentStatus   string // "paid" | "unpaid" | ...
	PaymentIntentID string
	OrderRef        string
	CustomerEmail   string
}

// Gateway is the narrow surface the core needs from the payment provider.
type Gateway interface {
	// CreateCheckoutSession opens a hosted payment session carrying the
	// order reference as correlation metadata.
	CreateCheckoutSession(ctx context.Context, items []LineItem, orderRef, customerEmail string) (CheckoutSession, error)

	RetrieveSession(ctx context.Context, sessionID string) (SessionInfo, error)

	// Refund reverses a captured payment. amountCents <= 0 refunds in full.
	Refund(ctx context.Context, paymentIntentID string, amountCents int, reason string) (refundID string, err error)
}

// Webhook event types delivered by the gateway.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

// EventObject is the union of the session/intent fields the processor reads.
type EventObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
	PaymentStatus     string            `json:"payment_status,omitempty"`
	PaymentIntent     string            `json:"payment_intent,omitempty"`
	CustomerEmail     string            `json:"customer_email,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	LastPaymentError  *PaymentError     `json:"last_payment_error,omitempty"`
}

type PaymentError struct {
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// OrderRef resolves the correlation reference: metadata first, then the
// client reference id.
func (o EventObject) OrderRef() string {
	if ref, ok := o.Metadata["order_ref"]; ok && ref != "" {
		return ref
	}
	return o.ClientReferenceID
}
