package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderPaid     = "OrderPaid"
	EventPaymentFailed = "PaymentFailed"
	EventOrderCanceled = "OrderCanceled"
	EventStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type LineQty struct {
	ArticleID string `json:"article_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID       string    `json:"order_id"`
	Reference     string    `json:"reference"`
	UserID        string    `json:"user_id"`
	PaymentMethod string    `json:"payment_method"`
	Lines         []LineQty `json:"lines"`
	TotalCents    int       `json:"total_cents"`
	ReservedUntil time.Time `json:"reserved_until"`
}

type OrderPaidPayload struct {
	OrderID    string    `json:"order_id"`
	Reference  string    `json:"reference"`
	UserID     string    `json:"user_id"`
	TotalCents int       `json:"total_cents"`
	PaidAt     time.Time `json:"paid_at"`
}

type PaymentFailedPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}

type OrderCanceledPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	UserID    string `json:"user_id"`
	Restocked bool   `json:"restocked"`
	Refunded  bool   `json:"refunded"`
	Cause     string `json:"cause"` // customer | admin | expiry
}

type StatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	UserID    string `json:"user_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}
