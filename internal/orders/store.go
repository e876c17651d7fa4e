package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrReferenceTaken    = errors.New("order reference already taken")
	ErrNotCancellable    = errors.New("order can no longer be canceled")
	ErrAlreadyCanceled   = errors.New("order already canceled")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotAwaitingPayment: a paid event arrived for an order that already
	// left AWAITING_PAYMENT through another path (reaper, failure).
	ErrNotAwaitingPayment = errors.New("order is not awaiting payment")
)

// Store persists orders and drives their transactional state changes. Stock
// mutations that belong to a state change happen inside the same
// transaction (see ledger).
type Store interface {
	// CreateOrder inserts the order with its lines. For eager payment
	// methods (bank transfer) each line's stock is reserve-or-decremented
	// in the same transaction; a shortage rolls everything back and
	// returns *ledger.InsufficientStockError.
	CreateOrder(ctx context.Context, o *Order) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]*Order, error)

	// RecordGatewayRefs stores gateway ids write-once: an id already set is
	// never overwritten.
	RecordGatewayRefs(ctx context.Context, orderID, sessionID, intentID string) error

	// MarkPaid promotes AWAITING_PAYMENT to PAID, decrementing stock for
	// every line and clearing the reservation window, all in one
	// transaction. already=true (no side effects) when the order is
	// already PAID or beyond; ErrNotAwaitingPayment when it is canceled or
	// failed.
	MarkPaid(ctx context.Context, reference string, now time.Time) (o *Order, already bool, err error)

	// MarkInvoiceSent flips the write-once idempotence flag after the
	// customer notification was confirmed dispatched.
	MarkInvoiceSent(ctx context.Context, orderID string) error

	MarkFailed(ctx context.Context, reference string, now time.Time) (*Order, error)

	// Cancel moves a cancellable order to CANCELED. Whether the lines are
	// restocked is derived from the status and payment method read under
	// the row lock (StockHeld), so a payment committing just before the
	// cancellation still gets its stock back. prev is that locked
	// pre-cancel status, for the caller's refund decision.
	Cancel(ctx context.Context, orderID string, now time.Time) (o *Order, prev Status, err error)

	RecordRefund(ctx context.Context, orderID, refundID string, now time.Time) error

	// FindExpiredPending lists AWAITING_PAYMENT orders whose reservation
	// window lapsed.
	FindExpiredPending(ctx context.Context, now time.Time) ([]*Order, error)

	// ReleaseExpired cancels one expired order in its own transaction,
	// re-checking the status under lock. released=false means another
	// process got there first (paid or canceled meanwhile).
	ReleaseExpired(ctx context.Context, orderID string, now time.Time) (o *Order, released bool, err error)

	// UpdateStatus applies an explicit, validated transition (back-office).
	UpdateStatus(ctx context.Context, orderID string, next Status) (*Order, error)
}
