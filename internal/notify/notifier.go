// Package notify hands customer/seller notifications to the external
// mailer. Composing the actual email bodies is the mailer's job; this side
// only guarantees the handoff and reports whether it happened.
package notify

import (
	"context"

	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/orders"
)

// Notifier sends order-related notifications. Each call may fail
// independently; callers decide which failures gate state (invoiceSent) and
// which are best-effort.
type Notifier interface {
	// SendOrderConfirmation delivers the paid-order confirmation with the
	// client invoice attached.
	SendOrderConfirmation(ctx context.Context, o *orders.Order, doc invoice.Document) error

	// SendBankTransferInstructions delivers the payment instructions with
	// the reservation deadline after a bank-transfer checkout.
	SendBankTransferInstructions(ctx context.Context, o *orders.Order) error

	SendStatusUpdate(ctx context.Context, o *orders.Order) error

	SendCancellationNotice(ctx context.Context, o *orders.Order, refunded bool) error

	// SendSellerCopy archives the seller invoice copy. Always best-effort.
	SendSellerCopy(ctx context.Context, o *orders.Order, doc invoice.Document) error
}
