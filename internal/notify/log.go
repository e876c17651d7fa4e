package notify

import (
	"context"
	"log"

	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/orders"
)

// LogNotifier is the dev fallback when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) SendOrderConfirmation(_ context.Context, o *orders.Order, doc invoice.Document) error {
	log.Printf("notify: order confirmation %s -> %s (%s)", o.Reference, o.UserEmail, doc.Filename)
	return nil
}

func (LogNotifier) SendBankTransferInstructions(_ context.Context, o *orders.Order) error {
	log.Printf("notify: bank transfer instructions %s -> %s", o.Reference, o.UserEmail)
	return nil
}

func (LogNotifier) SendStatusUpdate(_ context.Context, o *orders.Order) error {
	log.Printf("notify: status update %s -> %s (%s)", o.Reference, o.UserEmail, o.Status)
	return nil
}

func (LogNotifier) SendCancellationNotice(_ context.Context, o *orders.Order, refunded bool) error {
	log.Printf("notify: cancellation notice %s (refunded=%v)", o.Reference, refunded)
	return nil
}

func (LogNotifier) SendSellerCopy(_ context.Context, o *orders.Order, doc invoice.Document) error {
	log.Printf("notify: seller copy %s (%s)", o.Reference, doc.Filename)
	return nil
}
