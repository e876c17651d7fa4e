package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/maisonvintage/orderflow/internal/invoice"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/orders"
)

const (
	MailOrderConfirmation = "mail.order_confirmation"
	MailBankInstructions  = "mail.bank_transfer_instructions"
	MailStatusUpdate      = "mail.status_update"
	MailCancellation      = "mail.cancellation_notice"
	MailSellerCopy        = "mail.seller_copy"
)

type MailPayload struct {
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	OrderID   string    `json:"order_id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Refunded  bool      `json:"refunded,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
	// Attachment, base64 in transit.
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentBody []byte `json:"attachment_body,omitempty"`
}

// KafkaNotifier publishes mail jobs to the notification topic with a
// synchronous writer: delivery to the broker is the confirmation the
// callers gate on.
type KafkaNotifier struct {
	Writer      *kafkax.SyncWriter
	FromEmail   string
	SellerEmail string
	Service     string
}

func (n *KafkaNotifier) send(ctx context.Context, o *orders.Order, p MailPayload) error {
	p.From = n.FromEmail
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     p.Kind,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(p),
	}
	return n.Writer.Write(ctx, orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(p.Kind)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return n.send(ctx, o, MailPayload{
		Kind: MailOrderConfirmation, To: o.UserEmail,
		OrderID: o.ID, Reference: o.Reference, Status: string(o.Status),
		AttachmentName: doc.Filename, AttachmentBody: doc.Body,
	})
}

func (n *KafkaNotifier) SendBankTransferInstructions(ctx context.Context, o *orders.Order) error {
	p := MailPayload{
		Kind: MailBankInstructions, To: o.UserEmail,
		OrderID: o.ID, Reference: o.Reference, Status: string(o.Status),
	}
	if o.ReservedUntil != nil {
		p.Deadline = *o.ReservedUntil
	}
	return n.send(ctx, o, p)
}

func (n *KafkaNotifier) SendStatusUpdate(ctx context.Context, o *orders.Order) error {
	return n.send(ctx, o, MailPayload{
		Kind: MailStatusUpdate, To: o.UserEmail,
		OrderID: o.ID, Reference: o.Reference, Status: string(o.Status),
	})
}

func (n *KafkaNotifier) SendCancellationNotice(ctx context.Context, o *orders.Order, refunded bool) error {
	return n.send(ctx, o, MailPayload{
		Kind: MailCancellation, To: o.UserEmail,
		OrderID: o.ID, Reference: o.Reference, Status: string(o.Status), Refunded: refunded,
	})
}

func (n *KafkaNotifier) SendSellerCopy(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return n.send(ctx, o, MailPayload{
		Kind: MailSellerCopy, To: n.SellerEmail,
		OrderID: o.ID, Reference: o.Reference, Status: string(o.Status),
		AttachmentName: doc.Filename, AttachmentBody: doc.Body,
	})
}
