package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrAddressRequired      = errors.New("shipping and billing addresses are required")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
)

// Catalog is the advisory read surface (satisfied by ledger.Ledger and, in
// tests, by orders.MemoryStore).
type Catalog interface {
	AvailableQuantities(ctx context.Context, articleIDs []string) (map[string]int, error)
	GetArticle(ctx context.Context, id string) (*ledger.Article, error)
}

type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Input struct {
	SessionID     string
	UserID        string
	UserEmail     string
	Cart          Cart
	PaymentMethod orders.PaymentMethod
	Shipping      *orders.AddressSnapshot
	BillingSame   bool
	Billing       *orders.AddressSnapshot
}

type Result struct {
	Order *orders.Order
	// RedirectURL sends the customer to the hosted payment page
	// (card/paypal only).
	RedirectURL string
	// Adjusted is set when the advisory clamp changed quantities.
	Adjusted bool
}

// Orchestrator builds an order from a cart snapshot and commits it
// atomically against live stock.
type Orchestrator struct {
	Store    orders.Store
	Catalog  Catalog
	Carts    CartStore
	Gateway  payment.Gateway
	Notifier notify.Notifier
	Events   EventSink // optional, order.created

	RefPrefix string
	CardTTL   time.Duration
	BankTTL   time.Duration
	Service   string
	Now       func() time.Time
}

func (c *Orchestrator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Orchestrator) ttl(m orders.PaymentMethod) time.Duration {
	if m.Eager() {
		return c.BankTTL
	}
	return c.CardTTL
}

// Checkout runs the full flow: advisory clamp, transactional order build
// (with eager stock reservation for bank transfers), then the post-commit
// side effects for the chosen payment path.
//
// On *ledger.InsufficientStockError nothing was committed; the caller
// reports which article ran out. On payment.ErrGatewayUnavailable the order
// exists in AWAITING_PAYMENT with no stock taken, so retrying is safe.
func (c *Orchestrator) Checkout(ctx context.Context, in Input) (*Result, error) {
	if !in.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	if in.Shipping == nil || (!in.BillingSame && in.Billing == nil) {
		return nil, ErrAddressRequired
	}
	if len(in.Cart) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, 0, len(in.Cart))
	for id := range in.Cart {
		ids = append(ids, id)
	}
	avail, err := c.Catalog.AvailableQuantities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("stock read: %w", err)
	}
	clamped, adjusted := ledger.ClampCart(in.Cart, avail)
	if len(clamped) == 0 {
		return nil, ErrEmptyCart
	}

	now := c.now()
	total := 0
	lines := make([]orders.Line, 0, len(clamped))
	for _, cl := range clamped {
		a, err := c.Catalog.GetArticle(ctx, cl.ArticleID)
		if err != nil {
			return nil, fmt.Errorf("article %s: %w", cl.ArticleID, err)
		}
		total += a.PriceCents * cl.Qty
		lines = append(lines, orders.Line{
			ArticleID:    a.ID,
			ProductName:  a.Title,
			UnitPrice:    a.PriceCents,
			Quantity:     cl.Qty,
			ProductImage: a.ImageURL,
		})
	}

	billing := in.Billing
	if in.BillingSame {
		billing = in.Shipping
	}
	reservedUntil := now.Add(c.ttl(in.PaymentMethod))

	o := &orders.Order{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		UserEmail:        in.UserEmail,
		Status:           orders.StatusAwaitingPayment,
		PaymentMethod:    in.PaymentMethod,
		TotalCents:       total,
		Lines:            lines,
		ShippingSnapshot: *in.Shipping,
		BillingSnapshot:  *billing,
		ReservedUntil:    &reservedUntil,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for attempt := 0; ; attempt++ {
		o.Reference = orders.NewReference(c.RefPrefix, now)
		err = c.Store.CreateOrder(ctx, o)
		if errors.Is(err, orders.ErrReferenceTaken) && attempt < 5 {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	c.publishCreated(o)

	res := &Result{Order: o, Adjusted: adjusted}

	if in.PaymentMethod.Eager() {
		// stock is reserved; confirmation and cart cleanup happen now
		if err := c.Notifier.SendBankTransferInstructions(ctx, o); err != nil {
			log.Printf("checkout: bank transfer mail for %s: %v", o.Reference, err)
		}
		if err := c.Carts.Clear(ctx, in.SessionID); err != nil {
			log.Printf("checkout: cart clear for %s: %v", in.SessionID, err)
		}
		return res, nil
	}

	// Card/paypal: open the hosted session. The cart stays until payment is
	// confirmed; an abandoned session leaves the order expirable with no
	// stock locked.
	session, err := c.createGatewaySession(ctx, o)
	if err != nil {
		return res, err
	}
	res.RedirectURL = session.RedirectURL
	return res, nil
}

// RetrySession reopens a hosted payment session for an order whose first
// session creation failed or expired.
func (c *Orchestrator) RetrySession(ctx context.Context, orderID, userID string) (*Result, error) {
	o, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, orders.ErrNotFound
	}
	if o.Status != orders.StatusAwaitingPayment || o.PaymentMethod.Eager() {
		return nil, fmt.Errorf("order %s is not awaiting an online payment", o.Reference)
	}
	session, err := c.createGatewaySession(ctx, o)
	if err != nil {
		return &Result{Order: o}, err
	}
	return &Result{Order: o, RedirectURL: session.RedirectURL}, nil
}

// HandleReturn processes the customer coming back from the hosted payment
// page. The webhook remains the source of truth for order state; this only
// clears the cart once the gateway reports the session paid.
func (c *Orchestrator) HandleReturn(ctx context.Context, sessionID, gatewaySessionID string) (*orders.Order, error) {
	info, err := c.Gateway.RetrieveSession(ctx, gatewaySessionID)
	if err != nil {
		return nil, err
	}
	if info.PaymentStatus == "paid" {
		if err := c.Carts.Clear(ctx, sessionID); err != nil {
			log.Printf("checkout: cart clear on return for %s: %v", sessionID, err)
		}
	}
	if info.OrderRef == "" {
		return nil, nil
	}
	o, err := c.Store.GetByReference(ctx, info.OrderRef)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (c *Orchestrator) createGatewaySession(ctx context.Context, o *orders.Order) (payment.CheckoutSession, error) {
	items := make([]payment.LineItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, payment.LineItem{Name: l.ProductName, UnitAmount: l.UnitPrice, Quantity: l.Quantity})
	}
	session, err := c.Gateway.CreateCheckoutSession(ctx, items, o.Reference, o.UserEmail)
	if err != nil {
		return payment.CheckoutSession{}, err
	}
	if err := c.Store.RecordGatewayRefs(ctx, o.ID, session.ID, ""); err != nil {
		log.Printf("checkout: record session id for %s: %v", o.Reference, err)
	}
	return session, nil
}

func (c *Orchestrator) publishCreated(o *orders.Order) {
	if c.Events == nil {
		return
	}
	lines := make([]orders.LineQty, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orders.LineQty{ArticleID: l.ArticleID, Qty: l.Quantity})
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    c.now(),
		Producer:      c.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:       o.ID,
			Reference:     o.Reference,
			UserID:        o.UserID,
			PaymentMethod: string(o.PaymentMethod),
			Lines:         lines,
			TotalCents:    o.TotalCents,
			ReservedUntil: *o.ReservedUntil,
		}),
	}
	c.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
