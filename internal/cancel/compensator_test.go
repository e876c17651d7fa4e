package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
)

type stubNotifier struct {
	mu      sync.Mutex
	notices int
}

func (s *stubNotifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return nil
}

func (s *stubNotifier) SendBankTransferInstructions(ctx context.Context, o *orders.Order) error {
	return nil
}

func (s *stubNotifier) SendStatusUpdate(ctx context.Context, o *orders.Order) error { return nil }

func (s *stubNotifier) SendCancellationNotice(ctx context.Context, o *orders.Order, refunded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices++
	return nil
}

func (s *stubNotifier) SendSellerCopy(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return nil
}

type stubGateway struct {
	mu         sync.Mutex
	refunds    int
	failRefund bool
	lastIntent string
	lastAmount int
}

func (g *stubGateway) CreateCheckoutSession(ctx context.Context, items []payment.LineItem, orderRef, customerEmail string) (payment.CheckoutSession, error) {
	return payment.CheckoutSession{}, nil
}

func (g *stubGateway) RetrieveSession(ctx context.Context, sessionID string) (payment.SessionInfo, error) {
	return payment.SessionInfo{}, nil
}

func (g *stubGateway) Refund(ctx context.Context, paymentIntentID string, amountCents int, reason string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRefund {
		return "", fmt.Errorf("%w: refund endpoint down", payment.ErrGatewayUnavailable)
	}
	g.refunds++
	g.lastIntent = paymentIntentID
	g.lastAmount = amountCents
	return fmt.Sprintf("re_%d", g.refunds), nil
}

type fixture struct {
	store    *orders.MemoryStore
	gateway  *stubGateway
	notifier *stubNotifier
	comp     *Compensator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})
	g := &stubGateway{}
	n := &stubNotifier{}
	return &fixture{
		store:    store,
		gateway:  g,
		notifier: n,
		comp:     &Compensator{Store: store, Gateway: g, Notifier: n, Service: "shop-api-test"},
	}
}

func (f *fixture) seedOrder(t *testing.T, method orders.PaymentMethod) *orders.Order {
	t.Helper()
	o := &orders.Order{
		ID:            "ord-1",
		Reference:     "MV-2025-000001",
		UserID:        "u1",
		UserEmail:     "client@example.org",
		Status:        orders.StatusAwaitingPayment,
		PaymentMethod: method,
		TotalCents:    49800,
		Lines: []orders.Line{
			{ArticleID: "art-1", ProductName: "Fauteuil 1958", UnitPrice: 24900, Quantity: 2},
		},
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func (f *fixture) pay(t *testing.T, o *orders.Order) {
	t.Helper()
	if err := f.store.RecordGatewayRefs(context.Background(), o.ID, "cs_1", "pi_1"); err != nil {
		t.Fatalf("record refs: %v", err)
	}
	if _, _, err := f.store.MarkPaid(context.Background(), o.Reference, time.Now()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
}

func TestCancelPaidOrderRestocksAndRefunds(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)
	f.pay(t, o)
	if got := f.store.Stock("art-1"); got != 3 {
		t.Fatalf("stock after payment = %d, want 3", got)
	}

	out, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Order.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", out.Order.Status)
	}
	if !out.Restocked || f.store.Stock("art-1") != 5 {
		t.Fatalf("restocked=%t stock=%d, want stock back at 5", out.Restocked, f.store.Stock("art-1"))
	}
	if !out.Refunded || f.gateway.refunds != 1 {
		t.Fatalf("refunded=%t refunds=%d, want exactly one refund", out.Refunded, f.gateway.refunds)
	}
	if f.gateway.lastIntent != "pi_1" || f.gateway.lastAmount != 49800 {
		t.Fatalf("refund call = %s/%d", f.gateway.lastIntent, f.gateway.lastAmount)
	}

	got, _ := f.store.GetOrder(context.Background(), o.ID)
	if got.GatewayRefundID == "" || got.RefundedAt == nil {
		t.Fatal("refund id and timestamp should be recorded")
	}
	if f.notifier.notices != 1 {
		t.Fatalf("cancellation notices = %d, want 1", f.notifier.notices)
	}
}

func TestCancelAwaitingCardOrderNoRestockNoRefund(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)

	out, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Restocked {
		t.Fatal("nothing was held, nothing to restock")
	}
	if out.Refunded || f.gateway.refunds != 0 {
		t.Fatal("nothing was captured, nothing to refund")
	}
	if got := f.store.Stock("art-1"); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}
}

func TestCancelAwaitingBankTransferRestocks(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayBankTransfer)
	if got := f.store.Stock("art-1"); got != 3 {
		t.Fatalf("stock after create = %d, want 3", got)
	}

	out, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !out.Restocked || f.store.Stock("art-1") != 5 {
		t.Fatalf("restocked=%t stock=%d, want reservation released", out.Restocked, f.store.Stock("art-1"))
	}
	if f.gateway.refunds != 0 {
		t.Fatal("no capture happened, no refund due")
	}
}

func TestCancelTwiceRejected(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayBankTransfer)

	if _, err := f.comp.Cancel(context.Background(), o.ID, "u1"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if !errors.Is(err, orders.ErrAlreadyCanceled) {
		t.Fatalf("err = %v, want ErrAlreadyCanceled", err)
	}
	if got := f.store.Stock("art-1"); got != 5 {
		t.Fatalf("stock = %d, a repeated cancel must not restock twice", got)
	}
}

func TestCancelShippedRejected(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)
	f.pay(t, o)
	if _, err := f.store.UpdateStatus(context.Background(), o.ID, orders.StatusShipped); err != nil {
		t.Fatalf("ship: %v", err)
	}

	_, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if !errors.Is(err, orders.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
	if f.gateway.refunds != 0 {
		t.Fatal("rejected cancel must not refund")
	}
}

func TestCancelForeignOrderHidden(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)

	_, err := f.comp.Cancel(context.Background(), o.ID, "someone-else")
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRefundFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)
	f.pay(t, o)
	f.gateway.failRefund = true

	out, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Order.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, cancellation must commit before the refund", out.Order.Status)
	}
	if out.Refunded {
		t.Fatal("refund did not happen")
	}
	if out.RefundErr == nil {
		t.Fatal("refund failure must be surfaced for manual retry")
	}
	if !out.Restocked || f.store.Stock("art-1") != 5 {
		t.Fatalf("stock = %d, restock is independent of the refund", f.store.Stock("art-1"))
	}
}

// raceStore lands a paid webhook between the compensator's pre-read and
// the cancel transaction, the way a concurrent MarkPaid holding the row
// lock first would.
type raceStore struct {
	*orders.MemoryStore
	ref string
}

func (s *raceStore) Cancel(ctx context.Context, orderID string, now time.Time) (*orders.Order, orders.Status, error) {
	if _, _, err := s.MemoryStore.MarkPaid(ctx, s.ref, now); err != nil {
		return nil, "", err
	}
	return s.MemoryStore.Cancel(ctx, orderID, now)
}

func TestCancelRacingPaidWebhookRestocksAndRefunds(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayCard)
	if err := f.store.RecordGatewayRefs(context.Background(), o.ID, "cs_1", "pi_1"); err != nil {
		t.Fatalf("record refs: %v", err)
	}
	f.comp.Store = &raceStore{MemoryStore: f.store, ref: o.Reference}

	out, err := f.comp.Cancel(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Order.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", out.Order.Status)
	}
	if !out.Restocked || f.store.Stock("art-1") != 5 {
		t.Fatalf("restocked=%t stock=%d, the payment's decrement must come back", out.Restocked, f.store.Stock("art-1"))
	}
	if !out.Refunded || f.gateway.refunds != 1 {
		t.Fatalf("refunded=%t refunds=%d, the captured payment must be refunded", out.Refunded, f.gateway.refunds)
	}
	if f.gateway.lastIntent != "pi_1" {
		t.Fatalf("refund intent = %s, want pi_1", f.gateway.lastIntent)
	}
}

func TestAdminCancelSkipsOwnership(t *testing.T) {
	f := newFixture(t)
	o := f.seedOrder(t, orders.PayBankTransfer)

	out, err := f.comp.AdminCancel(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if out.Order.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", out.Order.Status)
	}
}
