package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/orders"
)

type stubNotifier struct {
	mu            sync.Mutex
	statusUpdates int
}

func (s *stubNotifier) SendOrderConfirmation(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return nil
}

func (s *stubNotifier) SendBankTransferInstructions(ctx context.Context, o *orders.Order) error {
	return nil
}

func (s *stubNotifier) SendStatusUpdate(ctx context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusUpdates++
	return nil
}

func (s *stubNotifier) SendCancellationNotice(ctx context.Context, o *orders.Order, refunded bool) error {
	return nil
}

func (s *stubNotifier) SendSellerCopy(ctx context.Context, o *orders.Order, doc invoice.Document) error {
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events int
}

func (s *captureSink) Publish(key, value []byte, headers ...kafkago.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
}

func seedOrder(t *testing.T, store *orders.MemoryStore, id string, method orders.PaymentMethod, reservedUntil time.Time) *orders.Order {
	t.Helper()
	o := &orders.Order{
		ID:            id,
		Reference:     "MV-2025-" + id,
		UserID:        "u1",
		UserEmail:     "client@example.org",
		Status:        orders.StatusAwaitingPayment,
		PaymentMethod: method,
		TotalCents:    24900,
		Lines: []orders.Line{
			{ArticleID: "art-1", ProductName: "Fauteuil 1958", UnitPrice: 24900, Quantity: 2},
		},
		ReservedUntil: &reservedUntil,
		CreatedAt:     time.Now(),
	}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
	return o
}

func TestRunOnceRestocksExpiredBankTransfer(t *testing.T) {
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	past := time.Now().Add(-time.Hour)
	o := seedOrder(t, store, "o1", orders.PayBankTransfer, past)
	if got := store.Stock("art-1"); got != 3 {
		t.Fatalf("stock after create = %d, want 3", got)
	}

	n := &stubNotifier{}
	sink := &captureSink{}
	r := &Reaper{Store: store, Notifier: n, Events: sink, Service: "reaper-test"}

	if released := r.RunOnce(context.Background()); released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	if s := store.Stock("art-1"); s != 5 {
		t.Fatalf("stock = %d, want 5 (reservation released)", s)
	}
	if n.statusUpdates != 1 {
		t.Fatalf("status mails = %d, want 1", n.statusUpdates)
	}
	if sink.events != 1 {
		t.Fatalf("canceled events = %d, want 1", sink.events)
	}
}

func TestRunOnceExpiredCardOrderNoRestock(t *testing.T) {
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	past := time.Now().Add(-time.Minute)
	o := seedOrder(t, store, "o1", orders.PayCard, past)
	if got := store.Stock("art-1"); got != 5 {
		t.Fatalf("stock after create = %d, want 5 (card defers)", got)
	}

	r := &Reaper{Store: store, Notifier: &stubNotifier{}, Service: "reaper-test"}
	if released := r.RunOnce(context.Background()); released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", got.Status)
	}
	if s := store.Stock("art-1"); s != 5 {
		t.Fatalf("stock = %d, want 5 (nothing was held, nothing comes back)", s)
	}
}

func TestRunOnceLeavesLiveOrdersAlone(t *testing.T) {
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	future := time.Now().Add(time.Hour)
	o := seedOrder(t, store, "o1", orders.PayBankTransfer, future)

	r := &Reaper{Store: store, Notifier: &stubNotifier{}, Service: "reaper-test"}
	if released := r.RunOnce(context.Background()); released != 0 {
		t.Fatalf("released = %d, want 0", released)
	}
	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusAwaitingPayment {
		t.Fatalf("status = %s, want AWAITING_PAYMENT", got.Status)
	}
	if s := store.Stock("art-1"); s != 3 {
		t.Fatalf("stock = %d, reservation must hold until the deadline", s)
	}
}

// flakyStore fails the release of one order, as a dropped connection would.
type flakyStore struct {
	*orders.MemoryStore
	failID string
}

func (s *flakyStore) ReleaseExpired(ctx context.Context, orderID string, now time.Time) (*orders.Order, bool, error) {
	if orderID == s.failID {
		return nil, false, errors.New("connection reset by peer")
	}
	return s.MemoryStore.ReleaseExpired(ctx, orderID, now)
}

func TestRunOnceSurvivesReleaseFailure(t *testing.T) {
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	past := time.Now().Add(-time.Minute)
	o1 := seedOrder(t, store, "o1", orders.PayCard, past)
	o2 := seedOrder(t, store, "o2", orders.PayCard, past)

	r := &Reaper{Store: &flakyStore{MemoryStore: store, failID: o1.ID}, Notifier: &stubNotifier{}, Service: "reaper-test"}
	if released := r.RunOnce(context.Background()); released != 1 {
		t.Fatalf("released = %d, one failure must not block the rest of the sweep", released)
	}

	got1, _ := store.GetOrder(context.Background(), o1.ID)
	if got1.Status != orders.StatusAwaitingPayment {
		t.Fatalf("o1 status = %s, the failed release must leave it for the next tick", got1.Status)
	}
	got2, _ := store.GetOrder(context.Background(), o2.ID)
	if got2.Status != orders.StatusCanceled {
		t.Fatalf("o2 status = %s, want CANCELED", got2.Status)
	}
}

func TestRunOncePaymentWinsTheRace(t *testing.T) {
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	past := time.Now().Add(-time.Minute)
	o := seedOrder(t, store, "o1", orders.PayCard, past)

	// the webhook lands between the listing and the release
	expired, err := store.FindExpiredPending(context.Background(), time.Now())
	if err != nil || len(expired) != 1 {
		t.Fatalf("expired = %v (err %v), want the seeded order", expired, err)
	}
	if _, _, err := store.MarkPaid(context.Background(), o.Reference, time.Now()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	_, released, err := store.ReleaseExpired(context.Background(), o.ID, time.Now())
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Fatal("release must re-check under lock and step aside for the payment")
	}
	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusPaid {
		t.Fatalf("status = %s, the payment must stand", got.Status)
	}
}
