package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
)

const webhookSecret = "whsec_test"

func newWebhookServer(t *testing.T) (*httptest.Server, *orders.MemoryStore, *orders.Order) {
	t.Helper()
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	o := &orders.Order{
		ID:            "ord-1",
		Reference:     "MV-2025-000001",
		UserID:        "u1",
		UserEmail:     "client@example.org",
		Status:        orders.StatusAwaitingPayment,
		PaymentMethod: orders.PayCard,
		TotalCents:    24900,
		Lines:         []orders.Line{{ArticleID: "art-1", ProductName: "Fauteuil 1958", UnitPrice: 24900, Quantity: 1}},
		CreatedAt:     time.Now(),
	}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	proc := &payment.Processor{
		Store:    store,
		Invoices: &invoice.TextGenerator{},
		Notifier: &notify.LogNotifier{},
		Secret:   webhookSecret,
		Service:  "shop-api-test",
	}
	router := NewRouter()
	(&WebhookHandler{Processor: proc}).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store, o
}

func signedBody(t *testing.T, orderRef string) ([]byte, string) {
	t.Helper()
	var ev payment.Event
	ev.ID = "evt_1"
	ev.Type = payment.EventCheckoutCompleted
	ev.Data.Object = payment.EventObject{
		ID:            "cs_1",
		PaymentStatus: "paid",
		PaymentIntent: "pi_1",
		Metadata:      map[string]string{"order_ref": orderRef},
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body, payment.SignPayload(body, webhookSecret, time.Now())
}

func postWebhook(t *testing.T, url string, body []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/webhook/payment", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Stripe-Signature", sig)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestWebhookValidDelivery(t *testing.T) {
	srv, store, o := newWebhookServer(t)
	body, sig := signedBody(t, o.Reference)

	resp := postWebhook(t, srv.URL, body, sig)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["result"] != "processed" {
		t.Fatalf("result = %q, want processed", out["result"])
	}
	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusPaid {
		t.Fatalf("status = %s, want PAID", got.Status)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	srv, store, o := newWebhookServer(t)
	body, _ := signedBody(t, o.Reference)
	sig := payment.SignPayload(body, "whsec_wrong", time.Now())

	resp := postWebhook(t, srv.URL, body, sig)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	got, _ := store.GetOrder(context.Background(), o.ID)
	if got.Status != orders.StatusAwaitingPayment {
		t.Fatalf("status = %s, a rejected delivery must change nothing", got.Status)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	srv, store, o := newWebhookServer(t)
	body, sig := signedBody(t, o.Reference)

	first := postWebhook(t, srv.URL, body, sig)
	first.Body.Close()
	second := postWebhook(t, srv.URL, body, sig)
	defer second.Body.Close()

	if second.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200 (gateway must stop retrying)", second.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(second.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["result"] != "already_processed" {
		t.Fatalf("replay result = %q, want already_processed", out["result"])
	}
	if got := store.Stock("art-1"); got != 4 {
		t.Fatalf("stock = %d, want 4 (single decrement)", got)
	}
}
