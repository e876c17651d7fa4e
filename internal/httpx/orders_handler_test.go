package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

type fakeStatusCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{m: map[string]string{}}
}

func (f *fakeStatusCache) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeStatusCache) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.m[key] = string(v)
	case string:
		f.m[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func newStatusServer(t *testing.T, cache redisx.StatusCache) (*httptest.Server, *orders.Order) {
	t.Helper()
	store := orders.NewMemoryStore()
	store.SeedArticle(ledger.Article{ID: "art-1", Title: "Fauteuil 1958", Quantity: 5, PriceCents: 24900})

	o := &orders.Order{
		ID:            "ord-1",
		Reference:     "MV-2025-000001",
		UserID:        "u1",
		UserEmail:     "client@example.org",
		Status:        orders.StatusPaid,
		PaymentMethod: orders.PayCard,
		TotalCents:    24900,
		Lines:         []orders.Line{{ArticleID: "art-1", ProductName: "Fauteuil 1958", UnitPrice: 24900, Quantity: 1}},
		CreatedAt:     time.Now(),
	}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	router := NewRouter()
	(&OrdersHandler{Store: store, Redis: cache}).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, o
}

func getStatusAs(t *testing.T, url, orderID, uid string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url+"/orders/"+orderID+"/status", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if uid != "" {
		req.Header.Set("X-User-Id", uid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return resp
}

func TestGetStatusCacheHitServesOwner(t *testing.T) {
	cache := newFakeStatusCache()
	srv, o := newStatusServer(t, cache)

	// cache deliberately ahead of the database to prove the hit path served
	if err := redisx.SetOrderStatus(context.Background(), cache, o.ID, redisx.OrderStatusEntry{Status: "SHIPPED", UserID: "u1"}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	resp := getStatusAs(t, srv.URL, o.ID, "u1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "SHIPPED" {
		t.Fatalf("status = %q, want the cached value", out["status"])
	}
}

func TestGetStatusCacheHitHiddenFromOtherUsers(t *testing.T) {
	cache := newFakeStatusCache()
	srv, o := newStatusServer(t, cache)

	if err := redisx.SetOrderStatus(context.Background(), cache, o.ID, redisx.OrderStatusEntry{Status: "PAID", UserID: "u1"}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	resp := getStatusAs(t, srv.URL, o.ID, "u2")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, a cached entry must not leak someone else's order", resp.StatusCode)
	}
}

func TestGetStatusMissRefillsWithOwner(t *testing.T) {
	cache := newFakeStatusCache()
	srv, o := newStatusServer(t, cache)

	resp := getStatusAs(t, srv.URL, o.ID, "u1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != string(orders.StatusPaid) {
		t.Fatalf("status = %q, want PAID from the database", out["status"])
	}

	e, ok, err := redisx.GetOrderStatus(context.Background(), cache, o.ID)
	if err != nil || !ok {
		t.Fatalf("refill entry = %v (err %v), want present", ok, err)
	}
	if e.Status != string(orders.StatusPaid) || e.UserID != "u1" {
		t.Fatalf("refill entry = %+v, want status and owner", e)
	}
}

func TestGetStatusRequiresUser(t *testing.T) {
	cache := newFakeStatusCache()
	srv, o := newStatusServer(t, cache)

	resp := getStatusAs(t, srv.URL, o.ID, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
