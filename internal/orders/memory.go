package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maisonvintage/orderflow/internal/ledger"
)

// MemoryStore implements Store plus the catalog reads against maps guarded
// by one mutex. It mirrors the transactional semantics of PGStore (all-or-
// nothing state changes, stock clamped at zero) and backs the service tests.
type MemoryStore struct {
	mu       sync.Mutex
	articles map[string]*ledger.Article
	orders   map[string]*Order
	byRef    map[string]string // reference -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: map[string]*ledger.Article{},
		orders:   map[string]*Order{},
		byRef:    map[string]string{},
	}
}

func (m *MemoryStore) SeedArticle(a ledger.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.articles[a.ID] = &cp
}

func (m *MemoryStore) Stock(articleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.articles[articleID]; ok {
		return a.Quantity
	}
	return 0
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	if o.ReservedUntil != nil {
		t := *o.ReservedUntil
		cp.ReservedUntil = &t
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	if o.CanceledAt != nil {
		t := *o.CanceledAt
		cp.CanceledAt = &t
	}
	if o.RefundedAt != nil {
		t := *o.RefundedAt
		cp.RefundedAt = &t
	}
	if o.FailedAt != nil {
		t := *o.FailedAt
		cp.FailedAt = &t
	}
	return &cp
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byRef[o.Reference]; taken {
		return ErrReferenceTaken
	}

	if o.PaymentMethod.Eager() {
		// check everything before mutating: no partial decrement
		for _, l := range o.Lines {
			a, ok := m.articles[l.ArticleID]
			if !ok {
				return ledger.ErrArticleNotFound
			}
			if a.Quantity < l.Quantity {
				return &ledger.InsufficientStockError{ArticleID: l.ArticleID, Requested: l.Quantity, Available: a.Quantity}
			}
		}
		for _, l := range o.Lines {
			m.articles[l.ArticleID].Quantity -= l.Quantity
		}
	}

	for i := range o.Lines {
		if o.Lines[i].ID == "" {
			o.Lines[i].ID = uuid.NewString()
		}
		o.Lines[i].OrderID = o.ID
	}
	m.orders[o.ID] = cloneOrder(o)
	m.byRef[o.Reference] = o.ID
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordGatewayRefs(ctx context.Context, orderID, sessionID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.GatewaySessionID == "" {
		o.GatewaySessionID = sessionID
	}
	if o.GatewayPaymentIntentID == "" {
		o.GatewayPaymentIntentID = intentID
	}
	return nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, reference string, now time.Time) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, false, ErrNotFound
	}
	o := m.orders[id]

	switch {
	case o.Status.Processed():
		return cloneOrder(o), true, nil
	case o.Status != StatusAwaitingPayment:
		return cloneOrder(o), false, ErrNotAwaitingPayment
	}

	if !o.PaymentMethod.Eager() {
		for _, l := range o.Lines {
			if a, ok := m.articles[l.ArticleID]; ok {
				a.Quantity -= l.Quantity
				if a.Quantity < 0 {
					a.Quantity = 0
				}
			}
		}
	}

	o.Status = StatusPaid
	t := now
	o.PaidAt = &t
	o.ReservedUntil = nil
	return cloneOrder(o), false, nil
}

func (m *MemoryStore) MarkInvoiceSent(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.InvoiceSent = true
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, reference string, now time.Time) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	o := m.orders[id]
	if !CanTransition(o.Status, StatusFailed) {
		return cloneOrder(o), ErrInvalidTransition
	}
	o.Status = StatusFailed
	t := now
	o.FailedAt = &t
	o.ReservedUntil = nil
	return cloneOrder(o), nil
}

func (m *MemoryStore) Cancel(ctx context.Context, orderID string, now time.Time) (*Order, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, "", ErrNotFound
	}
	prev := o.Status
	if o.Status == StatusCanceled {
		return cloneOrder(o), prev, ErrAlreadyCanceled
	}
	if !o.Status.Cancellable() {
		return cloneOrder(o), prev, ErrNotCancellable
	}

	if StockHeld(prev, o.PaymentMethod) {
		for _, l := range o.Lines {
			if a, ok := m.articles[l.ArticleID]; ok {
				a.Quantity += l.Quantity
			}
		}
	}
	o.Status = StatusCanceled
	t := now
	o.CanceledAt = &t
	o.ReservedUntil = nil
	return cloneOrder(o), prev, nil
}

func (m *MemoryStore) RecordRefund(ctx context.Context, orderID, refundID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.GatewayRefundID == "" {
		o.GatewayRefundID = refundID
		t := now
		o.RefundedAt = &t
	}
	return nil
}

func (m *MemoryStore) FindExpiredPending(ctx context.Context, now time.Time) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == StatusAwaitingPayment && o.ReservedUntil != nil && !o.ReservedUntil.After(now) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *MemoryStore) ReleaseExpired(ctx context.Context, orderID string, now time.Time) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if o.Status != StatusAwaitingPayment {
		return cloneOrder(o), false, nil
	}
	if o.PaymentMethod.Eager() {
		for _, l := range o.Lines {
			if a, ok := m.articles[l.ArticleID]; ok {
				a.Quantity += l.Quantity
			}
		}
	}
	o.Status = StatusCanceled
	t := now
	o.CanceledAt = &t
	o.ReservedUntil = nil
	return cloneOrder(o), true, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, orderID string, next Status) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	switch next {
	case StatusPaid, StatusCanceled, StatusFailed:
		return cloneOrder(o), ErrInvalidTransition
	}
	if !CanTransition(o.Status, next) {
		return cloneOrder(o), ErrInvalidTransition
	}
	o.Status = next
	return cloneOrder(o), nil
}

// --- catalog reads (advisory), same surface as ledger.Ledger ---

func (m *MemoryStore) AvailableQuantities(ctx context.Context, articleIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(articleIDs))
	for _, id := range articleIDs {
		if a, ok := m.articles[id]; ok {
			out[id] = a.Quantity
		}
	}
	return out, nil
}

func (m *MemoryStore) GetArticle(ctx context.Context, id string) (*ledger.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, ledger.ErrArticleNotFound
	}
	cp := *a
	return &cp, nil
}
