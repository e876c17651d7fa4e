package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maisonvintage/orderflow/internal/cancel"
	"github.com/maisonvintage/orderflow/internal/invoice"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

type OrdersHandler struct {
	Store       orders.Store
	Redis       redisx.StatusCache // optional
	Compensator *cancel.Compensator
	Invoices    invoice.Generator
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Get("/orders/{id}/invoice", h.getInvoice)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

type lineView struct {
	ArticleID string `json:"article_id"`
	Product   string `json:"product"`
	UnitCents int    `json:"unit_cents"`
	Qty       int    `json:"qty"`
	Image     string `json:"image,omitempty"`
}

type orderView struct {
	ID            string                 `json:"id"`
	Reference     string                 `json:"reference"`
	Status        string                 `json:"status"`
	PaymentMethod string                 `json:"payment_method"`
	TotalCents    int                    `json:"total_cents"`
	Lines         []lineView             `json:"lines"`
	Shipping      orders.AddressSnapshot `json:"shipping"`
	Billing       orders.AddressSnapshot `json:"billing"`
	InvoiceReady  bool                   `json:"invoice_ready"`
	ReservedUntil *time.Time             `json:"reserved_until,omitempty"`
	PaidAt        *time.Time             `json:"paid_at,omitempty"`
	CanceledAt    *time.Time             `json:"canceled_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toOrderView(o *orders.Order) orderView {
	lines := make([]lineView, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineView{
			ArticleID: l.ArticleID,
			Product:   l.ProductName,
			UnitCents: l.UnitPrice,
			Qty:       l.Quantity,
			Image:     l.ProductImage,
		})
	}
	return orderView{
		ID:            o.ID,
		Reference:     o.Reference,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		TotalCents:    o.TotalCents,
		Lines:         lines,
		Shipping:      o.ShippingSnapshot,
		Billing:       o.BillingSnapshot,
		InvoiceReady:  o.InvoiceAvailable(),
		ReservedUntil: o.ReservedUntil,
		PaidAt:        o.PaidAt,
		CanceledAt:    o.CanceledAt,
		CreatedAt:     o.CreatedAt,
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	ctx, cancelFn := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancelFn()

	list, err := h.Store.ListByUser(ctx, uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) loadOwned(ctx context.Context, w http.ResponseWriter, r *http.Request) *orders.Order {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return nil
	}
	o, err := h.Store.GetOrder(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if o.UserID != uid {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return o
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancelFn := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancelFn()

	o := h.loadOwned(ctx, w, r)
	if o == nil {
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

// getStatus serves the polled status with a Redis fast path, falling back
// to the database and refilling the cache on a miss. The cached entry
// carries the owner; a hit for someone else's order falls through to the
// database path and its 404.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	ctx, cancelFn := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancelFn()

	if h.Redis != nil {
		if e, ok, _ := redisx.GetOrderStatus(ctx, h.Redis, orderID); ok && e.UserID == uid {
			writeJSON(w, http.StatusOK, map[string]string{"status": e.Status})
			return
		}
	}

	o := h.loadOwned(ctx, w, r)
	if o == nil {
		return
	}
	if h.Redis != nil {
		_ = redisx.SetOrderStatus(ctx, h.Redis, o.ID, redisx.OrderStatusEntry{Status: string(o.Status), UserID: o.UserID})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(o.Status)})
}

// getInvoice serves the invoice document. Available only once the payment
// was validated and never for canceled or failed orders.
func (h *OrdersHandler) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancelFn := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancelFn()

	o := h.loadOwned(ctx, w, r)
	if o == nil {
		return
	}
	if !o.InvoiceAvailable() {
		writeError(w, http.StatusConflict, "invoice not available for this order")
		return
	}
	doc, err := h.Invoices.Generate(ctx, o, invoice.CopyClient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Body)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	ctx, cancelFn := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancelFn()

	out, err := h.Compensator.Cancel(ctx, chi.URLParam(r, "id"), uid)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, orders.ErrAlreadyCanceled):
		writeError(w, http.StatusConflict, "order already canceled")
		return
	case errors.Is(err, orders.ErrNotCancellable):
		writeError(w, http.StatusConflict, "order can no longer be canceled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"reference": out.Order.Reference,
		"status":    string(out.Order.Status),
		"restocked": out.Restocked,
		"refunded":  out.Refunded,
	}
	if out.RefundErr != nil {
		resp["refund_pending"] = true
	}
	if h.Redis != nil {
		_ = redisx.SetOrderStatus(ctx, h.Redis, out.Order.ID, redisx.OrderStatusEntry{Status: string(out.Order.Status), UserID: out.Order.UserID})
	}
	writeJSON(w, http.StatusOK, resp)
}
