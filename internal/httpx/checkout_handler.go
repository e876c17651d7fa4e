package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maisonvintage/orderflow/internal/checkout"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
)

type CheckoutHandler struct {
	Carts        checkout.CartStore
	Orchestrator *checkout.Orchestrator
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.postCheckout)
	r.Get("/checkout/return", h.getReturn)
	r.Post("/orders/{id}/pay", h.retryPay)
}

type checkoutReq struct {
	Email         string                  `json:"email"`
	PaymentMethod string                  `json:"payment_method"`
	Shipping      *orders.AddressSnapshot `json:"shipping"`
	BillingSame   bool                    `json:"billing_same"`
	Billing       *orders.AddressSnapshot `json:"billing"`
}

type checkoutResp struct {
	OrderID     string `json:"order_id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	TotalCents  int    `json:"total_cents"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Adjusted    bool   `json:"adjusted,omitempty"`
}

func (h *CheckoutHandler) postCheckout(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	uid := userID(r)
	if sid == "" || uid == "" {
		writeError(w, http.StatusBadRequest, "missing X-Session-Id or X-User-Id")
		return
	}
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cart, err := h.Carts.Get(ctx, sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := h.Orchestrator.Checkout(ctx, checkout.Input{
		SessionID:     sid,
		UserID:        uid,
		UserEmail:     req.Email,
		Cart:          cart,
		PaymentMethod: orders.PaymentMethod(req.PaymentMethod),
		Shipping:      req.Shipping,
		BillingSame:   req.BillingSame,
		Billing:       req.Billing,
	})

	var short *ledger.InsufficientStockError
	switch {
	case err == nil:
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrAddressRequired),
		errors.Is(err, checkout.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient_stock",
			"article_id": short.ArticleID,
			"requested":  short.Requested,
			"available":  short.Available,
		})
		return
	case errors.Is(err, payment.ErrGatewayUnavailable):
		// the order exists and no stock is held; the customer can retry via
		// POST /orders/{id}/pay
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "payment_gateway_unavailable",
			"order_id":  res.Order.ID,
			"reference": res.Order.Reference,
		})
		return
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResp{
		OrderID:     res.Order.ID,
		Reference:   res.Order.Reference,
		Status:      string(res.Order.Status),
		TotalCents:  res.Order.TotalCents,
		RedirectURL: res.RedirectURL,
		Adjusted:    res.Adjusted,
	})
}

// retryPay reopens a hosted payment session for an AWAITING_PAYMENT
// card/paypal order.
func (h *CheckoutHandler) retryPay(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Orchestrator.RetrySession(ctx, chi.URLParam(r, "id"), uid)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "payment_gateway_unavailable")
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect_url": res.RedirectURL})
}

// getReturn lands the customer coming back from the hosted payment page.
// State changes come from the webhook; this endpoint only reports what the
// gateway says and tidies the cart.
func (h *CheckoutHandler) getReturn(w http.ResponseWriter, r *http.Request) {
	gwSession := r.URL.Query().Get("session_id")
	if gwSession == "" {
		writeError(w, http.StatusBadRequest, "missing session_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orchestrator.HandleReturn(ctx, sessionID(r), gwSession)
	if errors.Is(err, payment.ErrGatewayUnavailable) {
		writeError(w, http.StatusBadGateway, "payment_gateway_unavailable")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if o == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reference": o.Reference,
		"status":    string(o.Status),
	})
}
