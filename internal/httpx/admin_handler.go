package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/maisonvintage/orderflow/internal/cancel"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

type statusEventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// AdminHandler is the back-office surface. It moves fulfillment forward
// (PREPARING, SHIPPED, DELIVERED) and cancels on behalf of the shop; it
// never sets payment-owned states.
type AdminHandler struct {
	Store       orders.Store
	Redis       redisx.StatusCache // optional
	Compensator *cancel.Compensator
	Notifier    notify.Notifier
	Events      statusEventSink // optional, order.status
	Service     string
}

func (h *AdminHandler) Register(r *chi.Mux) {
	r.Post("/admin/orders/{id}/status", h.updateStatus)
	r.Post("/admin/orders/{id}/cancel", h.cancelOrder)
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	next := orders.Status(req.Status)

	ctx, cancelFn := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancelFn()

	orderID := chi.URLParam(r, "id")
	before, err := h.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	o, err := h.Store.UpdateStatus(ctx, orderID, next)
	if errors.Is(err, orders.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot move %s to %s", before.Status, next))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.Redis != nil {
		_ = redisx.SetOrderStatus(ctx, h.Redis, o.ID, redisx.OrderStatusEntry{Status: string(o.Status), UserID: o.UserID})
	}
	h.publishStatus(before, o)
	if err := h.Notifier.SendStatusUpdate(ctx, o); err != nil {
		// mail never blocks the transition
		writeJSON(w, http.StatusOK, map[string]any{
			"reference": o.Reference, "status": string(o.Status), "mail_sent": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": o.Reference, "status": string(o.Status), "mail_sent": true,
	})
}

func (h *AdminHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancelFn := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancelFn()

	out, err := h.Compensator.AdminCancel(ctx, chi.URLParam(r, "id"))
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

	if h.Redis != nil {
		_ = redisx.SetOrderStatus(ctx, h.Redis, out.Order.ID, redisx.OrderStatusEntry{Status: string(out.Order.Status), UserID: out.Order.UserID})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": out.Order.Reference,
		"status":    string(out.Order.Status),
		"restocked": out.Restocked,
		"refunded":  out.Refunded,
	})
}

func (h *AdminHandler) publishStatus(before, after *orders.Order) {
	if h.Events == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		CorrelationID: after.ID,
		Payload: kafkax.MustMarshal(orders.StatusChangedPayload{
			OrderID:   after.ID,
			Reference: after.Reference,
			UserID:    after.UserID,
			OldStatus: string(before.Status),
			NewStatus: string(after.Status),
		}),
	}
	h.Events.Publish(orders.PartitionKey(after.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
