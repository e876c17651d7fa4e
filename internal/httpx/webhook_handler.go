package httpx

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maisonvintage/orderflow/internal/payment"
)

// maxWebhookBody bounds what the gateway may post.
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway deliveries.
//
// Response policy: 400 only for a signature the gateway should never
// retry; 5xx for transient failures so the gateway redelivers; 200 with a
// result string for every durable decision, including ignored and
// conflicting events.
type WebhookHandler struct {
	Processor *payment.Processor
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhook/payment", h.handle)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	result, err := h.Processor.HandleEvent(ctx, body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrBadSignature) {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		log.Printf("webhook: transient failure, asking for redelivery: %v", err)
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
