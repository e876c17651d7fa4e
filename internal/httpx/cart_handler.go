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
)

type CartHandler struct {
	Carts   checkout.CartStore
	Catalog checkout.Catalog
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.setItem)
	r.Delete("/cart/items/{articleID}", h.removeItem)
	r.Delete("/cart", h.clearCart)
}

type cartLineView struct {
	ArticleID string `json:"article_id"`
	Title     string `json:"title"`
	UnitCents int    `json:"unit_cents"`
	Qty       int    `json:"qty"`
	LineCents int    `json:"line_cents"`
	ImageURL  string `json:"image_url,omitempty"`
	InStock   int    `json:"in_stock"`
}

type cartView struct {
	Lines      []cartLineView `json:"lines"`
	TotalCents int            `json:"total_cents"`
	// Adjusted is true when quantities were lowered to match live stock.
	Adjusted bool `json:"adjusted"`
}

// getCart returns the cart reconciled against live stock. Quantities above
// the available count are clamped and the clamped cart is persisted so the
// customer sees the same numbers at checkout.
func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing X-Session-Id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cart, err := h.Carts.Get(ctx, sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view, adjusted, err := h.buildView(ctx, cart)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if adjusted {
		next := make(checkout.Cart, len(view.Lines))
		for _, l := range view.Lines {
			next[l.ArticleID] = l.Qty
		}
		if err := h.Carts.Set(ctx, sid, next); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

type setItemReq struct {
	ArticleID string `json:"article_id"`
	Qty       int    `json:"qty"`
}

// setItem sets the quantity for one article. qty 0 removes the line. The
// quantity is capped at the currently available stock; the response reports
// the quantity actually kept.
func (h *CartHandler) setItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing X-Session-Id")
		return
	}
	var req setItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ArticleID == "" || req.Qty < 0 {
		writeError(w, http.StatusBadRequest, "article_id required and qty must be >= 0")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if req.Qty > 0 {
		a, err := h.Catalog.GetArticle(ctx, req.ArticleID)
		if errors.Is(err, ledger.ErrArticleNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if req.Qty > a.Quantity {
			req.Qty = a.Quantity
		}
	}

	cart, err := h.Carts.Get(ctx, sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Qty == 0 {
		delete(cart, req.ArticleID)
	} else {
		cart[req.ArticleID] = req.Qty
	}
	if err := h.Carts.Set(ctx, sid, cart); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"article_id": req.ArticleID, "qty": req.Qty})
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing X-Session-Id")
		return
	}
	articleID := chi.URLParam(r, "articleID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cart, err := h.Carts.Get(ctx, sid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	delete(cart, articleID)
	if err := h.Carts.Set(ctx, sid, cart); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "missing X-Session-Id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.Clear(ctx, sid); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) buildView(ctx context.Context, cart checkout.Cart) (cartView, bool, error) {
	view := cartView{Lines: []cartLineView{}}
	if len(cart) == 0 {
		return view, false, nil
	}
	ids := make([]string, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	avail, err := h.Catalog.AvailableQuantities(ctx, ids)
	if err != nil {
		return view, false, err
	}
	clamped, adjusted := ledger.ClampCart(cart, avail)
	for _, cl := range clamped {
		a, err := h.Catalog.GetArticle(ctx, cl.ArticleID)
		if errors.Is(err, ledger.ErrArticleNotFound) {
			adjusted = true
			continue
		}
		if err != nil {
			return view, false, err
		}
		view.Lines = append(view.Lines, cartLineView{
			ArticleID: a.ID,
			Title:     a.Title,
			UnitCents: a.PriceCents,
			Qty:       cl.Qty,
			LineCents: a.PriceCents * cl.Qty,
			ImageURL:  a.ImageURL,
			InStock:   avail[a.ID],
		})
		view.TotalCents += a.PriceCents * cl.Qty
	}
	view.Adjusted = adjusted
	return view, adjusted, nil
}
