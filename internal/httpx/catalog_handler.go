package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maisonvintage/orderflow/internal/ledger"
)

// Catalog is the article read surface for storefront pages.
type Catalog interface {
	ListArticles(ctx context.Context) ([]ledger.Article, error)
	GetArticle(ctx context.Context, id string) (*ledger.Article, error)
}

type CatalogHandler struct {
	Catalog Catalog
}

func (h *CatalogHandler) Register(r *chi.Mux) {
	r.Get("/articles", h.listArticles)
	r.Get("/articles/{id}", h.getArticle)
}

type articleView struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Title      string `json:"title"`
	PriceCents int    `json:"price_cents"`
	InStock    int    `json:"in_stock"`
	ImageURL   string `json:"image_url,omitempty"`
}

func toArticleView(a *ledger.Article) articleView {
	return articleView{
		ID:         a.ID,
		SKU:        a.SKU,
		Title:      a.Title,
		PriceCents: a.PriceCents,
		InStock:    a.Quantity,
		ImageURL:   a.ImageURL,
	}
}

func (h *CatalogHandler) listArticles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Catalog.ListArticles(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]articleView, 0, len(list))
	for i := range list {
		out = append(out, toArticleView(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) getArticle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a, err := h.Catalog.GetArticle(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, ledger.ErrArticleNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toArticleView(a))
}
