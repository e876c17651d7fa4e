// Package ledger is the exclusive owner of per-article stock counts. Every
// mutation runs under a row-level exclusive lock inside the caller's
// transaction, so a rollback of the enclosing order write restores stock
// automatically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrArticleNotFound = errors.New("article not found")

// Article is a catalog row with its live stock count.
type Article struct {
	ID         string
	SKU        string
	Title      string
	Quantity   int
	PriceCents int
	ImageURL   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsufficientStockError reports which article could not cover the request
// so the caller can adjust the cart.
type InsufficientStockError struct {
	ArticleID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for article %s: requested %d, available %d",
		e.ArticleID, e.Requested, e.Available)
}

type Ledger struct {
	DB *pgxpool.Pool
}

// ReserveOrDecrement locks the article row, checks availability and
// decrements within tx. On shortage it returns *InsufficientStockError and
// leaves no side effect.
func (l *Ledger) ReserveOrDecrement(ctx context.Context, tx pgx.Tx, articleID string, qty int) error {
	var stock int
	err := tx.QueryRow(ctx, `SELECT quantity FROM articles WHERE id=$1 FOR UPDATE`, articleID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrArticleNotFound
	}
	if err != nil {
		return err
	}
	if stock < qty {
		return &InsufficientStockError{ArticleID: articleID, Requested: qty, Available: stock}
	}
	_, err = tx.Exec(ctx, `UPDATE articles SET quantity = quantity - $2, updated_at = now() WHERE id=$1`, articleID, qty)
	return err
}

// Decrement takes stock without a pre-reservation (card/paypal payment
// confirmation). The count is clamped at zero: an admin may have edited
// stock between checkout and payment, and quantity must never go negative.
func (l *Ledger) Decrement(ctx context.Context, tx pgx.Tx, articleID string, qty int) error {
	var stock int
	err := tx.QueryRow(ctx, `SELECT quantity FROM articles WHERE id=$1 FOR UPDATE`, articleID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Printf("ledger: decrement skipped, article %s gone", articleID)
		return nil
	}
	if err != nil {
		return err
	}
	next := stock - qty
	if next < 0 {
		log.Printf("ledger: decrement clamped for article %s (stock=%d qty=%d)", articleID, stock, qty)
		next = 0
	}
	_, err = tx.Exec(ctx, `UPDATE articles SET quantity = $2, updated_at = now() WHERE id=$1`, articleID, next)
	return err
}

// Restock increments the article count under lock. A missing article (since
// deleted from the catalog) is logged and ignored rather than failing the
// caller's transaction.
func (l *Ledger) Restock(ctx context.Context, tx pgx.Tx, articleID string, qty int) error {
	ct, err := tx.Exec(ctx, `UPDATE articles SET quantity = quantity + $2, updated_at = now() WHERE id=$1`, articleID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		log.Printf("ledger: restock skipped, article %s gone", articleID)
	}
	return nil
}

// AvailableQuantities is the advisory read used by cart and checkout pages.
// It is not a reservation: commit-time callers re-verify under lock.
func (l *Ledger) AvailableQuantities(ctx context.Context, articleIDs []string) (map[string]int, error) {
	if len(articleIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := l.DB.Query(ctx, `SELECT id, quantity FROM articles WHERE id = ANY($1)`, articleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(articleIDs))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (l *Ledger) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := l.DB.Query(ctx, `SELECT id, sku, title, quantity, price_cents, COALESCE(image_url,''), created_at, updated_at
	                              FROM articles ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.SKU, &a.Title, &a.Quantity, &a.PriceCents, &a.ImageURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Ledger) GetArticle(ctx context.Context, id string) (*Article, error) {
	var a Article
	err := l.DB.QueryRow(ctx, `SELECT id, sku, title, quantity, price_cents, COALESCE(image_url,''), created_at, updated_at
	                           FROM articles WHERE id=$1`, id).
		Scan(&a.ID, &a.SKU, &a.Title, &a.Quantity, &a.PriceCents, &a.ImageURL, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
