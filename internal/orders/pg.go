package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maisonvintage/orderflow/internal/ledger"
)

// PGStore is the pgx-backed Store. Stock mutations go through the ledger
// with the store's transaction so order state and stock always commit or
// roll back together.
type PGStore struct {
	DB     *pgxpool.Pool
	Ledger *ledger.Ledger
}

const orderColumns = `id, reference, user_id, user_email, status, payment_method, total_cents,
	shipping_snapshot, billing_snapshot,
	COALESCE(gateway_session_id,''), COALESCE(gateway_payment_intent_id,''), COALESCE(gateway_refund_id,''),
	invoice_sent, reserved_until, paid_at, canceled_at, refunded_at, failed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var shipping, billing []byte
	err := row.Scan(&o.ID, &o.Reference, &o.UserID, &o.UserEmail, &o.Status, &o.PaymentMethod, &o.TotalCents,
		&shipping, &billing,
		&o.GatewaySessionID, &o.GatewayPaymentIntentID, &o.GatewayRefundID,
		&o.InvoiceSent, &o.ReservedUntil, &o.PaidAt, &o.CanceledAt, &o.RefundedAt, &o.FailedAt,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &o.ShippingSnapshot); err != nil {
			return nil, fmt.Errorf("shipping snapshot: %w", err)
		}
	}
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &o.BillingSnapshot); err != nil {
			return nil, fmt.Errorf("billing snapshot: %w", err)
		}
	}
	return &o, nil
}

func (s *PGStore) loadLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, orderID string) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, article_id, product_name, unit_price_cents, qty, COALESCE(product_image,'')
	                           FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ArticleID, &l.ProductName, &l.UnitPrice, &l.Quantity, &l.ProductImage); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if o.PaymentMethod.Eager() {
		for _, l := range o.Lines {
			if err := s.Ledger.ReserveOrDecrement(ctx, tx, l.ArticleID, l.Quantity); err != nil {
				return err
			}
		}
	}

	shipping, err := json.Marshal(o.ShippingSnapshot)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(o.BillingSnapshot)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, reference, user_id, user_email, status, payment_method, total_cents,
		                   shipping_snapshot, billing_snapshot, invoice_sent, reserved_until, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10,$11,$11)`,
		o.ID, o.Reference, o.UserID, o.UserEmail, o.Status, o.PaymentMethod, o.TotalCents,
		shipping, billing, o.ReservedUntil, o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrReferenceTaken
		}
		return err
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, article_id, product_name, unit_price_cents, qty, product_image)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.OrderID, l.ArticleID, l.ProductName, l.UnitPrice, l.Quantity, l.ProductImage); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	o.Lines, err = s.loadLines(ctx, s.DB, o.ID)
	return o, err
}

func (s *PGStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference=$1`, reference))
	if err != nil {
		return nil, err
	}
	o.Lines, err = s.loadLines(ctx, s.DB, o.ID)
	return o, err
}

func (s *PGStore) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordGatewayRefs: COALESCE(NULLIF(...)) keeps an already recorded id, so
// a replayed webhook can never rewrite it to a different value.
func (s *PGStore) RecordGatewayRefs(ctx context.Context, orderID, sessionID, intentID string) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET
			gateway_session_id        = COALESCE(gateway_session_id, NULLIF($2,'')),
			gateway_payment_intent_id = COALESCE(gateway_payment_intent_id, NULLIF($3,'')),
			updated_at = now()
		WHERE id=$1`, orderID, sessionID, intentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) lockByReference(ctx context.Context, tx pgx.Tx, reference string) (*Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE reference=$1 FOR UPDATE`, reference))
}

func (s *PGStore) MarkPaid(ctx context.Context, reference string, now time.Time) (*Order, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	o, err := s.lockByReference(ctx, tx, reference)
	if err != nil {
		return nil, false, err
	}
	o.Lines, err = s.loadLines(ctx, tx, o.ID)
	if err != nil {
		return nil, false, err
	}

	switch {
	case o.Status.Processed():
		// decrement already happened, nothing to repeat
		return o, true, nil
	case o.Status != StatusAwaitingPayment:
		return o, false, ErrNotAwaitingPayment
	}

	// Stock was never pre-reserved for deferred methods; bank transfers
	// decremented at creation and must not be decremented again.
	if !o.PaymentMethod.Eager() {
		for _, l := range o.Lines {
			if err := s.Ledger.Decrement(ctx, tx, l.ArticleID, l.Quantity); err != nil {
				return nil, false, err
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, paid_at=$3, reserved_until=NULL, updated_at=now() WHERE id=$1`,
		o.ID, StatusPaid, now); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	o.Status = StatusPaid
	o.PaidAt = &now
	o.ReservedUntil = nil
	return o, false, nil
}

func (s *PGStore) MarkInvoiceSent(ctx context.Context, orderID string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET invoice_sent=true, updated_at=now() WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, reference string, now time.Time) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := s.lockByReference(ctx, tx, reference)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusFailed) {
		return o, ErrInvalidTransition
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, failed_at=$3, reserved_until=NULL, updated_at=now() WHERE id=$1`,
		o.ID, StatusFailed, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	o.Status = StatusFailed
	o.FailedAt = &now
	o.ReservedUntil = nil
	return o, nil
}

func (s *PGStore) Cancel(ctx context.Context, orderID string, now time.Time) (*Order, Status, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, "", err
	}
	prev := o.Status
	if o.Status == StatusCanceled {
		return o, prev, ErrAlreadyCanceled
	}
	if !o.Status.Cancellable() {
		return o, prev, ErrNotCancellable
	}
	o.Lines, err = s.loadLines(ctx, tx, o.ID)
	if err != nil {
		return nil, "", err
	}

	// the locked status decides the restock, never the caller's snapshot
	if StockHeld(prev, o.PaymentMethod) {
		for _, l := range o.Lines {
			if err := s.Ledger.Restock(ctx, tx, l.ArticleID, l.Quantity); err != nil {
				return nil, "", err
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, canceled_at=$3, reserved_until=NULL, updated_at=now() WHERE id=$1`,
		o.ID, StatusCanceled, now); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", err
	}

	o.Status = StatusCanceled
	o.CanceledAt = &now
	o.ReservedUntil = nil
	return o, prev, nil
}

func (s *PGStore) RecordRefund(ctx context.Context, orderID, refundID string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET
			gateway_refund_id = COALESCE(gateway_refund_id, NULLIF($2,'')),
			refunded_at = COALESCE(refunded_at, $3),
			updated_at = now()
		WHERE id=$1`, orderID, refundID, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) FindExpiredPending(ctx context.Context, now time.Time) ([]*Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND reserved_until IS NOT NULL AND reserved_until <= $2
		ORDER BY reserved_until ASC`, StatusAwaitingPayment, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) ReleaseExpired(ctx context.Context, orderID string, now time.Time) (*Order, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, false, err
	}
	// another process may have just paid or canceled it
	if o.Status != StatusAwaitingPayment {
		return o, false, nil
	}
	o.Lines, err = s.loadLines(ctx, tx, o.ID)
	if err != nil {
		return nil, false, err
	}

	if o.PaymentMethod.Eager() {
		for _, l := range o.Lines {
			if err := s.Ledger.Restock(ctx, tx, l.ArticleID, l.Quantity); err != nil {
				return nil, false, err
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, canceled_at=$3, reserved_until=NULL, updated_at=now() WHERE id=$1`,
		o.ID, StatusCanceled, now); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	o.Status = StatusCanceled
	o.CanceledAt = &now
	o.ReservedUntil = nil
	return o, true, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, orderID string, next Status) (*Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	// Paid, canceled and failed are owned by the payment processor, the
	// compensator and the reaper; back-office moves fulfillment forward only.
	switch next {
	case StatusPaid, StatusCanceled, StatusFailed:
		return o, ErrInvalidTransition
	}
	if !CanTransition(o.Status, next) {
		return o, ErrInvalidTransition
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, o.ID, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	o.Status = next
	return o, nil
}
