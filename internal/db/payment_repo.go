package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"arcana/internal/types"
)

// PaymentRepository provides data access for the payments table, the local
// record of initiated/confirmed off-site payments.
//
// Lifecycle invariant: a record is created as pending when purchase
// initiation starts, transitions to paid exactly once via MarkPaid, never
// reverses, and is never deleted by the core. The pending->paid transition
// carries the limit guard in its WHERE clause so concurrent duplicate
// callbacks for one order resolve to a single application.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a PaymentRepository backed by the given
// database connection (pool or transaction).
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, provider, provider_order_id, plan_id,
	amount_cents, currency, status, raw_payload, created_at`

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var p types.Payment
	var rawPayload []byte

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Provider,
		&p.ProviderOrderID,
		&p.PlanID,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&rawPayload,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rawPayload) > 0 {
		// Audit payload is opaque; a malformed blob is not worth failing a read.
		_ = json.Unmarshal(rawPayload, &p.RawPayload)
	}
	return &p, nil
}

// CreatePending inserts a new payment record in pending status. The record
// must exist before the visitor is redirected to the gateway so the
// confirmation callback can always find a matching order.
func (r *PaymentRepository) CreatePending(ctx context.Context, p *types.Payment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments (id, user_id, provider, provider_order_id, plan_id,
		 amount_cents, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		p.ID,
		p.UserID,
		p.Provider,
		p.ProviderOrderID,
		p.PlanID,
		p.AmountCents,
		p.Currency,
		types.PaymentPending,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create payment record", err)
	}
	return nil
}

// GetByProviderOrder looks a payment up by the gateway's order identifier.
// Returns ErrCodeNotFoundPayment when no record matches.
func (r *PaymentRepository) GetByProviderOrder(ctx context.Context, provider, providerOrderID string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE provider = $1 AND provider_order_id = $2`,
		provider,
		providerOrderID,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve payment", err)
	}
	return p, nil
}

// MarkPaid performs the conditional pending->paid transition and stores the
// raw callback payload for audit. It returns true when THIS call performed
// the transition, false when the record was already paid (the idempotent
// re-delivery case). The status guard in the WHERE clause is what makes a
// duplicate callback race-safe.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID string, rawPayload map[string]string) (bool, error) {
	payload, err := json.Marshal(rawPayload)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode callback payload", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET status = $2,
		     raw_payload = $3
		 WHERE id = $1 AND status = $4`,
		paymentID,
		types.PaymentPaid,
		payload,
		types.PaymentPending,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark payment paid", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns the account's most recent payments, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]types.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payments", err)
	}
	defer rows.Close()

	var payments []types.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment row", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment rows", err)
	}
	return payments, nil
}
