package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"arcana/internal/types"
)

// PlanRepository provides read-only access to the plans catalog. Plans are
// immutable reference data; nothing in the core mutates them.
type PlanRepository struct {
	db DBTX
}

// NewPlanRepository creates a PlanRepository backed by the given database
// connection.
func NewPlanRepository(db DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, price_cents, currency, period_days, daily_limit`

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var p types.Plan
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceCents,
		&p.Currency,
		&p.PeriodDays,
		&p.DailyLimit,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a single plan. Returns ErrCodeNotFoundPlan for unknown
// identifiers.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`,
		id,
	)

	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve plan", err)
	}
	return p, nil
}

// List returns the full catalog ordered by price.
func (r *PlanRepository) List(ctx context.Context) ([]types.Plan, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+planColumns+` FROM plans ORDER BY price_cents ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plans", err)
	}
	defer rows.Close()

	var plans []types.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan row", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate plan rows", err)
	}
	return plans, nil
}
