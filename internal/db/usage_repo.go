package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arcana/internal/types"
)

// UsageRepository provides data access for the user_usage table: the
// per-identity, per-day request counters. Anonymous visitors are admitted
// directly against these rows; accounts keep their live counter on the
// profile and accumulate rows here as history.
//
// At most one row exists per (identity, day), enforced by partial unique
// indexes on (anonymous_id, request_date) and (user_id, request_date).
// Old-day rows are superseded, never deleted.
type UsageRepository struct {
	db DBTX
}

// NewUsageRepository creates a UsageRepository backed by the given database
// connection (pool or transaction).
func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db}
}

// DebitIfBelow atomically admits one anonymous request for the given day.
// It lazily creates the day's row with count 1 on first use, or increments
// the existing row, but only while the stored count is below limit. Returns
// true when the request was admitted.
//
// The insert-or-increment is a single INSERT ... ON CONFLICT DO UPDATE with
// the limit guard in the conflict clause, so concurrent requests at the
// limit boundary resolve to exactly one admission per remaining unit.
func (r *UsageRepository) DebitIfBelow(ctx context.Context, anonymousID string, day types.Day, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO user_usage (id, anonymous_id, request_date, request_count, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, NOW(), NOW())
		 ON CONFLICT (anonymous_id, request_date) WHERE anonymous_id IS NOT NULL
		 DO UPDATE SET request_count = user_usage.request_count + 1,
		               updated_at = NOW()
		 WHERE user_usage.request_count < $4`,
		uuid.NewString(),
		anonymousID,
		day.Time(),
		limit,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to debit anonymous quota", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountForDay returns the stored request count for an anonymous identity on
// the given day. A missing row reads as zero; the row is not created.
func (r *UsageRepository) CountForDay(ctx context.Context, anonymousID string, day types.Day) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT request_count FROM user_usage
		 WHERE anonymous_id = $1 AND request_date = $2`,
		anonymousID,
		day.Time(),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage record", err)
	}
	return count, nil
}

// MergeAnonymousInto folds all usage rows of an anonymous identity into the
// given account. Days on which the account already has a row absorb the
// anonymous counts; remaining rows are re-keyed to the account. Run inside a
// transaction when combined with other migration steps.
//
// Idempotent: once the anonymous rows are gone, a repeat call affects
// nothing.
func (r *UsageRepository) MergeAnonymousInto(ctx context.Context, anonymousID, userID string) error {
	// Fold counts into day rows the account already owns.
	_, err := r.db.Exec(ctx,
		`UPDATE user_usage u
		 SET request_count = u.request_count + a.request_count,
		     updated_at = NOW()
		 FROM user_usage a
		 WHERE a.anonymous_id = $1
		   AND u.user_id = $2
		   AND u.request_date = a.request_date`,
		anonymousID,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to fold anonymous usage", err)
	}

	// Drop the anonymous rows that were just folded.
	_, err = r.db.Exec(ctx,
		`DELETE FROM user_usage
		 WHERE anonymous_id = $1
		   AND request_date IN (SELECT request_date FROM user_usage WHERE user_id = $2)`,
		anonymousID,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to drop folded usage rows", err)
	}

	// Re-key the rest to the account.
	_, err = r.db.Exec(ctx,
		`UPDATE user_usage
		 SET user_id = $2,
		     anonymous_id = NULL,
		     updated_at = NOW()
		 WHERE anonymous_id = $1`,
		anonymousID,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to migrate anonymous usage", err)
	}
	return nil
}
