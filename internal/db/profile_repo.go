package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"arcana/internal/types"
)

// ProfileRepository provides data access for the profiles table, the
// per-account entitlement record: plan, daily limit, used-today counter and
// subscription expiry.
//
// Key invariants:
//   - The used-today counter is only meaningful relative to last_used_date;
//     every read and write normalizes lazily against the caller's "today".
//   - DebitIfAvailable performs rollover and the limit check in a single
//     conditional UPDATE, so two concurrent requests arriving exactly at
//     rollover cannot both observe a fresh counter and overshoot the limit.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a ProfileRepository backed by the given
// database connection (pool or transaction).
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `p.user_id, p.plan, p.daily_limit, p.used_today,
	p.last_used_date, p.sub_expires_at, p.created_at, p.updated_at`

// scanProfile scans a single profile row. Column order must match
// profileColumns.
func scanProfile(row pgx.Row) (*types.Profile, error) {
	var p types.Profile
	var lastUsed *time.Time

	err := row.Scan(
		&p.UserID,
		&p.Plan,
		&p.DailyLimit,
		&p.UsedToday,
		&lastUsed,
		&p.SubExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUsed != nil {
		p.LastUsedDate = types.DayOf(*lastUsed)
	}
	return &p, nil
}

// Get retrieves the profile for an account. Returns ErrCodeNotFoundProfile
// when the account has no profile row yet.
//
// The returned record is the raw stored state; callers normalize the counter
// against today via quota.Normalize before comparing it to the limit.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*types.Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM profiles p
		 WHERE p.user_id = $1`,
		userID,
	)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve profile", err)
	}
	return p, nil
}

// EnsureExists creates the free-tier profile row for an account if it does
// not exist yet. Idempotent; safe to call on every authenticated request.
func (r *ProfileRepository) EnsureExists(ctx context.Context, userID string, freeDailyLimit int) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, plan, daily_limit, used_today, last_used_date, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, NULL, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
		types.PlanFree,
		freeDailyLimit,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create profile", err)
	}
	return nil
}

// DebitIfAvailable atomically admits one request for the account on the
// given day. It returns true and increments used_today by exactly one when
// the normalized counter is below daily_limit; otherwise it returns false
// and leaves the row unchanged.
//
// Rollover and the limit comparison happen inside the same UPDATE: when
// last_used_date differs from today the effective counter is zero, so the
// first admitted request of a new day writes used_today = 1 and stamps the
// new date. Row-level locking serializes concurrent debits for one account,
// which makes a lost-update overshoot impossible.
func (r *ProfileRepository) DebitIfAvailable(ctx context.Context, userID string, today types.Day) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET used_today = CASE WHEN last_used_date = $2 THEN used_today + 1 ELSE 1 END,
		     last_used_date = $2,
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND (CASE WHEN last_used_date = $2 THEN used_today ELSE 0 END) < daily_limit`,
		userID,
		today.Time(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to debit profile quota", err)
	}
	return tag.RowsAffected() == 1, nil
}

// stackedExpiry computes the subscription expiry after applying a plan: the
// plan's period extends the later of (current expiry, now). Renewing an
// active subscription keeps its remaining time; an expired or absent expiry
// starts fresh from now.
func stackedExpiry(current *time.Time, now time.Time, periodDays int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, periodDays)
}

// ApplyPlan applies a purchased plan to the account's entitlement:
// daily_limit becomes the plan's limit and the subscription expiry moves to
// stackedExpiry of the stored value. The read locks the row, so run ApplyPlan
// inside the transaction that marks the payment paid; the lock holds the
// expiry stable between read and write.
func (r *ProfileRepository) ApplyPlan(ctx context.Context, userID string, plan types.Plan, now time.Time) error {
	var current *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT sub_expires_at FROM profiles WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to read profile for plan change", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET plan = $2,
		     daily_limit = $3,
		     sub_expires_at = $4,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
		plan.ID,
		plan.DailyLimit,
		stackedExpiry(current, now.UTC(), plan.PeriodDays),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}
