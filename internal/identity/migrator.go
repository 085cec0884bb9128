package identity

import (
	"context"

	"github.com/google/uuid"

	"arcana/internal/db"
	"arcana/internal/types"
)

// Migrator folds an anonymous identity's usage into a freshly authenticated
// account. The operation is one-shot from the client's perspective: on
// success the client discards the anonymous token. Server-side it is
// idempotent, so a retried call after a dropped response is harmless.
type Migrator struct {
	pool db.TxBeginner
}

// NewMigrator creates a Migrator over the given transaction beginner.
func NewMigrator(pool db.TxBeginner) *Migrator {
	return &Migrator{pool: pool}
}

// Migrate re-keys the anonymous identity's usage history to the account
// inside a single transaction. The account's entitlement is untouched: the
// daily limit after migration comes from the profile, independent of what
// the visitor consumed anonymously.
func (m *Migrator) Migrate(ctx context.Context, anonToken, accountID string) error {
	if _, err := uuid.Parse(anonToken); err != nil {
		return types.NewAppError(types.ErrCodeValidationMissingField, "malformed anonymous token", err)
	}

	return db.WithTx(ctx, m.pool, func(tx db.DBTX) error {
		return db.NewUsageRepository(tx).MergeAnonymousInto(ctx, anonToken, accountID)
	})
}
