package quota

import (
	"context"
	"log/slog"
	"time"

	"arcana/internal/types"
)

// ProfileStore is the entitlement access the ledger needs for account
// identities. Implemented by db.ProfileRepository.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*types.Profile, error)
	EnsureExists(ctx context.Context, userID string, freeDailyLimit int) error
	DebitIfAvailable(ctx context.Context, userID string, today types.Day) (bool, error)
}

// AnonymousStore is the usage-record access the ledger needs for anonymous
// identities. Implemented by db.UsageRepository.
type AnonymousStore interface {
	DebitIfBelow(ctx context.Context, anonymousID string, day types.Day, limit int) (bool, error)
	CountForDay(ctx context.Context, anonymousID string, day types.Day) (int, error)
}

// Config tunes the ledger's fixed limits.
type Config struct {
	// AnonDailyLimit is the per-day allowance for anonymous identities.
	AnonDailyLimit int
	// FreeDailyLimit seeds newly created free-tier profiles.
	FreeDailyLimit int
}

// Ledger answers admission checks and records consumption for both identity
// kinds. Atomicity lives in the store's conditional writes; the ledger holds
// no in-process locks and every operation is safe to retry from scratch.
//
// Availability policy: the ledger FAILS OPEN. When the backing store is
// unreachable a request is admitted as if usage were zero for that read,
// and counting resumes once the store returns. The product stays available
// through store outages at the cost of strict accuracy during them; the
// policy applies uniformly to every path in this type.
type Ledger struct {
	profiles ProfileStore
	usage    AnonymousStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(profiles ProfileStore, usage AnonymousStore, cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		profiles: profiles,
		usage:    usage,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the ledger's clock. For tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CheckAndDebit admits one request for the identity if its normalized
// counter is below the limit, incrementing the counter by exactly one.
// Returns false with the state unchanged when the allowance is exhausted.
func (l *Ledger) CheckAndDebit(ctx context.Context, id types.Identity) (bool, error) {
	today := types.DayOf(l.now())

	if !id.IsAccount() {
		admitted, err := l.usage.DebitIfBelow(ctx, id.Key, today, l.cfg.AnonDailyLimit)
		if err != nil {
			return l.failOpen(ctx, id, err), nil
		}
		return admitted, nil
	}

	if err := l.profiles.EnsureExists(ctx, id.Key, l.cfg.FreeDailyLimit); err != nil {
		return l.failOpen(ctx, id, err), nil
	}
	admitted, err := l.profiles.DebitIfAvailable(ctx, id.Key, today)
	if err != nil {
		return l.failOpen(ctx, id, err), nil
	}
	return admitted, nil
}

// Remaining reports max(0, limit - used) for the identity without mutating
// anything.
func (l *Ledger) Remaining(ctx context.Context, id types.Identity) (int, error) {
	snap, err := l.Snapshot(ctx, id)
	if err != nil {
		return 0, err
	}
	return snap.Remaining, nil
}

// Snapshot returns the identity's effective entitlement after day-rollover
// normalization: plan, limit, used-today and the derived remaining value.
// This is the read surface the UI consumes.
func (l *Ledger) Snapshot(ctx context.Context, id types.Identity) (*types.QuotaSnapshot, error) {
	today := types.DayOf(l.now())

	if !id.IsAccount() {
		used, err := l.usage.CountForDay(ctx, id.Key, today)
		if err != nil {
			l.logStoreFailure(ctx, id, err)
			used = 0
		}
		return &types.QuotaSnapshot{
			Plan:       types.PlanFree,
			DailyLimit: l.cfg.AnonDailyLimit,
			UsedToday:  used,
			Remaining:  remaining(l.cfg.AnonDailyLimit, used),
			Anonymous:  true,
		}, nil
	}

	if err := l.profiles.EnsureExists(ctx, id.Key, l.cfg.FreeDailyLimit); err != nil {
		l.logStoreFailure(ctx, id, err)
	}
	profile, err := l.profiles.Get(ctx, id.Key)
	if err != nil {
		l.logStoreFailure(ctx, id, err)
		// Degraded view: free entitlement with zero usage.
		return &types.QuotaSnapshot{
			Plan:       types.PlanFree,
			DailyLimit: l.cfg.FreeDailyLimit,
			UsedToday:  0,
			Remaining:  l.cfg.FreeDailyLimit,
		}, nil
	}

	_, used := Normalize(profile.LastUsedDate, profile.UsedToday, today)
	return &types.QuotaSnapshot{
		Plan:         profile.Plan,
		DailyLimit:   profile.DailyLimit,
		UsedToday:    used,
		Remaining:    remaining(profile.DailyLimit, used),
		SubExpiresAt: profile.SubExpiresAt,
	}, nil
}

// failOpen implements the availability policy for the debit path: the
// failed store call is logged and the request is admitted uncounted.
func (l *Ledger) failOpen(ctx context.Context, id types.Identity, err error) bool {
	l.logStoreFailure(ctx, id, err)
	return true
}

func (l *Ledger) logStoreFailure(ctx context.Context, id types.Identity, err error) {
	l.logger.WarnContext(ctx, "quota store unavailable, failing open",
		"identity_kind", string(id.Kind),
		"error", err,
	)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
