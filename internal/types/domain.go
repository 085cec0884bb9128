// Package types defines the domain model shared across the arcana backend:
// identities, usage records, entitlements, the plan catalog, payment records,
// and the application error taxonomy.
package types

import "time"

// IdentityKind distinguishes the two ways a visitor can be keyed.
type IdentityKind string

const (
	// IdentityAnonymous keys usage by an opaque client-held token.
	IdentityAnonymous IdentityKind = "anonymous"
	// IdentityAccount keys usage by the identity provider's account ID.
	IdentityAccount IdentityKind = "account"
)

// Identity is the anonymous-or-account key under which usage is tracked.
// At most one of the two kinds is authoritative for a request; once a bearer
// token resolves to an account, the account key always wins.
type Identity struct {
	Kind IdentityKind
	Key  string
}

// IsAccount reports whether the identity is an authenticated account.
func (id Identity) IsAccount() bool {
	return id.Kind == IdentityAccount
}

// AnonymousIdentity builds an anonymous identity from a client token.
func AnonymousIdentity(token string) Identity {
	return Identity{Kind: IdentityAnonymous, Key: token}
}

// AccountIdentity builds an account identity from an account ID.
func AccountIdentity(accountID string) Identity {
	return Identity{Kind: IdentityAccount, Key: accountID}
}

// Profile is the per-account entitlement record: the current plan, its daily
// request limit, the used-today counter, and the subscription expiry.
//
// UsedToday is only meaningful relative to LastUsedDate: when the calendar
// date advances past LastUsedDate the counter is treated as zero. That
// normalization is lazy and happens on every read/write path that touches the
// counter; there is no background reset job.
type Profile struct {
	UserID       string     `json:"user_id"`
	Plan         string     `json:"plan"`
	DailyLimit   int        `json:"daily_limit"`
	UsedToday    int        `json:"used_today"`
	LastUsedDate Day        `json:"last_used_date"`
	SubExpiresAt *time.Time `json:"sub_expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UsageRecord is a per-identity, per-day request counter. For anonymous
// visitors this is the authoritative ledger row; for accounts the profile
// carries the counter and rows here exist only as history and for migration.
//
// At most one record exists per (identity, day); the day rollover supersedes
// a record rather than deleting it.
type UsageRecord struct {
	ID               string     `json:"id"`
	UserID           *string    `json:"user_id"`
	AnonymousID      *string    `json:"anonymous_id"`
	RequestDate      Day        `json:"request_date"`
	RequestCount     int        `json:"request_count"`
	IsPremium        bool       `json:"is_premium"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Plan is an immutable catalog entry describing a purchasable tier.
// PriceCents is in minor currency units; PeriodDays is the validity window a
// single purchase adds to the subscription expiry.
type Plan struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	PeriodDays int    `json:"period_days"`
	DailyLimit int    `json:"daily_limit"`
}

// PlanFree is the plan name assigned to new accounts.
const PlanFree = "free"

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	// PaymentPending is the state between purchase initiation and the
	// gateway's confirmation callback.
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid is terminal; the pending->paid transition happens exactly
	// once per order and never reverses.
	PaymentPaid PaymentStatus = "paid"
)

// Payment is the local record of an initiated/confirmed off-site payment.
// RawPayload stores the gateway's confirmation callback verbatim for audit.
type Payment struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Provider        string            `json:"provider"`
	ProviderOrderID string            `json:"provider_order_id"`
	PlanID          string            `json:"plan_id"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `json:"currency"`
	Status          PaymentStatus     `json:"status"`
	RawPayload      map[string]string `json:"raw_payload,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Card is a reading-deck catalog entry. Reference data, read-only.
type Card struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// QuotaSnapshot is the read surface consumed by the UI: the effective
// entitlement for an identity after day-rollover normalization.
type QuotaSnapshot struct {
	Plan         string     `json:"plan"`
	DailyLimit   int        `json:"daily_limit"`
	UsedToday    int        `json:"used_today"`
	Remaining    int        `json:"remaining"`
	SubExpiresAt *time.Time `json:"sub_expires_at,omitempty"`
	Anonymous    bool       `json:"anonymous"`
}
