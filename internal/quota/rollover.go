// Package quota implements the per-day admission ledger: "may this identity
// issue one more request today" and "record that one was issued", as one
// atomic operation.
//
// The "today" boundary is the naive UTC calendar date. Rollover is lazy:
// there is no background reset job, the stored counter is normalized against
// the current date on every path that touches it. A record whose day is
// never accessed again simply stays stale, which is fine because it is never
// read under an old date.
package quota

import "arcana/internal/types"

// Normalize applies the day-rollover policy to a stored (day, count) pair:
// if the stored day is not today the effective count is zero under today's
// date; otherwise the pair stands as is. Pure function, applied before any
// limit comparison.
func Normalize(storedDay types.Day, storedCount int, today types.Day) (types.Day, int) {
	if storedDay != today {
		return today, 0
	}
	return storedDay, storedCount
}
