package types

import "time"

// dayLayout is the wire and storage format for calendar days.
const dayLayout = "2006-01-02"

// Day is a calendar date in the fixed reference timezone (UTC). The quota
// ledger's "today" boundary is the UTC date, so all rollover comparisons are
// plain equality on Day values.
type Day string

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(dayLayout))
}

// Today returns the current UTC calendar date.
func Today(now func() time.Time) Day {
	return DayOf(now())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", err
	}
	return DayOf(t), nil
}

// Time returns midnight UTC of the day. Zero time for malformed values.
func (d Day) Time() time.Time {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// String implements fmt.Stringer.
func (d Day) String() string {
	return string(d)
}
