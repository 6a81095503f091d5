// Package timeindex provides the quarterly time index used throughout the
// forecast pipeline. Every forecastable instant is identified by a
// (year, quarter) pair, totally ordered, with step counts derived from a
// fixed epoch (the last fully observed historical quarter).
package timeindex

import (
	"fmt"
)

// DefaultEpoch is the last historical quarter in the training record.
// Forecast step counts are measured from here.
var DefaultEpoch = TimeIndex{Year: 2024, Quarter: 4}

// TimeIndex identifies one quarter of one year.
type TimeIndex struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// New validates and constructs a TimeIndex.
// Quarter must be in [1,4].
func New(year, quarter int) (TimeIndex, error) {
	if quarter < 1 || quarter > 4 {
		return TimeIndex{}, fmt.Errorf("quarter must be in [1,4], got %d", quarter)
	}
	return TimeIndex{Year: year, Quarter: quarter}, nil
}

// Key returns the cache key form "year_quarter", e.g. "2025_3".
func (t TimeIndex) Key() string {
	return fmt.Sprintf("%d_%d", t.Year, t.Quarter)
}

// String implements fmt.Stringer.
func (t TimeIndex) String() string {
	return fmt.Sprintf("%d-Q%d", t.Year, t.Quarter)
}

// ordinal maps the index onto a single integer axis of quarters.
func (t TimeIndex) ordinal() int {
	return t.Year*4 + (t.Quarter - 1)
}

// Before reports whether t is strictly earlier than u.
func (t TimeIndex) Before(u TimeIndex) bool {
	return t.ordinal() < u.ordinal()
}

// After reports whether t is strictly later than u.
func (t TimeIndex) After(u TimeIndex) bool {
	return t.ordinal() > u.ordinal()
}

// Next returns the quarter immediately following t.
func (t TimeIndex) Next() TimeIndex {
	if t.Quarter == 4 {
		return TimeIndex{Year: t.Year + 1, Quarter: 1}
	}
	return TimeIndex{Year: t.Year, Quarter: t.Quarter + 1}
}

// StepsBetween returns the number of quarters from epoch to target.
// Positive when target is after epoch, zero when equal, negative before.
func StepsBetween(epoch, target TimeIndex) int {
	return target.ordinal() - epoch.ordinal()
}

// Sequence returns the n forecast indices following epoch, oldest first,
// i.e. epoch+1 .. epoch+n.
func Sequence(epoch TimeIndex, n int) []TimeIndex {
	out := make([]TimeIndex, 0, n)
	cur := epoch
	for i := 0; i < n; i++ {
		cur = cur.Next()
		out = append(out, cur)
	}
	return out
}
