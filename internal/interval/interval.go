// Package interval implements half-open time interval arithmetic used by the
// availability engine: subtraction, normalization (sort + merge), and
// symmetric expansion for buffers.
//
// All intervals are half-open, [Start, End). An interval with End <= Start is
// empty and is dropped by every operation in this package.
package interval

import (
	"sort"
	"time"
)

// Interval is a half-open span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New returns the interval [start, end).
func New(start, end time.Time) Interval { return Interval{Start: start, End: end} }

// Empty reports whether the interval contains no instant.
func (i Interval) Empty() bool { return !i.End.After(i.Start) }

// Duration returns the length of the interval, or zero when empty.
func (i Interval) Duration() time.Duration {
	if i.Empty() {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Overlaps reports whether i and o share at least one instant. Touching
// intervals ([a,b) and [b,c)) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Expand widens the interval by d on both sides.
func (i Interval) Expand(d time.Duration) Interval {
	return Interval{Start: i.Start.Add(-d), End: i.End.Add(d)}
}

// SubtractOne removes r from i, yielding zero, one or two pieces.
func SubtractOne(i, r Interval) []Interval {
	if i.Empty() {
		return nil
	}
	if r.Empty() || !i.Overlaps(r) {
		return []Interval{i}
	}
	out := make([]Interval, 0, 2)
	if r.Start.After(i.Start) {
		out = append(out, Interval{Start: i.Start, End: r.Start})
	}
	if r.End.Before(i.End) {
		out = append(out, Interval{Start: r.End, End: i.End})
	}
	return out
}

// Subtract removes every interval in remove from every interval in from and
// returns the remaining pieces sorted by start. The result does not depend on
// the order of remove.
func Subtract(from []Interval, remove []Interval) []Interval {
	cur := make([]Interval, 0, len(from))
	for _, f := range from {
		if !f.Empty() {
			cur = append(cur, f)
		}
	}
	for _, r := range remove {
		if r.Empty() {
			continue
		}
		next := make([]Interval, 0, len(cur)+1)
		for _, c := range cur {
			next = append(next, SubtractOne(c, r)...)
		}
		cur = next
	}
	sortByStart(cur)
	return cur
}

// Normalize sorts intervals by start and merges any that overlap or touch.
// The result is the minimal non-overlapping cover of the input.
func Normalize(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	items := make([]Interval, 0, len(in))
	for _, i := range in {
		if !i.Empty() {
			items = append(items, i)
		}
	}
	sortByStart(items)

	out := make([]Interval, 0, len(items))
	for _, i := range items {
		if n := len(out); n > 0 && !i.Start.After(out[n-1].End) {
			if i.End.After(out[n-1].End) {
				out[n-1].End = i.End
			}
			continue
		}
		out = append(out, i)
	}
	return out
}

func sortByStart(items []Interval) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Start.Equal(items[b].Start) {
			return items[a].End.Before(items[b].End)
		}
		return items[a].Start.Before(items[b].Start)
	})
}
