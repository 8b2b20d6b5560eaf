// Package slots turns a day's open window into bookable start times.
//
// Generation is a pure function of its inputs: the window and breaks (already
// projected to absolute instants), the normalized busy intervals, and the
// organizer's booking rules. Busy intervals are widened by the buffer on both
// edges before removal; breaks are widened on their trailing edge only, so
// the first slot after a break starts one buffer after it ends. Each remaining piece is
// walked from its own start in steps of the slot duration, and only slots
// that fit entirely inside a piece are emitted.
package slots

import (
	"time"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
)

// Params are the booking rules applied to one generation run.
//
//   - SlotDuration must be positive; nothing is generated otherwise.
//   - Buffer pads each busy interval on both sides and each break after
//     its end.
//   - MinAdvance drops slots starting before Now+MinAdvance.
//   - MaxAdvance drops slots starting after Now+MaxAdvance; zero disables it.
type Params struct {
	SlotDuration time.Duration
	Buffer       time.Duration
	Now          time.Time
	MinAdvance   time.Duration
	MaxAdvance   time.Duration
}

// Open returns the pieces of window left after removing the buffered breaks
// and busy intervals.
func Open(window interval.Interval, breaks []interval.Interval, busy []domain.BusyInterval, buffer time.Duration) []interval.Interval {
	paused := make([]interval.Interval, 0, len(breaks))
	for _, b := range breaks {
		paused = append(paused, interval.New(b.Start, b.End.Add(buffer)))
	}
	open := interval.Subtract([]interval.Interval{window}, interval.Normalize(paused))

	blocked := make([]interval.Interval, 0, len(busy))
	for _, b := range busy {
		blocked = append(blocked, interval.New(b.Start, b.End).Expand(buffer))
	}
	return interval.Subtract(open, interval.Normalize(blocked))
}

// Generate returns the bookable slots for one day, ordered by start.
func Generate(window interval.Interval, breaks []interval.Interval, busy []domain.BusyInterval, p Params) []domain.Slot {
	if p.SlotDuration <= 0 || window.Empty() {
		return []domain.Slot{}
	}

	earliest := p.Now.Add(p.MinAdvance)
	var latest time.Time
	if p.MaxAdvance > 0 {
		latest = p.Now.Add(p.MaxAdvance)
	}

	out := []domain.Slot{}
	for _, piece := range Open(window, breaks, busy, p.Buffer) {
		for start := piece.Start; !start.Add(p.SlotDuration).After(piece.End); start = start.Add(p.SlotDuration) {
			if start.Before(earliest) {
				continue
			}
			if !latest.IsZero() && start.After(latest) {
				break
			}
			out = append(out, domain.Slot{Start: start, Duration: p.SlotDuration})
		}
	}
	return out
}
