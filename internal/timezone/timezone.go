// Package timezone projects organizer-local wall-clock windows onto absolute
// instants and renders instants back in a viewer's zone.
//
// Offsets are always resolved for the specific calendar date being projected,
// so windows stay correct across daylight-saving transitions. A wall-clock
// time that does not exist on that date (a spring-forward gap) is rejected
// with ErrAmbiguousLocalTime; a time that occurs twice (a fall-back overlap)
// resolves to the later of the two instants.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // embedded zone database for hosts without /usr/share/zoneinfo
)

var (
	// ErrInvalidTimezone is returned when a zone identifier is not recognized.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrAmbiguousLocalTime is returned when a wall-clock time falls in a
	// DST gap on the requested date.
	ErrAmbiguousLocalTime = errors.New("ambiguous local time")

	// ErrInvalidClock is returned for malformed "HH:MM" values.
	ErrInvalidClock = errors.New("invalid wall-clock time")

	// ErrInvalidDate is returned for malformed "YYYY-MM-DD" values.
	ErrInvalidDate = errors.New("invalid date")
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// String formats the clock as "HH:MM".
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Date is a calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats the date as "YYYY-MM-DD".
func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day) }

// AddDays returns the date n days later (normalizing month/year overflow).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// ISOWeekday returns 1 (Monday) .. 7 (Sunday).
func (d Date) ISOWeekday() int {
	wd := time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// Projector resolves zone identifiers and converts between wall-clock and
// absolute time. It caches loaded locations and is safe for concurrent use.
type Projector struct {
	mu   sync.RWMutex
	locs map[string]*time.Location
}

// NewProjector returns an empty Projector.
func NewProjector() *Projector {
	return &Projector{locs: make(map[string]*time.Location)}
}

// Location loads (and caches) a named IANA zone.
func (p *Projector) Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	// time.LoadLocation accepts "" and "Local"; neither is a portable zone id.
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	p.mu.RLock()
	loc, ok := p.locs[name]
	p.mu.RUnlock()
	if ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	p.mu.Lock()
	p.locs[name] = loc
	p.mu.Unlock()
	return loc, nil
}

// Instant converts a wall-clock time on date in loc to an absolute instant.
func Instant(d Date, c Clock, loc *time.Location) (time.Time, error) {
	naive := time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, time.UTC)

	// Candidate offsets are those in effect around the date; a transition
	// never occurs twice within a day in any real zone.
	seen := make(map[int]struct{}, 3)
	var valid []time.Time
	for _, ref := range []time.Time{naive.Add(-24 * time.Hour), naive, naive.Add(24 * time.Hour)} {
		_, off := ref.In(loc).Zone()
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}
		cand := naive.Add(-time.Duration(off) * time.Second)
		local := cand.In(loc)
		if local.Year() == d.Year && local.Month() == d.Month && local.Day() == d.Day &&
			local.Hour() == c.Hour && local.Minute() == c.Minute {
			valid = append(valid, cand)
		}
	}

	switch len(valid) {
	case 0:
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", ErrAmbiguousLocalTime, d, c, loc)
	case 1:
		return valid[0].UTC(), nil
	default:
		later := valid[0]
		for _, v := range valid[1:] {
			if v.After(later) {
				later = v
			}
		}
		return later.UTC(), nil
	}
}

// Window converts a local [start, end) range on date in the named zone into
// UTC instants. An end at or before start is rejected as an invalid clock
// range; "00:00" as end is not interpreted as the next midnight.
func (p *Projector) Window(d Date, start, end Clock, zone string) (time.Time, time.Time, error) {
	loc, err := p.Location(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Minutes() <= start.Minutes() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s-%s", ErrInvalidClock, start, end)
	}
	s, err := Instant(d, start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := Instant(d, end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

// DayBounds returns [00:00, next 00:00) of date in the named zone as UTC
// instants. Midnight falling in a gap is moved forward to the first valid
// instant of the day.
func (p *Projector) DayBounds(d Date, zone string) (time.Time, time.Time, error) {
	loc, err := p.Location(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
	next := d.AddDays(1)
	end := time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// In renders t in the named zone.
func (p *Projector) In(t time.Time, zone string) (time.Time, error) {
	loc, err := p.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
