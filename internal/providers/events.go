package providers

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog/log"
	"github.com/teambition/rrule-go"

	"github.com/tbourn/go-availability-engine/internal/interval"
)

// busyFromCalendar extracts busy spans overlapping [start, end) from every
// VEVENT in cal. Transparent and cancelled events are not busy. Recurring
// events are expanded with their RRULE/RDATE/EXDATE set. Floating times are
// read as UTC.
func busyFromCalendar(cal *ical.Calendar, start, end time.Time) []interval.Interval {
	if cal == nil {
		return nil
	}
	window := interval.New(start, end)
	var out []interval.Interval
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		if !blocksTime(comp) {
			continue
		}
		evStart, evEnd, ok := eventBounds(comp)
		if !ok {
			continue
		}
		length := evEnd.Sub(evStart)

		set, err := recurrence(comp)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring malformed recurrence rule")
		}
		if set == nil {
			if iv := interval.New(evStart, evEnd); iv.Overlaps(window) {
				out = append(out, iv)
			}
			continue
		}
		for _, occ := range set.Between(start.Add(-length), end, true) {
			if iv := interval.New(occ, occ.Add(length)); iv.Overlaps(window) {
				out = append(out, iv)
			}
		}
	}
	return out
}

// recurrence returns the event's occurrence set, or nil for a single event.
func recurrence(comp *ical.Component) (*rrule.Set, error) {
	set, err := comp.RecurrenceSet(time.UTC)
	if err != nil {
		return nil, err
	}
	return set, nil
}

func blocksTime(comp *ical.Component) bool {
	if p := comp.Props.Get(ical.PropTransparency); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return false
	}
	if p := comp.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return false
	}
	return true
}

// eventBounds returns DTSTART and the end implied by DTEND, DURATION, or
// the RFC 5545 defaults (one day for date values, zero otherwise).
func eventBounds(comp *ical.Component) (time.Time, time.Time, bool) {
	sp := comp.Props.Get(ical.PropDateTimeStart)
	if sp == nil {
		return time.Time{}, time.Time{}, false
	}
	s, err := sp.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if ep := comp.Props.Get(ical.PropDateTimeEnd); ep != nil {
		e, err := ep.DateTime(time.UTC)
		if err != nil || !e.After(s) {
			return time.Time{}, time.Time{}, false
		}
		return s, e, true
	}
	if dp := comp.Props.Get(ical.PropDuration); dp != nil {
		d, err := dp.Duration()
		if err != nil || d <= 0 {
			return time.Time{}, time.Time{}, false
		}
		return s, s.Add(d), true
	}
	if sp.ValueType() == ical.ValueDate {
		return s, s.AddDate(0, 0, 1), true
	}
	return time.Time{}, time.Time{}, false
}
