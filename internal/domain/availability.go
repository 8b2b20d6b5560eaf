package domain

import "time"

// BusyInterval is a span during which the organizer is already committed.
// It is computed per request and never persisted. Source names the provider
// connection it came from; merged intervals have an empty Source.
type BusyInterval struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source,omitempty"`
}

// Slot is a bookable start time. Start is an absolute instant; callers project
// it into a display zone.
type Slot struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"-"`
}

// End returns the instant the slot finishes.
func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

// ClockRange is a local wall-clock range ("HH:MM") with no date attached.
type ClockRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DayWindow is the resolved open window for one organizer on one date.
//
// When Available is false the day is blocked (weekly default or override) and
// Window/Breaks are empty. Source is "override" or "weekly".
type DayWindow struct {
	Available bool         `json:"available"`
	Window    ClockRange   `json:"window"`
	Breaks    []ClockRange `json:"breaks"`
	Source    string       `json:"source"`
}
