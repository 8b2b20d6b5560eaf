package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/timezone"
)

var testProviders = []string{"google", "caldav", "icloud", "ics"}

func newSchedule() (*ScheduleService, *memRepo, *recordingInvalidator) {
	r := newMemRepo()
	inv := &recordingInvalidator{}
	return NewScheduleService(nil, r, inv, testProviders), r, inv
}

func TestInitializeSchedule_DefaultWeek(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()

	week, err := s.InitializeSchedule(ctx, org)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(week) != 7 {
		t.Fatalf("len = %d", len(week))
	}
	for _, w := range week {
		weekday := w.DayOfWeek <= 5
		if w.IsAvailable != weekday {
			t.Fatalf("day %d available=%v", w.DayOfWeek, w.IsAvailable)
		}
		if weekday && (*w.StartTime != "09:00" || *w.EndTime != "17:00") {
			t.Fatalf("day %d window %s-%s", w.DayOfWeek, *w.StartTime, *w.EndTime)
		}
		if !weekday && (w.StartTime != nil || w.EndTime != nil) {
			t.Fatalf("day %d should have no bounds", w.DayOfWeek)
		}
	}
	if inv.count() != 1 {
		t.Fatalf("invalidations = %d", inv.count())
	}

	// Re-initializing keeps edited days.
	if _, err := s.UpdateWeeklyWindow(ctx, org, 1, true, "08:00", "12:00"); err != nil {
		t.Fatalf("update: %v", err)
	}
	week, _ = s.InitializeSchedule(ctx, org)
	if *week[0].StartTime != "08:00" {
		t.Fatalf("monday was reset to %s", *week[0].StartTime)
	}
}

func TestUpdateWeeklyWindow_Validation(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()

	cases := []struct {
		name       string
		day        int
		start, end string
		want       error
	}{
		{"day zero", 0, "09:00", "17:00", ErrInvalidDay},
		{"day eight", 8, "09:00", "17:00", ErrInvalidDay},
		{"bad clock", 1, "9am", "17:00", ErrInvalidTimeRange},
		{"inverted", 1, "17:00", "09:00", ErrInvalidTimeRange},
		{"empty range", 1, "09:00", "09:00", ErrInvalidTimeRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.UpdateWeeklyWindow(ctx, org, tc.day, true, tc.start, tc.end); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if inv.count() != 0 {
		t.Fatalf("rejected updates must not invalidate")
	}

	w, err := s.UpdateWeeklyWindow(ctx, org, 6, false, "ignored", "")
	if err != nil {
		t.Fatalf("unavailable day: %v", err)
	}
	if w.IsAvailable || w.StartTime != nil {
		t.Fatalf("got %+v", w)
	}

	w, err = s.UpdateWeeklyWindow(ctx, org, 2, true, "9:05", "17:30")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if *w.StartTime != "09:05" {
		t.Fatalf("start not canonical: %s", *w.StartTime)
	}
	if inv.count() != 2 {
		t.Fatalf("invalidations = %d", inv.count())
	}
}

func TestReplaceBreaks(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()

	if _, err := s.ReplaceBreaks(ctx, org, 1, nil); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("want ErrScheduleNotFound, got %v", err)
	}
	if _, err := s.InitializeSchedule(ctx, org); err != nil {
		t.Fatalf("init: %v", err)
	}
	before := inv.count()

	if _, err := s.ReplaceBreaks(ctx, org, 1, []domain.ClockRange{{Start: "13:00", End: "12:00"}}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("want ErrInvalidTimeRange, got %v", err)
	}

	w, err := s.ReplaceBreaks(ctx, org, 1, []domain.ClockRange{
		{Start: "15:00", End: "15:15"},
		{Start: "12:00", End: "13:00"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(w.Breaks) != 2 || w.Breaks[0].StartTime != "15:00" || w.Breaks[1].SortOrder != 1 {
		t.Fatalf("breaks = %+v", w.Breaks)
	}
	if inv.count() != before+1 {
		t.Fatalf("invalidations = %d, want %d", inv.count(), before+1)
	}

	w, err = s.ReplaceBreaks(ctx, org, 1, []domain.ClockRange{})
	if err != nil || len(w.Breaks) != 0 {
		t.Fatalf("clear: breaks=%v err=%v", w.Breaks, err)
	}
}

func TestSetOverride(t *testing.T) {
	s, r, inv := newSchedule()
	ctx := context.Background()

	if _, err := s.SetOverride(ctx, org, "2026-02-30", domain.OverrideUnavailable, "", ""); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("want ErrInvalidDate, got %v", err)
	}
	if _, err := s.SetOverride(ctx, org, monday, "holiday", "", ""); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("want ErrInvalidOverride, got %v", err)
	}
	if _, err := s.SetOverride(ctx, org, monday, domain.OverrideCustom, "10:00", ""); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("custom without end: want ErrInvalidOverride, got %v", err)
	}
	if _, err := s.SetOverride(ctx, org, monday, domain.OverrideCustom, "11:00", "10:00"); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("want ErrInvalidTimeRange, got %v", err)
	}

	o, err := s.SetOverride(ctx, org, monday, domain.OverrideUnavailable, "10:00", "11:00")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if o.StartTime != nil || o.EndTime != nil {
		t.Fatalf("unavailable override kept times: %+v", o)
	}

	o, err = s.SetOverride(ctx, org, monday, domain.OverrideCustom, "10:00", "11:00")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if o.Type != domain.OverrideCustom || *o.StartTime != "10:00" {
		t.Fatalf("got %+v", o)
	}
	if len(r.overrides[org]) != 1 {
		t.Fatalf("override should be replaced, have %d", len(r.overrides[org]))
	}
	if inv.count() != 2 {
		t.Fatalf("invalidations = %d", inv.count())
	}

	list, err := s.Overrides(ctx, org, "2026-03-01", "2026-03-31")
	if err != nil || len(list) != 1 {
		t.Fatalf("overrides = %v, err=%v", list, err)
	}
}

func TestDeleteOverride(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()

	if err := s.DeleteOverride(ctx, org, monday); !errors.Is(err, ErrOverrideNotFound) {
		t.Fatalf("want ErrOverrideNotFound, got %v", err)
	}
	if _, err := s.SetOverride(ctx, org, monday, domain.OverrideUnavailable, "", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.DeleteOverride(ctx, org, monday); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if inv.count() != 2 {
		t.Fatalf("invalidations = %d", inv.count())
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()
	valid := domain.Profile{OrganizerID: org, Timezone: "Europe/Berlin", SlotDurationMinutes: 30, BufferMinutes: 15, AdvanceBookingDays: 30}

	if _, err := s.Profile(ctx, org); !errors.Is(err, ErrOrganizerNotFound) {
		t.Fatalf("want ErrOrganizerNotFound, got %v", err)
	}

	bad := valid
	bad.Timezone = "Nowhere/City"
	if _, err := s.UpdateProfile(ctx, bad); !errors.Is(err, timezone.ErrInvalidTimezone) {
		t.Fatalf("want ErrInvalidTimezone, got %v", err)
	}

	mutations := map[string]func(*domain.Profile){
		"slot too short": func(p *domain.Profile) { p.SlotDurationMinutes = 4 },
		"slot too long":  func(p *domain.Profile) { p.SlotDurationMinutes = 481 },
		"negative buf":   func(p *domain.Profile) { p.BufferMinutes = -1 },
		"buffer too big": func(p *domain.Profile) { p.BufferMinutes = MaxBufferMinutes + 1 },
		"negative days":  func(p *domain.Profile) { p.AdvanceBookingDays = -1 },
		"negative hours": func(p *domain.Profile) { p.MinAdvanceHours = -1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			if _, err := s.UpdateProfile(ctx, p); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("want ErrInvalidProfile, got %v", err)
			}
		})
	}
	if inv.count() != 0 {
		t.Fatalf("rejected profiles must not invalidate")
	}

	if _, err := s.UpdateProfile(ctx, valid); err != nil {
		t.Fatalf("err: %v", err)
	}
	got, err := s.Profile(ctx, org)
	if err != nil || got.Timezone != "Europe/Berlin" {
		t.Fatalf("profile = %+v, err=%v", got, err)
	}
	if inv.count() != 1 {
		t.Fatalf("invalidations = %d", inv.count())
	}
}

func TestIntegrations(t *testing.T) {
	s, _, inv := newSchedule()
	ctx := context.Background()

	if _, err := s.AddIntegration(ctx, domain.CalendarIntegration{OrganizerID: org, Provider: "outlook", CalendarID: "x"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("want ErrUnknownProvider, got %v", err)
	}
	if _, err := s.AddIntegration(ctx, domain.CalendarIntegration{OrganizerID: org, Provider: "ics"}); !errors.Is(err, ErrInvalidIntegration) {
		t.Fatalf("want ErrInvalidIntegration, got %v", err)
	}

	in, err := s.AddIntegration(ctx, domain.CalendarIntegration{OrganizerID: org, Provider: " ICS ", CalendarID: "https://example.com/cal.ics"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if in.Provider != "ics" || !in.Active {
		t.Fatalf("got %+v", in)
	}
	if _, err := s.AddIntegration(ctx, domain.CalendarIntegration{OrganizerID: org, Provider: "google"}); err != nil {
		t.Fatalf("google primary calendar: %v", err)
	}

	if err := s.DeactivateIntegration(ctx, org, "missing"); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("want ErrIntegrationNotFound, got %v", err)
	}
	if err := s.DeactivateIntegration(ctx, org, in.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	list, err := s.Integrations(ctx, org)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %v, err=%v", list, err)
	}
	for _, it := range list {
		if it.ID == in.ID && it.Active {
			t.Fatalf("integration still active")
		}
	}
	if inv.count() != 3 {
		t.Fatalf("invalidations = %d", inv.count())
	}
}

func TestScheduleChangesReachSlotListing(t *testing.T) {
	r := newMemRepo()
	avail := newAvailability(r, &fakeFetcher{})
	sched := NewScheduleService(nil, r, avail, testProviders)
	ctx := context.Background()

	if _, err := sched.UpdateProfile(ctx, domain.Profile{OrganizerID: org, Timezone: "UTC", SlotDurationMinutes: 60, AdvanceBookingDays: 60}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if _, err := sched.InitializeSchedule(ctx, org); err != nil {
		t.Fatalf("init: %v", err)
	}
	q := SlotQuery{OrganizerID: org, Date: monday}
	day, err := avail.ListAvailableSlots(ctx, q)
	if err != nil || len(day.Slots) != 8 {
		t.Fatalf("slots = %d, err=%v", len(day.Slots), err)
	}

	if _, err := sched.SetOverride(ctx, org, monday, domain.OverrideUnavailable, "", ""); err != nil {
		t.Fatalf("override: %v", err)
	}
	day, err = avail.ListAvailableSlots(ctx, q)
	if err != nil || day.Available || len(day.Slots) != 0 {
		t.Fatalf("after override: %+v err=%v", day, err)
	}
}
