package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-availability-engine/internal/breaker"
	"github.com/tbourn/go-availability-engine/internal/busy"
	"github.com/tbourn/go-availability-engine/internal/cache"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
	"github.com/tbourn/go-availability-engine/internal/timezone"
)

const (
	org    = "org-1"
	monday = "2026-03-02"
)

var fixedNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func utc(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

// seedMonday stores a UTC organizer with a Monday 09:00-17:00 window, a
// 12:00-13:00 break, 30 minute slots and a 10 minute buffer.
func seedMonday(r *memRepo) {
	r.profiles[org] = domain.Profile{
		OrganizerID:         org,
		Timezone:            "UTC",
		SlotDurationMinutes: 30,
		BufferMinutes:       10,
		AdvanceBookingDays:  60,
	}
	r.windows[org] = map[int]domain.WeeklyWindow{
		1: {
			ID: "w1", OrganizerID: org, DayOfWeek: 1, IsAvailable: true,
			StartTime: strp("09:00"), EndTime: strp("17:00"),
			Breaks: []domain.Break{{StartTime: "12:00", EndTime: "13:00"}},
		},
	}
}

func newAvailability(r *memRepo, f BusyFetcher) *AvailabilityService {
	s := NewAvailabilityService(nil, r, f, cache.New[busy.Result](time.Minute, 100, nil))
	s.Now = func() time.Time { return fixedNow }
	return s
}

func starts(slots []domain.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ----- ResolveDayWindow -----

func TestResolveDayWindow_WeeklyWithBreaks(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, nil)

	dw, err := s.ResolveDayWindow(context.Background(), org, monday)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !dw.Available || dw.Source != "weekly" {
		t.Fatalf("got %+v", dw)
	}
	if dw.Window != (domain.ClockRange{Start: "09:00", End: "17:00"}) {
		t.Fatalf("window = %+v", dw.Window)
	}
	if len(dw.Breaks) != 1 || dw.Breaks[0].Start != "12:00" {
		t.Fatalf("breaks = %+v", dw.Breaks)
	}
}

func TestResolveDayWindow_OverrideWins(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	r.overrides[org] = map[string]domain.Override{
		monday: {OrganizerID: org, Date: monday, Type: domain.OverrideCustom, StartTime: strp("10:00"), EndTime: strp("11:00")},
	}
	s := newAvailability(r, nil)

	dw, err := s.ResolveDayWindow(context.Background(), org, monday)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !dw.Available || dw.Source != "override" || dw.Window.Start != "10:00" {
		t.Fatalf("got %+v", dw)
	}
	if len(dw.Breaks) != 0 {
		t.Fatalf("custom override must not inherit breaks: %+v", dw.Breaks)
	}
}

func TestResolveDayWindow_NoWindowIsUnavailable(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, nil)

	dw, err := s.ResolveDayWindow(context.Background(), org, "2026-03-03") // Tuesday
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if dw.Available {
		t.Fatalf("expected unavailable, got %+v", dw)
	}
	if _, err := s.ResolveDayWindow(context.Background(), org, "03/02/2026"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("want ErrInvalidDate, got %v", err)
	}
}

// ----- ListAvailableSlots -----

func TestListAvailableSlots_BreakBusyAndBuffer(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	f := &fakeFetcher{res: busy.Result{Busy: []domain.BusyInterval{{Start: utc(14, 0), End: utc(14, 30)}}}}
	s := newAvailability(r, f)

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	want := []string{
		"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
		"13:10",
		"14:40", "15:10", "15:40", "16:10",
	}
	if got := starts(day.Slots); !sameStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
	if !day.Available || day.Degraded || day.Timezone != "UTC" {
		t.Fatalf("unexpected day: %+v", day)
	}
	for _, sl := range day.Slots {
		if sl.End().Sub(sl.Start) != 30*time.Minute {
			t.Fatalf("slot length %v", sl.End().Sub(sl.Start))
		}
	}
}

func TestListAvailableSlots_CachesBusyPerDay(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	f := &fakeFetcher{}
	s := newAvailability(r, f)
	q := SlotQuery{OrganizerID: org, Date: monday}

	for i := 0; i < 3; i++ {
		if _, err := s.ListAvailableSlots(context.Background(), q); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}

	s.InvalidateAvailability(org)
	if _, err := s.ListAvailableSlots(context.Background(), q); err != nil {
		t.Fatalf("err: %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch calls after invalidate = %d, want 2", n)
	}
}

func TestListAvailableSlots_UnavailableOverride(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	r.overrides[org] = map[string]domain.Override{
		monday: {OrganizerID: org, Date: monday, Type: domain.OverrideUnavailable},
	}
	f := &fakeFetcher{}
	s := newAvailability(r, f)

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if day.Available || len(day.Slots) != 0 {
		t.Fatalf("expected blocked day, got %+v", day)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("blocked day must not query calendars")
	}
}

func TestListAvailableSlots_CustomOverrideAndDuration(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	r.overrides[org] = map[string]domain.Override{
		monday: {OrganizerID: org, Date: monday, Type: domain.OverrideCustom, StartTime: strp("12:00"), EndTime: strp("14:00")},
	}
	s := newAvailability(r, &fakeFetcher{})

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday, DurationMinutes: 60})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// The weekly 12:00 break does not apply to a custom override.
	if got, want := starts(day.Slots), []string{"12:00", "13:00"}; !sameStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
}

func TestListAvailableSlots_ViewerTimezone(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday, ViewerTimezone: "Asia/Tokyo"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if day.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %q", day.Timezone)
	}
	first := day.Slots[0].Start
	if first.Format("15:04") != "18:00" || !first.Equal(utc(9, 0)) {
		t.Fatalf("first slot = %v", first)
	}
}

func TestListAvailableSlots_OrganizerZoneProjection(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	p := r.profiles[org]
	p.Timezone = "America/New_York"
	r.profiles[org] = p
	s := newAvailability(r, &fakeFetcher{})

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday, ViewerTimezone: "UTC"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// 09:00 EST is 14:00 UTC.
	if !day.Slots[0].Start.Equal(utc(14, 0)) {
		t.Fatalf("first slot = %v", day.Slots[0].Start)
	}
}

func TestListAvailableSlots_Errors(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()

	if _, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: "nobody", Date: monday}); !errors.Is(err, ErrOrganizerNotFound) {
		t.Fatalf("want ErrOrganizerNotFound, got %v", err)
	}
	if _, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: monday, ViewerTimezone: "Mars/Olympus"}); !errors.Is(err, timezone.ErrInvalidTimezone) {
		t.Fatalf("want ErrInvalidTimezone, got %v", err)
	}
	if _, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: "2026-13-01"}); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("want ErrInvalidDate, got %v", err)
	}
}

func TestListAvailableSlots_WindowInDSTGap(t *testing.T) {
	r := newMemRepo()
	r.profiles[org] = domain.Profile{OrganizerID: org, Timezone: "America/New_York", SlotDurationMinutes: 30}
	r.overrides[org] = map[string]domain.Override{
		"2026-03-08": {OrganizerID: org, Date: "2026-03-08", Type: domain.OverrideCustom, StartTime: strp("02:30"), EndTime: strp("05:00")},
	}
	s := newAvailability(r, &fakeFetcher{})

	_, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: "2026-03-08"})
	if !errors.Is(err, timezone.ErrAmbiguousLocalTime) {
		t.Fatalf("want ErrAmbiguousLocalTime, got %v", err)
	}
}

func TestListAvailableSlots_MinAdvance(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	p := r.profiles[org]
	p.MinAdvanceHours = 2
	r.profiles[org] = p
	s := newAvailability(r, &fakeFetcher{})
	s.Now = func() time.Time { return utc(13, 30) }

	day, err := s.ListAvailableSlots(context.Background(), SlotQuery{OrganizerID: org, Date: monday})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got, want := starts(day.Slots), []string{"15:40", "16:10"}; !sameStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
}

func TestListAvailableSlots_DegradedWhenProviderTimesOut(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	r.integs = []domain.CalendarIntegration{
		{ID: "g1", OrganizerID: org, Provider: "fast", Active: true},
		{ID: "s1", OrganizerID: org, Provider: "slow", Active: true},
	}
	var fastCalls atomic.Int32
	agg := busy.NewAggregator(map[string]busy.Provider{
		"fast": busy.ProviderFunc(func(ctx context.Context, _ domain.CalendarIntegration, _, _ time.Time) ([]interval.Interval, error) {
			fastCalls.Add(1)
			return []interval.Interval{interval.New(utc(9, 0), utc(10, 0))}, nil
		}),
		"slow": busy.ProviderFunc(func(ctx context.Context, _ domain.CalendarIntegration, _, _ time.Time) ([]interval.Interval, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}, breaker.NewRegistry(breaker.Settings{}), 50*time.Millisecond)
	s := newAvailability(r, agg)
	q := SlotQuery{OrganizerID: org, Date: monday}

	day, err := s.ListAvailableSlots(context.Background(), q)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !day.Degraded || len(day.Warnings) != 1 || day.Warnings[0].IntegrationID != "s1" {
		t.Fatalf("expected one warning for s1, got %+v", day.Warnings)
	}
	// 09:00-10:00 busy plus the 10 minute buffer.
	if got := starts(day.Slots); got[0] != "10:10" {
		t.Fatalf("first slot = %s", got[0])
	}

	// Degraded results are not cached.
	if _, err := s.ListAvailableSlots(context.Background(), q); err != nil {
		t.Fatalf("err: %v", err)
	}
	if n := fastCalls.Load(); n != 2 {
		t.Fatalf("fast provider calls = %d, want 2", n)
	}
}

// ----- ListAvailableSlotsRange -----

func TestListAvailableSlotsRange(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})

	days, err := s.ListAvailableSlotsRange(context.Background(), SlotQuery{OrganizerID: org, Date: monday}, 7)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(days) != 7 {
		t.Fatalf("len = %d", len(days))
	}
	if days[0].Date != monday || !days[0].Available || len(days[0].Slots) == 0 {
		t.Fatalf("monday = %+v", days[0])
	}
	for _, d := range days[1:] {
		if d.Available || len(d.Slots) != 0 {
			t.Fatalf("%s should be unavailable", d.Date)
		}
	}
	if days[6].Date != "2026-03-08" {
		t.Fatalf("last date = %s", days[6].Date)
	}

	if _, err := s.ListAvailableSlotsRange(context.Background(), SlotQuery{OrganizerID: org, Date: monday}, 15); !errors.Is(err, ErrRangeTooLong) {
		t.Fatalf("want ErrRangeTooLong, got %v", err)
	}
}

// ----- BookSlot / CancelMeeting -----

func TestBookSlot_BooksAndBlocksTheSlot(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()
	q := SlotQuery{OrganizerID: org, Date: monday}

	// Warm the cache so the booking must invalidate it.
	if _, err := s.ListAvailableSlots(ctx, q); err != nil {
		t.Fatalf("err: %v", err)
	}

	m, replay, err := s.BookSlot(ctx, BookingRequest{OrganizerID: org, Start: utc(9, 0), Title: "Intro", AttendeeEmail: "a@example.com"})
	if err != nil || replay {
		t.Fatalf("book: m=%v replay=%v err=%v", m, replay, err)
	}
	if !m.StartAt.Equal(utc(9, 0)) || !m.EndAt.Equal(utc(9, 30)) || m.Status != domain.MeetingConfirmed {
		t.Fatalf("meeting = %+v", m)
	}

	day, err := s.ListAvailableSlots(ctx, q)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// The meeting plus the 10 minute buffer pushes the next slot to 09:40.
	if got := starts(day.Slots); got[0] != "09:40" {
		t.Fatalf("slots after booking = %v", got)
	}

	if _, _, err := s.BookSlot(ctx, BookingRequest{OrganizerID: org, Start: utc(9, 0)}); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("double booking: want ErrSlotUnavailable, got %v", err)
	}
}

func TestBookSlot_RejectsNonSlotStarts(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()

	for _, start := range []time.Time{utc(12, 0), utc(13, 0), utc(9, 15), utc(16, 45)} {
		if _, _, err := s.BookSlot(ctx, BookingRequest{OrganizerID: org, Start: start}); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("%v: want ErrSlotUnavailable, got %v", start, err)
		}
	}
	if _, _, err := s.BookSlot(ctx, BookingRequest{OrganizerID: "nobody", Start: utc(9, 0)}); !errors.Is(err, ErrOrganizerNotFound) {
		t.Fatalf("want ErrOrganizerNotFound, got %v", err)
	}
	if len(r.meetings) != 0 {
		t.Fatalf("no meeting should be stored")
	}
}

func TestBookSlot_IdempotencyKeyReplays(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()
	req := BookingRequest{OrganizerID: org, Start: utc(10, 0), IdempotencyKey: "k-1"}

	first, replay, err := s.BookSlot(ctx, req)
	if err != nil || replay {
		t.Fatalf("first: replay=%v err=%v", replay, err)
	}
	second, replay, err := s.BookSlot(ctx, req)
	if err != nil || !replay {
		t.Fatalf("second: replay=%v err=%v", replay, err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if len(r.meetings) != 1 {
		t.Fatalf("meetings = %d, want 1", len(r.meetings))
	}
}

func TestBookSlot_StoreErrorIsReturned(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	r.createMeetingErr = errors.New("disk full")
	s := newAvailability(r, &fakeFetcher{})

	if _, _, err := s.BookSlot(context.Background(), BookingRequest{OrganizerID: org, Start: utc(9, 0)}); err == nil || err.Error() != "disk full" {
		t.Fatalf("want store error, got %v", err)
	}
}

func TestCancelMeeting_FreesTheSlot(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()

	m, _, err := s.BookSlot(ctx, BookingRequest{OrganizerID: org, Start: utc(9, 0)})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := s.CancelMeeting(ctx, org, m.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	day, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: monday})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := starts(day.Slots); got[0] != "09:00" {
		t.Fatalf("slots after cancel = %v", got)
	}

	if err := s.CancelMeeting(ctx, org, m.ID); !errors.Is(err, ErrMeetingNotFound) {
		t.Fatalf("second cancel: want ErrMeetingNotFound, got %v", err)
	}
}

func TestListAvailableSlotsRange_DSTGapDayDoesNotFailRange(t *testing.T) {
	r := newMemRepo()
	r.profiles[org] = domain.Profile{OrganizerID: org, Timezone: "America/New_York", SlotDurationMinutes: 30}
	r.overrides[org] = map[string]domain.Override{
		"2026-03-07": {OrganizerID: org, Date: "2026-03-07", Type: domain.OverrideCustom, StartTime: strp("09:00"), EndTime: strp("10:00")},
		"2026-03-08": {OrganizerID: org, Date: "2026-03-08", Type: domain.OverrideCustom, StartTime: strp("02:30"), EndTime: strp("05:00")},
	}
	s := newAvailability(r, &fakeFetcher{})

	days, err := s.ListAvailableSlotsRange(context.Background(), SlotQuery{OrganizerID: org, Date: "2026-03-07"}, 2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(days[0].Slots) != 2 || days[0].Error != "" {
		t.Fatalf("2026-03-07 = %+v", days[0])
	}
	gap := days[1]
	if gap.Date != "2026-03-08" || gap.Error == "" || gap.Available || len(gap.Slots) != 0 || gap.Timezone != "America/New_York" {
		t.Fatalf("2026-03-08 = %+v", gap)
	}
}

func TestSlotDurationBounds(t *testing.T) {
	r := newMemRepo()
	seedMonday(r)
	s := newAvailability(r, &fakeFetcher{})
	ctx := context.Background()

	// 1<<40 minutes overflows time.Duration.
	for _, d := range []int{-1, MinSlotMinutes - 1, MaxSlotMinutes + 1, 1 << 40} {
		if _, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: monday, DurationMinutes: d}); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("list duration %d: want ErrInvalidDuration, got %v", d, err)
		}
		if _, err := s.ListAvailableSlotsRange(ctx, SlotQuery{OrganizerID: org, Date: monday, DurationMinutes: d}, 2); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("range duration %d: want ErrInvalidDuration, got %v", d, err)
		}
		if _, _, err := s.BookSlot(ctx, BookingRequest{OrganizerID: org, Start: utc(9, 0), DurationMinutes: d}); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("book duration %d: want ErrInvalidDuration, got %v", d, err)
		}
	}

	day, err := s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: monday, DurationMinutes: MaxSlotMinutes})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(day.Slots) != 0 {
		t.Fatalf("8h slots cannot fit between the break: %v", starts(day.Slots))
	}
	day, err = s.ListAvailableSlots(ctx, SlotQuery{OrganizerID: org, Date: monday, DurationMinutes: 60})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := starts(day.Slots); len(got) == 0 || got[0] != "09:00" {
		t.Fatalf("60 minute slots = %v", got)
	}
}
