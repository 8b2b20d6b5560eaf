// Package services – AvailabilityService
//
// This file implements the read side of the engine: it resolves the open
// window of an organizer for a date (a date override always wins over the
// weekly default), projects it from the organizer's zone to absolute time,
// removes breaks and buffered busy time, and returns bookable slots rendered
// in the viewer's zone. It also books and cancels meetings, which are busy
// time for later requests.
//
// Busy time comes from the organizer's active calendar integrations through
// a BusyFetcher (normally *busy.Aggregator) plus the confirmed meetings
// stored locally. The combined set is memoized per (organizer, date,
// provider set) by the availability cache. Results missing a provider are
// served but never cached, so a recovered provider is picked up on the next
// request instead of after the TTL.
//
// A blocked day is not an error: it yields Available=false and no slots.
//
// Observability: ListAvailableSlots, ListAvailableSlotsRange and BookSlot are
// OpenTelemetry-instrumented; the cache and aggregator add their own spans
// and Prometheus counters.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/busy"
	"github.com/tbourn/go-availability-engine/internal/cache"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
	"github.com/tbourn/go-availability-engine/internal/repo"
	"github.com/tbourn/go-availability-engine/internal/slots"
	"github.com/tbourn/go-availability-engine/internal/timezone"
)

const (
	// BookingSource tags busy intervals that come from locally booked meetings.
	BookingSource = "bookings"

	// MaxBufferMinutes caps Profile.BufferMinutes. Busy time is fetched this
	// far beyond the organizer's day so buffers apply across midnight.
	MaxBufferMinutes = 120

	// MinSlotMinutes and MaxSlotMinutes bound slot lengths, both in profiles
	// and in per-request overrides.
	MinSlotMinutes = 5
	MaxSlotMinutes = 8 * 60

	sourceOverride = "override"
	sourceWeekly   = "weekly"
)

// AvailabilityRepo defines the repository contract required by
// AvailabilityService.
type AvailabilityRepo interface {
	// GetProfile returns the organizer's booking profile.
	GetProfile(ctx context.Context, db *gorm.DB, organizerID string) (*domain.Profile, error)

	// GetDaySchedule reads the date override and the weekly window for a day
	// in one snapshot. Either may be nil.
	GetDaySchedule(ctx context.Context, db *gorm.DB, organizerID, date string, day int) (*domain.Override, *domain.WeeklyWindow, error)

	// ListIntegrations returns the organizer's calendar integrations.
	ListIntegrations(ctx context.Context, db *gorm.DB, organizerID string, activeOnly bool) ([]domain.CalendarIntegration, error)

	// ListMeetings returns confirmed meetings overlapping [start, end).
	ListMeetings(ctx context.Context, db *gorm.DB, organizerID string, start, end time.Time) ([]domain.Meeting, error)

	GetMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) (*domain.Meeting, error)
	CreateMeeting(ctx context.Context, db *gorm.DB, m domain.Meeting) (*domain.Meeting, error)
	CancelMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) error

	GetBookingKey(ctx context.Context, db *gorm.DB, organizerID, key string, now time.Time) (*domain.BookingKey, error)
	CreateBookingKey(ctx context.Context, db *gorm.DB, organizerID, key, meetingID string, ttl time.Duration) (*domain.BookingKey, error)
}

// BusyFetcher collects busy time from external calendars.
type BusyFetcher interface {
	Fetch(ctx context.Context, integs []domain.CalendarIntegration, start, end time.Time) busy.Result
}

// SlotQuery selects the slots to list.
type SlotQuery struct {
	OrganizerID string
	Date        string // YYYY-MM-DD in the organizer's zone
	// ViewerTimezone is the IANA zone slots are rendered in. Empty means the
	// organizer's own zone.
	ViewerTimezone string
	// DurationMinutes overrides the profile's slot length when positive.
	DurationMinutes int
}

// DaySlots is the result for one organizer-local date.
type DaySlots struct {
	OrganizerID string         `json:"organizer_id"`
	Date        string         `json:"date"`
	Timezone    string         `json:"timezone"`
	Available   bool           `json:"available"`
	Slots       []domain.Slot  `json:"slots"`
	Degraded    bool           `json:"degraded"`
	Warnings    []busy.Warning `json:"warnings,omitempty"`
	// Error is set on a day of a range listing that could not be computed
	// because its window falls in a DST gap. The day has no slots.
	Error       string         `json:"error,omitempty"`
}

// BookingRequest describes a meeting to book on a bookable slot.
type BookingRequest struct {
	OrganizerID     string
	Start           time.Time
	DurationMinutes int
	Title           string
	AttendeeEmail   string
	// IdempotencyKey makes retries return the first booking.
	IdempotencyKey string
}

// AvailabilityService computes bookable slots and manages meetings.
type AvailabilityService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the repository used by this service.
	Repo AvailabilityRepo

	Projector *timezone.Projector
	Busy      BusyFetcher
	Cache     *cache.Cache[busy.Result]
	Now       func() time.Time

	// DefaultSlotMinutes applies when a profile has no slot duration.
	DefaultSlotMinutes int
	// MaxRangeDays caps ListAvailableSlotsRange.
	MaxRangeDays int
	// BookingKeyTTL is how long an Idempotency-Key maps to its meeting.
	BookingKeyTTL time.Duration

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewAvailabilityService constructs an AvailabilityService with defaults.
// The cache is configured to skip degraded results.
func NewAvailabilityService(db *gorm.DB, r AvailabilityRepo, fetcher BusyFetcher, c *cache.Cache[busy.Result]) *AvailabilityService {
	if c == nil {
		c = cache.New[busy.Result](0, 0, nil)
	}
	c.Keep = func(res busy.Result) bool { return !res.Degraded() }
	return &AvailabilityService{
		DB:                 db,
		Repo:               r,
		Projector:          timezone.NewProjector(),
		Busy:               fetcher,
		Cache:              c,
		Now:                time.Now,
		DefaultSlotMinutes: 30,
		MaxRangeDays:       14,
		BookingKeyTTL:      24 * time.Hour,
		locks:              make(map[string]*sync.Mutex),
	}
}

// ResolveDayWindow returns the organizer's open window for date. An override
// for the exact date always wins; a custom override carries no breaks.
func (s *AvailabilityService) ResolveDayWindow(ctx context.Context, organizerID, date string) (*domain.DayWindow, error) {
	d, err := timezone.ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	return s.resolveDay(ctx, organizerID, d)
}

func (s *AvailabilityService) resolveDay(ctx context.Context, organizerID string, d timezone.Date) (*domain.DayWindow, error) {
	ov, win, err := s.Repo.GetDaySchedule(ctx, s.DB, organizerID, d.String(), d.ISOWeekday())
	if err != nil {
		return nil, err
	}

	if ov != nil {
		dw := &domain.DayWindow{Source: sourceOverride, Breaks: []domain.ClockRange{}}
		if ov.Type == domain.OverrideCustom && ov.StartTime != nil && ov.EndTime != nil {
			dw.Available = true
			dw.Window = domain.ClockRange{Start: *ov.StartTime, End: *ov.EndTime}
		}
		return dw, nil
	}

	dw := &domain.DayWindow{Source: sourceWeekly, Breaks: []domain.ClockRange{}}
	if win == nil || !win.IsAvailable || win.StartTime == nil || win.EndTime == nil {
		return dw, nil
	}
	dw.Available = true
	dw.Window = domain.ClockRange{Start: *win.StartTime, End: *win.EndTime}
	for _, b := range win.Breaks {
		dw.Breaks = append(dw.Breaks, domain.ClockRange{Start: b.StartTime, End: b.EndTime})
	}
	return dw, nil
}

// ListAvailableSlots returns the bookable slots of one organizer-local date
// rendered in the viewer's zone.
//
// Errors: ErrInvalidDate, ErrOrganizerNotFound, timezone.ErrInvalidTimezone,
// timezone.ErrAmbiguousLocalTime. Unreachable providers only set Degraded.
func (s *AvailabilityService) ListAvailableSlots(ctx context.Context, q SlotQuery) (*DaySlots, error) {
	tr := otel.Tracer("services/AvailabilityService")
	ctx, span := tr.Start(ctx, "ListAvailableSlots",
		trace.WithAttributes(
			attribute.String("organizer.id", q.OrganizerID),
			attribute.String("date", q.Date),
		),
	)
	defer span.End()

	d, err := timezone.ParseDate(q.Date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	p, viewer, err := s.prepare(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	day, err := s.computeDay(ctx, p, d, q.DurationMinutes, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	day.render(viewer)

	span.SetAttributes(
		attribute.Int("slots", len(day.Slots)),
		attribute.Bool("degraded", day.Degraded),
	)
	return day, nil
}

// ListAvailableSlotsRange lists days consecutive dates starting at q.Date.
// Days are computed concurrently and cached independently. A day whose window
// falls in a DST gap is returned with Error set and no slots; any other
// failure fails the whole listing.
func (s *AvailabilityService) ListAvailableSlotsRange(ctx context.Context, q SlotQuery, days int) ([]DaySlots, error) {
	tr := otel.Tracer("services/AvailabilityService")
	ctx, span := tr.Start(ctx, "ListAvailableSlotsRange",
		trace.WithAttributes(
			attribute.String("organizer.id", q.OrganizerID),
			attribute.String("date", q.Date),
			attribute.Int("days", days),
		),
	)
	defer span.End()

	if days <= 0 {
		days = 1
	}
	if s.MaxRangeDays > 0 && days > s.MaxRangeDays {
		return nil, ErrRangeTooLong
	}
	first, err := timezone.ParseDate(q.Date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	p, viewer, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]DaySlots, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < days; i++ {
		d := first.AddDays(i)
		g.Go(func() error {
			day, err := s.computeDay(gctx, p, d, q.DurationMinutes, true)
			if errors.Is(err, timezone.ErrAmbiguousLocalTime) {
				// One bad day does not fail the rest of the range.
				day = &DaySlots{OrganizerID: p.OrganizerID, Date: d.String(), Slots: []domain.Slot{}, Error: err.Error()}
				err = nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", d, err)
			}
			day.render(viewer)
			out[i] = *day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// InvalidateAvailability drops every cached busy set of the organizer. It
// is called synchronously by every mutation that changes availability.
func (s *AvailabilityService) InvalidateAvailability(organizerID string) {
	if s.Cache == nil {
		return
	}
	s.Cache.Invalidate(organizerID)
	log.Debug().Str("organizer_id", organizerID).Msg("availability invalidated")
}

// BookSlot books req.Start if it is a bookable slot right now, checked
// against fresh (uncached) busy data. Bookings for one organizer are
// serialized within this process.
//
// The second return value reports a replay: an earlier request with the
// same IdempotencyKey already created the returned meeting.
func (s *AvailabilityService) BookSlot(ctx context.Context, req BookingRequest) (*domain.Meeting, bool, error) {
	tr := otel.Tracer("services/AvailabilityService")
	ctx, span := tr.Start(ctx, "BookSlot",
		trace.WithAttributes(
			attribute.String("organizer.id", req.OrganizerID),
			attribute.String("start", req.Start.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	if m, ok, err := s.replay(ctx, req); err != nil || ok {
		return m, ok, err
	}
	if err := checkDuration(req.DurationMinutes); err != nil {
		return nil, false, err
	}

	p, err := s.profile(ctx, req.OrganizerID)
	if err != nil {
		return nil, false, err
	}
	loc, err := s.Projector.Location(p.Timezone)
	if err != nil {
		return nil, false, err
	}

	unlock := s.lock(req.OrganizerID)
	defer unlock()

	// A concurrent request with the same key may have finished while we waited.
	if m, ok, err := s.replay(ctx, req); err != nil || ok {
		return m, ok, err
	}

	day, err := s.computeDay(ctx, p, timezone.DateOf(req.Start.In(loc)), req.DurationMinutes, false)
	if err != nil {
		return nil, false, err
	}
	var slot *domain.Slot
	for i := range day.Slots {
		if day.Slots[i].Start.Equal(req.Start) {
			slot = &day.Slots[i]
			break
		}
	}
	if slot == nil {
		return nil, false, ErrSlotUnavailable
	}

	var created *domain.Meeting
	err = s.tx(ctx, func(tx *gorm.DB) error {
		m, err := s.Repo.CreateMeeting(ctx, tx, domain.Meeting{
			OrganizerID:   req.OrganizerID,
			StartAt:       slot.Start,
			EndAt:         slot.End(),
			Status:        domain.MeetingConfirmed,
			Title:         req.Title,
			AttendeeEmail: req.AttendeeEmail,
		})
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if _, err := s.Repo.CreateBookingKey(ctx, tx, req.OrganizerID, req.IdempotencyKey, m.ID, s.BookingKeyTTL); err != nil {
				return err
			}
		}
		created = m
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Another process stored the key first; its meeting stands.
		if m, ok, rerr := s.replay(ctx, req); rerr != nil || ok {
			return m, ok, rerr
		}
		return nil, false, ErrSlotUnavailable
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	s.InvalidateAvailability(req.OrganizerID)
	log.Info().
		Str("organizer_id", req.OrganizerID).
		Str("meeting_id", created.ID).
		Time("start", created.StartAt).
		Msg("meeting booked")
	return created, false, nil
}

// CancelMeeting cancels a confirmed meeting and frees its time.
func (s *AvailabilityService) CancelMeeting(ctx context.Context, organizerID, meetingID string) error {
	if err := s.Repo.CancelMeeting(ctx, s.DB, organizerID, meetingID); err != nil {
		if isNotFound(err) {
			return ErrMeetingNotFound
		}
		return err
	}
	s.InvalidateAvailability(organizerID)
	return nil
}

// replay returns the meeting recorded for req.IdempotencyKey, if any.
func (s *AvailabilityService) replay(ctx context.Context, req BookingRequest) (*domain.Meeting, bool, error) {
	if req.IdempotencyKey == "" {
		return nil, false, nil
	}
	rec, err := s.Repo.GetBookingKey(ctx, s.DB, req.OrganizerID, req.IdempotencyKey, s.now())
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	m, err := s.Repo.GetMeeting(ctx, s.DB, req.OrganizerID, rec.MeetingID)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (s *AvailabilityService) prepare(ctx context.Context, q SlotQuery) (*domain.Profile, *time.Location, error) {
	if err := checkDuration(q.DurationMinutes); err != nil {
		return nil, nil, err
	}
	p, err := s.profile(ctx, q.OrganizerID)
	if err != nil {
		return nil, nil, err
	}
	zone := q.ViewerTimezone
	if zone == "" {
		zone = p.Timezone
	}
	viewer, err := s.Projector.Location(zone)
	if err != nil {
		return nil, nil, err
	}
	return p, viewer, nil
}

// checkDuration accepts zero (use the profile's length) or MinSlotMinutes..MaxSlotMinutes.
func checkDuration(minutes int) error {
	if minutes == 0 || (minutes >= MinSlotMinutes && minutes <= MaxSlotMinutes) {
		return nil
	}
	return fmt.Errorf("%w: duration must be %d..%d minutes", ErrInvalidDuration, MinSlotMinutes, MaxSlotMinutes)
}

func (s *AvailabilityService) profile(ctx context.Context, organizerID string) (*domain.Profile, error) {
	p, err := s.Repo.GetProfile(ctx, s.DB, organizerID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrOrganizerNotFound
		}
		return nil, err
	}
	return p, nil
}

// computeDay generates slots for d in absolute time. Slots are not yet
// rendered in any viewer zone.
func (s *AvailabilityService) computeDay(ctx context.Context, p *domain.Profile, d timezone.Date, durationMinutes int, useCache bool) (*DaySlots, error) {
	out := &DaySlots{OrganizerID: p.OrganizerID, Date: d.String(), Slots: []domain.Slot{}}

	dw, err := s.resolveDay(ctx, p.OrganizerID, d)
	if err != nil {
		return nil, err
	}
	if !dw.Available {
		return out, nil
	}

	window, err := s.project(d, dw.Window, p.Timezone)
	if err != nil {
		return nil, err
	}
	breaks := make([]interval.Interval, 0, len(dw.Breaks))
	for _, b := range dw.Breaks {
		iv, err := s.project(d, b, p.Timezone)
		if err != nil {
			return nil, err
		}
		breaks = append(breaks, iv)
	}

	res, err := s.busyFor(ctx, p, d, useCache)
	if err != nil {
		return nil, err
	}

	if durationMinutes <= 0 {
		durationMinutes = p.SlotDurationMinutes
	}
	if durationMinutes <= 0 {
		durationMinutes = s.DefaultSlotMinutes
	}
	params := slots.Params{
		SlotDuration: time.Duration(durationMinutes) * time.Minute,
		Buffer:       time.Duration(p.BufferMinutes) * time.Minute,
		Now:          s.now(),
		MinAdvance:   time.Duration(p.MinAdvanceHours) * time.Hour,
		MaxAdvance:   time.Duration(p.AdvanceBookingDays) * 24 * time.Hour,
	}

	out.Available = true
	out.Slots = slots.Generate(window, breaks, res.Busy, params)
	out.Degraded = res.Degraded()
	out.Warnings = res.Warnings
	return out, nil
}

func (s *AvailabilityService) project(d timezone.Date, r domain.ClockRange, zone string) (interval.Interval, error) {
	start, err := timezone.ParseClock(r.Start)
	if err != nil {
		return interval.Interval{}, fmt.Errorf("%w: %v", ErrInvalidTimeRange, err)
	}
	end, err := timezone.ParseClock(r.End)
	if err != nil {
		return interval.Interval{}, fmt.Errorf("%w: %v", ErrInvalidTimeRange, err)
	}
	from, to, err := s.Projector.Window(d, start, end, zone)
	if err != nil {
		if errors.Is(err, timezone.ErrInvalidClock) {
			return interval.Interval{}, fmt.Errorf("%w: %v", ErrInvalidTimeRange, err)
		}
		return interval.Interval{}, err
	}
	return interval.New(from, to), nil
}

// busyFor returns external busy time merged with booked meetings for the
// organizer's day d, widened by MaxBufferMinutes on both sides.
func (s *AvailabilityService) busyFor(ctx context.Context, p *domain.Profile, d timezone.Date, useCache bool) (busy.Result, error) {
	integs, err := s.Repo.ListIntegrations(ctx, s.DB, p.OrganizerID, true)
	if err != nil {
		return busy.Result{}, err
	}
	dayStart, dayEnd, err := s.Projector.DayBounds(d, p.Timezone)
	if err != nil {
		return busy.Result{}, err
	}
	pad := MaxBufferMinutes * time.Minute
	from, to := dayStart.Add(-pad), dayEnd.Add(pad)

	compute := func(ctx context.Context) (busy.Result, error) {
		var res busy.Result
		if s.Busy != nil {
			res = s.Busy.Fetch(ctx, integs, from, to)
		}
		meetings, err := s.Repo.ListMeetings(ctx, s.DB, p.OrganizerID, from, to)
		if err != nil {
			return busy.Result{}, err
		}
		merged := make([]domain.BusyInterval, 0, len(res.Busy)+len(meetings))
		merged = append(merged, res.Busy...)
		for _, m := range meetings {
			merged = append(merged, domain.BusyInterval{Start: m.StartAt, End: m.EndAt, Source: BookingSource})
		}
		res.Busy = busy.Normalize(merged)
		return res, nil
	}

	if !useCache || s.Cache == nil {
		return compute(ctx)
	}
	key := cache.Key{OrganizerID: p.OrganizerID, Date: d.String(), Fingerprint: cache.Fingerprint(integs)}
	return s.Cache.GetOrCompute(ctx, key, compute)
}

func (d *DaySlots) render(loc *time.Location) {
	d.Timezone = loc.String()
	for i := range d.Slots {
		d.Slots[i].Start = d.Slots[i].Start.In(loc)
	}
}

func (s *AvailabilityService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AvailabilityService) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.DB == nil {
		return fn(nil)
	}
	return s.DB.WithContext(ctx).Transaction(fn)
}

// lock serializes bookings per organizer and returns the unlock func.
func (s *AvailabilityService) lock(organizerID string) func() {
	s.lockMu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	m, ok := s.locks[organizerID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[organizerID] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock
}
