package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/busy"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/repo"
)

// ----- In-memory repo -----

// memRepo implements AvailabilityRepo and ScheduleRepo over maps. It returns
// repo.ErrNotFound the same way the GORM repository does.
type memRepo struct {
	mu sync.Mutex

	profiles  map[string]domain.Profile
	windows   map[string]map[int]domain.WeeklyWindow // org -> day
	overrides map[string]map[string]domain.Override  // org -> date
	integs    []domain.CalendarIntegration
	meetings  []domain.Meeting
	keys      map[string]domain.BookingKey // org|key

	seq int

	// failures injected by tests
	createMeetingErr error
	createKeyErr     error
	listMeetingsN    atomic.Int32
}

func newMemRepo() *memRepo {
	return &memRepo{
		profiles:  map[string]domain.Profile{},
		windows:   map[string]map[int]domain.WeeklyWindow{},
		overrides: map[string]map[string]domain.Override{},
		keys:      map[string]domain.BookingKey{},
	}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return prefix + strconv.Itoa(r.seq)
}

func (r *memRepo) GetProfile(ctx context.Context, db *gorm.DB, org string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[org]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) UpsertProfile(ctx context.Context, db *gorm.DB, p domain.Profile) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.OrganizerID] = p
	return &p, nil
}

func (r *memRepo) GetDaySchedule(ctx context.Context, db *gorm.DB, org, date string, day int) (*domain.Override, *domain.WeeklyWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.overrides[org][date]; ok {
		return &o, nil, nil
	}
	if w, ok := r.windows[org][day]; ok {
		return nil, &w, nil
	}
	return nil, nil, nil
}

func (r *memRepo) InitializeSchedule(ctx context.Context, db *gorm.DB, org string, windows []domain.WeeklyWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.windows[org] == nil {
		r.windows[org] = map[int]domain.WeeklyWindow{}
	}
	for _, w := range windows {
		if _, ok := r.windows[org][w.DayOfWeek]; ok {
			continue
		}
		w.ID = r.nextID("w")
		w.OrganizerID = org
		r.windows[org][w.DayOfWeek] = w
	}
	return nil
}

func (r *memRepo) ListWeeklyWindows(ctx context.Context, db *gorm.DB, org string) ([]domain.WeeklyWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WeeklyWindow, 0, len(r.windows[org]))
	for _, w := range r.windows[org] {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (r *memRepo) GetWeeklyWindow(ctx context.Context, db *gorm.DB, org string, day int) (*domain.WeeklyWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[org][day]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &w, nil
}

func (r *memRepo) UpsertWeeklyWindow(ctx context.Context, db *gorm.DB, org string, day int, available bool, start, end *string) (*domain.WeeklyWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.windows[org] == nil {
		r.windows[org] = map[int]domain.WeeklyWindow{}
	}
	w, ok := r.windows[org][day]
	if !ok {
		w = domain.WeeklyWindow{ID: r.nextID("w"), OrganizerID: org, DayOfWeek: day}
	}
	w.IsAvailable, w.StartTime, w.EndTime = available, start, end
	r.windows[org][day] = w
	return &w, nil
}

func (r *memRepo) ReplaceBreaks(ctx context.Context, db *gorm.DB, windowID string, breaks []domain.Break) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for org, days := range r.windows {
		for day, w := range days {
			if w.ID != windowID {
				continue
			}
			w.Breaks = append([]domain.Break(nil), breaks...)
			r.windows[org][day] = w
			return nil
		}
	}
	return repo.ErrNotFound
}

func (r *memRepo) UpsertOverride(ctx context.Context, db *gorm.DB, org, date, typ string, start, end *string) (*domain.Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides[org] == nil {
		r.overrides[org] = map[string]domain.Override{}
	}
	o := domain.Override{ID: r.nextID("o"), OrganizerID: org, Date: date, Type: typ, StartTime: start, EndTime: end}
	r.overrides[org][date] = o
	return &o, nil
}

func (r *memRepo) DeleteOverride(ctx context.Context, db *gorm.DB, org, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overrides[org][date]; !ok {
		return repo.ErrNotFound
	}
	delete(r.overrides[org], date)
	return nil
}

func (r *memRepo) ListOverrides(ctx context.Context, db *gorm.DB, org, from, to string) ([]domain.Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Override{}
	for date, o := range r.overrides[org] {
		if date >= from && date <= to {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *memRepo) ListIntegrations(ctx context.Context, db *gorm.DB, org string, activeOnly bool) ([]domain.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.CalendarIntegration{}
	for _, in := range r.integs {
		if in.OrganizerID == org && (!activeOnly || in.Active) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *memRepo) CreateIntegration(ctx context.Context, db *gorm.DB, in domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in.ID == "" {
		in.ID = r.nextID("i")
	}
	r.integs = append(r.integs, in)
	return &in, nil
}

func (r *memRepo) SetIntegrationActive(ctx context.Context, db *gorm.DB, org, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.integs {
		if r.integs[i].OrganizerID == org && r.integs[i].ID == id {
			r.integs[i].Active = active
			return nil
		}
	}
	return repo.ErrNotFound
}

func (r *memRepo) ListMeetings(ctx context.Context, db *gorm.DB, org string, start, end time.Time) ([]domain.Meeting, error) {
	r.listMeetingsN.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Meeting{}
	for _, m := range r.meetings {
		if m.OrganizerID == org && m.Status == domain.MeetingConfirmed &&
			m.StartAt.Before(end) && m.EndAt.After(start) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) GetMeeting(ctx context.Context, db *gorm.DB, org, id string) (*domain.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.meetings {
		if m.OrganizerID == org && m.ID == id {
			return &m, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *memRepo) CreateMeeting(ctx context.Context, db *gorm.DB, m domain.Meeting) (*domain.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createMeetingErr != nil {
		return nil, r.createMeetingErr
	}
	m.ID = r.nextID("m")
	r.meetings = append(r.meetings, m)
	return &m, nil
}

func (r *memRepo) CancelMeeting(ctx context.Context, db *gorm.DB, org, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.meetings {
		m := &r.meetings[i]
		if m.OrganizerID == org && m.ID == id && m.Status == domain.MeetingConfirmed {
			m.Status = domain.MeetingCancelled
			return nil
		}
	}
	return repo.ErrNotFound
}

func (r *memRepo) GetBookingKey(ctx context.Context, db *gorm.DB, org, key string, now time.Time) (*domain.BookingKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[org+"|"+key]
	if !ok || !k.ExpiresAt.After(now) {
		return nil, repo.ErrNotFound
	}
	return &k, nil
}

func (r *memRepo) CreateBookingKey(ctx context.Context, db *gorm.DB, org, key, meetingID string, ttl time.Duration) (*domain.BookingKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createKeyErr != nil {
		return nil, r.createKeyErr
	}
	if _, ok := r.keys[org+"|"+key]; ok {
		return nil, repo.ErrDuplicate
	}
	k := domain.BookingKey{
		ID: r.nextID("k"), OrganizerID: org, Key: key, MeetingID: meetingID,
		ExpiresAt: time.Now().Add(ttl),
	}
	r.keys[org+"|"+key] = k
	return &k, nil
}

// ----- Fake busy fetcher -----

type fakeFetcher struct {
	calls atomic.Int32
	res   busy.Result
}

func (f *fakeFetcher) Fetch(ctx context.Context, integs []domain.CalendarIntegration, start, end time.Time) busy.Result {
	f.calls.Add(1)
	out := f.res
	out.Busy = append([]domain.BusyInterval(nil), f.res.Busy...)
	return out
}

// ----- Invalidation recorder -----

type recordingInvalidator struct {
	mu   sync.Mutex
	orgs []string
}

func (r *recordingInvalidator) InvalidateAvailability(org string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs = append(r.orgs, org)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orgs)
}

func strp(s string) *string { return &s }
