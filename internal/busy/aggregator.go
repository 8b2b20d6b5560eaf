// Package busy collects busy time for an organizer from every active calendar
// integration and merges it into a single normalized list.
//
// Each integration is queried concurrently through its own circuit breaker
// with a per-call timeout. A failing, slow, or short-circuited provider is
// skipped and reported as a Warning; it never fails the whole request, so a
// booking page stays usable when one calendar is unreachable.
package busy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-availability-engine/internal/breaker"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
)

// ErrUnknownProvider is recorded as a warning when an integration names a
// provider with no registered client.
var ErrUnknownProvider = errors.New("unknown calendar provider")

// Provider lists busy spans for one integration. Implementations talk to an
// external calendar and must honor ctx cancellation.
type Provider interface {
	ListBusy(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error)

// ListBusy calls f.
func (f ProviderFunc) ListBusy(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	return f(ctx, integ, start, end)
}

// Warning describes a provider whose busy data was left out.
type Warning struct {
	IntegrationID string `json:"integration_id"`
	Provider      string `json:"provider"`
	Reason        string `json:"reason"`
}

// Result is the outcome of one fetch.
//
// Busy is sorted and non-overlapping. Queried counts integrations attempted;
// Warnings has one entry per integration left out.
type Result struct {
	Busy     []domain.BusyInterval `json:"busy"`
	Queried  int                   `json:"queried"`
	Warnings []Warning             `json:"warnings,omitempty"`
}

// Degraded reports whether any provider was left out.
func (r Result) Degraded() bool { return len(r.Warnings) > 0 }

// Aggregator fans out to providers and merges their busy intervals.
type Aggregator struct {
	Providers map[string]Provider
	Breakers  *breaker.Registry
	Timeout   time.Duration
}

// NewAggregator returns an Aggregator with a default 5s provider timeout.
func NewAggregator(providers map[string]Provider, breakers *breaker.Registry, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Settings{})
	}
	return &Aggregator{Providers: providers, Breakers: breakers, Timeout: timeout}
}

// BreakerKey returns the registry key for an integration's connection.
func BreakerKey(integ domain.CalendarIntegration) string {
	return integ.Provider + ":" + integ.ID
}

type fetched struct {
	integ domain.CalendarIntegration
	spans []interval.Interval
	err   error
}

// Fetch queries every active integration in integs over [start, end).
//
// Provider calls run on a context detached from ctx's cancellation (values
// and trace are kept) and bounded by the aggregator timeout, so a cancelled
// caller does not poison breaker statistics with its own cancellation.
func (a *Aggregator) Fetch(ctx context.Context, integs []domain.CalendarIntegration, start, end time.Time) Result {
	tr := otel.Tracer("busy/Aggregator")
	ctx, span := tr.Start(ctx, "Fetch", trace.WithAttributes(
		attribute.Int("integrations", len(integs)),
		attribute.String("range.start", start.Format(time.RFC3339)),
		attribute.String("range.end", end.Format(time.RFC3339)),
	))
	defer span.End()

	active := make([]domain.CalendarIntegration, 0, len(integs))
	for _, in := range integs {
		if in.Active {
			active = append(active, in)
		}
	}

	results := make([]fetched, len(active))
	var wg sync.WaitGroup
	base := context.WithoutCancel(ctx)
	for i, in := range active {
		wg.Add(1)
		go func(i int, in domain.CalendarIntegration) {
			defer wg.Done()
			spans, err := a.fetchOne(base, in, start, end)
			results[i] = fetched{integ: in, spans: spans, err: err}
		}(i, in)
	}
	wg.Wait()

	res := Result{Queried: len(active)}
	var collected []domain.BusyInterval
	for _, f := range results {
		if f.err != nil {
			res.Warnings = append(res.Warnings, Warning{
				IntegrationID: f.integ.ID,
				Provider:      f.integ.Provider,
				Reason:        reason(f.err),
			})
			log.Warn().
				Err(f.err).
				Str("integration_id", f.integ.ID).
				Str("provider", f.integ.Provider).
				Str("organizer_id", f.integ.OrganizerID).
				Msg("calendar provider skipped")
			continue
		}
		src := BreakerKey(f.integ)
		for _, s := range f.spans {
			collected = append(collected, domain.BusyInterval{Start: s.Start, End: s.End, Source: src})
		}
	}
	res.Busy = Normalize(collected)

	span.SetAttributes(
		attribute.Int("busy.count", len(res.Busy)),
		attribute.Int("warnings", len(res.Warnings)),
	)
	if res.Degraded() {
		span.SetStatus(codes.Error, "degraded")
	}
	return res
}

func (a *Aggregator) fetchOne(ctx context.Context, in domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	p, ok := a.Providers[in.Provider]
	if !ok {
		providerCalls.WithLabelValues(in.Provider, "unknown").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	b := a.Breakers.Get(BreakerKey(in))
	spans, err := breaker.Do(ctx, b, func(ctx context.Context) ([]interval.Interval, error) {
		return callWithDeadline(ctx, p, in, start, end)
	})
	providerCalls.WithLabelValues(in.Provider, outcome(err)).Inc()
	return spans, err
}

// callWithDeadline returns when the provider answers or ctx expires,
// whichever comes first. A provider that ignores ctx is left to finish on
// its own goroutine.
func callWithDeadline(ctx context.Context, p Provider, in domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	type answer struct {
		spans []interval.Interval
		err   error
	}
	ch := make(chan answer, 1)
	go func() {
		spans, err := p.ListBusy(ctx, in, start, end)
		ch <- answer{spans, err}
	}()
	select {
	case a := <-ch:
		return a.spans, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Normalize sorts busy intervals and merges any that overlap or touch.
// An interval that absorbs another loses its Source tag.
func Normalize(in []domain.BusyInterval) []domain.BusyInterval {
	items := make([]domain.BusyInterval, 0, len(in))
	for _, b := range in {
		if b.End.After(b.Start) {
			items = append(items, b)
		}
	}
	if len(items) == 0 {
		return []domain.BusyInterval{}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Start.Equal(items[j].Start) {
			return items[i].End.Before(items[j].End)
		}
		return items[i].Start.Before(items[j].Start)
	})

	out := make([]domain.BusyInterval, 0, len(items))
	for _, b := range items {
		if n := len(out); n > 0 && !b.Start.After(out[n-1].End) {
			if b.End.After(out[n-1].End) {
				out[n-1].End = b.End
			}
			out[n-1].Source = ""
			continue
		}
		out = append(out, b)
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "provider_error"
	}
}

var providerCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "availability_provider_calls_total",
		Help: "Calendar provider busy queries by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

func init() {
	prometheus.MustRegister(providerCalls)
}
