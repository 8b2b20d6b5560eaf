package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
)

// CalDAVProvider queries a CalDAV calendar collection with a time-range
// calendar-query. Endpoint is the server root; CalendarID is the collection
// path (e.g. /123456/calendars/home/). Username/Secret authenticate.
type CalDAVProvider struct {
	HTTPClient *http.Client
	// DefaultEndpoint is used when the integration has none (iCloud).
	DefaultEndpoint string
}

// ListBusy implements busy.Provider.
func (p *CalDAVProvider) ListBusy(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	endpoint := integ.Endpoint
	if endpoint == "" {
		endpoint = p.DefaultEndpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("caldav: integration %s has no endpoint", integ.ID)
	}
	hc := p.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	client, err := caldav.NewClient(withAuth(hc, integ.Username, integ.Secret), endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav: client: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath(integ.CalendarID, endpoint), query)
	if err != nil {
		return nil, fmt.Errorf("caldav: query: %w", err)
	}
	var out []interval.Interval
	for _, obj := range objects {
		out = append(out, busyFromCalendar(obj.Data, start, end)...)
	}
	return out, nil
}

// calendarPath accepts either a path or a full URL under endpoint.
func calendarPath(id, endpoint string) string {
	id = strings.TrimPrefix(id, strings.TrimSuffix(endpoint, "/"))
	if !strings.HasPrefix(id, "/") {
		id = "/" + id
	}
	return id
}
