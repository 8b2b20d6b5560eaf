package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
)

// ErrMissingToken is returned when a Google integration has no stored token.
var ErrMissingToken = errors.New("google: integration has no oauth token")

// GoogleProvider calls the Calendar FreeBusy API. The integration Secret
// holds the user's OAuth2 token as JSON; CalendarID defaults to "primary".
type GoogleProvider struct {
	ClientID     string
	ClientSecret string
	Endpoint     string
}

// ListBusy implements busy.Provider.
func (p *GoogleProvider) ListBusy(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	svc, err := p.service(ctx, integ)
	if err != nil {
		return nil, err
	}
	calID := integ.CalendarID
	if calID == "" {
		calID = "primary"
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: freebusy: %w", err)
	}
	return busyFromFreeBusy(resp, calID)
}

func (p *GoogleProvider) service(ctx context.Context, integ domain.CalendarIntegration) (*calendar.Service, error) {
	if integ.Secret == "" {
		return nil, ErrMissingToken
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(integ.Secret), tok); err != nil {
		return nil, fmt.Errorf("google: decode token: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	opts := []option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx, tok))}
	if p.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.Endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: calendar service: %w", err)
	}
	return svc, nil
}

func busyFromFreeBusy(resp *calendar.FreeBusyResponse, calID string) ([]interval.Interval, error) {
	fb, ok := resp.Calendars[calID]
	if !ok {
		return nil, fmt.Errorf("google: calendar %q missing from response", calID)
	}
	if len(fb.Errors) > 0 {
		return nil, fmt.Errorf("google: calendar %q: %s", calID, fb.Errors[0].Reason)
	}
	out := make([]interval.Interval, 0, len(fb.Busy))
	for _, tp := range fb.Busy {
		s, err := time.Parse(time.RFC3339, tp.Start)
		if err != nil {
			return nil, fmt.Errorf("google: busy start %q: %w", tp.Start, err)
		}
		e, err := time.Parse(time.RFC3339, tp.End)
		if err != nil {
			return nil, fmt.Errorf("google: busy end %q: %w", tp.End, err)
		}
		out = append(out, interval.New(s, e))
	}
	return out, nil
}
