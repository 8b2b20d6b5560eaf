package providers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/interval"
)

// ErrNotICalendar is returned when a feed URL answers with something other
// than iCalendar data, typically an HTML login page.
var ErrNotICalendar = errors.New("response is not iCalendar data")

// ICSProvider reads busy time from a published .ics feed. The feed URL is
// the integration's Endpoint, falling back to CalendarID. Username/Secret,
// when set, are sent as basic auth.
type ICSProvider struct {
	HTTPClient *http.Client
}

// ListBusy implements busy.Provider.
func (p *ICSProvider) ListBusy(ctx context.Context, integ domain.CalendarIntegration, start, end time.Time) ([]interval.Interval, error) {
	url := integ.Endpoint
	if url == "" {
		url = integ.CalendarID
	}
	if url == "" {
		return nil, fmt.Errorf("ics: integration %s has no feed url", integ.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ics: build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := withAuth(p.client(), integ.Username, integ.Secret).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ics: fetch: unexpected status %d", resp.StatusCode)
	}

	return parseFeed(io.LimitReader(resp.Body, maxFeedBytes), start, end)
}

func (p *ICSProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// parseFeed decodes every VCALENDAR in r and returns busy spans in range.
func parseFeed(r io.Reader, start, end time.Time) ([]interval.Interval, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(64)
	if !bytes.HasPrefix(bytes.TrimSpace(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))), []byte("BEGIN:VCALENDAR")) {
		return nil, ErrNotICalendar
	}

	dec := ical.NewDecoder(br)
	var out []interval.Interval
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ics: decode: %w", err)
		}
		out = append(out, busyFromCalendar(cal, start, end)...)
	}
	return out, nil
}
