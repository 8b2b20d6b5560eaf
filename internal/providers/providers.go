// Package providers implements busy-time lookups against external calendars.
//
// Four provider names are registered:
//
//	google  Google Calendar FreeBusy API (OAuth2 token stored in the integration secret)
//	caldav  any CalDAV server (basic auth, calendar-query REPORT)
//	icloud  CalDAV against caldav.icloud.com (app-specific password)
//	ics     a published iCalendar feed fetched over HTTP(S)
//
// Providers only report when an organizer is busy. Event titles and
// attendees are never read past parsing.
package providers

import (
	"net/http"
	"time"

	"github.com/tbourn/go-availability-engine/internal/busy"
)

// Provider names stored in CalendarIntegration.Provider.
const (
	Google = "google"
	CalDAV = "caldav"
	ICloud = "icloud"
	ICS    = "ics"
)

const (
	iCloudEndpoint = "https://caldav.icloud.com/"
	userAgent      = "availability-engine/1.0"
	maxFeedBytes   = 10 << 20
)

// Config holds credentials and transport settings shared by providers.
type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	// GoogleEndpoint overrides the Calendar API base URL (tests).
	GoogleEndpoint string
	// CalDAVEndpoint is the server root for caldav integrations that do not
	// carry their own endpoint.
	CalDAVEndpoint string
	// HTTPClient is used for CalDAV and ICS requests. Defaults to a client
	// with a 10s timeout.
	HTTPClient *http.Client
}

// New returns the provider registry keyed by provider name.
func New(cfg Config) map[string]busy.Provider {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return map[string]busy.Provider{
		Google: &GoogleProvider{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     cfg.GoogleEndpoint,
		},
		CalDAV: &CalDAVProvider{HTTPClient: hc, DefaultEndpoint: cfg.CalDAVEndpoint},
		ICloud: &CalDAVProvider{HTTPClient: hc, DefaultEndpoint: iCloudEndpoint},
		ICS:    &ICSProvider{HTTPClient: hc},
	}
}

// Names returns the registered provider names.
func Names() []string { return []string{Google, CalDAV, ICloud, ICS} }

// basicAuthTransport adds basic auth and a user agent to every request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.Username != "" || t.Password != "" {
		req.SetBasicAuth(t.Username, t.Password)
	}
	req.Header.Set("User-Agent", userAgent)
	base := t.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// withAuth returns a copy of hc whose transport authenticates as user.
func withAuth(hc *http.Client, user, pass string) *http.Client {
	cp := *hc
	cp.Transport = &basicAuthTransport{Username: user, Password: pass, Transport: hc.Transport}
	return &cp
}
