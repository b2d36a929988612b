// Package geocode provides a rate-limited client for Nominatim-compatible
// geocoding services, with a simple on-disk result cache.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Result is a geocoding outcome. Matched=false records a definitive
// negative, which callers may cache to avoid re-querying.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Matched   bool    `json:"matched"`
}

// Client resolves free-form addresses to coordinates.
type Client interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Option configures the client.
type Option func(*httpGeocoder)

// WithBaseURL sets a custom service URL (for testing).
func WithBaseURL(u string) Option {
	return func(g *httpGeocoder) { g.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *httpGeocoder) { g.http = hc }
}

// WithRateLimit sets the request rate in requests per second. Nominatim's
// usage policy caps anonymous clients at one request per second.
func WithRateLimit(perSecond float64) Option {
	return func(g *httpGeocoder) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// WithUserAgent sets the User-Agent header, required by Nominatim.
func WithUserAgent(ua string) Option {
	return func(g *httpGeocoder) { g.userAgent = ua }
}

type httpGeocoder struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// New returns a Nominatim-backed geocoding client.
func New(opts ...Option) Client {
	g := &httpGeocoder{
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: "permit-etl/1.0",
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// nominatimPlace is one entry of the service's JSON response; coordinates
// arrive as strings.
type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *httpGeocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}
	reqURL := g.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	if len(places) == 0 {
		return &Result{Matched: false}, nil
	}

	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, eris.Errorf("geocode: unparseable coordinates %q,%q", places[0].Lat, places[0].Lon)
	}

	return &Result{Latitude: lat, Longitude: lon, Matched: true}, nil
}
