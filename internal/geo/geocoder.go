package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned when the geocoder has no match for a query.
	ErrNotFound = errors.New("geo: address not found")
	// ErrUnavailable wraps transport and server failures that left an
	// address unresolved. Such results are worth retrying later.
	ErrUnavailable = errors.New("geo: geocoder unavailable")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geocoder resolves a free-form query to a single point.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Point, error)
}

// ViewBox bounds search results.
type ViewBox struct {
	West, North, East, South float64
}

// NovaScotia covers the province plus Cape Breton.
var NovaScotia = ViewBox{West: -66.5, North: 47.2, East: -59.0, South: 43.0}

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	box       ViewBox
	country   string
}

// NewNominatim creates a client for baseURL. Nominatim's usage policy rejects
// requests without an identifying User-Agent, so userAgent must be non-empty.
func NewNominatim(baseURL, userAgent string) *Nominatim {
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		box:       NovaScotia,
		country:   "ca",
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode implements Geocoder.
func (n *Nominatim) Geocode(ctx context.Context, query string) (Point, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("q", query)
	params.Set("countrycodes", n.country)
	params.Set("viewbox", fmt.Sprintf("%g,%g,%g,%g", n.box.West, n.box.North, n.box.East, n.box.South))
	params.Set("bounded", "1")
	params.Set("limit", "1")
	params.Set("addressdetails", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Point{}, fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Point{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return Point{}, ErrNotFound
	}

	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return Point{}, fmt.Errorf("nominatim: malformed coordinates %q,%q", results[0].Lat, results[0].Lon)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// Throttled spaces calls to the wrapped Geocoder at least minDelay apart.
type Throttled struct {
	next    Geocoder
	limiter *rate.Limiter
}

// NewThrottled wraps g. A non-positive minDelay disables throttling.
func NewThrottled(g Geocoder, minDelay time.Duration) *Throttled {
	lim := rate.NewLimiter(rate.Inf, 1)
	if minDelay > 0 {
		lim = rate.NewLimiter(rate.Every(minDelay), 1)
	}
	return &Throttled{next: g, limiter: lim}
}

// Geocode implements Geocoder.
func (t *Throttled) Geocode(ctx context.Context, query string) (Point, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Point{}, err
	}
	return t.next.Geocode(ctx, query)
}

// ParsePoint parses a lat/lon pair of strings, rejecting blanks, NaN and
// out-of-range values.
func ParsePoint(latS, lonS string) (Point, bool) {
	latS, lonS = strings.TrimSpace(latS), strings.TrimSpace(lonS)
	if latS == "" || lonS == "" {
		return Point{}, false
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lon) {
		return Point{}, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}
