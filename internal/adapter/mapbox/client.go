// Package mapbox resolves place names to coordinates and back through the
// Mapbox Geocoding API, restricted to Austria where the warning feed applies.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

const (
	defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	searchCountry  = "at"
)

// Place is a geocoding match.
type Place struct {
	Name      string
	FullName  string
	Lat       float64
	Lon       float64
	Relevance float64
}

// Client calls the Mapbox Geocoding API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client limited to 10 requests per second.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 1),
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode looks up a place name. The bool is false when nothing matched.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (Place, bool, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"place,locality,neighborhood,address"},
		"country":      {searchCountry},
	}
	return c.lookup(ctx, "forward", u+"?"+params.Encode())
}

// ReverseGeocode names the place at the given coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (Place, bool, error) {
	// Mapbox expects lon,lat.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, lon, lat)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"place,locality"},
	}
	return c.lookup(ctx, "reverse", u+"?"+params.Encode())
}

func (c *Client) lookup(ctx context.Context, method, fullURL string) (Place, bool, error) {
	place, ok, err := c.doRequest(ctx, fullURL)
	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		c.logger.Warn("geocoding failed", "method", method, "error", err)
	case !ok:
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()
	}
	return place, ok, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (Place, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Place{}, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Place{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, false, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Place{}, false, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Place{}, false, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Features) == 0 || len(out.Features[0].Center) != 2 {
		return Place{}, false, nil
	}

	f := out.Features[0]
	return Place{
		Name:      f.Text,
		FullName:  f.PlaceName,
		Lon:       f.Center[0],
		Lat:       f.Center[1],
		Relevance: f.Relevance,
	}, true, nil
}

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
