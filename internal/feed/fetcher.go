// Package feed fetches GeoSphere Austria warnings and normalizes them into
// domain warnings.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

const maxResponseBytes = 8 << 20

// Options configures a Fetcher.
type Options struct {
	BaseURL    string
	Lang       string
	Timeout    time.Duration
	RPS        float64
	Projection geo.Projection
}

// Fetcher queries the warning feed once per distinct coordinate.
type Fetcher struct {
	baseURL    string
	lang       string
	projection geo.Projection
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewFetcher creates a feed client.
func NewFetcher(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	if opts.Projection == "" {
		opts.Projection = geo.WebMercator
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	return &Fetcher{
		baseURL:    opts.BaseURL,
		lang:       opts.Lang,
		projection: opts.Projection,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), 1),
		metrics:    metrics,
		logger:     logger,
	}
}

// Fetch returns the distinct warnings visible from any of the locations.
// A failed request contributes nothing; Fetch itself never fails.
func (f *Fetcher) Fetch(ctx context.Context, locations []domain.Location) []domain.Warning {
	seenCoord := make(map[[2]float64]bool, len(locations))
	seenID := make(map[string]bool)
	var out []domain.Warning

	for _, loc := range locations {
		key := [2]float64{loc.Lat, loc.Lon}
		if seenCoord[key] {
			continue
		}
		seenCoord[key] = true

		if err := f.limiter.Wait(ctx); err != nil {
			f.logger.Warn("feed fetch interrupted", "error", err)
			break
		}

		warnings, err := f.fetchLocation(ctx, loc)
		if err != nil {
			f.metrics.FeedRequests.WithLabelValues("error").Inc()
			f.logger.Warn("feed request failed", "location", loc.Name, "error", err)
			continue
		}
		f.metrics.FeedRequests.WithLabelValues("success").Inc()

		for _, w := range warnings {
			if seenID[w.ID] {
				continue
			}
			seenID[w.ID] = true
			out = append(out, w)
		}
	}

	f.metrics.WarningsFetched.Add(float64(len(out)))
	return out
}

func (f *Fetcher) fetchLocation(ctx context.Context, loc domain.Location) ([]domain.Warning, error) {
	params := url.Values{
		"lat":  {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
		"lon":  {strconv.FormatFloat(loc.Lon, 'f', 6, 64)},
		"lang": {f.lang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/getWarningsForCoords?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warning feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("warning feed error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	warnings := make([]domain.Warning, 0, len(fc.Features))
	for _, feature := range fc.Features {
		w, err := ParseFeature(feature, f.projection)
		if err != nil {
			f.metrics.FeedDiscarded.Inc()
			f.logger.Debug("feed record discarded", "location", loc.Name, "error", err)
			continue
		}
		warnings = append(warnings, w)
	}
	return warnings, nil
}
