package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcher(baseURL string, metrics *observability.Metrics) *Fetcher {
	return NewFetcher(Options{
		BaseURL:    baseURL,
		Lang:       "en",
		Timeout:    2 * time.Second,
		RPS:        1000,
		Projection: geo.WGS84,
	}, metrics, discardLogger())
}

func pointFeature(warnID int, lon, lat float64, start int64) string {
	return fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Point","coordinates":[%f,%f]},
	  "properties":{"warnid":%d,"wtype":1,"wlevel":2,"start":%d,"end":1719878400}}`, lon, lat, warnID, start)
}

func collection(features ...string) string {
	out := `{"type":"FeatureCollection","features":[`
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out + "]}"
}

var (
	home = domain.Location{Name: "Home", Lat: 48.2082, Lon: 16.3738}
	work = domain.Location{Name: "Work", Lat: 48.1900, Lon: 16.3500}
	ibk  = domain.Location{Name: "Innsbruck", Lat: 47.2692, Lon: 11.4041}
)

func TestFetch_DeduplicatesAcrossLocations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getWarningsForCoords", r.URL.Path)
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.NotEmpty(t, r.URL.Query().Get("lat"))
		assert.NotEmpty(t, r.URL.Query().Get("lon"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, collection(
			pointFeature(1, 16.38, 48.21, 1719835200),
			pointFeature(2, 16.40, 48.22, 1719835200),
		))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	got := testFetcher(srv.URL, metrics).Fetch(context.Background(), []domain.Location{home, work})

	require.Len(t, got, 2)
	assert.Equal(t, "geosphere-1", got[0].ID)
	assert.Equal(t, "geosphere-2", got[1].ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FeedRequests.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WarningsFetched))
}

func TestFetch_SameCoordinatesRequestedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, collection())
	}))
	defer srv.Close()

	twin := home
	twin.Name = "Home again"
	got := testFetcher(srv.URL, observability.NewMetricsForTesting()).Fetch(context.Background(), []domain.Location{home, twin})

	assert.Empty(t, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_DiscardsEpochZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, collection(
			pointFeature(1, 16.38, 48.21, 0),
			pointFeature(2, 16.38, 48.21, 1719835200),
		))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	got := testFetcher(srv.URL, metrics).Fetch(context.Background(), []domain.Location{home})

	require.Len(t, got, 1)
	assert.Equal(t, "geosphere-2", got[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedDiscarded))
}

func TestFetch_FailedSubRequestIsIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "47.269200" {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, collection(pointFeature(7, 16.38, 48.21, 1719835200)))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	got := testFetcher(srv.URL, metrics).Fetch(context.Background(), []domain.Location{ibk, home})

	require.Len(t, got, 1)
	assert.Equal(t, "geosphere-7", got[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FeedRequests.WithLabelValues("error")))
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"not":"geojson"`)
	}))
	defer srv.Close()

	got := testFetcher(srv.URL, observability.NewMetricsForTesting()).Fetch(context.Background(), []domain.Location{home})
	assert.Empty(t, got)
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got := testFetcher(url, observability.NewMetricsForTesting()).Fetch(context.Background(), []domain.Location{home})
	assert.Empty(t, got)
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, collection(pointFeature(1, 16.38, 48.21, 1719835200)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := testFetcher(srv.URL, observability.NewMetricsForTesting()).Fetch(ctx, []domain.Location{home})
	assert.Empty(t, got)
}
