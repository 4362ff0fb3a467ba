//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/warning-calendar-service/internal/adapter/kafka"
	"github.com/couchcryptid/warning-calendar-service/internal/adapter/memory"
	"github.com/couchcryptid/warning-calendar-service/internal/config"
	"github.com/couchcryptid/warning-calendar-service/internal/credential"
	"github.com/couchcryptid/warning-calendar-service/internal/cycle"
	"github.com/couchcryptid/warning-calendar-service/internal/dispatch"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
	"github.com/couchcryptid/warning-calendar-service/internal/feed"
	"github.com/couchcryptid/warning-calendar-service/internal/geo"
	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

// feedServer serves one snow warning whose polygon covers Graz.
func feedServer(t *testing.T, start, end time.Time) *httptest.Server {
	t.Helper()
	body := fmt.Sprintf(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[15.2, 46.9], [15.7, 46.9], [15.7, 47.2], [15.2, 47.2], [15.2, 46.9]]]
			},
			"properties": {
				"warnid": 9001, "chgid": 1, "wtype": 3, "wlevel": 2,
				"start": "%d", "end": "%d",
				"gemeinden": ["Graz"]
			}
		}]
	}`, start.Unix(), end.Unix())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestCycleToKafka runs full cycles against a fake feed and a real broker and
// checks that exactly one iCalendar request reaches the calendar topic.
func TestCycleToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := uniqueTopic("calendar")
	createTopic(t, broker, topic)

	now := time.Now().UTC().Truncate(time.Second)
	srv := feedServer(t, now.Add(-time.Hour), now.Add(6*time.Hour))

	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()
	store := memory.NewStore()

	u := domain.NewUser("anna@example.at")
	u.Credential = domain.Credential{AccessToken: "tok"}
	u.Locations = []domain.Location{{Name: "Graz", Lat: 47.0707, Lon: 15.4395}}
	require.NoError(t, store.Save(ctx, u))

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaCalendarTopic: topic}
	calendar := kafka.NewCalendar(cfg, logger)
	t.Cleanup(func() { _ = calendar.Close() })

	fetcher := feed.NewFetcher(feed.Options{
		BaseURL:    srv.URL,
		Lang:       "en",
		Timeout:    5 * time.Second,
		RPS:        50,
		Projection: geo.WGS84,
	}, metrics, logger)
	dispatcher := dispatch.New(store, calendar, credential.NewProvider(nil, store, logger), geo.DefaultRadiusKm, metrics, logger)
	orch := cycle.New(store, fetcher, dispatcher, cycle.Options{Lookahead: domain.DefaultLookahead, Workers: 2}, metrics, logger)

	sum, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Created)

	// A second cycle must not publish again.
	sum, err = orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Created)

	consumer := newConsumer(t, broker, topic)
	msg := readMessage(ctx, t, consumer)

	h := headers(msg)
	assert.Equal(t, "REQUEST", h["method"])
	assert.Equal(t, "anna@example.at", h["user_email"])
	assert.Equal(t, "geosphere-9001-1", h["warning_id"])
	assert.Equal(t, kafka.EventID("anna@example.at", "geosphere-9001-1"), string(msg.Key))

	cal, err := ical.NewDecoder(bytes.NewReader(msg.Value)).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	summary, err := events[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Weather Warning: Snow", summary)

	records, err := store.History(ctx, "anna@example.at", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(msg.Key), records[0].CalendarEventID)

	// Nothing else was published.
	emptyCtx, emptyCancel := context.WithTimeout(ctx, 3*time.Second)
	defer emptyCancel()
	_, err = consumer.ReadMessage(emptyCtx)
	require.Error(t, err)
}

func TestCalendarCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	topic := uniqueTopic("calendar-cancel")
	createTopic(t, broker, topic)

	calendar := kafka.NewCalendar(&config.Config{KafkaBrokers: []string{broker}, KafkaCalendarTopic: topic}, discardLogger())
	t.Cleanup(func() { _ = calendar.Close() })

	ok, err := calendar.DeleteEvent(ctx, "evt-123")
	require.NoError(t, err)
	assert.True(t, ok)

	msg := readMessage(ctx, t, newConsumer(t, broker, topic))
	assert.Equal(t, "CANCEL", headers(msg)["method"])
	assert.Contains(t, string(msg.Value), "STATUS:CANCELLED")
}
