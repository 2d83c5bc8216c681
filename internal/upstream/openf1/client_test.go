package openf1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fixtures maps a request path to its JSON body. Paths missing from the map
// answer 404 like OpenF1 does for empty filters.
type fixtures map[string]string

func newTestServer(t *testing.T, f fixtures) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := f[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"No results found."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

const meetings2024 = `[
  {"meeting_key": 1228, "meeting_name": "Singapore Grand Prix", "meeting_official_name": "FORMULA 1 SINGAPORE AIRLINES SINGAPORE GRAND PRIX 2024",
   "location": "Marina Bay", "country_name": "Singapore", "date_start": "2024-09-20T09:30:00+00:00", "year": 2024},
  {"meeting_key": 1229, "meeting_name": "Pre-Season Testing", "meeting_official_name": "FORMULA 1 ARAMCO PRE-SEASON TESTING 2024",
   "location": "Sakhir", "country_name": "Bahrain", "date_start": "2024-02-21T07:00:00+00:00", "year": 2024}
]`

func qualifyingFixtures() fixtures {
	return fixtures{
		"/meetings": meetings2024,
		"/sessions": `[
		  {"session_key": 9601, "session_name": "Practice 1", "meeting_key": 1228, "date_start": "2024-09-20T09:30:00+00:00", "date_end": "2024-09-20T10:30:00+00:00"},
		  {"session_key": 9605, "session_name": "Qualifying", "meeting_key": 1228, "date_start": "2024-09-21T13:00:00+00:00", "date_end": "2024-09-21T14:00:00+00:00"}
		]`,
		"/drivers": `[
		  {"driver_number": 4, "full_name": "Lando NORRIS", "broadcast_name": "L NORRIS", "name_acronym": "NOR", "team_name": "McLaren", "team_colour": "FF8000", "headshot_url": "https://example.test/nor.png", "country_code": "GBR"},
		  {"driver_number": 1, "full_name": "Max VERSTAPPEN", "broadcast_name": "M VERSTAPPEN", "name_acronym": "VER", "team_name": "Red Bull Racing", "team_colour": "3671C6", "headshot_url": null, "country_code": null}
		]`,
		"/session_result": `[
		  {"driver_number": 4, "position": 1, "points": null, "duration": [91.5, 90.8, 89.9], "dnf": false, "dns": false, "dsq": false},
		  {"driver_number": 1, "position": 2, "points": null, "duration": [91.7, 91.0, null], "dnf": false, "dns": false, "dsq": false}
		]`,
		"/laps": `[
		  {"driver_number": 4, "lap_number": 2, "lap_duration": 89.9, "date_start": "2024-09-21T13:40:00.000000+00:00"},
		  {"driver_number": 4, "lap_number": 1, "lap_duration": null, "date_start": "2024-09-21T13:38:00.000000+00:00"},
		  {"driver_number": 1, "lap_number": 1, "lap_duration": 91.0, "date_start": "2024-09-21T13:39:00+00:00"}
		]`,
		"/stints": `[
		  {"driver_number": 4, "stint_number": 1, "lap_start": 1, "lap_end": 2, "compound": "SOFT", "tyre_age_at_start": 3}
		]`,
		"/position": `[
		  {"driver_number": 4, "date": "2024-09-21T13:42:00+00:00", "position": 1},
		  {"driver_number": 4, "date": "2024-09-21T13:00:00+00:00", "position": 5},
		  {"driver_number": 1, "date": "2024-09-21T13:00:00+00:00", "position": 2}
		]`,
	}
}

func TestSessionQualifying(t *testing.T) {
	srv, _ := newTestServer(t, qualifyingFixtures())
	c := New(Options{BaseURL: srv.URL}, testLogger())

	id := model.SessionID{Year: 2024, GrandPrix: "singapore grand prix", Type: model.SessionQualifying}
	s, err := c.Session(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 9605, s.Ref.Key)
	assert.Equal(t, "Singapore", s.Event.Country)
	assert.Equal(t, "Marina Bay", s.Event.Location)
	assert.False(t, s.Event.Testing)

	require.Len(t, s.Results, 2)
	nor := s.Results[0]
	assert.Equal(t, "NOR", nor.Abbreviation)
	assert.Equal(t, "4", nor.DriverNumber)
	assert.Equal(t, "FF8000", nor.TeamColor)
	assert.Equal(t, "GBR", nor.CountryCode)
	require.NotNil(t, nor.Position)
	assert.Equal(t, 1, *nor.Position)
	require.NotNil(t, nor.Q3)
	assert.Equal(t, 89900*time.Millisecond, *nor.Q3)
	assert.Equal(t, "Finished", nor.Status)

	ver := s.Results[1]
	assert.Nil(t, ver.Q3)
	require.NotNil(t, ver.Time, "best reached segment becomes the time")
	assert.Equal(t, 91*time.Second, *ver.Time)
	assert.Empty(t, ver.HeadshotURL)

	require.Len(t, s.Laps, 3)
	// Ordered by driver number, then lap number.
	assert.Equal(t, "VER", s.Laps[0].Driver)
	assert.Equal(t, "NOR", s.Laps[1].Driver)
	assert.Equal(t, 1, s.Laps[1].LapNumber)
	assert.Nil(t, s.Laps[1].LapTime)

	norLap2 := s.Laps[2]
	assert.Equal(t, "SOFT", norLap2.Compound)
	require.NotNil(t, norLap2.TyreLife)
	assert.Equal(t, 4, *norLap2.TyreLife)
	require.NotNil(t, norLap2.Position)
	assert.Equal(t, 5, *norLap2.Position, "position update after lap end is ignored")
}

func TestSessionSprintShootoutAlias(t *testing.T) {
	f := qualifyingFixtures()
	f["/sessions"] = `[{"session_key": 9300, "session_name": "Sprint Shootout", "meeting_key": 1228, "date_start": "2023-09-21T13:00:00+00:00"}]`
	srv, _ := newTestServer(t, f)
	c := New(Options{BaseURL: srv.URL}, testLogger())

	s, err := c.Session(context.Background(), model.SessionID{Year: 2023, GrandPrix: "Singapore", Type: model.SessionSprintQualifying})
	require.NoError(t, err)
	assert.Equal(t, 9300, s.Ref.Key)
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, qualifyingFixtures())
	c := New(Options{BaseURL: srv.URL}, testLogger())
	ctx := context.Background()

	_, err := c.Session(ctx, model.SessionID{Year: 2024, GrandPrix: "Monaco Grand Prix", Type: model.SessionRace})
	assert.ErrorIs(t, err, upstream.ErrSessionNotFound)

	_, err = c.Session(ctx, model.SessionID{Year: 2024, GrandPrix: "Singapore Grand Prix", Type: model.SessionRace})
	assert.ErrorIs(t, err, upstream.ErrSessionNotFound)
}

func TestSessionWithoutPublishedData(t *testing.T) {
	f := fixtures{
		"/meetings": meetings2024,
		"/sessions": `[{"session_key": 9606, "session_name": "Race", "meeting_key": 1228, "date_start": "2024-09-22T12:00:00+00:00"}]`,
	}
	srv, _ := newTestServer(t, f)
	c := New(Options{BaseURL: srv.URL}, testLogger())

	_, err := c.Session(context.Background(), model.SessionID{Year: 2024, GrandPrix: "Singapore Grand Prix", Type: model.SessionRace})
	assert.ErrorIs(t, err, upstream.ErrSessionNotFound)
}

func TestSchedule(t *testing.T) {
	srv, _ := newTestServer(t, fixtures{"/meetings": meetings2024})
	c := New(Options{BaseURL: srv.URL}, testLogger())

	events, err := c.Schedule(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Pre-Season Testing", events[0].Name)
	assert.True(t, events[0].Testing)
	assert.Equal(t, "Singapore Grand Prix", events[1].Name)
	assert.Equal(t, "FORMULA 1 SINGAPORE AIRLINES SINGAPORE GRAND PRIX 2024", events[1].OfficialName)
}

func TestUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL}, testLogger())

	_, err := c.Schedule(context.Background(), 2024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	maxAges map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, maxAges: map[string]time.Duration{}}
}

// Fetch records the max age requested per path.
func (m *memCache) Fetch(ctx context.Context, rawURL string, maxAge time.Duration, fill func(context.Context) ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, err := url.Parse(rawURL); err == nil {
		m.maxAges[u.Path] = maxAge
	}
	if b, ok := m.entries[rawURL]; ok {
		return b, nil
	}
	b, err := fill(ctx)
	if err != nil {
		return nil, err
	}
	m.entries[rawURL] = b
	return b, nil
}

func TestCachedRequestsSkipUpstream(t *testing.T) {
	srv, hits := newTestServer(t, fixtures{"/meetings": meetings2024})
	c := New(Options{BaseURL: srv.URL, Cache: newMemCache()}, testLogger())

	for i := 0; i < 3; i++ {
		_, err := c.Schedule(context.Background(), 2024)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCacheMaxAgeFollowsSessionAge(t *testing.T) {
	srv, _ := newTestServer(t, qualifyingFixtures())
	id := model.SessionID{Year: 2024, GrandPrix: "singapore grand prix", Type: model.SessionQualifying}

	live := newMemCache()
	c := New(Options{BaseURL: srv.URL, Cache: live, RecentMaxAge: 10 * time.Minute}, testLogger())
	c.now = func() time.Time { return time.Date(2024, 9, 21, 14, 30, 0, 0, time.UTC) }
	_, err := c.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, live.maxAges["/meetings"], "current season schedule can still change")
	assert.Equal(t, 10*time.Minute, live.maxAges["/laps"], "a session that just ended is still being published")
	assert.Equal(t, 10*time.Minute, live.maxAges["/session_result"])

	settled := newMemCache()
	c = New(Options{BaseURL: srv.URL, Cache: settled, RecentMaxAge: 10 * time.Minute}, testLogger())
	c.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	_, err = c.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, settled.maxAges["/meetings"])
	assert.Zero(t, settled.maxAges["/laps"])
	assert.Zero(t, settled.maxAges["/session_result"])
}

func TestMaxAgeForFreshWindow(t *testing.T) {
	c := New(Options{BaseURL: "https://example.test", FreshWindow: time.Hour, RecentMaxAge: time.Minute}, testLogger())
	now := time.Date(2024, 9, 21, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.Equal(t, time.Minute, c.maxAgeFor(time.Time{}), "unknown end is treated as recent")
	assert.Equal(t, time.Minute, c.maxAgeFor(now.Add(-30*time.Minute)))
	assert.Zero(t, c.maxAgeFor(now.Add(-2*time.Hour)))
	assert.Equal(t, time.Minute, c.maxAgeForSeason(2024))
	assert.Equal(t, time.Minute, c.maxAgeForSeason(2025))
	assert.Zero(t, c.maxAgeForSeason(2023))
}

func TestLapTelemetry(t *testing.T) {
	var rawQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery.Store(r.URL.RawQuery)
		switch r.URL.Path {
		case "/car_data":
			_, _ = w.Write([]byte(`[
			  {"date": "2024-09-21T13:40:01+00:00", "speed": 36},
			  {"date": "2024-09-21T13:40:00+00:00", "speed": 36},
			  {"date": "2024-09-21T13:40:02+00:00", "speed": 36}
			]`))
		case "/location":
			_, _ = w.Write([]byte(`[
			  {"date": "2024-09-21T13:40:00.100+00:00", "x": 1, "y": 1},
			  {"date": "2024-09-21T13:40:01.900+00:00", "x": 3, "y": 3}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL}, testLogger())

	lt := 3 * time.Second
	l := upstream.Lap{Driver: "NOR", DriverNumber: "4", LapNumber: 2, LapTime: &lt,
		StartedAt: time.Date(2024, 9, 21, 13, 40, 0, 0, time.UTC)}
	samples, err := c.LapTelemetry(context.Background(), upstream.SessionRef{Key: 9605}, l)
	require.NoError(t, err)

	require.Len(t, samples, 3)
	assert.InDelta(t, 0, samples[0].Distance, 1e-9)
	assert.InDelta(t, 10, samples[1].Distance, 1e-9)
	assert.InDelta(t, 20, samples[2].Distance, 1e-9)
	assert.Equal(t, 1.0, samples[0].X)
	assert.Equal(t, 3.0, samples[2].X)

	q := rawQuery.Load().(string)
	assert.True(t, strings.Contains(q, "date>="), "comparison filters are sent unencoded: %s", q)
	assert.Contains(t, q, "driver_number=4")
}

func TestLapTelemetryRequiresTiming(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:0"}, testLogger())
	_, err := c.LapTelemetry(context.Background(), upstream.SessionRef{}, upstream.Lap{Driver: "NOR", LapNumber: 1})
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	ds, err := durations(json.RawMessage(`5400.123`))
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, 5400123*time.Millisecond, *ds[0])

	ds, err = durations(json.RawMessage(`[80.1, null, null]`))
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, 80100*time.Millisecond, *ds[0])
	assert.Nil(t, ds[1])

	ds, err = durations(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, ds)

	_, err = durations(json.RawMessage(`"1:30"`))
	assert.Error(t, err)
}
