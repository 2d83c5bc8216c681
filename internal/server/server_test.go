package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/ratelimit"
	"github.com/telemetrics/telemetrics/internal/storage"
)

type memStore struct {
	docs    map[model.DocumentKey]model.StoredDocument
	pingErr error
	err     error
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) GetDocument(_ context.Context, key model.DocumentKey) (model.StoredDocument, error) {
	if m.err != nil {
		return model.StoredDocument{}, m.err
	}
	d, ok := m.docs[key]
	if !ok {
		return model.StoredDocument{}, storage.ErrNotFound
	}
	return d, nil
}

func (m *memStore) QueryDocuments(_ context.Context, f model.DocumentFilter) ([]model.StoredDocument, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.StoredDocument
	for k, d := range m.docs {
		if k.Year == f.Year && k.GrandPrix == f.GrandPrix && k.Session == f.Session {
			out = append(out, d)
		}
	}
	return out, nil
}

var updated = time.Date(2024, 9, 1, 16, 0, 0, 0, time.UTC)

func seededStore() *memStore {
	store := &memStore{docs: map[model.DocumentKey]model.StoredDocument{}}
	for dt, payload := range map[model.DataType]string{
		model.DataPodium: `[{"Position":1,"Abbreviation":"LEC"}]`,
		model.DataTyres:  `[{"Driver":"LEC","Abbreviation":"LEC","LapNumber":1,"Compound":"HARD"}]`,
	} {
		key := model.DocumentKey{Year: 2024, GrandPrix: "Italian Grand Prix", Session: "Race", DataType: dt}
		store.docs[key] = model.StoredDocument{
			Year: key.Year, GrandPrix: key.GrandPrix, Session: key.Session, DataType: dt,
			Payload: json.RawMessage(payload), UpdatedAt: updated,
		}
	}
	return store
}

func newTestServer(t *testing.T, store DocumentStore, broker *Broker, limiter ratelimit.Limiter) *httptest.Server {
	t.Helper()
	srv := New(ServerConfig{Store: store, Logger: testLogger(), Broker: broker, Limiter: limiter, Version: "test"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func sessionPath(gp, session string) string {
	return "/v1/sessions/2024/" + url.PathEscape(gp) + "/" + url.PathEscape(session)
}

func TestHandleSession(t *testing.T) {
	ts := newTestServer(t, seededStore(), nil, nil)

	resp, body := get(t, ts, sessionPath("Italian Grand Prix", "R"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var env struct {
		Data model.SessionDocuments `json:"data"`
		Meta model.ResponseMeta     `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "Race", env.Data.Session)
	assert.Len(t, env.Data.Documents, 2)
	assert.JSONEq(t, `[{"Position":1,"Abbreviation":"LEC"}]`, string(env.Data.Documents[model.DataPodium]))
	assert.True(t, updated.Equal(env.Data.UpdatedAt))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), env.Meta.RequestID)
}

func TestHandleSessionNotFound(t *testing.T) {
	ts := newTestServer(t, seededStore(), nil, nil)
	resp, body := get(t, ts, sessionPath("Monaco Grand Prix", "Race"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env model.APIError
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, model.ErrCodeNotFound, env.Error.Code)
}

func TestHandleSessionInvalidInput(t *testing.T) {
	ts := newTestServer(t, seededStore(), nil, nil)
	for _, path := range []string{
		"/v1/sessions/last/Italian%20Grand%20Prix/Race",
		sessionPath("Italian Grand Prix", "Warmup"),
	} {
		resp, _ := get(t, ts, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestHandleDocument(t *testing.T) {
	ts := newTestServer(t, seededStore(), nil, nil)

	resp, body := get(t, ts, sessionPath("Italian Grand Prix", "Race")+"/tyres")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.JSONEq(t, `[{"Driver":"LEC","Abbreviation":"LEC","LapNumber":1,"Compound":"HARD"}]`, string(env.Data))

	resp, _ = get(t, ts, sessionPath("Italian Grand Prix", "Race")+"/fastest_lap")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, ts, sessionPath("Italian Grand Prix", "Race")+"/weather")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleDocumentStoreError(t *testing.T) {
	store := seededStore()
	store.err = errors.New("connection refused")
	ts := newTestServer(t, store, nil, nil)

	resp, _ := get(t, ts, sessionPath("Italian Grand Prix", "Race")+"/podium")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	store := seededStore()
	ts := newTestServer(t, store, NewBroker(newFakeNotifier(), testLogger()), nil)

	resp, body := get(t, ts, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "running", env.Data.SSEBroker)

	store.pingErr = errors.New("down")
	resp, _ = get(t, ts, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimitedRoutes(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.01, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	ts := newTestServer(t, seededStore(), nil, limiter)

	resp, _ := get(t, ts, sessionPath("Italian Grand Prix", "Race"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, ts, sessionPath("Italian Grand Prix", "Race"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Health is never limited.
	resp, _ = get(t, ts, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsWithoutBroker(t *testing.T) {
	ts := newTestServer(t, seededStore(), nil, nil)
	resp, _ := get(t, ts, "/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	broker := NewBroker(newFakeNotifier(), testLogger())
	ts := newTestServer(t, seededStore(), broker, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The handler subscribes after writing headers; publish until it arrives.
	go func() {
		for ctx.Err() == nil {
			broker.broadcast(formatSSE(eventDocumentUpdated, `{"data_type":"podium"}`))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: document_updated\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"data_type\":\"podium\"}\n", line)
}
