package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/storage"
)

// DocumentStore is the read side of the document store. *storage.DB
// implements it.
type DocumentStore interface {
	Ping(ctx context.Context) error
	GetDocument(ctx context.Context, key model.DocumentKey) (model.StoredDocument, error)
	QueryDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.StoredDocument, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store     DocumentStore
	broker    *Broker
	logger    *slog.Logger
	startedAt time.Time
	version   string
}

// NewHandlers creates Handlers. broker may be nil, which disables /v1/events.
func NewHandlers(store DocumentStore, broker *Broker, logger *slog.Logger, version string) *Handlers {
	return &Handlers{
		store:     store,
		broker:    broker,
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// sessionFromPath parses {year}, {grand_prix} and {session}. The session
// accepts the same aliases as the pipeline (R, Q, Sprint Shootout, ...).
func sessionFromPath(r *http.Request) (model.SessionID, error) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 1950 {
		return model.SessionID{}, fmt.Errorf("invalid year %q", r.PathValue("year"))
	}
	gp := r.PathValue("grand_prix")
	if gp == "" {
		return model.SessionID{}, errors.New("grand_prix is required")
	}
	st, err := model.ParseSessionType(r.PathValue("session"))
	if err != nil {
		return model.SessionID{}, err
	}
	return model.SessionID{Year: year, GrandPrix: gp, Type: st}, nil
}

// HandleSession handles GET /v1/sessions/{year}/{grand_prix}/{session}.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	docs, err := h.store.QueryDocuments(r.Context(), model.DocumentFilter{
		Year:      id.Year,
		GrandPrix: id.GrandPrix,
		Session:   string(id.Type),
	})
	if err != nil {
		h.logger.Error("query session documents", "session", id.String(), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load session")
		return
	}
	if len(docs) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no data stored for "+id.String())
		return
	}

	resp := model.SessionDocuments{
		Year:      id.Year,
		GrandPrix: id.GrandPrix,
		Session:   string(id.Type),
		Documents: make(map[model.DataType]json.RawMessage, len(docs)),
	}
	for _, d := range docs {
		resp.Documents[d.DataType] = d.Payload
		if d.UpdatedAt.After(resp.UpdatedAt) {
			resp.UpdatedAt = d.UpdatedAt
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleDocument handles GET /v1/sessions/{year}/{grand_prix}/{session}/{data_type}.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	id, err := sessionFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	dt := model.DataType(r.PathValue("data_type"))
	if !dt.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, fmt.Sprintf("unknown data type %q", dt))
		return
	}

	doc, err := h.store.GetDocument(r.Context(), model.DocumentKey{
		Year:      id.Year,
		GrandPrix: id.GrandPrix,
		Session:   string(id.Type),
		DataType:  dt,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, fmt.Sprintf("no %s stored for %s", dt, id))
		return
	}
	if err != nil {
		h.logger.Error("get document", "session", id.String(), "data_type", string(dt), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load document")
		return
	}
	writeJSON(w, r, http.StatusOK, doc.Payload)
}

// HandleEvents handles GET /v1/events (SSE). Each event names a document
// that was just written.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle SSE connections would otherwise be cut at WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "connected",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Postgres = "disconnected"
		status = http.StatusServiceUnavailable
	}
	if h.broker != nil {
		resp.SSEBroker = "running"
	}
	writeJSON(w, r, status, resp)
}
