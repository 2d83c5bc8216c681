// Package extractor wraps one upstream session: it loads the session with
// bounded retries and exposes typed, read-only accessors over the loaded
// data, including standings derived from laps when the provider publishes
// no classification.
package extractor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

var (
	// ErrNotLoaded is returned by accessors before LoadSession succeeds.
	ErrNotLoaded = errors.New("extractor: session not loaded")

	// ErrLoadFailed is returned by accessors after LoadSession gave up.
	ErrLoadFailed = errors.New("extractor: session failed to load")
)

// State is the load lifecycle of an Extractor.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// sprintQualifyingFormatYear is the first season whose sprint qualifying is
// run as a Q1/Q2/Q3 qualifying rather than a short race.
const sprintQualifyingFormatYear = 2024

// Options controls LoadSession retries.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns 3 attempts spaced 5 seconds apart.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: 5 * time.Second}
}

// EventInfo is the event metadata of a session.
type EventInfo struct {
	Country           string
	Location          string
	EventName         string
	EventDate         string
	OfficialEventName string
}

// Extractor gives access to one session. It is created per session, loaded
// once and discarded after the session is processed. It is not safe for
// concurrent use.
type Extractor struct {
	id       model.SessionID
	provider upstream.Provider
	opts     Options
	logger   *slog.Logger

	state   State
	session upstream.Session
}

// New creates an unloaded extractor for id.
func New(provider upstream.Provider, id model.SessionID, opts Options, logger *slog.Logger) *Extractor {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Extractor{
		id:       id,
		provider: provider,
		opts:     opts,
		logger:   logger.With("year", id.Year, "grand_prix", id.GrandPrix, "session", string(id.Type)),
	}
}

// ID returns the session identity.
func (e *Extractor) ID() model.SessionID { return e.id }

// State returns the current lifecycle state.
func (e *Extractor) State() State { return e.state }

// IsSprintQualifying reports whether the session is a sprint qualifying.
func (e *Extractor) IsSprintQualifying() bool {
	return e.id.Type == model.SessionSprintQualifying
}

// IsQualifyingFormatSprint reports whether a sprint qualifying is run in the
// Q1/Q2/Q3 format. Earlier seasons ran it as a race.
func (e *Extractor) IsQualifyingFormatSprint() bool {
	return e.IsSprintQualifying() && e.id.Year >= sprintQualifyingFormatYear
}

// LoadSession fetches the session, retrying with a fixed delay. It returns
// false once all attempts fail or ctx ends; callers skip the session. Only
// the first call contacts the provider; later calls report its outcome.
func (e *Extractor) LoadSession(ctx context.Context) bool {
	switch e.state {
	case StateLoaded:
		return true
	case StateFailed:
		return false
	}
	e.state = StateLoading

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
		e.logger.Info("loading session", "attempt", attempt, "max_attempts", e.opts.MaxRetries)

		s, err := e.provider.Session(ctx, e.id)
		if err == nil {
			e.session = s
			e.state = StateLoaded
			e.logger.Info("session loaded", "results", len(s.Results), "laps", len(s.Laps))
			if e.IsSprintQualifying() {
				format := "race format"
				if e.IsQualifyingFormatSprint() {
					format = "qualifying format (Q1/Q2/Q3)"
				}
				e.logger.Info("sprint qualifying detected", "format", format)
			}
			return true
		}
		lastErr = err
		e.logger.Warn("failed to load session", "attempt", attempt, "max_attempts", e.opts.MaxRetries, "error", err)

		if attempt == e.opts.MaxRetries {
			break
		}
		e.logger.Info("retrying session load", "delay", e.opts.RetryDelay)
		if !sleep(ctx, e.opts.RetryDelay) {
			lastErr = ctx.Err()
			break
		}
	}

	e.state = StateFailed
	e.logger.Error("giving up on session", "error", lastErr)
	return false
}

// sleep waits d or until ctx ends; it reports whether the full delay passed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Extractor) loaded() (*upstream.Session, error) {
	switch e.state {
	case StateLoaded:
		return &e.session, nil
	case StateFailed:
		return nil, ErrLoadFailed
	}
	return nil, ErrNotLoaded
}

// Results returns the upstream results table in provider order.
func (e *Extractor) Results() ([]upstream.Result, error) {
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Results), nil
}

// Laps returns every lap of the session.
func (e *Extractor) Laps() ([]upstream.Lap, error) {
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Laps), nil
}

// EventInfo returns the event metadata with EventDate as YYYY-MM-DD.
func (e *Extractor) EventInfo() (EventInfo, error) {
	s, err := e.loaded()
	if err != nil {
		return EventInfo{}, err
	}
	info := EventInfo{
		Country:           s.Event.Country,
		Location:          s.Event.Location,
		EventName:         s.Event.Name,
		OfficialEventName: s.Event.OfficialName,
	}
	if !s.Event.Date.IsZero() {
		info.EventDate = s.Event.Date.Format(time.DateOnly)
	}
	return info, nil
}

// FastestLap returns the quickest timed lap, or nil when there is none.
// Ties go to the earlier lap in provider order.
func (e *Extractor) FastestLap() (*upstream.Lap, error) {
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	var best *upstream.Lap
	for i := range s.Laps {
		l := &s.Laps[i]
		if l.LapTime == nil {
			continue
		}
		if best == nil || *l.LapTime < *best.LapTime {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

// DriverStandings returns the results ordered by classification. When the
// provider published no positions at all, positions are derived from laps.
func (e *Extractor) DriverStandings() ([]upstream.Result, error) {
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return standings(e.id.Type, s.Results, s.Laps, e.logger), nil
}

// QualifyingResults returns the results of a qualifying-family session, or
// ok=false for other session types. For sprint qualifying it logs when the
// presence of Q1/Q2/Q3 times disagrees with the season's format.
func (e *Extractor) QualifyingResults() (results []upstream.Result, ok bool, err error) {
	s, err := e.loaded()
	if err != nil {
		return nil, false, err
	}
	if !e.id.Type.IsQualifyingFamily() {
		e.logger.Warn("not a qualifying session")
		return nil, false, nil
	}

	if e.IsSprintQualifying() {
		hasQ := slices.ContainsFunc(s.Results, upstream.Result.HasQualifyingTimes)
		switch {
		case !hasQ && e.IsQualifyingFormatSprint():
			e.logger.Warn("expected Q1/Q2/Q3 times for sprint qualifying but none found")
		case hasQ && !e.IsQualifyingFormatSprint():
			e.logger.Warn("unexpected Q1/Q2/Q3 times for race-format sprint qualifying")
		}
	}
	return slices.Clone(s.Results), true, nil
}

// Telemetry returns distance-indexed samples for one lap of this session.
func (e *Extractor) Telemetry(ctx context.Context, lap upstream.Lap) ([]upstream.TelemetrySample, error) {
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return e.provider.LapTelemetry(ctx, s.Ref, lap)
}
