// Package upstream defines the contract with the third-party motorsport data
// provider and the raw, provider-neutral session types it returns.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/telemetrics/telemetrics/internal/model"
)

// ErrSessionNotFound is returned when the provider has no session for the
// requested (year, grand prix, session type). Usually the data is not
// published yet.
var ErrSessionNotFound = errors.New("upstream: session not found")

// Provider fetches completed session data.
type Provider interface {
	// Schedule returns the events of a season in calendar order.
	Schedule(ctx context.Context, year int) ([]Event, error)

	// Session loads every table of one session. The returned value is
	// complete; nothing is fetched lazily from it.
	Session(ctx context.Context, id model.SessionID) (Session, error)

	// LapTelemetry returns distance-indexed samples for one lap of one driver.
	LapTelemetry(ctx context.Context, ref SessionRef, lap Lap) ([]TelemetrySample, error)
}

// Event is one entry of a season schedule.
type Event struct {
	Name         string
	OfficialName string
	Country      string
	Location     string
	Date         time.Time
	Testing      bool
}

// SessionRef identifies a loaded session to the provider for follow-up
// requests.
type SessionRef struct {
	Key       int
	StartedAt time.Time
	EndedAt   time.Time
}

// Session is the fully loaded, immutable content of one upstream session.
type Session struct {
	ID      model.SessionID
	Ref     SessionRef
	Event   Event
	Results []Result
	Laps    []Lap
}

// Result is one row of the upstream results table. Nil pointers are values
// the provider did not publish.
type Result struct {
	DriverNumber  string
	Abbreviation  string
	FullName      string
	BroadcastName string
	TeamName      string
	TeamColor     string
	HeadshotURL   string
	CountryCode   string
	Position      *int
	GridPosition  *int
	Points        *float64
	Status        string
	Time          *time.Duration
	Q1            *time.Duration
	Q2            *time.Duration
	Q3            *time.Duration
}

// HasQualifyingTimes reports whether any Q1/Q2/Q3 value is set.
func (r Result) HasQualifyingTimes() bool {
	return r.Q1 != nil || r.Q2 != nil || r.Q3 != nil
}

// Lap is one lap of one driver. A nil LapTime marks an invalid or
// incomplete lap.
type Lap struct {
	Driver       string
	DriverNumber string
	LapNumber    int
	LapTime      *time.Duration
	Position     *int
	Compound     string
	TyreLife     *int
	StartedAt    time.Time
}

// TelemetrySample is one point of car telemetry along a lap. Distance is in
// metres from the start of the lap; Speed in km/h.
type TelemetrySample struct {
	Distance float64
	X        float64
	Y        float64
	Speed    float64
}
