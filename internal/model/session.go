// Package model defines the core domain types for the telemetrics pipeline.
//
// Session identity and output document types are shared by the extractor,
// the transformer, the orchestrator and the storage layer.
package model

import (
	"fmt"
	"strings"
)

// SessionType is one on-track segment of a race weekend.
type SessionType string

const (
	SessionPractice1        SessionType = "Practice 1"
	SessionPractice2        SessionType = "Practice 2"
	SessionPractice3        SessionType = "Practice 3"
	SessionQualifying       SessionType = "Qualifying"
	SessionSprintQualifying SessionType = "Sprint Qualifying"
	SessionSprint           SessionType = "Sprint"
	SessionRace             SessionType = "Race"
)

// AllSessionTypes lists every session type in weekend order.
var AllSessionTypes = []SessionType{
	SessionPractice1,
	SessionPractice2,
	SessionPractice3,
	SessionQualifying,
	SessionSprintQualifying,
	SessionSprint,
	SessionRace,
}

// ParseSessionType accepts the upstream session string and the common
// short aliases (FP1, Q, SQ, S, R).
func ParseSessionType(s string) (SessionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRACTICE 1", "FP1":
		return SessionPractice1, nil
	case "PRACTICE 2", "FP2":
		return SessionPractice2, nil
	case "PRACTICE 3", "FP3":
		return SessionPractice3, nil
	case "QUALIFYING", "Q":
		return SessionQualifying, nil
	case "SPRINT QUALIFYING", "SPRINT SHOOTOUT", "SQ":
		return SessionSprintQualifying, nil
	case "SPRINT", "S":
		return SessionSprint, nil
	case "RACE", "R":
		return SessionRace, nil
	}
	return "", fmt.Errorf("unknown session type %q", s)
}

// IsRaceFormat reports whether classification comes from finishing order
// rather than a timed lap.
func (t SessionType) IsRaceFormat() bool {
	return t == SessionRace || t == SessionSprint
}

// IsQualifyingFamily reports whether the session produces a qualifying
// classification.
func (t SessionType) IsQualifyingFamily() bool {
	return t == SessionQualifying || t == SessionSprintQualifying
}

// SessionID is the natural key of one upstream session and of every
// document derived from it.
type SessionID struct {
	Year      int
	GrandPrix string
	Type      SessionType
}

func (id SessionID) String() string {
	return fmt.Sprintf("%d %s %s", id.Year, id.GrandPrix, id.Type)
}
