package openf1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type meeting struct {
	MeetingKey          int    `json:"meeting_key"`
	MeetingName         string `json:"meeting_name"`
	MeetingOfficialName string `json:"meeting_official_name"`
	Location            string `json:"location"`
	CountryName         string `json:"country_name"`
	DateStart           string `json:"date_start"`
	DateEnd             string `json:"date_end"`
	Year                int    `json:"year"`
}

type session struct {
	SessionKey  int    `json:"session_key"`
	SessionName string `json:"session_name"`
	SessionType string `json:"session_type"`
	MeetingKey  int    `json:"meeting_key"`
	DateStart   string `json:"date_start"`
	DateEnd     string `json:"date_end"`
	Year        int    `json:"year"`
}

type driver struct {
	DriverNumber  int     `json:"driver_number"`
	BroadcastName string  `json:"broadcast_name"`
	FullName      string  `json:"full_name"`
	NameAcronym   string  `json:"name_acronym"`
	TeamName      string  `json:"team_name"`
	TeamColour    string  `json:"team_colour"`
	HeadshotURL   *string `json:"headshot_url"`
	CountryCode   *string `json:"country_code"`
}

type sessionResult struct {
	DriverNumber int             `json:"driver_number"`
	Position     *int            `json:"position"`
	Points       *float64        `json:"points"`
	DNF          bool            `json:"dnf"`
	DNS          bool            `json:"dns"`
	DSQ          bool            `json:"dsq"`
	NumberOfLaps int             `json:"number_of_laps"`
	Duration     json.RawMessage `json:"duration"`
}

type startingGrid struct {
	DriverNumber int  `json:"driver_number"`
	Position     *int `json:"position"`
}

type lap struct {
	DriverNumber int      `json:"driver_number"`
	LapNumber    int      `json:"lap_number"`
	LapDuration  *float64 `json:"lap_duration"`
	DateStart    *string  `json:"date_start"`
	IsPitOutLap  bool     `json:"is_pit_out_lap"`
}

type stint struct {
	DriverNumber   int    `json:"driver_number"`
	StintNumber    int    `json:"stint_number"`
	LapStart       int    `json:"lap_start"`
	LapEnd         int    `json:"lap_end"`
	Compound       string `json:"compound"`
	TyreAgeAtStart *int   `json:"tyre_age_at_start"`
}

type position struct {
	DriverNumber int    `json:"driver_number"`
	Date         string `json:"date"`
	Position     int    `json:"position"`
}

type carData struct {
	Date  string  `json:"date"`
	Speed float64 `json:"speed"`
}

type location struct {
	Date string  `json:"date"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// parseTime accepts the ISO-8601 timestamps OpenF1 emits, with or without
// fractional seconds and offset.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("openf1: unrecognized timestamp %q", s)
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}

// durations decodes the session_result duration field. Race-format sessions
// carry a number; qualifying-format sessions carry [Q1, Q2, Q3] with nulls
// for segments the driver did not reach.
func durations(raw json.RawMessage) ([]*time.Duration, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var parts []*float64
		if err := json.Unmarshal(raw, &parts); err != nil {
			return nil, fmt.Errorf("openf1: decode duration array: %w", err)
		}
		out := make([]*time.Duration, len(parts))
		for i, p := range parts {
			if p != nil {
				d := seconds(*p)
				out[i] = &d
			}
		}
		return out, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("openf1: decode duration: %w", err)
	}
	d := seconds(f)
	return []*time.Duration{&d}, nil
}

func status(r sessionResult) string {
	switch {
	case r.DSQ:
		return "Disqualified"
	case r.DNS:
		return "Did not start"
	case r.DNF:
		return "Retired"
	case r.Position != nil:
		return "Finished"
	}
	return ""
}
