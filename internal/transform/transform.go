// Package transform maps a loaded session to the seven frontend documents.
//
// Every transform reads through a Source and returns a model.Document whose
// variant (Empty or Populated) is decided here, so callers never inspect
// payload shapes to decide what to upload.
package transform

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/telemetrics/telemetrics/internal/extractor"
	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

// Source is the read-only view of a loaded session. *extractor.Extractor
// implements it.
type Source interface {
	ID() model.SessionID
	DriverStandings() ([]upstream.Result, error)
	Laps() ([]upstream.Lap, error)
	FastestLap() (*upstream.Lap, error)
	EventInfo() (extractor.EventInfo, error)
	Telemetry(ctx context.Context, lap upstream.Lap) ([]upstream.TelemetrySample, error)
}

// missingPosition is written for unclassified drivers so they sort last.
const missingPosition = 999

// Transformer builds documents for one session.
type Transformer struct {
	src    Source
	logger *slog.Logger
}

// New returns a Transformer reading from src.
func New(src Source, logger *slog.Logger) *Transformer {
	id := src.ID()
	return &Transformer{
		src:    src,
		logger: logger.With("year", id.Year, "grand_prix", id.GrandPrix, "session", string(id.Type)),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SessionResults lists every driver in classification order.
func (t *Transformer) SessionResults() (model.Document, error) {
	rows, err := t.src.DriverStandings()
	if err != nil {
		return model.Document{}, err
	}
	if len(rows) == 0 {
		return model.Empty(model.DataSessionResults), nil
	}

	out := make([]model.SessionResultRow, 0, len(rows))
	for _, r := range rows {
		team := TeamName(orDefault(r.TeamName, "Unknown"))
		row := model.SessionResultRow{
			Position:     missingPosition,
			Abbreviation: orDefault(r.Abbreviation, "UNK"),
			FullName:     r.FullName,
			TeamName:     team,
			TeamLogo:     TeamLogo(team),
			TeamColor:    TeamColor(r.TeamColor),
			Status:       orDefault(r.Status, "Unknown"),
			Time:         FormatDuration(r.Time),
			TimeSeconds:  seconds(r.Time),
			DriverNumber: r.DriverNumber,
			GridPosition: r.GridPosition,
			Q1:           FormatDuration(r.Q1),
			Q2:           FormatDuration(r.Q2),
			Q3:           FormatDuration(r.Q3),
			Q1Seconds:    seconds(r.Q1),
			Q2Seconds:    seconds(r.Q2),
			Q3Seconds:    seconds(r.Q3),
			CountryCode:  r.CountryCode,
		}
		if r.Position != nil {
			row.Position = *r.Position
		}
		if r.Points != nil {
			row.Points = *r.Points
		}
		out = append(out, row)
	}
	slices.SortStableFunc(out, func(a, b model.SessionResultRow) int { return cmp.Compare(a.Position, b.Position) })
	return model.Populated(model.DataSessionResults, out), nil
}

// Podium returns up to three classified drivers from the top of the
// standings. Unclassified rows are skipped, not padded.
func (t *Transformer) Podium() (model.Document, error) {
	rows, err := t.src.DriverStandings()
	if err != nil {
		return model.Document{}, err
	}

	var out []model.PodiumRow
	for _, r := range rows[:min(3, len(rows))] {
		if r.Position == nil {
			continue
		}
		abbr := orDefault(r.Abbreviation, "UNK")
		team := TeamName(orDefault(r.TeamName, "Unknown"))
		out = append(out, model.PodiumRow{
			Position:     *r.Position,
			Abbreviation: abbr,
			TeamName:     team,
			TeamColor:    TeamColor(r.TeamColor),
			TeamLogo:     TeamLogo(team),
			HeadshotURL:  Headshot(r.HeadshotURL, abbr),
			Status:       orDefault(r.Status, "Finished"),
			Time:         FormatDuration(r.Time),
		})
	}
	if len(out) == 0 {
		return model.Empty(model.DataPodium), nil
	}
	return model.Populated(model.DataPodium, out), nil
}

// FastestLap describes the quickest valid lap, or is Empty when there is
// none.
func (t *Transformer) FastestLap() (model.Document, error) {
	l, err := t.src.FastestLap()
	if err != nil {
		return model.Document{}, err
	}
	if l == nil {
		return model.Empty(model.DataFastestLap), nil
	}
	fl := model.FastestLap{
		Driver:       orDefault(l.Driver, "UNK"),
		LapTime:      FormatDuration(l.LapTime),
		LapNumber:    l.LapNumber,
		TyreCompound: Compound(l.Compound),
	}
	if l.TyreLife != nil {
		fl.TyreAge = *l.TyreLife
	}
	return model.Populated(model.DataFastestLap, fl), nil
}

// SessionInfo returns event metadata with the highest lap number reached.
// Missing laps count as zero.
func (t *Transformer) SessionInfo() (model.Document, error) {
	ev, err := t.src.EventInfo()
	if err != nil {
		return model.Document{}, err
	}
	info := model.SessionInfo{
		Country:           orDefault(ev.Country, "Unknown"),
		Location:          orDefault(ev.Location, "Unknown"),
		EventName:         orDefault(ev.EventName, "Unknown"),
		EventDate:         orDefault(ev.EventDate, "Unknown"),
		OfficialEventName: orDefault(ev.OfficialEventName, "Unknown"),
	}
	if laps, err := t.src.Laps(); err == nil {
		for _, l := range laps {
			info.TotalLaps = max(info.TotalLaps, l.LapNumber)
		}
	} else {
		t.logger.Warn("laps unavailable for session info", "error", err)
	}
	return model.Populated(model.DataSessionInfo, info), nil
}

// Tyres lists the compound of every lap, unaggregated.
func (t *Transformer) Tyres() (model.Document, error) {
	laps, err := t.src.Laps()
	if err != nil {
		return model.Document{}, err
	}
	if len(laps) == 0 {
		return model.Empty(model.DataTyres), nil
	}
	out := make([]model.TyreRow, 0, len(laps))
	for _, l := range laps {
		driver := orDefault(l.Driver, "UNK")
		out = append(out, model.TyreRow{
			Driver:       driver,
			Abbreviation: driver,
			LapNumber:    l.LapNumber,
			Compound:     Compound(l.Compound),
		})
	}
	return model.Populated(model.DataTyres, out), nil
}

// LapChart lists every timed lap and the first three drivers of the
// standings.
func (t *Transformer) LapChart() (model.Document, error) {
	laps, err := t.src.Laps()
	if err != nil {
		return model.Document{}, err
	}
	rows, err := t.src.DriverStandings()
	if err != nil {
		return model.Document{}, err
	}

	chart := model.LapChart{Podium: []string{}, Laps: []model.LapChartEntry{}}
	for _, r := range rows[:min(3, len(rows))] {
		chart.Podium = append(chart.Podium, orDefault(r.Abbreviation, "UNK"))
	}
	for _, l := range laps {
		if l.LapTime == nil {
			continue
		}
		chart.Laps = append(chart.Laps, model.LapChartEntry{
			Driver:    orDefault(l.Driver, "UNK"),
			LapNumber: l.LapNumber,
			LapTime:   FormatLapTime(*l.LapTime),
		})
	}
	if len(chart.Laps) == 0 {
		return model.Empty(model.DataLapChart), nil
	}
	return model.Populated(model.DataLapChart, chart), nil
}
