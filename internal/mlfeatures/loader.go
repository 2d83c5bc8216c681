// Package mlfeatures builds training rows for the finishing-order model from
// stored session results.
package mlfeatures

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/telemetrics/telemetrics/internal/model"
)

// Qualifying times outside this window (seconds) are treated as bad data.
const (
	MinQualifyingTime = 60.0
	MaxQualifyingTime = 120.0
)

// unclassified is the Position written for drivers without a classification.
const unclassified = 999

// Store queries stored documents. *storage.DB implements it.
type Store interface {
	QueryDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.StoredDocument, error)
}

// RaceResult is one driver's race finish.
type RaceResult struct {
	Year            int
	GrandPrix       string
	Session         string
	DriverAbbr      string
	DriverName      string
	Team            string
	Position        *int
	RaceTimeSeconds *float64
	Status          string
	Points          float64
	GridPosition    *int
	QualifyingPos   *int     // set by Merge
	QualifyingTime  *float64 // set by Merge
}

// QualifyingResult is one driver's qualifying classification.
type QualifyingResult struct {
	Year               int
	GrandPrix          string
	DriverAbbr         string
	DriverName         string
	Team               string
	QualifyingPosition *int
	QualifyingTime     float64 // best of Q3, Q2, Q1
	Q1, Q2, Q3         *float64
}

// Dataset is everything the trainer needs for a year range.
type Dataset struct {
	RaceResults []RaceResult
	Qualifying  []QualifyingResult
	// Merged is RaceResults with qualifying joined on (year, grand prix,
	// driver). Empty unless both sides have rows.
	Merged []RaceResult
}

// Loader reads training data through a Store.
type Loader struct {
	store      Store
	excludeDNF bool
	logger     *slog.Logger
}

// New returns a Loader. When excludeDNF is set, race rows without a finishing
// time are dropped.
func New(store Store, excludeDNF bool, logger *slog.Logger) *Loader {
	return &Loader{store: store, excludeDNF: excludeDNF, logger: logger}
}

func (l *Loader) sessionResults(ctx context.Context, session model.SessionType, from, to int) ([]model.StoredDocument, error) {
	docs, err := l.store.QueryDocuments(ctx, model.DocumentFilter{
		FromYear: from,
		ToYear:   to,
		Session:  string(session),
		DataType: model.DataSessionResults,
	})
	if err != nil {
		return nil, fmt.Errorf("mlfeatures: query %s results: %w", session, err)
	}
	return docs, nil
}

func decodeRows(doc model.StoredDocument) ([]model.SessionResultRow, error) {
	var rows []model.SessionResultRow
	if err := json.Unmarshal(doc.Payload, &rows); err != nil {
		return nil, fmt.Errorf("mlfeatures: decode %d %s %s: %w", doc.Year, doc.GrandPrix, doc.Session, err)
	}
	return rows, nil
}

func position(p int) *int {
	if p <= 0 || p == unclassified {
		return nil
	}
	return &p
}

// RaceResults loads race finishes for [from, to].
func (l *Loader) RaceResults(ctx context.Context, from, to int) ([]RaceResult, error) {
	docs, err := l.sessionResults(ctx, model.SessionRace, from, to)
	if err != nil {
		return nil, err
	}

	var out []RaceResult
	excluded := 0
	for _, doc := range docs {
		rows, err := decodeRows(doc)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if l.excludeDNF && r.TimeSeconds == nil {
				excluded++
				continue
			}
			out = append(out, RaceResult{
				Year:            doc.Year,
				GrandPrix:       doc.GrandPrix,
				Session:         doc.Session,
				DriverAbbr:      r.Abbreviation,
				DriverName:      r.FullName,
				Team:            r.TeamName,
				Position:        position(r.Position),
				RaceTimeSeconds: r.TimeSeconds,
				Status:          r.Status,
				Points:          r.Points,
				GridPosition:    r.GridPosition,
			})
		}
	}
	if excluded > 0 {
		l.logger.Info("excluded DNF entries", "count", excluded)
	}
	l.logger.Info("loaded race results", "from", from, "to", to, "count", len(out))
	return out, nil
}

// Qualifying loads qualifying classifications for [from, to]. Drivers
// without a time inside the plausible window are dropped.
func (l *Loader) Qualifying(ctx context.Context, from, to int) ([]QualifyingResult, error) {
	docs, err := l.sessionResults(ctx, model.SessionQualifying, from, to)
	if err != nil {
		return nil, err
	}

	var out []QualifyingResult
	filtered := 0
	for _, doc := range docs {
		rows, err := decodeRows(doc)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			best := bestQualifyingTime(r)
			if best == nil || *best < MinQualifyingTime || *best > MaxQualifyingTime {
				filtered++
				continue
			}
			out = append(out, QualifyingResult{
				Year:               doc.Year,
				GrandPrix:          doc.GrandPrix,
				DriverAbbr:         r.Abbreviation,
				DriverName:         r.FullName,
				Team:               r.TeamName,
				QualifyingPosition: position(r.Position),
				QualifyingTime:     *best,
				Q1:                 r.Q1Seconds,
				Q2:                 r.Q2Seconds,
				Q3:                 r.Q3Seconds,
			})
		}
	}
	if filtered > 0 {
		l.logger.Info("filtered invalid qualifying times", "count", filtered)
	}
	l.logger.Info("loaded qualifying results", "from", from, "to", to, "count", len(out))
	return out, nil
}

// bestQualifyingTime is the time from the latest segment the driver reached.
func bestQualifyingTime(r model.SessionResultRow) *float64 {
	switch {
	case r.Q3Seconds != nil:
		return r.Q3Seconds
	case r.Q2Seconds != nil:
		return r.Q2Seconds
	default:
		return r.Q1Seconds
	}
}

// HistoricalRaces loads race and qualifying rows for [from, to] and joins
// them.
func (l *Loader) HistoricalRaces(ctx context.Context, from, to int) (Dataset, error) {
	races, err := l.RaceResults(ctx, from, to)
	if err != nil {
		return Dataset{}, err
	}
	quali, err := l.Qualifying(ctx, from, to)
	if err != nil {
		return Dataset{}, err
	}
	ds := Dataset{RaceResults: races, Qualifying: quali}
	if len(races) > 0 && len(quali) > 0 {
		ds.Merged = Merge(races, quali)
		l.logger.Info("merged dataset", "count", len(ds.Merged))
	}
	return ds, nil
}

type driverKey struct {
	year      int
	grandPrix string
	driver    string
}

// Merge left-joins qualifying onto race results by (year, grand prix,
// driver abbreviation). Every race row is kept.
func Merge(races []RaceResult, quali []QualifyingResult) []RaceResult {
	byDriver := make(map[driverKey]QualifyingResult, len(quali))
	for _, q := range quali {
		byDriver[driverKey{q.Year, q.GrandPrix, q.DriverAbbr}] = q
	}
	out := slices.Clone(races)
	for i := range out {
		q, ok := byDriver[driverKey{out[i].Year, out[i].GrandPrix, out[i].DriverAbbr}]
		if !ok {
			continue
		}
		t := q.QualifyingTime
		out[i].QualifyingPos = q.QualifyingPosition
		out[i].QualifyingTime = &t
	}
	return out
}

// RaceList returns the grand prix with stored race results in year, sorted
// and without duplicates.
func (l *Loader) RaceList(ctx context.Context, year int) ([]string, error) {
	docs, err := l.store.QueryDocuments(ctx, model.DocumentFilter{
		Year:     year,
		Session:  string(model.SessionRace),
		DataType: model.DataSessionResults,
	})
	if err != nil {
		return nil, fmt.Errorf("mlfeatures: race list %d: %w", year, err)
	}
	races := make([]string, 0, len(docs))
	for _, d := range docs {
		races = append(races, d.GrandPrix)
	}
	slices.Sort(races)
	return slices.Compact(races), nil
}
