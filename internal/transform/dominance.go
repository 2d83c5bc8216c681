package transform

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

// Minisectors is the number of equal-length stretches a lap is split into
// for the track dominance comparison.
const Minisectors = 25

// TrackDominance compares the fastest laps of the top two drivers of the
// standings minisector by minisector. When laps or telemetry are missing
// the document still carries the drivers and their colours with no
// segments. Fewer than two drivers gives an Empty document.
func (t *Transformer) TrackDominance(ctx context.Context) (model.Document, error) {
	rows, err := t.src.DriverStandings()
	if err != nil {
		return model.Document{}, err
	}
	if len(rows) < 2 {
		t.logger.Warn("not enough drivers for track dominance comparison")
		return model.Empty(model.DataTrackDominance), nil
	}

	first, second := rows[0], rows[1]
	td := model.TrackDominance{
		Drivers:    []string{orDefault(first.Abbreviation, "UNK"), orDefault(second.Abbreviation, "UNK")},
		TeamColors: []string{TeamColor(first.TeamColor), TeamColor(second.TeamColor)},
		Segments:   []model.DominanceSegment{},
	}

	segs, err := t.dominance(ctx, first, second, td.Drivers)
	if err != nil {
		t.logger.Error("track dominance without segments", "error", err)
		return model.Populated(model.DataTrackDominance, td), nil
	}
	td.Segments = segs
	t.logger.Info("created track dominance", "segments", len(segs))
	return model.Populated(model.DataTrackDominance, td), nil
}

func (t *Transformer) dominance(ctx context.Context, first, second upstream.Result, names []string) ([]model.DominanceSegment, error) {
	laps, err := t.src.Laps()
	if err != nil {
		return nil, err
	}

	var tel [2][]upstream.TelemetrySample
	for i, r := range []upstream.Result{first, second} {
		lap, ok := fastestLapOf(laps, r.DriverNumber)
		if !ok {
			return nil, fmt.Errorf("no timed lap for driver %s", names[i])
		}
		samples, err := t.src.Telemetry(ctx, lap)
		if err != nil {
			return nil, fmt.Errorf("telemetry for %s lap %d: %w", names[i], lap.LapNumber, err)
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("empty telemetry for %s lap %d", names[i], lap.LapNumber)
		}
		tel[i] = samples
	}
	return Segments(names[0], tel[0], names[1], tel[1])
}

func fastestLapOf(laps []upstream.Lap, driverNumber string) (upstream.Lap, bool) {
	var (
		best  upstream.Lap
		found bool
	)
	for _, l := range laps {
		if l.DriverNumber != driverNumber || l.LapTime == nil {
			continue
		}
		if !found || *l.LapTime < *best.LapTime {
			best, found = l, true
		}
	}
	return best, found
}

// Segments splits the lap into Minisectors equal stretches of the longest
// observed distance, awards each stretch to the driver with the higher mean
// speed in it (a tie goes to driverA), and merges consecutive stretches won
// by the same driver. Each segment carries the winner's raw coordinates in
// distance order.
func Segments(driverA string, telA []upstream.TelemetrySample, driverB string, telB []upstream.TelemetrySample) ([]model.DominanceSegment, error) {
	var total float64
	for _, s := range slices.Concat(telA, telB) {
		total = max(total, s.Distance)
	}
	if total <= 0 {
		return nil, errors.New("telemetry covers no distance")
	}
	length := total / Minisectors

	type bucket struct {
		sum     float64
		samples []upstream.TelemetrySample
	}
	var sectors [2][Minisectors]bucket
	for i, tel := range [][]upstream.TelemetrySample{telA, telB} {
		sorted := slices.Clone(tel)
		slices.SortStableFunc(sorted, func(a, b upstream.TelemetrySample) int { return cmp.Compare(a.Distance, b.Distance) })
		for _, s := range sorted {
			idx := min(int(s.Distance/length), Minisectors-1)
			idx = max(idx, 0)
			b := &sectors[i][idx]
			b.sum += s.Speed
			b.samples = append(b.samples, s)
		}
	}

	names := [2]string{driverA, driverB}
	var out []model.DominanceSegment
	for m := 0; m < Minisectors; m++ {
		a, b := sectors[0][m], sectors[1][m]
		var winner int
		switch {
		case len(a.samples) == 0 && len(b.samples) == 0:
			continue
		case len(a.samples) == 0:
			winner = 1
		case len(b.samples) == 0:
			winner = 0
		case b.sum/float64(len(b.samples)) > a.sum/float64(len(a.samples)):
			winner = 1
		}

		points := make([][2]float64, 0, len(sectors[winner][m].samples))
		for _, s := range sectors[winner][m].samples {
			points = append(points, [2]float64{s.X, s.Y})
		}

		if n := len(out); n > 0 && out[n-1].FastestDriver == names[winner] {
			out[n-1].Points = append(out[n-1].Points, points...)
			continue
		}
		out = append(out, model.DominanceSegment{FastestDriver: names[winner], Points: points})
	}
	return out, nil
}
