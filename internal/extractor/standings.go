package extractor

import (
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

// standings orders results by position. If no row carries a position the
// classification is derived from laps: race-format sessions use each
// driver's position on the last lap of the session, the others rank
// drivers by their best lap time. Rows that cannot be ranked keep a nil
// position and sort after the classified ones in their original order.
func standings(t model.SessionType, results []upstream.Result, laps []upstream.Lap, logger *slog.Logger) []upstream.Result {
	rows := slices.Clone(results)

	if slices.ContainsFunc(rows, func(r upstream.Result) bool { return r.Position != nil }) {
		sortByPosition(rows)
		return rows
	}

	logger.Info("computing standings from lap data (no position data from provider)")
	if len(laps) == 0 {
		logger.Warn("no lap data available")
		slices.SortStableFunc(rows, func(a, b upstream.Result) int {
			return cmp.Compare(driverNumber(a.DriverNumber), driverNumber(b.DriverNumber))
		})
		return rows
	}

	if t.IsRaceFormat() {
		finalPositions(rows, laps)
	} else {
		rankByBestLap(rows, laps)
	}
	sortByPosition(rows)
	return rows
}

func sortByPosition(rows []upstream.Result) {
	slices.SortStableFunc(rows, func(a, b upstream.Result) int {
		switch {
		case a.Position == nil && b.Position == nil:
			return 0
		case a.Position == nil:
			return 1
		case b.Position == nil:
			return -1
		}
		return cmp.Compare(*a.Position, *b.Position)
	})
}

// finalPositions takes the position each driver held on the highest lap
// number reached in the session.
func finalPositions(rows []upstream.Result, laps []upstream.Lap) {
	last := 0
	for _, l := range laps {
		last = max(last, l.LapNumber)
	}
	pos := make(map[string]int)
	for _, l := range laps {
		if l.LapNumber != last || l.Position == nil {
			continue
		}
		if _, seen := pos[l.DriverNumber]; !seen {
			pos[l.DriverNumber] = *l.Position
		}
	}
	for i := range rows {
		if p, ok := pos[rows[i].DriverNumber]; ok {
			rows[i].Position = &p
		}
	}
}

// rankByBestLap assigns positions 1..n by ascending best lap and records
// that lap as the row's time.
func rankByBestLap(rows []upstream.Result, laps []upstream.Lap) {
	best := make(map[string]time.Duration)
	for _, l := range laps {
		if l.LapTime == nil {
			continue
		}
		if cur, ok := best[l.DriverNumber]; !ok || *l.LapTime < cur {
			best[l.DriverNumber] = *l.LapTime
		}
	}

	ranked := make([]int, 0, len(rows))
	for i, r := range rows {
		if _, ok := best[r.DriverNumber]; ok {
			ranked = append(ranked, i)
		}
	}
	slices.SortStableFunc(ranked, func(a, b int) int {
		return cmp.Compare(best[rows[a].DriverNumber], best[rows[b].DriverNumber])
	})

	for rank, i := range ranked {
		p := rank + 1
		t := best[rows[i].DriverNumber]
		rows[i].Position = &p
		rows[i].Time = &t
	}
}

// driverNumber orders non-numeric numbers last.
func driverNumber(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
