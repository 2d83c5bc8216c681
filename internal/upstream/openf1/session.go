package openf1

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

// sessionNames lists the OpenF1 session_name values accepted for each type.
// The 2023 sprint qualifying was published as "Sprint Shootout".
var sessionNames = map[model.SessionType][]string{
	model.SessionPractice1:        {"Practice 1"},
	model.SessionPractice2:        {"Practice 2"},
	model.SessionPractice3:        {"Practice 3"},
	model.SessionQualifying:       {"Qualifying"},
	model.SessionSprintQualifying: {"Sprint Qualifying", "Sprint Shootout"},
	model.SessionSprint:           {"Sprint"},
	model.SessionRace:             {"Race"},
}

// Schedule returns the meetings of a season in date order.
func (c *Client) Schedule(ctx context.Context, year int) ([]upstream.Event, error) {
	meetings, err := c.meetings(ctx, year)
	if err != nil {
		return nil, err
	}
	events := make([]upstream.Event, 0, len(meetings))
	for _, m := range meetings {
		ev, err := eventFromMeeting(m)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

func (c *Client) meetings(ctx context.Context, year int) ([]meeting, error) {
	var meetings []meeting
	if err := c.get(ctx, "/meetings", query{}.eq("year", year), c.maxAgeForSeason(year), &meetings); err != nil {
		return nil, err
	}
	return meetings, nil
}

func eventFromMeeting(m meeting) (upstream.Event, error) {
	date := m.DateEnd
	if date == "" {
		date = m.DateStart
	}
	t, err := parseTime(date)
	if err != nil {
		return upstream.Event{}, err
	}
	return upstream.Event{
		Name:         m.MeetingName,
		OfficialName: m.MeetingOfficialName,
		Country:      m.CountryName,
		Location:     m.Location,
		Date:         t,
		Testing:      strings.Contains(strings.ToLower(m.MeetingName), "testing"),
	}, nil
}

// findMeeting matches a grand prix name exactly (case-insensitive) and falls
// back to a substring match.
func findMeeting(meetings []meeting, gp string) (meeting, bool) {
	want := strings.ToLower(strings.TrimSpace(gp))
	for _, m := range meetings {
		if strings.ToLower(m.MeetingName) == want {
			return m, true
		}
	}
	for _, m := range meetings {
		if want != "" && strings.Contains(strings.ToLower(m.MeetingName), want) {
			return m, true
		}
	}
	return meeting{}, false
}

func findSession(sessions []session, t model.SessionType) (session, bool) {
	for _, name := range sessionNames[t] {
		for _, s := range sessions {
			if strings.EqualFold(s.SessionName, name) {
				return s, true
			}
		}
	}
	return session{}, false
}

// Session loads one session. The independent per-session tables are fetched
// concurrently; any failure fails the whole load.
func (c *Client) Session(ctx context.Context, id model.SessionID) (upstream.Session, error) {
	meetings, err := c.meetings(ctx, id.Year)
	if err != nil {
		return upstream.Session{}, err
	}
	m, ok := findMeeting(meetings, id.GrandPrix)
	if !ok {
		return upstream.Session{}, fmt.Errorf("%w: no meeting %q in %d", upstream.ErrSessionNotFound, id.GrandPrix, id.Year)
	}

	event, err := eventFromMeeting(m)
	if err != nil {
		return upstream.Session{}, err
	}

	var sessions []session
	if err := c.get(ctx, "/sessions", query{}.eq("meeting_key", m.MeetingKey), c.maxAgeFor(event.Date), &sessions); err != nil {
		return upstream.Session{}, err
	}
	s, ok := findSession(sessions, id.Type)
	if !ok {
		return upstream.Session{}, fmt.Errorf("%w: %s", upstream.ErrSessionNotFound, id)
	}
	started, err := parseTime(s.DateStart)
	if err != nil {
		return upstream.Session{}, err
	}
	ended, err := parseTime(s.DateEnd)
	if err != nil {
		return upstream.Session{}, err
	}

	var (
		drivers   []driver
		results   []sessionResult
		grid      []startingGrid
		laps      []lap
		stints    []stint
		positions []position
	)
	byKey := query{}.eq("session_key", s.SessionKey)
	maxAge := c.maxAgeFor(ended)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.get(gctx, "/drivers", byKey, maxAge, &drivers) })
	g.Go(func() error { return c.get(gctx, "/session_result", byKey, maxAge, &results) })
	g.Go(func() error { return c.get(gctx, "/laps", byKey, maxAge, &laps) })
	g.Go(func() error { return c.get(gctx, "/stints", byKey, maxAge, &stints) })
	g.Go(func() error { return c.get(gctx, "/position", byKey, maxAge, &positions) })
	if id.Type.IsRaceFormat() {
		g.Go(func() error { return c.get(gctx, "/starting_grid", byKey, maxAge, &grid) })
	}
	if err := g.Wait(); err != nil {
		return upstream.Session{}, err
	}

	if len(drivers) == 0 && len(results) == 0 && len(laps) == 0 {
		return upstream.Session{}, fmt.Errorf("%w: %s has no published data", upstream.ErrSessionNotFound, id)
	}

	rows, err := buildResults(drivers, results, grid)
	if err != nil {
		return upstream.Session{}, err
	}
	lapRows, err := buildLaps(drivers, laps, stints, positions)
	if err != nil {
		return upstream.Session{}, err
	}

	return upstream.Session{
		ID:      id,
		Ref:     upstream.SessionRef{Key: s.SessionKey, StartedAt: started, EndedAt: ended},
		Event:   event,
		Results: rows,
		Laps:    lapRows,
	}, nil
}

// buildResults joins the result table with driver identity. Results are kept
// in upstream order; drivers without a result row are appended by number
// with no classification.
func buildResults(drivers []driver, results []sessionResult, grid []startingGrid) ([]upstream.Result, error) {
	byNumber := make(map[int]driver, len(drivers))
	for _, d := range drivers {
		byNumber[d.DriverNumber] = d
	}
	gridPos := make(map[int]*int, len(grid))
	for _, g := range grid {
		gridPos[g.DriverNumber] = g.Position
	}

	out := make([]upstream.Result, 0, len(drivers))
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		row := identity(r.DriverNumber, byNumber[r.DriverNumber])
		row.Position = r.Position
		row.Points = r.Points
		row.Status = status(r)
		row.GridPosition = gridPos[r.DriverNumber]

		ds, err := durations(r.Duration)
		if err != nil {
			return nil, fmt.Errorf("driver %d: %w", r.DriverNumber, err)
		}
		if len(ds) == 3 {
			row.Q1, row.Q2, row.Q3 = ds[0], ds[1], ds[2]
			for _, d := range ds {
				if d != nil {
					row.Time = d
				}
			}
		} else if len(ds) == 1 {
			row.Time = ds[0]
		}

		seen[r.DriverNumber] = true
		out = append(out, row)
	}

	rest := make([]driver, 0, len(drivers))
	for _, d := range drivers {
		if !seen[d.DriverNumber] {
			rest = append(rest, d)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].DriverNumber < rest[j].DriverNumber })
	for _, d := range rest {
		row := identity(d.DriverNumber, d)
		row.GridPosition = gridPos[d.DriverNumber]
		out = append(out, row)
	}
	return out, nil
}

func identity(number int, d driver) upstream.Result {
	r := upstream.Result{
		DriverNumber:  strconv.Itoa(number),
		Abbreviation:  d.NameAcronym,
		FullName:      d.FullName,
		BroadcastName: d.BroadcastName,
		TeamName:      d.TeamName,
		TeamColor:     d.TeamColour,
	}
	if d.HeadshotURL != nil {
		r.HeadshotURL = *d.HeadshotURL
	}
	if d.CountryCode != nil {
		r.CountryCode = *d.CountryCode
	}
	return r
}

type positionAt struct {
	at  time.Time
	pos int
}

// buildLaps attaches tyre data from stints and the running position at the
// end of each lap. Laps are ordered by driver number, then lap number.
func buildLaps(drivers []driver, laps []lap, stints []stint, positions []position) ([]upstream.Lap, error) {
	acronym := make(map[int]string, len(drivers))
	for _, d := range drivers {
		acronym[d.DriverNumber] = d.NameAcronym
	}

	stintsOf := make(map[int][]stint)
	for _, s := range stints {
		stintsOf[s.DriverNumber] = append(stintsOf[s.DriverNumber], s)
	}

	timeline := make(map[int][]positionAt)
	for _, p := range positions {
		t, err := parseTime(p.Date)
		if err != nil {
			return nil, err
		}
		timeline[p.DriverNumber] = append(timeline[p.DriverNumber], positionAt{at: t, pos: p.Position})
	}
	for n := range timeline {
		tl := timeline[n]
		sort.SliceStable(tl, func(i, j int) bool { return tl[i].at.Before(tl[j].at) })
	}

	sorted := make([]lap, len(laps))
	copy(sorted, laps)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DriverNumber != sorted[j].DriverNumber {
			return sorted[i].DriverNumber < sorted[j].DriverNumber
		}
		return sorted[i].LapNumber < sorted[j].LapNumber
	})

	starts := make([]time.Time, len(sorted))
	for i, l := range sorted {
		if l.DateStart == nil {
			continue
		}
		t, err := parseTime(*l.DateStart)
		if err != nil {
			return nil, err
		}
		starts[i] = t
	}

	out := make([]upstream.Lap, 0, len(sorted))
	for i, l := range sorted {
		row := upstream.Lap{
			Driver:       acronym[l.DriverNumber],
			DriverNumber: strconv.Itoa(l.DriverNumber),
			LapNumber:    l.LapNumber,
			StartedAt:    starts[i],
		}
		if row.Driver == "" {
			row.Driver = row.DriverNumber
		}
		if l.LapDuration != nil {
			d := seconds(*l.LapDuration)
			row.LapTime = &d
		}

		if s, ok := stintFor(stintsOf[l.DriverNumber], l.LapNumber); ok {
			row.Compound = s.Compound
			if s.TyreAgeAtStart != nil {
				life := *s.TyreAgeAtStart + l.LapNumber - s.LapStart
				row.TyreLife = &life
			}
		}

		var end time.Time
		switch {
		case !starts[i].IsZero() && row.LapTime != nil:
			end = starts[i].Add(*row.LapTime)
		case i+1 < len(sorted) && sorted[i+1].DriverNumber == l.DriverNumber:
			end = starts[i+1]
		}
		if !end.IsZero() {
			row.Position = positionBefore(timeline[l.DriverNumber], end)
		}

		out = append(out, row)
	}
	return out, nil
}

func stintFor(stints []stint, lapNumber int) (stint, bool) {
	for _, s := range stints {
		if lapNumber >= s.LapStart && (s.LapEnd == 0 || lapNumber <= s.LapEnd) {
			return s, true
		}
	}
	return stint{}, false
}

// positionBefore returns the last recorded position at or before t.
func positionBefore(tl []positionAt, t time.Time) *int {
	i := sort.Search(len(tl), func(i int) bool { return tl[i].at.After(t) })
	if i == 0 {
		return nil
	}
	p := tl[i-1].pos
	return &p
}
