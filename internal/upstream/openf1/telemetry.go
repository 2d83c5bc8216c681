package openf1

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telemetrics/telemetrics/internal/upstream"
)

const telemetryTimeLayout = "2006-01-02T15:04:05.000"

// LapTelemetry returns speed and position samples for one lap, indexed by
// distance travelled since the start of the lap. Car data and location are
// sampled independently upstream; each speed sample takes the coordinates of
// the nearest location sample in time.
func (c *Client) LapTelemetry(ctx context.Context, ref upstream.SessionRef, l upstream.Lap) ([]upstream.TelemetrySample, error) {
	if l.StartedAt.IsZero() || l.LapTime == nil {
		return nil, fmt.Errorf("openf1: lap %d of %s has no timing window", l.LapNumber, l.Driver)
	}
	from := l.StartedAt.UTC().Format(telemetryTimeLayout)
	to := l.StartedAt.Add(*l.LapTime).UTC().Format(telemetryTimeLayout)

	q := query{}.
		eq("session_key", ref.Key).
		eq("driver_number", l.DriverNumber).
		cmp("date", ">=", from).
		cmp("date", "<=", to)

	var (
		car []carData
		loc []location
	)
	maxAge := c.maxAgeFor(ref.EndedAt)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.get(gctx, "/car_data", q, maxAge, &car) })
	g.Go(func() error { return c.get(gctx, "/location", q, maxAge, &loc) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeTelemetry(car, loc)
}

type stamped[T any] struct {
	at time.Time
	v  T
}

func stamp[T any](in []T, date func(T) string) ([]stamped[T], error) {
	out := make([]stamped[T], 0, len(in))
	for _, v := range in {
		t, err := parseTime(date(v))
		if err != nil {
			return nil, err
		}
		out = append(out, stamped[T]{at: t, v: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out, nil
}

// mergeTelemetry joins speed and location by nearest timestamp and
// integrates speed (km/h) over time into distance (m).
func mergeTelemetry(car []carData, loc []location) ([]upstream.TelemetrySample, error) {
	if len(car) == 0 || len(loc) == 0 {
		return nil, errors.New("openf1: no telemetry for lap")
	}
	cs, err := stamp(car, func(c carData) string { return c.Date })
	if err != nil {
		return nil, err
	}
	ls, err := stamp(loc, func(l location) string { return l.Date })
	if err != nil {
		return nil, err
	}

	out := make([]upstream.TelemetrySample, 0, len(cs))
	j := 0
	var dist float64
	for i, c := range cs {
		for j+1 < len(ls) && absDur(ls[j+1].at.Sub(c.at)) <= absDur(ls[j].at.Sub(c.at)) {
			j++
		}
		if i > 0 {
			dt := c.at.Sub(cs[i-1].at).Seconds()
			dist += (cs[i-1].v.Speed + c.v.Speed) / 2 / 3.6 * dt
		}
		out = append(out, upstream.TelemetrySample{
			Distance: dist,
			X:        ls[j].v.X,
			Y:        ls[j].v.Y,
			Speed:    c.v.Speed,
		})
	}
	return out, nil
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
