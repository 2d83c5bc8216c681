// Package pipeline drives extraction, transformation, backup and upload for
// every (year, grand prix, session type) combination of a run.
//
// Sessions are processed one at a time. Failures are contained at two
// levels: a failing transform is replaced by its empty sentinel, and a
// failing session is counted and skipped. Neither stops the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/telemetrics/telemetrics/internal/extractor"
	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/telemetry"
	"github.com/telemetrics/telemetrics/internal/transform"
	"github.com/telemetrics/telemetrics/internal/upstream"
)

// Uploader persists the populated documents of one session and reports
// success per data type. *uploader.Uploader implements it.
type Uploader interface {
	UploadSession(ctx context.Context, id model.SessionID, docs []model.Document) map[model.DataType]bool
}

// RunRecorder keeps an audit row per run. *storage.DB implements it.
type RunRecorder interface {
	CreateRun(ctx context.Context, years []int, grandPrix, session string) (model.PipelineRun, error)
	CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.RunStats) error
}

// Options configures a Pipeline.
type Options struct {
	// SessionTypes are processed for every event unless a run names one.
	SessionTypes []model.SessionType
	// DataDir receives the JSON backups. Empty disables backups.
	DataDir   string
	Extractor extractor.Options
	// Recorder is optional.
	Recorder RunRecorder
}

// RunOptions narrows one run. Zero GrandPrix and Session process everything.
type RunOptions struct {
	Years     []int
	GrandPrix string
	Session   model.SessionType
}

// Pipeline is the orchestrator. It is not safe for concurrent use; stats are
// owned by the goroutine calling Run.
type Pipeline struct {
	provider upstream.Provider
	uploader Uploader
	opts     Options
	logger   *slog.Logger
	stats    model.RunStats

	sessions          metric.Int64Counter
	uploads           metric.Int64Counter
	transformFailures metric.Int64Counter
	sessionDuration   metric.Float64Histogram
}

// New returns a Pipeline reading from provider and writing through uploader.
func New(provider upstream.Provider, uploader Uploader, opts Options, logger *slog.Logger) *Pipeline {
	if len(opts.SessionTypes) == 0 {
		opts.SessionTypes = model.AllSessionTypes
	}
	meter := telemetry.Meter("telemetrics/pipeline")
	sessions, _ := meter.Int64Counter("telemetrics.pipeline.sessions",
		metric.WithDescription("Sessions processed, by outcome"),
	)
	uploads, _ := meter.Int64Counter("telemetrics.pipeline.uploads",
		metric.WithDescription("Document uploads, by data type and outcome"),
	)
	failures, _ := meter.Int64Counter("telemetrics.pipeline.transform_failures",
		metric.WithDescription("Transforms replaced by their empty sentinel"),
	)
	duration, _ := meter.Float64Histogram("telemetrics.pipeline.session.duration",
		metric.WithDescription("Time to process one session (s)"),
		metric.WithUnit("s"),
	)
	return &Pipeline{
		provider:          provider,
		uploader:          uploader,
		opts:              opts,
		logger:            logger,
		sessions:          sessions,
		uploads:           uploads,
		transformFailures: failures,
		sessionDuration:   duration,
	}
}

// Stats returns the counters collected so far.
func (p *Pipeline) Stats() model.RunStats { return p.stats }

// EventsForYear returns the names of the year's grand prix in calendar
// order, testing events excluded. A schedule failure is logged and yields no
// events.
func (p *Pipeline) EventsForYear(ctx context.Context, year int) []string {
	schedule, err := p.provider.Schedule(ctx, year)
	if err != nil {
		p.logger.Error("failed to get schedule", "year", year, "error", err)
		return nil
	}
	var events []string
	for _, ev := range schedule {
		if ev.Testing {
			continue
		}
		events = append(events, ev.Name)
	}
	p.logger.Info("found events", "year", year, "count", len(events))
	return events
}

// Run processes every combination selected by ro and returns the stats. A
// cancelled ctx stops the run between sessions; the stats collected so far
// are still logged, recorded and returned.
func (p *Pipeline) Run(ctx context.Context, ro RunOptions) model.RunStats {
	p.stats = model.RunStats{}
	sessions := p.opts.SessionTypes
	if ro.Session != "" {
		sessions = []model.SessionType{ro.Session}
	}

	p.logger.Info("starting pipeline", "years", ro.Years, "grand_prix", ro.GrandPrix, "sessions", sessions)
	run := p.startRun(ctx, ro)
	start := time.Now()
	status := model.RunStatusCompleted

years:
	for _, year := range ro.Years {
		if ctx.Err() != nil {
			status = model.RunStatusInterrupted
			break
		}
		for _, gp := range p.EventsForYear(ctx, year) {
			if ro.GrandPrix != "" && !strings.Contains(strings.ToLower(gp), strings.ToLower(ro.GrandPrix)) {
				continue
			}
			for _, st := range sessions {
				if ctx.Err() != nil {
					status = model.RunStatusInterrupted
					break years
				}
				p.ProcessSession(ctx, model.SessionID{Year: year, GrandPrix: gp, Type: st})
			}
		}
	}
	// A signal during the last session leaves nothing for the loop to see.
	if ctx.Err() != nil {
		status = model.RunStatusInterrupted
	}
	if status == model.RunStatusInterrupted {
		p.logger.Warn("pipeline interrupted")
	}

	p.finishRun(ctx, run, status)
	p.logStats(time.Since(start), status)
	return p.stats
}

// ProcessSession loads, transforms, backs up and uploads one session. It
// returns false when the session was skipped or failed; the caller moves on
// either way.
func (p *Pipeline) ProcessSession(ctx context.Context, id model.SessionID) (ok bool) {
	logger := p.logger.With("year", id.Year, "grand_prix", id.GrandPrix, "session", string(id.Type))
	logger.Info("processing session")
	p.stats.TotalSessions++
	p.sessionNotes(id, logger)

	start := time.Now()
	outcome := "failed"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session processing panicked", "panic", r, "stack", string(debug.Stack()))
			ok, outcome = false, "failed"
		}
		switch outcome {
		case "success":
			p.stats.SuccessfulSessions++
		case "skipped":
			p.stats.SkippedSessions++
		default:
			p.stats.FailedSessions++
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		p.sessions.Add(ctx, 1, attrs)
		p.sessionDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	ex := extractor.New(p.provider, id, p.opts.Extractor, logger)
	if !ex.LoadSession(ctx) {
		logger.Warn("skipping session, could not load (data may not be available yet)")
		outcome = "skipped"
		return false
	}

	docs := p.transformAll(ctx, transform.New(ex, logger), logger)

	if p.opts.DataDir != "" {
		path, err := WriteBackup(p.opts.DataDir, id, docs)
		if err != nil {
			logger.Error("failed to save JSON backup", "error", err)
		} else {
			logger.Info("saved JSON backup", "path", path)
		}
	}

	var upload []model.Document
	for _, doc := range docs {
		if !doc.Populated() {
			logger.Warn("skipping empty payload", "data_type", string(doc.Type))
			continue
		}
		upload = append(upload, doc)
	}
	if len(upload) == 0 {
		logger.Warn("no valid data to upload for this session")
	} else {
		results := p.uploader.UploadSession(ctx, id, upload)
		for dt, success := range results {
			p.stats.TotalDataTypes++
			result := "success"
			if !success {
				p.stats.FailedDataTypes++
				result = "failed"
			}
			p.uploads.Add(ctx, 1, metric.WithAttributes(
				attribute.String("data_type", string(dt)),
				attribute.String("outcome", result),
			))
		}
	}

	logger.Info("session processed")
	outcome = "success"
	return true
}

type transformStep struct {
	dataType model.DataType
	run      func(ctx context.Context) (model.Document, error)
}

func steps(t *transform.Transformer) []transformStep {
	plain := func(f func() (model.Document, error)) func(context.Context) (model.Document, error) {
		return func(context.Context) (model.Document, error) { return f() }
	}
	return []transformStep{
		{model.DataSessionResults, plain(t.SessionResults)},
		{model.DataPodium, plain(t.Podium)},
		{model.DataFastestLap, plain(t.FastestLap)},
		{model.DataSessionInfo, plain(t.SessionInfo)},
		{model.DataTrackDominance, t.TrackDominance},
		{model.DataTyres, plain(t.Tyres)},
		{model.DataLapChart, plain(t.LapChart)},
	}
}

// transformAll runs every transform in its own failure boundary. A transform
// that errors or panics contributes the empty sentinel of its type.
func (p *Pipeline) transformAll(ctx context.Context, t *transform.Transformer, logger *slog.Logger) []model.Document {
	out := make([]model.Document, 0, len(model.AllDataTypes))
	for _, step := range steps(t) {
		doc, err := guard(ctx, step)
		if err != nil {
			logger.Error("transform failed", "data_type", string(step.dataType), "error", err)
			p.transformFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("data_type", string(step.dataType))))
			doc = model.Empty(step.dataType)
		} else {
			logger.Info("transformed", "data_type", string(step.dataType), "populated", doc.Populated())
		}
		out = append(out, doc)
	}
	return out
}

func guard(ctx context.Context, step transformStep) (doc model.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: %s panicked: %v", step.dataType, r)
		}
	}()
	return step.run(ctx)
}

// sessionNotes logs the known data limitations of a season and counts them.
func (p *Pipeline) sessionNotes(id model.SessionID, logger *slog.Logger) {
	if id.Year < 2018 {
		logger.Warn("pre-2018 season has limited data: no telemetry, weather or position data, session results only")
		p.stats.Pre2018Warnings++
	}
	if id.Type == model.SessionSprintQualifying {
		p.stats.SprintQualifyingSessions++
		switch {
		case id.Year >= 2024:
			logger.Info("sprint qualifying uses the qualifying format (Q1/Q2/Q3 times)")
		case id.Year >= 2021:
			logger.Info("sprint qualifying uses the race format (no Q1/Q2/Q3 times)")
		}
	}
	if id.Year == 2022 {
		logger.Info("2022 season may have upstream server issues, retries enabled")
	}
}

func (p *Pipeline) startRun(ctx context.Context, ro RunOptions) *model.PipelineRun {
	if p.opts.Recorder == nil {
		return nil
	}
	run, err := p.opts.Recorder.CreateRun(ctx, ro.Years, ro.GrandPrix, string(ro.Session))
	if err != nil {
		p.logger.Error("failed to record run start", "error", err)
		return nil
	}
	p.logger.Info("recording run", "run_id", run.ID)
	return &run
}

func (p *Pipeline) finishRun(ctx context.Context, run *model.PipelineRun, status model.RunStatus) {
	if run == nil {
		return
	}
	// The run row is closed even when the run was interrupted.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.opts.Recorder.CompleteRun(ctx, run.ID, status, p.stats); err != nil {
		p.logger.Error("failed to record run completion", "run_id", run.ID, "error", err)
	}
}

func (p *Pipeline) logStats(elapsed time.Duration, status model.RunStatus) {
	s := p.stats
	p.logger.Info("pipeline statistics",
		"status", string(status),
		"duration", elapsed.Round(time.Millisecond).String(),
		"total_sessions", s.TotalSessions,
		"successful_sessions", s.SuccessfulSessions,
		"skipped_sessions", s.SkippedSessions,
		"failed_sessions", s.FailedSessions,
		"sprint_qualifying_sessions", s.SprintQualifyingSessions,
		"pre_2018_warnings", s.Pre2018Warnings,
		"total_data_types", s.TotalDataTypes,
		"failed_data_types", s.FailedDataTypes,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate()),
	)
}
