// Package scheduler keeps recurring series materialized a fixed horizon
// ahead of the current time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/meeting-scheduler/internal/application"
)

// DefaultSchedule runs the horizon job at the top of every hour.
const DefaultSchedule = "0 * * * *"

// DefaultHorizon is how far ahead series are materialized.
const DefaultHorizon = 28 * 24 * time.Hour

// RecurrenceLister lists the series the job walks.
type RecurrenceLister interface {
	ListRecurrences(ctx context.Context) ([]application.Recurrence, error)
}

// SeriesExtender materializes occurrences up to a point in time.
type SeriesExtender interface {
	ExtendSeries(ctx context.Context, recurrenceID string, until time.Time) (application.BatchResult, error)
}

// Report summarizes one horizon pass.
type Report struct {
	Until   time.Time
	Series  int
	Created int
	Failed  int
}

// HorizonJob extends every series so its occurrences reach now+horizon.
type HorizonJob struct {
	recurrences RecurrenceLister
	meetings    SeriesExtender
	horizon     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewHorizonJob wires the job. A non-positive horizon means DefaultHorizon.
func NewHorizonJob(recurrences RecurrenceLister, meetings SeriesExtender, horizon time.Duration, now func() time.Time, logger *slog.Logger) *HorizonJob {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HorizonJob{
		recurrences: recurrences,
		meetings:    meetings,
		horizon:     horizon,
		now:         now,
		logger:      logger.With("component", "horizon"),
	}
}

// RunOnce performs a single pass. A failing series is logged and counted but
// does not stop the others; only a failure to list series is returned.
func (j *HorizonJob) RunOnce(ctx context.Context) (Report, error) {
	report := Report{Until: j.now().UTC().Add(j.horizon)}

	series, err := j.recurrences.ListRecurrences(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to list recurrences", "error", err, "error_kind", application.ErrorKind(err))
		return report, fmt.Errorf("list recurrences: %w", err)
	}

	for _, rule := range series {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Series++

		result, err := j.meetings.ExtendSeries(ctx, rule.ID, report.Until)
		if err != nil {
			report.Failed++
			j.logger.ErrorContext(ctx, "failed to extend series",
				"recurrence_id", rule.ID, "error", err, "error_kind", application.ErrorKind(err))
			continue
		}
		if n := len(result.Created); n > 0 {
			report.Created += n
			j.logger.InfoContext(ctx, "series extended", "recurrence_id", rule.ID, "created", n)
		}
	}

	j.logger.InfoContext(ctx, "horizon pass finished",
		"series", report.Series, "created", report.Created, "failed", report.Failed, "until", report.Until)
	return report, nil
}

// Runner triggers a HorizonJob on a cron schedule evaluated in UTC.
type Runner struct {
	job      *HorizonJob
	schedule cron.Schedule
	spec     string
	logger   *slog.Logger
}

// NewRunner parses a standard five-field cron spec. An empty spec means
// DefaultSchedule.
func NewRunner(spec string, job *HorizonJob, logger *slog.Logger) (*Runner, error) {
	if job == nil {
		return nil, errors.New("horizon runner requires a job")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse horizon schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{job: job, schedule: schedule, spec: spec, logger: logger.With("component", "horizon")}, nil
}

// Next reports when the runner fires after t.
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t.UTC())
}

// Run blocks until ctx is cancelled, running the job on every tick. Ticks
// that arrive while a pass is still running are skipped. Run waits for an
// in-flight pass before returning.
func (r *Runner) Run(ctx context.Context) error {
	log := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() {
		_, _ = r.job.RunOnce(ctx)
	}))

	r.logger.InfoContext(ctx, "horizon runner started", "schedule", r.spec, "next_run", r.Next(time.Now()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("horizon runner stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
