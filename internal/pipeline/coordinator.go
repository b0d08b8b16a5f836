// Package pipeline coordinates the four-stage export run: extraction,
// conversion, upload and completion notification. Stages execute strictly
// in order over a shared run record; each stage's artifact is the next
// stage's required input.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/logging"
)

// Stage is one step of the run. Implementations read their input from the
// run record and write their output back to it.
type Stage interface {
	// Name identifies the stage in logs, attempt counters and errors.
	Name() string

	// Running is the run state entered while the stage executes.
	Running() RunState

	// Ready reports whether the stage's required input is available.
	// The coordinator re-derives missing inputs by re-running the
	// minimal prefix of preceding stages.
	Ready(r *Run) bool

	// Execute runs the stage. On success its output is recorded on the
	// run; on failure the run record must be left exactly as it was.
	Execute(ctx context.Context, r *Run) error
}

// Options configures the run coordinator.
type Options struct {
	// Lookback is the extraction window recorded on each run context.
	Lookback time.Duration

	// MaxRetries is the retry bound per stage after the first attempt.
	MaxRetries int

	// Backoff is the fixed delay between stage attempts.
	Backoff time.Duration

	// RunTimeout bounds a whole run. Zero disables the bound.
	RunTimeout time.Duration
}

// Stats holds coordinator statistics.
type Stats struct {
	RunsStarted   atomic.Int64
	RunsCompleted atomic.Int64
	RunsFailed    atomic.Int64
	RunsRejected  atomic.Int64
	StageRetries  atomic.Int64
}

// Report is an immutable snapshot of a finished (or rejected) run,
// queryable after completion.
type Report struct {
	RunDate       time.Time
	Attempt       int
	State         RunState
	Err           error
	StageAttempts map[string]int
	Upload        *UploadResult
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Coordinator executes runs one at a time over an ordered stage list.
type Coordinator struct {
	opts   Options
	stages []Stage
	log    *slog.Logger

	// inflight enforces single-flight across the whole pipeline: a new
	// run is rejected, not queued, while one is active.
	inflight *semaphore.Weighted

	mu       sync.Mutex
	attempts map[string]int // per run date, monotonic
	lastRun  *Report

	stats Stats
}

// NewCoordinator creates a coordinator over the given ordered stages.
func NewCoordinator(opts Options, stages ...Stage) *Coordinator {
	return &Coordinator{
		opts:     opts,
		stages:   stages,
		log:      logging.Component("coordinator"),
		inflight: semaphore.NewWeighted(1),
		attempts: make(map[string]int),
	}
}

// Execute runs the whole pipeline for one run date. It returns the run
// report together with the aggregated error if the run failed.
//
// A second Execute while one is in flight fails immediately with
// ErrRunInFlight.
func (c *Coordinator) Execute(ctx context.Context, runDate time.Time) (*Report, error) {
	if !c.inflight.TryAcquire(1) {
		c.stats.RunsRejected.Add(1)
		return nil, errs.ErrRunInFlight
	}
	defer c.inflight.Release(1)

	run := NewRun(RunContext{
		RunDate:  runDate,
		Lookback: c.opts.Lookback,
		Attempt:  c.nextAttempt(runDate),
	})
	run.StartedAt = time.Now()
	c.stats.RunsStarted.Add(1)

	if c.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RunTimeout)
		defer cancel()
	}
	ctx = logging.ContextWithRun(ctx, run.Context.DateString(), run.Context.Attempt)

	log := logging.ForRun(ctx)
	log.Info("run started", "lookback", run.Context.Lookback)

	for i, st := range c.stages {
		run.State = st.Running()
		log.Info("stage started", "stage", st.Name())

		if err := c.runStage(ctx, run, i); err != nil {
			run.State = StateFailed
			run.Err = err
			run.FinishedAt = time.Now()
			c.stats.RunsFailed.Add(1)
			log.Error("run failed", "stage", st.Name(), "error", err)
			return c.finish(run), err
		}

		log.Info("stage completed", "stage", st.Name(),
			"attempts", run.Attempts[st.Name()])
	}

	run.State = StateCompleted
	run.FinishedAt = time.Now()
	c.stats.RunsCompleted.Add(1)
	log.Info("run completed", "duration", run.FinishedAt.Sub(run.StartedAt))

	return c.finish(run), nil
}

// runStage executes stage i with the bounded retry and backoff policy.
// Retries re-run only this stage; if its input artifact was already
// deleted by an earlier forward pass, the minimal prefix of preceding
// stages is re-run first to reconstruct it.
func (c *Coordinator) runStage(ctx context.Context, run *Run, i int) error {
	st := c.stages[i]
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.stats.StageRetries.Add(1)
			c.log.Warn("retrying stage", "stage", st.Name(),
				"attempt", attempt+1, "backoff", c.opts.Backoff)
			if err := sleepCtx(ctx, c.opts.Backoff); err != nil {
				return &errs.StageError{Stage: st.Name(), Attempts: run.Attempts[st.Name()], Err: err}
			}
		}

		if err := c.ensureInput(ctx, run, i); err != nil {
			lastErr = err
			if !errs.IsRetriable(err) {
				break
			}
			continue
		}

		run.Attempts[st.Name()]++
		err := st.Execute(ctx, run)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.IsRetriable(err) || ctx.Err() != nil {
			break
		}
	}

	return &errs.StageError{Stage: st.Name(), Attempts: run.Attempts[st.Name()], Err: lastErr}
}

// ensureInput reconstructs stage i's input when it is missing: it walks
// back to the closest stage whose own input still exists and re-runs the
// stages from there up to (but not including) i.
func (c *Coordinator) ensureInput(ctx context.Context, run *Run, i int) error {
	if c.stages[i].Ready(run) {
		return nil
	}

	j := i
	for j > 0 && !c.stages[j].Ready(run) {
		j--
	}

	c.log.Warn("input artifact missing, re-deriving",
		"stage", c.stages[i].Name(), "from", c.stages[j].Name())

	for k := j; k < i; k++ {
		run.Attempts[c.stages[k].Name()]++
		if err := c.stages[k].Execute(ctx, run); err != nil {
			return err
		}
	}

	if !c.stages[i].Ready(run) {
		return errs.Stage(errs.ErrMissingUpstreamResult, errs.ErrStagingMissing)
	}
	return nil
}

// nextAttempt returns the next monotonic attempt counter for a run date.
func (c *Coordinator) nextAttempt(runDate time.Time) int {
	key := runDate.UTC().Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[key]++
	return c.attempts[key]
}

// finish records and returns the run report.
func (c *Coordinator) finish(run *Run) *Report {
	report := &Report{
		RunDate:       run.Context.RunDate,
		Attempt:       run.Context.Attempt,
		State:         run.State,
		Err:           run.Err,
		StageAttempts: make(map[string]int, len(run.Attempts)),
		Upload:        run.Upload,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	for name, n := range run.Attempts {
		report.StageAttempts[name] = n
	}

	c.mu.Lock()
	c.lastRun = report
	c.mu.Unlock()

	return report
}

// LastRun returns the report of the most recently finished run, or nil.
func (c *Coordinator) LastRun() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Stats returns the coordinator statistics.
func (c *Coordinator) Stats() *Stats {
	return &c.stats
}

// sleepCtx sleeps for d, returning early if the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
