// Package runner executes a test plan and reports progress as events.
package runner

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// ErrAlreadyRunning is returned by Run while another Run of the same runner
// is in progress.
var ErrAlreadyRunning = errors.New("runner is already running")

// Config contains runner configuration
type Config struct {
	Log  log.Logger
	Plan *plan.Plan
	// EventHandler receives every event. Calls are serialized.
	EventHandler types.EventHandler
	// ExitTestHandler runs exit tests. Without one, exit test expectations
	// record an issue.
	ExitTestHandler types.ExitTestHandler
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Summary describes a finished run.
type Summary struct {
	Iterations int
	Issues     int
	Cancelled  bool
	Duration   time.Duration
}

// Runner executes a plan.
type Runner struct {
	cfg         Config
	log         log.Logger
	tracer      trace.Tracer
	sem         *semaphore.Weighted
	concurrency int
	running     atomic.Bool

	// eventMu serializes calls to the event handler and guards iteration.
	eventMu   sync.Mutex
	iteration int

	issueMu       sync.Mutex
	issueRecorded bool
	issues        int
}

// New creates a runner for cfg.Plan.
func New(cfg Config) (*Runner, error) {
	if cfg.Plan == nil {
		return nil, errors.New("plan is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	concurrency := determineConcurrency(cfg.Plan.Config)
	if concurrency > highConcurrencyWarning {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}
	return &Runner{
		cfg:         cfg,
		log:         cfg.Log.New("component", "runner"),
		tracer:      cfg.Tracer,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
	}, nil
}

// determineConcurrency returns how many case bodies may run at once.
func determineConcurrency(cfg plan.Configuration) int {
	if !cfg.Parallel {
		return 1
	}
	if cfg.MaxConcurrency > 0 {
		return cfg.MaxConcurrency
	}
	return max(1, min(runtime.NumCPU(), maxDefaultConcurrency))
}

// Concurrency returns the number of case bodies that may run at once.
func (r *Runner) Concurrency() int {
	return r.concurrency
}

// Run executes the plan. Cancelling ctx stops the run: tests that have not
// started yet post no events, and the run still ends with runEnded.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	policy := r.cfg.Plan.Config.Repetition.Normalize()

	ctx, span := r.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.Int("max_iterations", policy.MaxIterations),
		attribute.String("continuation", string(policy.Continuation)),
		attribute.Bool("parallel", r.cfg.Plan.Config.Parallel),
	))
	defer span.End()

	r.issueMu.Lock()
	r.issues = 0
	r.issueMu.Unlock()
	r.setIteration(0)

	steps := r.cfg.Plan.Steps()
	for _, s := range steps {
		r.post(types.Event{Kind: types.EventTestDiscovered, Test: s.Test})
	}
	r.post(types.Event{Kind: types.EventRunStarted})
	r.log.Info("Starting test run", "steps", len(steps), "iterations", policy.MaxIterations,
		"continuation", policy.Continuation, "concurrency", r.concurrency)

	iterations := 0
	for i := 0; i < policy.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		r.resetIssueFlag()
		r.setIteration(i)
		iterations++

		r.post(types.Event{Kind: types.EventIterationStarted})
		r.runNode(ctx, r.cfg.Plan.Root, false)
		r.post(types.Event{Kind: types.EventIterationEnded})

		recorded := r.issueRecordedThisIteration()
		r.log.Debug("Iteration finished", "iteration", i, "issue_recorded", recorded)
		if !policy.ShouldContinue(recorded) {
			break
		}
	}

	r.post(types.Event{Kind: types.EventRunEnded})

	summary := &Summary{
		Iterations: iterations,
		Issues:     r.issueCount(),
		Cancelled:  ctx.Err() != nil,
		Duration:   time.Since(start),
	}
	span.SetAttributes(attribute.Int("iterations", summary.Iterations), attribute.Int("issues", summary.Issues))
	r.log.Info("Test run finished", "iterations", summary.Iterations, "issues", summary.Issues,
		"cancelled", summary.Cancelled, "duration", summary.Duration)
	return summary, nil
}

func (r *Runner) setIteration(i int) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	r.iteration = i
}

// post delivers ev to the event handler.
func (r *Runner) post(ev types.Event) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	if ev.Instant.IsZero() {
		ev.Instant = time.Now()
	}
	ev.Iteration = r.iteration
	if r.cfg.EventHandler != nil {
		r.cfg.EventHandler(ev)
	}
}

// recordIssue posts an issue and marks the current iteration as having one.
func (r *Runner) recordIssue(test *types.Test, c *types.Case, issue types.Issue) {
	r.issueMu.Lock()
	r.issueRecorded = true
	r.issues++
	r.issueMu.Unlock()

	r.log.Debug("Issue recorded", "test", test.ID, "issue", issue)
	r.post(types.Event{Kind: types.EventIssueRecorded, Test: test, Case: c, Issue: &issue})
}

func (r *Runner) resetIssueFlag() {
	r.issueMu.Lock()
	defer r.issueMu.Unlock()
	r.issueRecorded = false
}

func (r *Runner) issueRecordedThisIteration() bool {
	r.issueMu.Lock()
	defer r.issueMu.Unlock()
	return r.issueRecorded
}

func (r *Runner) issueCount() int {
	r.issueMu.Lock()
	defer r.issueMu.Unlock()
	return r.issues
}
