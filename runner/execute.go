package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// errTimeLimitExceeded is the cancellation cause of a case that ran past its
// time limit.
var errTimeLimitExceeded = errors.New("time limit exceeded")

// timeLimitError is returned for a case that ran past its time limit.
type timeLimitError struct {
	limit time.Duration
}

func (e *timeLimitError) Error() string {
	return fmt.Sprintf("time limit of %s exceeded", e.limit)
}

// PanicError is the error recorded for a body that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// safeCall runs fn and turns a panic into a *PanicError.
func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// runNode runs the step of n, if any, and then its children. Nothing is
// posted for a node reached after ctx is cancelled.
func (r *Runner) runNode(ctx context.Context, n *plan.Node, serial bool) {
	if ctx.Err() != nil {
		return
	}
	if n.Step == nil {
		r.runChildren(ctx, n, serial)
		return
	}

	step := n.Step
	test := step.Test
	ctx, span := r.tracer.Start(ctx, "test", trace.WithAttributes(
		attribute.String("id", test.ID.String()),
		attribute.String("action", string(step.Action.Kind)),
	))
	defer span.End()

	switch step.Action.Kind {
	case plan.ActionSkip:
		r.post(types.Event{Kind: types.EventTestSkipped, Test: test, SkipReason: step.Action.SkipReason})
		r.runChildren(ctx, n, serial)
		return
	case plan.ActionRecordIssue:
		r.recordIssue(test, nil, *step.Action.Issue)
		span.SetStatus(codes.Error, step.Action.Issue.String())
		r.runChildren(ctx, n, serial)
		return
	}

	serial = serial || test.IsSerialized()
	r.post(types.Event{Kind: types.EventTestStarted, Test: test})
	defer r.post(types.Event{Kind: types.EventTestEnded, Test: test})

	if test.IsSuite {
		err := safeCall(ctx, r.wrap(test, nil, func(ctx context.Context) error {
			r.runChildren(ctx, n, serial)
			return nil
		}))
		r.handleError(ctx, test, nil, err)
		return
	}

	r.runCases(ctx, test, serial)
	r.runChildren(ctx, n, serial)
}

// runChildren runs the children of n, concurrently in a parallel run unless
// serial is set.
func (r *Runner) runChildren(ctx context.Context, n *plan.Node, serial bool) {
	children := r.cfg.Plan.SortedChildren(n)
	if len(children) == 0 {
		return
	}
	if serial || !r.cfg.Plan.Config.Parallel {
		for _, c := range children {
			r.runNode(ctx, c, serial)
		}
		return
	}

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runNode(ctx, c, serial)
		}()
	}
	wg.Wait()
}

// runCases runs the cases of a test function that pass the case filter.
func (r *Runner) runCases(ctx context.Context, test *types.Test, serial bool) {
	var cases []types.Case
	for _, c := range test.Cases() {
		if test.IsParameterized() && r.cfg.Plan.Config.CaseFilter != nil && !r.cfg.Plan.Config.CaseFilter(test, c) {
			continue
		}
		cases = append(cases, c)
	}

	if serial || !r.cfg.Plan.Config.Parallel || len(cases) < 2 {
		for i := range cases {
			if ctx.Err() != nil {
				return
			}
			r.runCase(ctx, test, &cases[i])
		}
		return
	}

	var wg sync.WaitGroup
	for i := range cases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runCase(ctx, test, &cases[i])
		}()
	}
	wg.Wait()
}

// runCase runs one case inside the execution traits of its test and under
// its time limit.
func (r *Runner) runCase(ctx context.Context, test *types.Test, c *types.Case) {
	if ctx.Err() != nil {
		return
	}
	r.post(types.Event{Kind: types.EventTestCaseStarted, Test: test, Case: c})
	defer r.post(types.Event{Kind: types.EventTestCaseEnded, Test: test, Case: c})

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer r.sem.Release(1)

	scope := newCaseScope(r, test, c)
	defer scope.close()

	body := test.CaseBody(*c)
	if body == nil {
		scope.Record(types.Issue{
			Kind:           types.IssueSystem,
			Comment:        "test has no body",
			SourceLocation: test.SourceLocation,
		})
		return
	}

	limit := test.TimeLimit(r.cfg.Plan.Config.DefaultTimeLimit)
	err := safeCall(ctx, r.wrap(test, c, func(ctx context.Context) error {
		return invoke(types.WithScope(ctx, scope), limit, body)
	}))
	r.handleError(ctx, test, c, err)
}

// wrap chains the execution traits of test around fn. The first trait is
// the outermost.
func (r *Runner) wrap(test *types.Test, c *types.Case, fn func(context.Context) error) func(context.Context) error {
	next := fn
	traits := test.ExecutionTraits()
	for i := len(traits) - 1; i >= 0; i-- {
		trait, inner := traits[i], next
		next = func(ctx context.Context) error {
			return trait.Execute(ctx, test, c, inner)
		}
	}
	return next
}

// invoke runs body, enforcing limit when it is positive. When the limit
// expires the body's context is cancelled and invoke returns without
// waiting for the body.
func invoke(ctx context.Context, limit time.Duration, body types.Body) error {
	if limit <= 0 {
		return safeCall(ctx, body)
	}

	cctx, cancel := context.WithTimeoutCause(ctx, limit, errTimeLimitExceeded)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(cctx, body)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(context.Cause(cctx), errTimeLimitExceeded) {
			return &timeLimitError{limit: limit}
		}
		return err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return &timeLimitError{limit: limit}
	}
}

// handleError converts the outcome of a body into issues. Errors caused by
// cancelling the run are dropped.
func (r *Runner) handleError(ctx context.Context, test *types.Test, c *types.Case, err error) {
	if err == nil {
		return
	}
	var (
		tl *timeLimitError
		pe *PanicError
	)
	switch {
	case errors.As(err, &tl):
		issue := types.TimeLimitExceeded(tl.limit)
		issue.SourceLocation = test.SourceLocation
		r.recordIssue(test, c, issue)
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		r.log.Debug("Dropping error from cancelled test", "test", test.ID, "err", err)
	case errors.As(err, &pe):
		r.recordIssue(test, c, types.Issue{
			Kind:           types.IssueErrorCaught,
			Comment:        pe.Error(),
			Err:            err,
			SourceLocation: test.SourceLocation,
		})
	default:
		r.recordIssue(test, c, types.Issue{
			Kind:           types.IssueErrorCaught,
			Err:            err,
			SourceLocation: test.SourceLocation,
		})
	}
}
