// Package reporting turns run events into per-test results and renders them.
package reporting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// Result is the outcome of one test over every iteration of a run.
type Result struct {
	Test       *types.Test
	Status     types.TestStatus
	Issues     []types.Issue
	SkipReason string
	// Duration is the total time spent in the test over all iterations.
	Duration time.Duration
	Cases    int
	ran      bool
}

// Stats counts test functions by status. Suites are not counted.
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int
}

// Report is the outcome of a run.
type Report struct {
	Results    []*Result
	Stats      Stats
	Status     types.TestStatus
	Duration   time.Duration
	Iterations int
}

// Collector builds a Report from events. Pass its Handle method as an event
// handler.
type Collector struct {
	mu         sync.Mutex
	results    map[string]*Result
	order      []string
	started    map[string]time.Time
	iterations int
	runStart   time.Time
	runEnd     time.Time
}

func NewCollector() *Collector {
	return &Collector{
		results: make(map[string]*Result),
		started: make(map[string]time.Time),
	}
}

// Handle consumes a run event.
func (c *Collector) Handle(ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case types.EventTestDiscovered:
		key := ev.Test.ID.String()
		if _, ok := c.results[key]; !ok {
			c.results[key] = &Result{Test: ev.Test}
			c.order = append(c.order, key)
		}
	case types.EventRunStarted:
		c.runStart = ev.Instant
	case types.EventIterationStarted:
		c.iterations++
	case types.EventTestStarted:
		r := c.result(ev.Test)
		r.ran = true
		c.started[ev.Test.ID.String()] = ev.Instant
	case types.EventTestCaseStarted:
		if c.iterations <= 1 {
			c.result(ev.Test).Cases++
		}
	case types.EventTestEnded:
		key := ev.Test.ID.String()
		if start, ok := c.started[key]; ok {
			c.result(ev.Test).Duration += ev.Instant.Sub(start)
			delete(c.started, key)
		}
	case types.EventTestSkipped:
		c.result(ev.Test).SkipReason = ev.SkipReason
	case types.EventIssueRecorded:
		r := c.result(ev.Test)
		r.Issues = append(r.Issues, *ev.Issue)
	case types.EventRunEnded:
		c.runEnd = ev.Instant
	}
}

func (c *Collector) result(t *types.Test) *Result {
	key := t.ID.String()
	r, ok := c.results[key]
	if !ok {
		r = &Result{Test: t}
		c.results[key] = r
		c.order = append(c.order, key)
	}
	return r
}

// Report returns the results collected so far.
func (c *Collector) Report() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	rep := &Report{
		Iterations: c.iterations,
		Duration:   c.runEnd.Sub(c.runStart),
		Status:     types.TestStatusPass,
	}
	if c.runEnd.IsZero() {
		rep.Duration = 0
	}
	for _, key := range c.order {
		r := *c.results[key]
		r.Issues = append([]types.Issue(nil), r.Issues...)
		r.Status = statusOf(&r)
		rep.Results = append(rep.Results, &r)

		if r.Test.IsSuite {
			continue
		}
		rep.Stats.Total++
		switch r.Status {
		case types.TestStatusPass:
			rep.Stats.Passed++
		case types.TestStatusFail:
			rep.Stats.Failed++
		case types.TestStatusSkip:
			rep.Stats.Skipped++
		case types.TestStatusError:
			rep.Stats.Errored++
		}
	}
	// Suites carry issues too, for example when their conditions failed.
	for _, r := range rep.Results {
		switch {
		case r.Status == types.TestStatusError:
			rep.Status = types.TestStatusError
		case r.Status == types.TestStatusFail && rep.Status != types.TestStatusError:
			rep.Status = types.TestStatusFail
		}
	}
	if rep.Status == types.TestStatusPass && rep.Stats.Total > 0 && rep.Stats.Skipped == rep.Stats.Total {
		rep.Status = types.TestStatusSkip
	}
	return rep
}

// statusOf derives the status of a result. System issues mean the test could
// not be run properly and take precedence.
func statusOf(r *Result) types.TestStatus {
	for _, issue := range r.Issues {
		if issue.Kind == types.IssueSystem {
			return types.TestStatusError
		}
	}
	switch {
	case len(r.Issues) > 0:
		return types.TestStatusFail
	case r.ran:
		return types.TestStatusPass
	default:
		return types.TestStatusSkip
	}
}

// Failed reports whether any test failed or errored.
func (r *Report) Failed() bool {
	return r.Status == types.TestStatusFail || r.Status == types.TestStatusError
}

// FailedResults returns the results with issues.
func (r *Report) FailedResults() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if len(res.Issues) > 0 {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test Run Results (%s, %d iterations):\n", formatDuration(r.Duration), r.Iterations)
	fmt.Fprintf(&b, "Total: %d, Passed: %d, Failed: %d, Skipped: %d, Errored: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped, r.Stats.Errored)
	for _, res := range r.FailedResults() {
		fmt.Fprintf(&b, "├── %s [status=%s]\n", res.Test.ID, res.Status)
		for _, issue := range res.Issues {
			fmt.Fprintf(&b, "│       └── %s\n", issue)
		}
	}
	return b.String()
}
