package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// caseScope is the types.Scope handed to a running case.
type caseScope struct {
	r      *Runner
	test   *types.Test
	c      *types.Case
	closed atomic.Bool
}

var _ types.Scope = (*caseScope)(nil)

func newCaseScope(r *Runner, test *types.Test, c *types.Case) *caseScope {
	return &caseScope{r: r, test: test, c: c}
}

func (s *caseScope) Test() *types.Test {
	return s.test
}

func (s *caseScope) Case() *types.Case {
	return s.c
}

// Record records issue against the case. Issues recorded after the case
// ended, for example by a body that outlived its time limit, are dropped.
func (s *caseScope) Record(issue types.Issue) {
	if s.closed.Load() {
		s.r.log.Debug("Dropping issue recorded after case ended", "test", s.test.ID, "issue", issue)
		return
	}
	if issue.Kind == "" {
		issue.Kind = types.IssueExpectationFailed
	}
	s.r.recordIssue(s.test, s.c, issue)
}

func (s *caseScope) ExpectExit(ctx context.Context, et *types.ExitTest, expected types.ExitCondition) *types.ExitTestResult {
	if et == nil {
		s.Record(types.Issue{Kind: types.IssueSystem, Comment: "exit test is nil"})
		return nil
	}
	loc := et.SourceLocation
	handler := s.r.cfg.ExitTestHandler
	if handler == nil {
		s.Record(types.Issue{
			Kind:           types.IssueSystem,
			Comment:        "no exit test handler is configured",
			SourceLocation: &loc,
		})
		return nil
	}

	s.r.log.Debug("Running exit test", "id", et.ID, "expected", expected)
	res, err := handler(ctx, et)
	if err != nil {
		s.Record(types.Issue{
			Kind:           types.IssueSystem,
			Comment:        fmt.Sprintf("failed to run exit test %s", et.ID),
			Err:            err,
			SourceLocation: &loc,
		})
		return nil
	}
	if res == nil {
		s.Record(types.Issue{
			Kind:           types.IssueSystem,
			Comment:        fmt.Sprintf("could not run exit test %s", et.ID),
			SourceLocation: &loc,
		})
		return nil
	}
	if !expected.Matches(res.Condition) {
		s.Record(types.Issue{
			Kind:           types.IssueExitTestFailed,
			Comment:        fmt.Sprintf("expected exit test to end with %s, but it ended with %s", expected, res.Condition),
			SourceLocation: &loc,
		})
	}
	return res
}

func (s *caseScope) close() {
	s.closed.Store(true)
}
