package declare

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

func scopeOf(ctx context.Context, fn string) types.Scope {
	s, ok := types.ScopeFromContext(ctx)
	if !ok {
		panic(fmt.Sprintf("declare.%s called outside of a running test", fn))
	}
	return s
}

func callerLocation() *types.SourceLocation {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return nil
	}
	return &types.SourceLocation{FilePath: filepath.Base(file), Line: line}
}

// Record records an expectation failure against the running test.
func Record(ctx context.Context, format string, args ...any) {
	scopeOf(ctx, "Record").Record(types.Issue{
		Kind:           types.IssueExpectationFailed,
		Comment:        fmt.Sprintf(format, args...),
		SourceLocation: callerLocation(),
	})
}

// Expect records an expectation failure unless cond holds, and returns cond.
func Expect(ctx context.Context, cond bool, format string, args ...any) bool {
	if !cond {
		scopeOf(ctx, "Expect").Record(types.Issue{
			Kind:           types.IssueExpectationFailed,
			Comment:        fmt.Sprintf(format, args...),
			SourceLocation: callerLocation(),
		})
	}
	return cond
}

// Fail records err against the running test without stopping it.
func Fail(ctx context.Context, err error) {
	scopeOf(ctx, "Fail").Record(types.Issue{
		Kind:           types.IssueErrorCaught,
		Err:            err,
		SourceLocation: callerLocation(),
	})
}

// ExpectExit runs et in a child process and records an issue unless it ends
// as expected. It returns nil when the exit test could not be run.
func ExpectExit(ctx context.Context, et *types.ExitTest, expected types.ExitCondition) *types.ExitTestResult {
	return scopeOf(ctx, "ExpectExit").ExpectExit(ctx, et, expected)
}
