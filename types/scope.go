package types

import "context"

// Scope is the running test as seen from inside its body.
type Scope interface {
	Test() *Test
	Case() *Case
	// Record records an issue against the running test case.
	Record(issue Issue)
	// ExpectExit runs et through the configured exit test handler and records
	// an issue unless it terminates as expected.
	ExpectExit(ctx context.Context, et *ExitTest, expected ExitCondition) *ExitTestResult
}

type scopeKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope carried by ctx, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}
