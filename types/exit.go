package types

import (
	"context"
	"fmt"
)

type exitKind int

const (
	exitKindCode exitKind = iota
	exitKindSignal
	exitKindFailure
)

// ExitCondition is the way a process terminated, or the way a test expects
// it to terminate.
type ExitCondition struct {
	kind  exitKind
	value int
}

// Success is a normal exit with status zero.
func Success() ExitCondition {
	return ExitCondition{kind: exitKindCode}
}

// Failure matches any termination other than Success when used as an
// expectation.
func Failure() ExitCondition {
	return ExitCondition{kind: exitKindFailure}
}

// ExitCode is a normal exit with the given status.
func ExitCode(code int) ExitCondition {
	return ExitCondition{kind: exitKindCode, value: code}
}

// Signal is termination by the given signal number.
func Signal(sig int) ExitCondition {
	return ExitCondition{kind: exitKindSignal, value: sig}
}

// IsSuccess reports whether c is a zero exit status.
func (c ExitCondition) IsSuccess() bool {
	return c.kind == exitKindCode && c.value == 0
}

// Matches reports whether observed satisfies the expectation c. Failure
// matches every observed condition that is not a success; all other
// conditions must be equal.
func (c ExitCondition) Matches(observed ExitCondition) bool {
	if c.kind == exitKindFailure || observed.kind == exitKindFailure {
		return !c.IsSuccess() && !observed.IsSuccess()
	}
	return c.Equal(observed)
}

// Equal reports whether c and o describe the same condition. Failure only
// equals Failure.
func (c ExitCondition) Equal(o ExitCondition) bool {
	return c == o
}

func (c ExitCondition) String() string {
	switch c.kind {
	case exitKindFailure:
		return "failure"
	case exitKindSignal:
		return fmt.Sprintf("signal(%d)", c.value)
	default:
		if c.value == 0 {
			return "success"
		}
		return fmt.Sprintf("exitCode(%d)", c.value)
	}
}

// ExitTest is a body that must run in a separate process because it is
// expected to terminate that process.
type ExitTest struct {
	ID             string
	SourceLocation SourceLocation
	Body           func()
}

// ExitTestResult is what the parent process observed about an exit test.
type ExitTestResult struct {
	Condition ExitCondition
	Stdout    []byte
	Stderr    []byte
}

// ExitTestHandler runs an exit test and reports how it terminated. An error
// or a nil result means the exit test could not be run at all.
type ExitTestHandler func(ctx context.Context, et *ExitTest) (*ExitTestResult, error)
