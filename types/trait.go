package types

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Trait annotates a test or suite.
type Trait interface {
	Description() string
}

// ConditionTrait decides whether a test runs. Evaluate returns true when the
// test is enabled. Comment is used as the skip reason.
type ConditionTrait struct {
	Comment  string
	Evaluate func(ctx context.Context) (bool, error)
}

func (c ConditionTrait) Description() string {
	if c.Comment == "" {
		return "condition"
	}
	return "condition: " + c.Comment
}

// TimeLimitTrait bounds the run time of each case of a test.
type TimeLimitTrait struct {
	Limit time.Duration
}

func (t TimeLimitTrait) Description() string {
	return fmt.Sprintf("time limit %s", t.Limit)
}

// TagsTrait attaches tags used for selection.
type TagsTrait struct {
	Tags []string
}

func (t TagsTrait) Description() string {
	return "tags: " + strings.Join(t.Tags, ",")
}

// SerializedTrait makes the cases and children of a test run one at a time
// even when the run is parallel.
type SerializedTrait struct{}

func (SerializedTrait) Description() string {
	return "serialized"
}

// ExecutionTrait wraps the execution of a test. For suites the wrapper runs
// around the whole suite; for functions it runs around each case, and c is
// the case being run. Implementations must call next exactly once to run the
// wrapped work and should return its error.
type ExecutionTrait interface {
	Trait
	Execute(ctx context.Context, test *Test, c *Case, next func(context.Context) error) error
}

// ScopeFunc adapts a function to ExecutionTrait.
type ScopeFunc struct {
	Name string
	Fn   func(ctx context.Context, test *Test, c *Case, next func(context.Context) error) error
}

func (s ScopeFunc) Description() string {
	return "scope: " + s.Name
}

func (s ScopeFunc) Execute(ctx context.Context, test *Test, c *Case, next func(context.Context) error) error {
	return s.Fn(ctx, test, c, next)
}
