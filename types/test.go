package types

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum-optimism/infra/op-testkit/section"
)

// TestStatus represents the possible outcomes of a test
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// Body is the body of a non-parameterized test function.
type Body func(ctx context.Context) error

// CaseBody is the body of a parameterized test, called once per argument.
type CaseBody func(ctx context.Context, arg any) error

// Case is one invocation of a test function. Non-parameterized tests have a
// single implicit case.
type Case struct {
	// ID is unique among the cases of one test.
	ID       string
	Argument any
	// Implicit is set for the single case of a non-parameterized test.
	Implicit bool
}

func (c Case) String() string {
	if c.Implicit {
		return ""
	}
	return fmt.Sprintf("%s(%v)", c.ID, c.Argument)
}

// Parameterization is the argument collection and body of a parameterized
// test.
type Parameterization struct {
	Cases []Case
	Body  CaseBody
}

// Test describes a test function or a suite.
type Test struct {
	// Name is the declared name. DisplayName, when set, replaces it in output.
	Name        string
	DisplayName string
	ID          ID
	// SourceLocation is where the test was declared. Synthesized suites have
	// none.
	SourceLocation *SourceLocation
	Traits         []Trait
	IsSuite        bool
	// Synthesized is set for placeholder suites that were not declared.
	Synthesized bool

	Body             Body
	Parameterization *Parameterization

	// Image the test was discovered in. Only set when the platform can
	// attribute records to images.
	Image *section.Image
}

func (t *Test) String() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// IsParameterized reports whether the test has a case collection.
func (t *Test) IsParameterized() bool {
	return t.Parameterization != nil
}

// Cases returns the cases of a test function. Suites have none.
func (t *Test) Cases() []Case {
	switch {
	case t.IsSuite:
		return nil
	case t.Parameterization != nil:
		return t.Parameterization.Cases
	default:
		return []Case{{ID: "0", Implicit: true}}
	}
}

// CaseBody returns the body to run for c.
func (t *Test) CaseBody(c Case) Body {
	if t.Parameterization != nil {
		body, arg := t.Parameterization.Body, c.Argument
		return func(ctx context.Context) error {
			return body(ctx, arg)
		}
	}
	return t.Body
}

// TimeLimit returns the smallest time limit among the test's traits and
// fallback. A non-positive duration means no limit.
func (t *Test) TimeLimit(fallback time.Duration) time.Duration {
	limit := fallback
	for _, tr := range t.Traits {
		tl, ok := tr.(TimeLimitTrait)
		if !ok || tl.Limit <= 0 {
			continue
		}
		if limit <= 0 || tl.Limit < limit {
			limit = tl.Limit
		}
	}
	return limit
}

// Tags returns the union of all tags on the test.
func (t *Test) Tags() []string {
	var tags []string
	for _, tr := range t.Traits {
		if tt, ok := tr.(TagsTrait); ok {
			tags = append(tags, tt.Tags...)
		}
	}
	return tags
}

// HasTag reports whether the test carries tag.
func (t *Test) HasTag(tag string) bool {
	return slices.Contains(t.Tags(), tag)
}

// IsSerialized reports whether the cases and children of the test must run
// one at a time.
func (t *Test) IsSerialized() bool {
	for _, tr := range t.Traits {
		if _, ok := tr.(SerializedTrait); ok {
			return true
		}
	}
	return false
}

// Conditions returns the condition traits in declaration order.
func (t *Test) Conditions() []ConditionTrait {
	var out []ConditionTrait
	for _, tr := range t.Traits {
		if c, ok := tr.(ConditionTrait); ok {
			out = append(out, c)
		}
	}
	return out
}

// ExecutionTraits returns the custom execution traits in declaration order.
func (t *Test) ExecutionTraits() []ExecutionTrait {
	var out []ExecutionTrait
	for _, tr := range t.Traits {
		if e, ok := tr.(ExecutionTrait); ok {
			out = append(out, e)
		}
	}
	return out
}
