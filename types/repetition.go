package types

import "fmt"

// Continuation decides whether another iteration of a run starts.
type Continuation string

const (
	// ContinueAlways runs every iteration.
	ContinueAlways Continuation = "always"
	// UntilIssueRecorded stops after the first iteration that recorded an
	// issue.
	UntilIssueRecorded Continuation = "until-issue"
	// WhileIssueRecorded stops after the first iteration without issues.
	WhileIssueRecorded Continuation = "while-issue"
)

// ParseContinuation parses a continuation name. The empty string is
// ContinueAlways.
func ParseContinuation(s string) (Continuation, error) {
	switch Continuation(s) {
	case "", ContinueAlways:
		return ContinueAlways, nil
	case UntilIssueRecorded, WhileIssueRecorded:
		return Continuation(s), nil
	default:
		return "", fmt.Errorf("unknown repetition continuation %q", s)
	}
}

// RepetitionPolicy controls how many times a plan runs.
type RepetitionPolicy struct {
	MaxIterations int
	Continuation  Continuation
}

// Once runs a plan a single time.
func Once() RepetitionPolicy {
	return RepetitionPolicy{MaxIterations: 1, Continuation: ContinueAlways}
}

// Normalize returns p with at least one iteration.
func (p RepetitionPolicy) Normalize() RepetitionPolicy {
	if p.MaxIterations < 1 {
		p.MaxIterations = 1
	}
	if p.Continuation == "" {
		p.Continuation = ContinueAlways
	}
	return p
}

// ShouldContinue reports whether another iteration should start after one
// that did or did not record an issue.
func (p RepetitionPolicy) ShouldContinue(issueRecorded bool) bool {
	switch p.Continuation {
	case UntilIssueRecorded:
		return !issueRecorded
	case WhileIssueRecorded:
		return issueRecorded
	default:
		return true
	}
}
