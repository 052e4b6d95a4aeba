package types

import (
	"fmt"
	"time"
)

// IssueKind classifies a recorded issue.
type IssueKind string

const (
	// IssueErrorCaught is recorded when a body returns an error or panics.
	IssueErrorCaught IssueKind = "errorCaught"
	// IssueTimeLimitExceeded is recorded when a case runs past its limit.
	IssueTimeLimitExceeded IssueKind = "timeLimitExceeded"
	// IssueExpectationFailed is recorded by a test body through its scope.
	IssueExpectationFailed IssueKind = "expectationFailed"
	// IssueExitTestFailed is recorded when an exit test ends in an
	// unexpected condition.
	IssueExitTestFailed IssueKind = "exitTestFailed"
	// IssueSystem is recorded for failures of the testkit itself, such as a
	// condition that could not be evaluated.
	IssueSystem IssueKind = "system"
)

// Issue is a problem recorded while running a test.
type Issue struct {
	Kind           IssueKind
	Comment        string
	Err            error
	SourceLocation *SourceLocation
}

// TimeLimitExceeded returns the issue recorded for a case that ran too long.
func TimeLimitExceeded(limit time.Duration) Issue {
	return Issue{
		Kind:    IssueTimeLimitExceeded,
		Comment: fmt.Sprintf("time limit was exceeded: %s", limit),
	}
}

func (i Issue) String() string {
	s := string(i.Kind)
	if i.Comment != "" {
		s += ": " + i.Comment
	}
	if i.Err != nil {
		s += ": " + i.Err.Error()
	}
	if i.SourceLocation != nil {
		s += " (" + i.SourceLocation.String() + ")"
	}
	return s
}
