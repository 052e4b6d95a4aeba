package plan

import (
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// ActionKind is what the runner does with a step.
type ActionKind string

const (
	ActionRun         ActionKind = "run"
	ActionSkip        ActionKind = "skip"
	ActionRecordIssue ActionKind = "recordIssue"
)

// Action is the resolved disposition of a step.
type Action struct {
	Kind ActionKind
	// SkipReason is set for ActionSkip.
	SkipReason string
	// Issue is set for ActionRecordIssue.
	Issue *types.Issue
}

func Run() Action {
	return Action{Kind: ActionRun}
}

func Skip(reason string) Action {
	return Action{Kind: ActionSkip, SkipReason: reason}
}

func RecordIssue(issue types.Issue) Action {
	return Action{Kind: ActionRecordIssue, Issue: &issue}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSkip:
		return "skip(" + a.SkipReason + ")"
	case ActionRecordIssue:
		return "recordIssue(" + a.Issue.String() + ")"
	default:
		return string(a.Kind)
	}
}

// Step is a test together with its action.
type Step struct {
	Test   *types.Test
	Action Action
}
