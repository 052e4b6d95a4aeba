package types

import "time"

// EventKind is the kind of a run event.
type EventKind string

const (
	EventTestDiscovered   EventKind = "testDiscovered"
	EventRunStarted       EventKind = "runStarted"
	EventIterationStarted EventKind = "iterationStarted"
	EventTestStarted      EventKind = "testStarted"
	EventTestCaseStarted  EventKind = "testCaseStarted"
	EventIssueRecorded    EventKind = "issueRecorded"
	EventTestCaseEnded    EventKind = "testCaseEnded"
	EventTestEnded        EventKind = "testEnded"
	EventTestSkipped      EventKind = "testSkipped"
	EventIterationEnded   EventKind = "iterationEnded"
	EventRunEnded         EventKind = "runEnded"
)

// Event is a progress notification posted by the runner.
type Event struct {
	Kind    EventKind
	Instant time.Time
	// Iteration is zero based. Events outside an iteration carry the
	// iteration that ran last.
	Iteration int

	Test *Test
	Case *Case

	// Issue is set for EventIssueRecorded.
	Issue *Issue
	// SkipReason is set for EventTestSkipped.
	SkipReason string
}

// EventHandler receives events. The runner never calls a handler
// concurrently with itself.
type EventHandler func(Event)

// Tee returns a handler that forwards every event to each non-nil handler in
// order.
func Tee(handlers ...EventHandler) EventHandler {
	return func(ev Event) {
		for _, h := range handlers {
			if h != nil {
				h(ev)
			}
		}
	}
}
