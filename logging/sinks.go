package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

type jsonIssue struct {
	Kind     types.IssueKind `json:"kind"`
	Comment  string          `json:"comment,omitempty"`
	Error    string          `json:"error,omitempty"`
	Location string          `json:"location,omitempty"`
}

type jsonEvent struct {
	Time       time.Time       `json:"time"`
	Kind       types.EventKind `json:"kind"`
	Iteration  int             `json:"iteration"`
	Test       string          `json:"test,omitempty"`
	Case       string          `json:"case,omitempty"`
	Issue      *jsonIssue      `json:"issue,omitempty"`
	SkipReason string          `json:"skipReason,omitempty"`
}

func toJSONEvent(ev types.Event) jsonEvent {
	out := jsonEvent{
		Time:       ev.Instant,
		Kind:       ev.Kind,
		Iteration:  ev.Iteration,
		SkipReason: ev.SkipReason,
	}
	if ev.Test != nil {
		out.Test = ev.Test.ID.String()
	}
	if ev.Case != nil && !ev.Case.Implicit {
		out.Case = ev.Case.ID
	}
	if ev.Issue != nil {
		ji := &jsonIssue{Kind: ev.Issue.Kind, Comment: ev.Issue.Comment}
		if ev.Issue.Err != nil {
			ji.Error = ev.Issue.Err.Error()
		}
		if ev.Issue.SourceLocation != nil {
			ji.Location = ev.Issue.SourceLocation.String()
		}
		out.Issue = ji
	}
	return out
}

// JSONEventSink writes one JSON object per event.
type JSONEventSink struct {
	out *AsyncFile
}

func (s *JSONEventSink) Consume(ev types.Event) error {
	data, err := json.Marshal(toJSONEvent(ev))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.out.Write(append(data, '\n'))
}

func (s *JSONEventSink) Complete(*reporting.Report) error {
	return nil
}

// FailedTestSink writes a log file per test that recorded issues.
type FailedTestSink struct {
	dir    string
	mu     sync.Mutex
	issues map[string][]types.Issue
	order  []string
}

func (s *FailedTestSink) Consume(ev types.Event) error {
	if ev.Kind != types.EventIssueRecorded || ev.Test == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ev.Test.ID.String()
	if _, ok := s.issues[key]; !ok {
		s.order = append(s.order, key)
	}
	s.issues[key] = append(s.issues[key], *ev.Issue)
	return nil
}

func (s *FailedTestSink) Complete(rep *reporting.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[string]*reporting.Result)
	if rep != nil {
		for _, r := range rep.Results {
			results[r.Test.ID.String()] = r
		}
	}
	for _, key := range s.order {
		var b strings.Builder
		fmt.Fprintf(&b, "Test: %s\n", key)
		if r, ok := results[key]; ok {
			fmt.Fprintf(&b, "Status: %s\n", r.Status)
			fmt.Fprintf(&b, "Duration: %s\n", r.Duration)
		}
		b.WriteString("\nIssues:\n")
		for i, issue := range s.issues[key] {
			fmt.Fprintf(&b, "%d. %s\n", i+1, issue)
		}
		path := filepath.Join(s.dir, safeFilename(key)+".log")
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}
