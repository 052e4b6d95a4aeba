package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/runner"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

var testLog = log.NewLogger(log.DiscardHandler())

func TestNewFileLoggerValidation(t *testing.T) {
	_, err := NewFileLogger(testLog, t.TempDir(), "")
	assert.Error(t, err)
	_, err = NewFileLogger(testLog, "", "run")
	assert.Error(t, err)
}

func TestFileLoggerWritesRun(t *testing.T) {
	baseDir := t.TempDir()
	fl, err := NewFileLogger(testLog, baseDir, "abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "testrun-abc"), fl.LogDir())
	assert.DirExists(t, fl.FailedDir())

	loc := &types.SourceLocation{FilePath: "x_test.go", Line: 3}
	tests := []*types.Test{
		{Name: "ok", ID: types.ID{Module: "example.com/x", Path: []string{"ok"}, Location: loc}, SourceLocation: loc,
			Body: func(context.Context) error { return nil }},
		{Name: "bad", ID: types.ID{Module: "example.com/x", Path: []string{"bad"}}, SourceLocation: loc,
			Body: func(context.Context) error { return errors.New("broken pipe") }},
	}
	p, err := plan.Build(context.Background(), testLog, tests, plan.Configuration{})
	require.NoError(t, err)

	collector := reporting.NewCollector()
	r, err := runner.New(runner.Config{Log: testLog, Plan: p, EventHandler: types.Tee(collector.Handle, fl.Handle)})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, fl.Complete(collector.Report()))

	f, err := os.Open(fl.EventsFile())
	require.NoError(t, err)
	defer f.Close()
	var kinds []types.EventKind
	var issue *jsonIssue
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev jsonEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		kinds = append(kinds, ev.Kind)
		if ev.Issue != nil {
			issue = ev.Issue
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, types.EventTestDiscovered, kinds[0])
	assert.Equal(t, types.EventRunEnded, kinds[len(kinds)-1])
	require.NotNil(t, issue)
	assert.Equal(t, types.IssueErrorCaught, issue.Kind)
	assert.Equal(t, "broken pipe", issue.Error)
	assert.Equal(t, "x_test.go:3", issue.Location)

	summary, err := os.ReadFile(fl.SummaryFile())
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Run ID: abc")
	assert.Contains(t, string(summary), "Failed: 1")

	failed, err := os.ReadDir(fl.FailedDir())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "example.com_x_bad.log", failed[0].Name())
	content, err := os.ReadFile(filepath.Join(fl.FailedDir(), failed[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Status: fail")
	assert.Contains(t, string(content), "broken pipe")
}

type countingSink struct {
	events    int
	completed bool
}

func (s *countingSink) Consume(types.Event) error {
	s.events++
	return errors.New("ignored")
}

func (s *countingSink) Complete(*reporting.Report) error {
	s.completed = true
	return nil
}

func TestFileLoggerExtraSink(t *testing.T) {
	fl, err := NewFileLogger(testLog, t.TempDir(), "extra")
	require.NoError(t, err)
	sink := &countingSink{}
	fl.AddSink(sink)

	fl.Handle(types.Event{Kind: types.EventRunStarted})
	fl.Handle(types.Event{Kind: types.EventRunEnded})
	require.NoError(t, fl.Complete(&reporting.Report{}))

	assert.Equal(t, 2, sink.events)
	assert.True(t, sink.completed)
}

func TestAsyncFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	af, err := NewAsyncFile(path)
	require.NoError(t, err)

	buf := []byte("hello ")
	require.NoError(t, af.Write(buf))
	buf[0] = 'J'
	require.NoError(t, af.Write([]byte("world")))
	require.NoError(t, af.Close())
	require.NoError(t, af.Close())

	assert.ErrorIs(t, af.Write([]byte("late")), errAsyncFileClosed)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "example.com_m_Suite_test_a_test.go_4", safeFilename("example.com/m/Suite/test@a_test.go:4"))
	assert.Equal(t, "a_b_c", safeFilename("a b|c"))
}
