// Package logging writes the events and results of a run to a per-run
// directory.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

const (
	RunDirectoryPrefix = "testrun-"
	EventsFilename     = "events.jsonl"
	SummaryFilename    = "summary.log"
	FailedDirname      = "failed"
)

// EventSink consumes the events of a run.
type EventSink interface {
	// Consume processes a single event
	Consume(ev types.Event) error
	// Complete is called once the run is over
	Complete(rep *reporting.Report) error
}

// FileLogger fans run events out to its sinks and owns the files they
// write.
type FileLogger struct {
	log          log.Logger
	baseDir      string
	logDir       string
	failedDir    string
	runID        string
	mu           sync.Mutex
	sinks        []EventSink
	asyncWriters map[string]*AsyncFile
}

// NewFileLogger creates the run directory for runID below baseDir.
func NewFileLogger(lgr log.Logger, baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, errors.New("baseDir cannot be empty")
	}
	if lgr == nil {
		lgr = log.Root()
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, FailedDirname)
	for _, dir := range []string{baseDir, logDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	l := &FileLogger{
		log:          lgr,
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		runID:        runID,
		asyncWriters: make(map[string]*AsyncFile),
	}

	events, err := l.getAsyncWriter(filepath.Join(logDir, EventsFilename))
	if err != nil {
		return nil, err
	}
	l.sinks = append(l.sinks,
		&JSONEventSink{out: events},
		&FailedTestSink{dir: failedDir, issues: make(map[string][]types.Issue)},
	)
	return l, nil
}

// AddSink registers an additional sink.
func (l *FileLogger) AddSink(s EventSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Handle passes ev to every sink. Sink errors are logged and do not stop
// the run.
func (l *FileLogger) Handle(ev types.Event) {
	l.mu.Lock()
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Consume(ev); err != nil {
			l.log.Warn("Failed to log event", "sink", fmt.Sprintf("%T", s), "event", ev.Kind, "err", err)
		}
	}
}

// Complete finalizes all sinks, writes the summary and closes every file.
func (l *FileLogger) Complete(rep *reporting.Report) error {
	var errs []error
	for _, s := range l.sinks {
		if err := s.Complete(rep); err != nil {
			errs = append(errs, fmt.Errorf("error completing sink: %w", err))
		}
	}
	if err := l.writeSummary(rep); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, l.closeAllWriters())
	return errors.Join(errs...)
}

func (l *FileLogger) writeSummary(rep *reporting.Report) error {
	w, err := l.getAsyncWriter(l.SummaryFile())
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run ID: %s\n", l.runID)
	b.WriteString(rep.String())
	return w.Write([]byte(b.String()))
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, writer := range l.asyncWriters {
		errs = append(errs, writer.Close())
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return errors.Join(errs...)
}

// RunID returns the ID of the run being logged.
func (l *FileLogger) RunID() string {
	return l.runID
}

// LogDir returns the directory of this run.
func (l *FileLogger) LogDir() string {
	return l.logDir
}

// FailedDir returns the directory containing logs for failed tests
func (l *FileLogger) FailedDir() string {
	return l.failedDir
}

func (l *FileLogger) SummaryFile() string {
	return filepath.Join(l.logDir, SummaryFilename)
}

func (l *FileLogger) EventsFile() string {
	return filepath.Join(l.logDir, EventsFilename)
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_", "@", "_",
	)
	return r.Replace(s)
}
