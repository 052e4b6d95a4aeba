package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// ConsoleProgress logs the progress of a run at a fixed interval. Pass its
// Handle method as an event handler.
type ConsoleProgress struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	totalTests     int
	completedTests int
	skippedTests   int
	issues         int
	iteration      int
	runStartTime   time.Time

	// Track currently running tests
	runningTests map[string]time.Time // test ID -> start time
}

// NewConsoleProgress creates a progress reporter and starts its reporting
// goroutine. Call Stop when the run is over.
func NewConsoleProgress(logger log.Logger, updateInterval time.Duration) *ConsoleProgress {
	if updateInterval == 0 {
		updateInterval = DefaultProgressInterval
	}

	c := &ConsoleProgress{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
	}
	go c.progressReporter()
	return c
}

// Handle consumes a run event.
func (c *ConsoleProgress) Handle(ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case types.EventTestDiscovered:
		if ev.Test != nil && !ev.Test.IsSuite {
			c.totalTests++
		}
	case types.EventRunStarted:
		c.runStartTime = ev.Instant
		c.logger.Info("Starting run", "totalTests", c.totalTests)
	case types.EventIterationStarted:
		c.iteration = ev.Iteration
		c.completedTests = 0
		c.skippedTests = 0
		c.runningTests = make(map[string]time.Time)
	case types.EventTestStarted:
		if !ev.Test.IsSuite {
			c.runningTests[ev.Test.ID.String()] = ev.Instant
			c.logger.Debug("Test started", "test", ev.Test.ID, "runningTests", len(c.runningTests))
		}
	case types.EventTestEnded:
		if !ev.Test.IsSuite {
			delete(c.runningTests, ev.Test.ID.String())
			c.completedTests++
			c.logger.Debug("Test completed", "test", ev.Test.ID, "completed", c.completedTests, "total", c.totalTests)
		}
	case types.EventTestSkipped:
		if !ev.Test.IsSuite {
			c.skippedTests++
			c.completedTests++
		}
	case types.EventIssueRecorded:
		c.issues++
	case types.EventRunEnded:
		duration := ev.Instant.Sub(c.runStartTime).Truncate(time.Millisecond)
		c.logger.Info("Completed run", "totalTests", c.totalTests, "iterations", c.iteration+1,
			"issues", c.issues, "duration", duration)
	}
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *ConsoleProgress) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConsoleProgress) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"iteration", c.iteration,
		"completed", c.completedTests,
		"skipped", c.skippedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"issues", c.issues,
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3),
	)
}

// Stop stops the progress reporter. It is safe to call more than once.
func (c *ConsoleProgress) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunningTests formats the longest running tests for display
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for testName, startTime := range runningTests {
		running = append(running, runningTest{
			name:     testName,
			duration: now.Sub(startTime),
		})
	}

	// Longest running first
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}
	return strings.Join(runningStrs, ", ")
}
