package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

const (
	MetricsNamespace = "testkit"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_discovered_total",
		Help:      "Number of tests found by discovery",
	}, []string{
		"mode",
	})

	testResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results_total",
		Help:      "Count of test results by status",
	}, []string{
		"gate",
		"result",
	})

	issuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "issues_total",
		Help:      "Count of recorded issues by kind",
	}, []string{
		"gate",
		"kind",
	})

	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "iterations_total",
		Help:      "Count of started plan iterations",
	}, []string{
		"gate",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"gate",
		"run_id",
		"result",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of test runs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{
		"gate",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordDiscovered(mode string, count int) {
	testsDiscovered.WithLabelValues(mode).Add(float64(count))
}

// EventHandler returns an event handler that counts issues and iterations
// as they happen.
func EventHandler(gate string) types.EventHandler {
	return func(ev types.Event) {
		switch ev.Kind {
		case types.EventIterationStarted:
			iterationsTotal.WithLabelValues(gate).Inc()
		case types.EventIssueRecorded:
			if Debug {
				log.Debug("metric inc", "m", "issues_total", "gate", gate, "kind", ev.Issue.Kind)
			}
			issuesTotal.WithLabelValues(gate, string(ev.Issue.Kind)).Inc()
		}
	}
}

// RecordReport records the results of a finished run.
func RecordReport(gate string, runID string, rep *reporting.Report) {
	for _, r := range rep.Results {
		if r.Test.IsSuite {
			continue
		}
		testResultsTotal.WithLabelValues(gate, string(r.Status)).Inc()
	}
	runResults.WithLabelValues(gate, runID, string(rep.Status)).Set(1)
	runDuration.WithLabelValues(gate, string(rep.Status)).Observe(rep.Duration.Seconds())
}
