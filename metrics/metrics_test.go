package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nil error", err: nil},
		{name: "simple error", err: errors.New("test error")},
		{name: "error with special chars", err: errors.New("test@error#123")},
		{name: "error with multiple spaces", err: errors.New("test   error")},
	}

	validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			assert.Regexp(t, validLabelRegex, result)
		})
	}
}

func TestRecordErrorDetails(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("discover.sample_error"))
	RecordErrorDetails("discover", nil)
	RecordErrorDetails("discover", errors.New("sample error"))
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("discover.sample_error")))
}

func TestEventHandler(t *testing.T) {
	h := EventHandler("handler-gate")
	h(types.Event{Kind: types.EventIterationStarted})
	h(types.Event{Kind: types.EventIterationStarted})
	h(types.Event{Kind: types.EventIssueRecorded, Issue: &types.Issue{Kind: types.IssueErrorCaught}})
	h(types.Event{Kind: types.EventTestStarted})

	assert.Equal(t, 2.0, testutil.ToFloat64(iterationsTotal.WithLabelValues("handler-gate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(issuesTotal.WithLabelValues("handler-gate", "errorCaught")))
}

func TestRecordReport(t *testing.T) {
	rep := &reporting.Report{
		Results: []*reporting.Result{
			{Test: &types.Test{Name: "a"}, Status: types.TestStatusPass},
			{Test: &types.Test{Name: "b"}, Status: types.TestStatusFail},
			{Test: &types.Test{Name: "s", IsSuite: true}, Status: types.TestStatusPass},
		},
		Status:   types.TestStatusFail,
		Duration: time.Second,
	}
	RecordReport("report-gate", "run1", rep)

	assert.Equal(t, 1.0, testutil.ToFloat64(testResultsTotal.WithLabelValues("report-gate", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(testResultsTotal.WithLabelValues("report-gate", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(runResults.WithLabelValues("report-gate", "run1", "fail")))
}

func TestRecordDiscovered(t *testing.T) {
	RecordDiscovered("discover-test", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(testsDiscovered.WithLabelValues("discover-test")))
}
