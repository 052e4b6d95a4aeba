package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// WriteResults renders the results of a run as a table.
func WriteResults(w io.Writer, rep *Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(rep.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Cases", "Status", "Issues",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Issues", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range rep.Results {
		kind := ""
		if res.Test.IsSuite {
			kind = "Suite"
		}
		cases := "-"
		if !res.Test.IsSuite {
			cases = fmt.Sprint(res.Cases)
		}
		t.AppendRow(table.Row{
			kind,
			treePrefix(len(res.Test.ID.Path)) + res.Test.String(),
			formatDuration(res.Duration),
			cases,
			getResultString(res.Status),
			issueSummary(res),
		})
	}

	switch rep.Status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d errored",
			rep.Stats.Passed, rep.Stats.Failed, rep.Stats.Skipped, rep.Stats.Errored),
		formatDuration(rep.Duration),
		rep.Stats.Total,
		getResultString(rep.Status),
		"",
	})
	t.Render()
}

// WriteList renders the steps of a plan as a table.
func WriteList(w io.Writer, p *plan.Plan) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Test Plan")
	t.AppendHeader(table.Row{"ID", "Kind", "Action", "Location", "Tags"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	steps := p.Steps()
	for _, s := range steps {
		kind := "test"
		switch {
		case s.Test.Synthesized:
			kind = "suite (implicit)"
		case s.Test.IsSuite:
			kind = "suite"
		case s.Test.IsParameterized():
			kind = fmt.Sprintf("test (%d cases)", len(s.Test.Cases()))
		}
		loc := ""
		if s.Test.SourceLocation != nil {
			loc = s.Test.SourceLocation.String()
		}
		t.AppendRow(table.Row{
			s.Test.ID.String(),
			kind,
			s.Action.String(),
			loc,
			strings.Join(s.Test.Tags(), ","),
		})
	}
	t.AppendFooter(table.Row{"TOTAL", len(steps), "", "", ""})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func treePrefix(depth int) string {
	if depth <= 1 {
		return ""
	}
	return strings.Repeat("│  ", depth-2) + "├─ "
}

func issueSummary(res *Result) string {
	switch {
	case len(res.Issues) == 1:
		return res.Issues[0].String()
	case len(res.Issues) > 1:
		return fmt.Sprintf("%s (+%d more)", res.Issues[0], len(res.Issues)-1)
	case res.Status == types.TestStatusSkip:
		return res.SkipReason
	default:
		return ""
	}
}

// getResultString returns a string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusError:
		return "! error"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
