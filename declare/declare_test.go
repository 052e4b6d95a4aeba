package declare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/registry"
	"github.com/ethereum-optimism/infra/op-testkit/runner"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

const thisPackage = "github.com/ethereum-optimism/infra/op-testkit/declare"

var (
	addsID = Test("adds", func(ctx context.Context) error {
		Expect(ctx, 1+1 == 2, "1+1 should be 2")
		return nil
	}, Tags("math", "fast"), TimeLimit(time.Minute))

	mathSuite = Suite("Math", Serialized(), DisplayName("Arithmetic"))

	subtractsID = mathSuite.Test("subtracts", func(ctx context.Context) error {
		Record(ctx, "off by %d", 1)
		return nil
	})

	evensID = ParameterizedIn(mathSuite, "evens", []int{2, 4, 6}, func(ctx context.Context, n int) error {
		if n%2 != 0 {
			return fmt.Errorf("%d is odd", n)
		}
		return nil
	})

	nestedSuite = mathSuite.Suite("Nested", Disabled("not ready"))

	nestedRan atomic.Bool

	nestedID = nestedSuite.Test("independent", func(ctx context.Context) error {
		nestedRan.Store(true)
		return nil
	})

	crashes = ExitTest(func() {
		os.Exit(3)
	})

	exitsID = Test("exits", func(ctx context.Context) error {
		ExpectExit(ctx, crashes, types.Failure())
		return nil
	})
)

func discover(t *testing.T) map[string]*types.Test {
	t.Helper()
	reg, err := registry.NewRegistry(registry.Config{
		Log:  log.NewLogger(log.DiscardHandler()),
		Mode: registry.ModeNew,
	})
	require.NoError(t, err)
	tests, err := reg.Tests(context.Background())
	require.NoError(t, err)

	byID := make(map[string]*types.Test)
	for _, test := range tests {
		byID[test.ID.String()] = test
	}
	return byID
}

func TestDeclaredTestsAreDiscovered(t *testing.T) {
	byID := discover(t)

	adds := byID[addsID.String()]
	require.NotNil(t, adds)
	assert.Equal(t, thisPackage, adds.ID.Module)
	assert.Equal(t, []string{"adds"}, adds.ID.Path)
	require.NotNil(t, adds.SourceLocation)
	assert.Equal(t, "declare_test.go", adds.SourceLocation.FilePath)
	assert.Positive(t, adds.SourceLocation.Line)
	assert.Equal(t, []string{"math", "fast"}, adds.Tags())
	assert.Equal(t, time.Minute, adds.TimeLimit(0))
	assert.NotNil(t, adds.Body)
	assert.False(t, adds.IsSuite)

	suite := byID[mathSuite.ID().String()]
	require.NotNil(t, suite)
	assert.True(t, suite.IsSuite)
	assert.Nil(t, suite.ID.Location)
	assert.Equal(t, "Arithmetic", suite.String())
	assert.True(t, suite.IsSerialized())

	sub := byID[subtractsID.String()]
	require.NotNil(t, sub)
	assert.Equal(t, []string{"Math", "subtracts"}, sub.ID.Path)
	assert.Equal(t, mathSuite.ID(), sub.ID.Parent())

	evens := byID[evensID.String()]
	require.NotNil(t, evens)
	require.True(t, evens.IsParameterized())
	cases := evens.Cases()
	require.Len(t, cases, 3)
	assert.Equal(t, "1", cases[1].ID)
	assert.Equal(t, 4, cases[1].Argument)

	independent := byID[nestedID.String()]
	require.NotNil(t, independent)
	assert.Equal(t, []string{"Math", "Nested", "independent"}, independent.ID.Path)
}

func TestDeclaredExitTestsAreDiscovered(t *testing.T) {
	reg, err := registry.NewRegistry(registry.Config{Log: log.NewLogger(log.DiscardHandler()), Mode: registry.ModeNew})
	require.NoError(t, err)

	et, err := reg.ExitTest(crashes.ID)
	require.NoError(t, err)
	assert.Equal(t, crashes.SourceLocation, et.SourceLocation)
	assert.NotNil(t, et.Body)
	assert.Contains(t, crashes.ID, thisPackage+"/declare_test.go:")
}

func TestDeclaredTestsRun(t *testing.T) {
	byID := discover(t)
	var tests []*types.Test
	for _, id := range []types.ID{addsID, mathSuite.ID(), subtractsID, evensID, nestedSuite.ID(), nestedID, exitsID} {
		require.Contains(t, byID, id.String())
		tests = append(tests, byID[id.String()])
	}

	lgr := log.NewLogger(log.DiscardHandler())
	p, err := plan.Build(context.Background(), lgr, tests, plan.Configuration{})
	require.NoError(t, err)

	var issues, skips []types.Event
	r, err := runner.New(runner.Config{
		Log:  lgr,
		Plan: p,
		EventHandler: func(ev types.Event) {
			switch ev.Kind {
			case types.EventIssueRecorded:
				issues = append(issues, ev)
			case types.EventTestSkipped:
				skips = append(skips, ev)
			}
		},
		ExitTestHandler: func(_ context.Context, et *types.ExitTest) (*types.ExitTestResult, error) {
			return &types.ExitTestResult{Condition: types.ExitCode(3)}, nil
		},
	})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, issues, 1)
	assert.Equal(t, "subtracts", issues[0].Test.Name)
	assert.Equal(t, types.IssueExpectationFailed, issues[0].Issue.Kind)
	assert.Equal(t, "off by 1", issues[0].Issue.Comment)
	require.NotNil(t, issues[0].Issue.SourceLocation)
	assert.Equal(t, "declare_test.go", issues[0].Issue.SourceLocation.FilePath)

	require.Len(t, skips, 1)
	assert.Equal(t, "Nested", skips[0].Test.Name)
	assert.Equal(t, "not ready", skips[0].SkipReason)
	assert.True(t, nestedRan.Load(), "children of a disabled suite run on their own conditions")
}

func TestHelpersOutsideTestPanic(t *testing.T) {
	assert.PanicsWithValue(t, "declare.Record called outside of a running test", func() {
		Record(context.Background(), "nope")
	})
	assert.Panics(t, func() { Fail(context.Background(), errors.New("nope")) })
}

func TestExitTestAfterDiscoveryPanics(t *testing.T) {
	discover(t)
	assert.PanicsWithValue(t, "declare.ExitTest must be called from a package-level variable declaration", func() {
		ExitTest(func() { os.Exit(1) })
	})
}

func TestConditionTraits(t *testing.T) {
	ctx := context.Background()
	yes := func(context.Context) (bool, error) { return true, nil }
	boom := errors.New("boom")
	failing := func(context.Context) (bool, error) { return false, boom }

	tests := []struct {
		name    string
		trait   types.Trait
		enabled bool
		err     error
	}{
		{name: "enabled", trait: Enabled(), enabled: true},
		{name: "disabled", trait: Disabled("off"), enabled: false},
		{name: "enabled if true", trait: EnabledIf("c", yes), enabled: true},
		{name: "disabled if true", trait: DisabledIf("c", yes), enabled: false},
		{name: "error is kept", trait: DisabledIf("c", failing), enabled: true, err: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := tt.trait.(types.ConditionTrait)
			require.True(t, ok)
			enabled, err := c.Evaluate(ctx)
			assert.Equal(t, tt.enabled, enabled)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPackagePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "example.com/foo/bar.init", want: "example.com/foo/bar"},
		{in: "example.com/foo/bar.init.func1", want: "example.com/foo/bar"},
		{in: "example.com/foo/bar.(*T).Method", want: "example.com/foo/bar"},
		{in: "example.com/foo.v2/bar.init", want: "example.com/foo.v2/bar"},
		{in: "main.init.0", want: "main"},
		{in: "plain", want: "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, packagePath(tt.in))
		})
	}
}
