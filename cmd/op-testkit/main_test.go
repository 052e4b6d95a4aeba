package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	testkit "github.com/ethereum-optimism/infra/op-testkit"
	"github.com/ethereum-optimism/infra/op-testkit/exitcodes"
)

func TestExitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"runtime error", testkit.NewRuntimeError(errors.New("bad config")), exitcodes.RuntimeErr},
		{"wrapped runtime error", fmt.Errorf("start: %w", testkit.NewRuntimeError(errors.New("x"))), exitcodes.RuntimeErr},
		{"test failure", testkit.NewTestFailureError("1 failed"), exitcodes.TestFailure},
		{"unspecified", errors.New("boom"), exitcodes.TestFailure},
		{"exit coder", cli.Exit("custom", 42), 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitError(tt.err).ExitCode())
		})
	}
}

func TestNewApp(t *testing.T) {
	app := newApp()
	require.NotNil(t, app.Action)
	require.NotNil(t, app.Command("list"))
	assert.NotEmpty(t, app.Flags)
}
