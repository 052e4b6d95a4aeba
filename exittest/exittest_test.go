package exittest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

var fixtures = map[string]*types.ExitTest{
	"exits-3": {ID: "exits-3", Body: func() { os.Exit(3) }},
	"returns": {ID: "returns", Body: func() {}},
	"colors": {ID: "colors", Body: func() {
		fmt.Print("\x1b[31mred\x1b[0m")
		fmt.Fprint(os.Stderr, "\x1b[1mbold\x1b[0m")
		os.Exit(1)
	}},
}

func findFixture(id string) (*types.ExitTest, error) {
	et, ok := fixtures[id]
	if !ok {
		return nil, errors.New("no such fixture")
	}
	return et, nil
}

func TestMain(m *testing.M) {
	RunIfRequested(findFixture)
	os.Exit(m.Run())
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := NewHandler(Config{
		Log:  log.NewLogger(log.DiscardHandler()),
		Args: []string{"-test.run=^$"},
	})
	require.NoError(t, err)
	return h
}

func TestHandlerRun(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		id   string
		want types.ExitCondition
	}{
		{id: "exits-3", want: types.ExitCode(3)},
		{id: "returns", want: types.Success()},
		{id: "colors", want: types.ExitCode(1)},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res, err := h.Run(context.Background(), fixtures[tt.id])
			require.NoError(t, err)
			assert.True(t, res.Condition.Equal(tt.want), "got %s", res.Condition)
		})
	}
}

func TestHandlerStripsColors(t *testing.T) {
	res, err := newTestHandler(t).Run(context.Background(), fixtures["colors"])
	require.NoError(t, err)
	assert.Equal(t, "red", string(res.Stdout))
	assert.Equal(t, "bold", string(res.Stderr))
}

func TestHandlerUnknownExitTest(t *testing.T) {
	_, err := newTestHandler(t).Run(context.Background(), &types.ExitTest{ID: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestHandlerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestHandler(t).Run(ctx, fixtures["returns"])
	assert.Error(t, err)
}

func TestRunChild(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, ExitCodeNotFound, run("missing", findFixture, &stderr))
	assert.Contains(t, stderr.String(), notFoundMarker)

	stderr.Reset()
	assert.Equal(t, 0, run("returns", findFixture, &stderr))
	assert.Empty(t, stderr.String())
}

func TestRequested(t *testing.T) {
	t.Setenv(EnvExitTest, "")
	_, ok := Requested()
	assert.False(t, ok)

	t.Setenv(EnvExitTest, "some-id")
	id, ok := Requested()
	assert.True(t, ok)
	assert.Equal(t, "some-id", id)
}
