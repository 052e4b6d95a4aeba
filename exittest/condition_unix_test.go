//go:build unix

package exittest

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

func init() {
	fixtures["killed"] = &types.ExitTest{ID: "killed", Body: func() {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Minute)
	}}
}

func TestHandlerSignal(t *testing.T) {
	res, err := newTestHandler(t).Run(context.Background(), fixtures["killed"])
	require.NoError(t, err)
	assert.True(t, res.Condition.Equal(types.Signal(int(syscall.SIGKILL))), "got %s", res.Condition)
	assert.True(t, types.Failure().Matches(res.Condition))
}
