//go:build unix

package exittest

import (
	"os"
	"syscall"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

func conditionOf(ps *os.ProcessState) types.ExitCondition {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return types.Signal(int(ws.Signal()))
	}
	return types.ExitCode(ps.ExitCode())
}
