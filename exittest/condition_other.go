//go:build !unix

package exittest

import (
	"os"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

func conditionOf(ps *os.ProcessState) types.ExitCondition {
	return types.ExitCode(ps.ExitCode())
}
