// Package exittest runs exit tests in a child process. The child is the
// current binary started again with EnvExitTest naming the exit test to run;
// the binary's main calls RunIfRequested before doing anything else.
package exittest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// EnvExitTest names the exit test a child process must run.
const EnvExitTest = "OP_TESTKIT_EXIT_TEST"

// ExitCodeNotFound is the exit status of a child asked to run an exit test
// it does not know.
const ExitCodeNotFound = 70

// Config configures a Handler.
type Config struct {
	Log log.Logger
	// Executable defaults to the current binary.
	Executable string
	// Args are passed to the child. Defaults to the arguments of the current
	// process.
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
}

// Handler starts exit tests in child processes.
type Handler struct {
	cfg Config
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.Args == nil && len(os.Args) > 1 {
		cfg.Args = os.Args[1:]
	}
	return &Handler{cfg: cfg}, nil
}

// Run runs et in a child process and reports how the child terminated. An
// error means the child could not be started.
func (h *Handler) Run(ctx context.Context, et *types.ExitTest) (*types.ExitTestResult, error) {
	cmd := exec.CommandContext(ctx, h.cfg.Executable, h.cfg.Args...)
	env := append(os.Environ(), h.cfg.Env...)
	env = append(env, fmt.Sprintf("%s=%s", EnvExitTest, et.ID))
	cmd.Env = telemetry.InstrumentEnvironment(ctx, env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.cfg.Log.Debug("Starting exit test", "id", et.ID, "executable", h.cfg.Executable)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run exit test %s: %w", et.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("exit test %s interrupted: %w", et.ID, err)
	}

	res := &types.ExitTestResult{
		Condition: conditionOf(cmd.ProcessState),
		Stdout:    []byte(stripansi.Strip(stdout.String())),
		Stderr:    []byte(stripansi.Strip(stderr.String())),
	}
	if res.Condition.Equal(types.ExitCode(ExitCodeNotFound)) && bytes.Contains(stderr.Bytes(), []byte(notFoundMarker)) {
		return nil, fmt.Errorf("child process does not know exit test %s", et.ID)
	}
	h.cfg.Log.Debug("Exit test finished", "id", et.ID, "condition", res.Condition)
	return res, nil
}

const notFoundMarker = "op-testkit: unknown exit test"

// Requested returns the exit test ID this process was started to run, if
// any.
func Requested() (string, bool) {
	id := os.Getenv(EnvExitTest)
	return id, id != ""
}

// RunIfRequested runs the requested exit test and exits when the process
// was started to run one, and returns otherwise. A body that returns exits
// the process successfully.
func RunIfRequested(find func(id string) (*types.ExitTest, error)) {
	id, ok := Requested()
	if !ok {
		return
	}
	os.Exit(run(id, find, os.Stderr))
}

func run(id string, find func(id string) (*types.ExitTest, error), stderr io.Writer) int {
	et, err := find(id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s %s: %v\n", notFoundMarker, id, err)
		return ExitCodeNotFound
	}
	et.Body()
	return 0
}
