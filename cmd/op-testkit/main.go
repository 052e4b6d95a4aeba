package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	testkit "github.com/ethereum-optimism/infra/op-testkit"
	"github.com/ethereum-optimism/infra/op-testkit/exittest"
	"github.com/ethereum-optimism/infra/op-testkit/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testkit"
	app.Usage = "Test discovery and execution engine"
	app.Description = "op-testkit discovers the tests compiled into the binary and its plugins, then runs them"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run(false))
	app.Commands = []*cli.Command{
		{
			Name:   "list",
			Usage:  "Print the test plan without running it",
			Action: cliapp.LifecycleCmd(run(true)),
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err != nil {
			cli.HandleExitCoder(exitError(err))
		}
	}
	return app
}

// exitError keeps the code of errors that carry one and maps every other
// error to the op-testkit exit codes.
func exitError(err error) cli.ExitCoder {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return cli.Exit(err.Error(), testkit.ExitCode(err))
}

func main() {
	app := newApp()

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(listOnly bool) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		logCfg := oplog.ReadCLIConfig(ctx)
		log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
		oplog.SetGlobalLogHandler(log.Handler())
		oplog.SetupDefaults()

		cfg, err := testkit.NewConfig(ctx, log, listOnly)
		if err != nil {
			return nil, testkit.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}

		cfg.Log.Debug("Config", "config", cfg)

		kit, err := testkit.New(ctx.Context, cfg, Version, closeApp)
		if err != nil {
			return nil, testkit.NewRuntimeError(fmt.Errorf("failed to create testkit: %w", err))
		}

		// A child started to run an exit test never returns from here.
		exittest.RunIfRequested(kit.ExitTest)

		return kit, nil
	}
}
