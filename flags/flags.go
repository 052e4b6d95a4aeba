package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testkit/registry"
	"github.com/ethereum-optimism/infra/op-testkit/runner"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

const EnvVarPrefix = "OP_TESTKIT"

var (
	Plugins = &cli.StringSliceFlag{
		Name:    "plugin",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLUGIN"),
		Usage:   "Path to a plugin image with tests to load. Can be given more than once.",
	}
	GatesConfig = &cli.StringFlag{
		Name:    "gates-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATES_CONFIG"),
		Usage:   "Path to a gates file (eg. 'gates.yaml')",
	}
	Gate = &cli.StringFlag{
		Name:    "gate",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATE"),
		Usage:   "Gate to run (eg. 'smoke'). Requires --gates-config. Runs every test when omitted.",
	}
	ModuleDir = &cli.StringFlag{
		Name:    "module-dir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODULE_DIR"),
		Usage:   "Directory whose go.mod resolves relative package patterns in the gates file",
	}
	DiscoveryMode = &cli.StringFlag{
		Name:    "discovery-mode",
		Value:   string(registry.ModeBoth),
		EnvVars: []string{registry.EnvDiscoveryMode},
		Usage:   fmt.Sprintf("Discovery mode: %s, %s or %s", registry.ModeNew, registry.ModeLegacy, registry.ModeBoth),
	}
	Parallel = &cli.BoolFlag{
		Name:    "parallel",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARALLEL"),
		Usage:   "Run tests and cases concurrently",
	}
	MaxConcurrency = &cli.IntFlag{
		Name:    "max-concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_CONCURRENCY"),
		Usage:   "Number of test bodies that may run at once in a parallel run (0 = auto-determine)",
	}
	TimeLimit = &cli.DurationFlag{
		Name:    "time-limit",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIME_LIMIT"),
		Usage:   "Default time limit of every test case (e.g. '30s'). 0 means no limit.",
	}
	Iterations = &cli.IntFlag{
		Name:    "iterations",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ITERATIONS"),
		Usage:   "Maximum number of times to run the plan",
	}
	Repetition = &cli.StringFlag{
		Name:    "repetition",
		Value:   string(types.ContinueAlways),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPETITION"),
		Usage: fmt.Sprintf("When to start another iteration: %s, %s or %s",
			types.ContinueAlways, types.UntilIssueRecorded, types.WhileIssueRecorded),
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store run logs",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while tests run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   runner.DefaultProgressInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the health check server. Empty disables it.",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Plugins,
	GatesConfig,
	Gate,
	ModuleDir,
	DiscoveryMode,
	Parallel,
	MaxConcurrency,
	TimeLimit,
	Iterations,
	Repetition,
	RunInterval,
	LogDir,
	ShowProgress,
	ProgressInterval,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if ctx.IsSet(Gate.Name) && ctx.String(GatesConfig.Name) == "" {
		return fmt.Errorf("flag %s requires %s", Gate.Name, GatesConfig.Name)
	}
	return opflags.CheckRequiredXor(ctx)
}
