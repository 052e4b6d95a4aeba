package testkit

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testkit/config"
	"github.com/ethereum-optimism/infra/op-testkit/flags"
	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/registry"
	"github.com/ethereum-optimism/infra/op-testkit/service"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

// RunOverrides hold run settings given on the command line. A nil field was
// not given and leaves the gate's value, or the default, in place.
type RunOverrides struct {
	TimeLimit      *time.Duration
	Iterations     *int
	Repetition     *types.Continuation
	Parallel       *bool
	MaxConcurrency int
}

// Config holds the application configuration
type Config struct {
	Plugins          []string
	GatesConfig      string
	Gate             string
	ModuleDir        string
	DiscoveryMode    registry.Mode
	Run              RunOverrides
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Exit after one test run
	LogDir           string        // Directory to store run logs
	ShowProgress     bool
	ProgressInterval time.Duration
	ListOnly         bool // Print the plan instead of running it
	Service          service.Config
	// Out receives the results table. Defaults to stdout.
	Out io.Writer
	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, listOnly bool) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	var plugins []string
	for _, p := range ctx.StringSlice(flags.Plugins.Name) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for plugin '%s': %w", p, err)
		}
		plugins = append(plugins, abs)
	}

	var gatesConfig string
	if p := ctx.String(flags.GatesConfig.Name); p != "" {
		var err error
		gatesConfig, err = filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for gates config '%s': %w", p, err)
		}
	}

	moduleDir, err := filepath.Abs(ctx.String(flags.ModuleDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for module directory: %w", err)
	}

	mode, err := registry.ParseMode(ctx.String(flags.DiscoveryMode.Name))
	if err != nil {
		return nil, err
	}

	overrides, err := readRunOverrides(ctx)
	if err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}
	svcCfg := service.Config{HealthzAddr: ctx.String(flags.HealthzAddr.Name)}
	if metricsCfg.Enabled {
		svcCfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	return &Config{
		Plugins:          plugins,
		GatesConfig:      gatesConfig,
		Gate:             ctx.String(flags.Gate.Name),
		ModuleDir:        moduleDir,
		DiscoveryMode:    mode,
		Run:              overrides,
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0 || listOnly,
		LogDir:           logDir,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		ListOnly:         listOnly,
		Service:          svcCfg,
		Out:              os.Stdout,
		Log:              log,
	}, nil
}

func readRunOverrides(ctx *cli.Context) (RunOverrides, error) {
	o := RunOverrides{MaxConcurrency: ctx.Int(flags.MaxConcurrency.Name)}
	if o.MaxConcurrency < 0 {
		return o, fmt.Errorf("max concurrency must not be negative, got %d", o.MaxConcurrency)
	}
	if ctx.IsSet(flags.TimeLimit.Name) {
		d := ctx.Duration(flags.TimeLimit.Name)
		o.TimeLimit = &d
	}
	if ctx.IsSet(flags.Iterations.Name) {
		n := ctx.Int(flags.Iterations.Name)
		if n < 1 {
			return o, fmt.Errorf("iterations must be at least 1, got %d", n)
		}
		o.Iterations = &n
	}
	if ctx.IsSet(flags.Repetition.Name) {
		c, err := types.ParseContinuation(ctx.String(flags.Repetition.Name))
		if err != nil {
			return o, err
		}
		o.Repetition = &c
	}
	if ctx.IsSet(flags.Parallel.Name) {
		p := ctx.Bool(flags.Parallel.Name)
		o.Parallel = &p
	}
	return o, nil
}

// PlanConfiguration combines the defaults, the gate's settings and the
// command line overrides, in that order of precedence from lowest to highest.
// gate may be nil.
func (c *Config) PlanConfiguration(gate *config.GateConfig) (plan.Configuration, error) {
	pc := plan.Configuration{Repetition: types.Once()}
	if gate != nil {
		pc.Selection = gate.Filter()
		if err := gate.ApplyRun(&pc); err != nil {
			return pc, err
		}
	}
	if c.Run.TimeLimit != nil {
		pc.DefaultTimeLimit = *c.Run.TimeLimit
	}
	if c.Run.Iterations != nil {
		pc.Repetition.MaxIterations = *c.Run.Iterations
	}
	if c.Run.Repetition != nil {
		pc.Repetition.Continuation = *c.Run.Repetition
	}
	if c.Run.Parallel != nil {
		pc.Parallel = *c.Run.Parallel
	}
	pc.MaxConcurrency = c.Run.MaxConcurrency
	return pc, nil
}
