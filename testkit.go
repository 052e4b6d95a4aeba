// Package testkit discovers the tests compiled into the process and the
// plugins it loads, builds a plan and runs it.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-testkit/config"
	"github.com/ethereum-optimism/infra/op-testkit/exitcodes"
	"github.com/ethereum-optimism/infra/op-testkit/exittest"
	"github.com/ethereum-optimism/infra/op-testkit/logging"
	"github.com/ethereum-optimism/infra/op-testkit/metrics"
	"github.com/ethereum-optimism/infra/op-testkit/plan"
	"github.com/ethereum-optimism/infra/op-testkit/registry"
	"github.com/ethereum-optimism/infra/op-testkit/reporting"
	"github.com/ethereum-optimism/infra/op-testkit/runner"
	"github.com/ethereum-optimism/infra/op-testkit/section"
	"github.com/ethereum-optimism/infra/op-testkit/service"
	"github.com/ethereum-optimism/infra/op-testkit/types"
)

var _ cliapp.Lifecycle = (*TestKit)(nil)

// TestKit runs the discovered tests once or at a fixed interval.
type TestKit struct {
	ctx      context.Context
	config   *Config
	version  string
	registry *registry.Registry
	exits    *exittest.Handler
	gate     *config.GateConfig
	service  *service.Service

	reportMu sync.Mutex
	report   *reporting.Report

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error)
}

func New(ctx context.Context, cfg *Config, version string, shutdownCallback func(error)) (*TestKit, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	cfg.Log.Debug("Creating testkit with config",
		"plugins", cfg.Plugins,
		"gatesConfig", cfg.GatesConfig,
		"gate", cfg.Gate,
		"discoveryMode", cfg.DiscoveryMode,
		"runInterval", cfg.RunInterval,
		"runOnce", cfg.RunOnce)

	for _, p := range cfg.Plugins {
		if _, err := section.Open(p); err != nil {
			return nil, fmt.Errorf("failed to load plugin: %w", err)
		}
	}

	reg, err := registry.NewRegistry(registry.Config{
		Log:  cfg.Log,
		Mode: cfg.DiscoveryMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	exits, err := exittest.NewHandler(exittest.Config{Log: cfg.Log})
	if err != nil {
		return nil, fmt.Errorf("failed to create exit test handler: %w", err)
	}

	var gate *config.GateConfig
	if cfg.Gate != "" {
		gates, err := config.Load(cfg.GatesConfig)
		if err != nil {
			return nil, err
		}
		if err := gates.ResolvePackages(cfg.ModuleDir); err != nil {
			return nil, err
		}
		gate, err = gates.Gate(cfg.Gate)
		if err != nil {
			return nil, err
		}
	}

	return &TestKit{
		ctx:              ctx,
		config:           cfg,
		version:          version,
		registry:         reg,
		exits:            exits,
		gate:             gate,
		service:          service.New(cfg.Log, cfg.Service),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// ExitTest looks up an exit test among the records of every loaded image.
func (k *TestKit) ExitTest(id string) (*types.ExitTest, error) {
	return k.registry.ExitTest(id)
}

// Report returns the report of the last finished run, or nil.
func (k *TestKit) Report() *reporting.Report {
	k.reportMu.Lock()
	defer k.reportMu.Unlock()
	return k.report
}

// Start runs the tests immediately, then again at every run interval unless
// the kit runs once.
// Start implements the cliapp.Lifecycle interface.
func (k *TestKit) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			k.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	k.ctx = ctx
	k.done = make(chan struct{})
	k.running.Store(true)

	if k.config.RunOnce {
		k.config.Log.Info("Starting op-testkit in run-once mode")
	} else {
		k.config.Log.Info("Starting op-testkit in continuous mode", "interval", k.config.RunInterval)
	}
	if !k.config.ListOnly {
		k.service.Start(ctx)
	}

	if err := k.runTests(ctx); err != nil {
		k.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if k.config.RunOnce {
		k.config.Log.Info("Tests completed, exiting (run-once mode)")
		if rep := k.Report(); rep != nil && rep.Failed() {
			k.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(rep.String())
		}
		go func() {
			k.shutdownCallback(nil)
		}()
		return nil
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			select {
			case <-time.After(k.config.RunInterval):
				if !k.running.Load() {
					return
				}
				k.config.Log.Info("Running periodic tests")
				if err := k.runTests(ctx); err != nil {
					k.config.Log.Error("Error running periodic tests", "error", err)
				}
			case <-k.done:
				k.config.Log.Debug("Done signal received, stopping periodic test runner")
				return
			case <-ctx.Done():
				k.config.Log.Debug("Context canceled, stopping periodic test runner")
				k.running.Store(false)
				return
			}
		}
	}()
	return nil
}

func (k *TestKit) gateID() string {
	if k.gate == nil {
		return "all"
	}
	return k.gate.ID
}

func (k *TestKit) buildPlan(ctx context.Context) (*plan.Plan, error) {
	tests, err := k.registry.Tests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tests: %w", err)
	}
	metrics.RecordDiscovered(string(k.registry.Mode()), len(tests))

	pc, err := k.config.PlanConfiguration(k.gate)
	if err != nil {
		return nil, err
	}
	return plan.Build(ctx, k.config.Log, tests, pc)
}

// runTests builds a fresh plan and runs it. Returned errors are runtime
// errors; test failures end up in the report.
func (k *TestKit) runTests(ctx context.Context) error {
	p, err := k.buildPlan(ctx)
	if err != nil {
		metrics.RecordErrorDetails("plan", err)
		return NewRuntimeError(err)
	}
	if k.config.ListOnly {
		reporting.WriteList(k.config.Out, p)
		return nil
	}

	runID := uuid.New().String()
	lgr := k.config.Log.New("run_id", runID)

	fileLogger, err := logging.NewFileLogger(lgr, k.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}

	collector := reporting.NewCollector()
	handlers := []types.EventHandler{collector.Handle, fileLogger.Handle, metrics.EventHandler(k.gateID())}
	if k.config.ShowProgress {
		progress := runner.NewConsoleProgress(lgr, k.config.ProgressInterval)
		defer progress.Stop()
		handlers = append(handlers, progress.Handle)
	}

	r, err := runner.New(runner.Config{
		Log:             lgr,
		Plan:            p,
		EventHandler:    types.Tee(handlers...),
		ExitTestHandler: k.exits.Run,
	})
	if err != nil {
		return NewRuntimeError(err)
	}
	summary, err := r.Run(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}

	rep := collector.Report()
	k.reportMu.Lock()
	k.report = rep
	k.reportMu.Unlock()
	if err := fileLogger.Complete(rep); err != nil {
		lgr.Warn("Failed to write run logs", "err", err)
	}
	metrics.RecordReport(k.gateID(), runID, rep)

	reporting.WriteResults(k.config.Out, rep)
	lgr.Info("Test run completed", "status", rep.Status, "iterations", summary.Iterations,
		"issues", summary.Issues, "logdir", fileLogger.LogDir())
	return nil
}

// Stop stops periodic runs and the health and metrics servers.
// Stop implements the cliapp.Lifecycle interface.
func (k *TestKit) Stop(ctx context.Context) error {
	k.config.Log.Info("Stopping op-testkit")
	if !k.running.Load() {
		k.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	k.running.Store(false)
	close(k.done)
	k.service.Shutdown()
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (k *TestKit) Stopped() bool {
	return !k.running.Load()
}

// WaitForShutdown waits for the periodic runner to exit.
func (k *TestKit) WaitForShutdown() {
	k.wg.Wait()
}
