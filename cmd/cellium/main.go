// Package main implements the entry point for the Cellium message core.
// Cellium is the backend of a desktop shell: cells expose named actions,
// frontend messages are routed by the dispatcher, and everything else
// communicates through the event bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaojinao/cellium/bridge"
	"github.com/xiaojinao/cellium/capability"
	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/cells/calculator"
	"github.com/xiaojinao/cellium/cells/jsontest"
	"github.com/xiaojinao/cellium/cells/serialport"
	"github.com/xiaojinao/cellium/config"
	"github.com/xiaojinao/cellium/dispatch"
	"github.com/xiaojinao/cellium/eventbus"
	"github.com/xiaojinao/cellium/metric"
	"github.com/xiaojinao/cellium/procworker"
	"github.com/xiaojinao/cellium/worker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cellium"
)

// cellFactories maps cell names to their constructors. The settings
// file's enabled list selects from this table.
var cellFactories = map[string]cell.Factory{
	"calculator": calculator.New,
	"jsontest":   jsontest.New,
	"serialport": serialport.New,
}

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Worker mode speaks the function protocol on stdin/stdout and
	// never touches the rest of the stack.
	if cliCfg.WorkerMode {
		return procworker.Serve(os.Stdin, os.Stdout)
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Settings are valid")
		return nil
	}

	return runCore(cfg, logger, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if !cliCfg.WorkerMode {
		slog.Info("Starting Cellium (desktop shell message core)",
			"version", Version,
			"build_time", BuildTime,
			"config_path", cliCfg.ConfigPath)
	}

	return cliCfg, logger, false, nil
}

// runCore wires the full stack and blocks until a shutdown signal
func runCore(cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	safeCfg := config.NewSafeConfig(cfg)

	metricsRegistry := metric.NewRegistry()

	bus := eventbus.New(
		eventbus.WithLogger(logger),
		eventbus.WithMetricsRegistry(metricsRegistry),
	)

	pool := worker.NewTaskPool(cfg.Workers.Count, cfg.Workers.QueueSize,
		[]worker.Option[*worker.TaskItem]{
			worker.WithMetricsRegistry[*worker.TaskItem](metricsRegistry, "tasks"),
		})
	defer func() {
		if err := pool.Stop(shutdownTimeout); err != nil {
			logger.Warn("worker pool stop failed", "error", err)
		}
	}()

	registry := cell.NewRegistry(logger)

	dispatcher := dispatch.New(registry, bus,
		dispatch.WithTaskPool(pool),
		dispatch.WithLogger(logger),
		dispatch.WithMetricsRegistry(metricsRegistry),
	)

	// Shared services must be resolvable before any cell factory runs
	container := capability.New()
	container.Register("config", safeCfg)
	container.Register("bus", bus)
	container.Register("pool", pool)
	container.Register("metrics", metricsRegistry)
	container.Register("registry", registry)

	if cfg.Workers.Processes > 0 {
		procPool := procworker.NewPool(cfg.Workers.Processes,
			procworker.WithLogger(logger))
		if err := procPool.Start(); err != nil {
			return fmt.Errorf("start process workers: %w", err)
		}
		defer func() {
			if err := procPool.Stop(); err != nil {
				logger.Warn("process worker stop failed", "error", err)
			}
		}()
		container.Register("procpool", procPool)
	}

	deps := cell.Dependencies{
		Logger:    logger,
		Bus:       bus,
		Container: container,
		Metrics:   metricsRegistry,
	}

	loadResult := cell.Load(cfg.Cells.Enabled, cellFactories, deps, registry)
	if len(loadResult.Loaded) == 0 && len(loadResult.Failed) > 0 {
		return fmt.Errorf("no cells loaded (%d failed)", len(loadResult.Failed))
	}
	defer stopCells(registry, loadResult.Loaded, logger)

	// Two-phase static registration: handlers declared at package init
	// attach to the bus only now, under the bus namespace.
	pendingSubs := bus.RegisterPending()
	logger.Info("static event handlers registered", "count", len(pendingSubs))

	bus.Publish("app.ready", eventbus.Data{"version": Version})

	return serveUntilSignal(cfg, dispatcher, bus, metricsRegistry, logger, shutdownTimeout)
}

// serveUntilSignal starts the outward-facing servers and blocks until
// SIGINT/SIGTERM, then shuts them down within the timeout.
func serveUntilSignal(
	cfg *config.Config,
	dispatcher *dispatch.Dispatcher,
	bus *eventbus.Bus,
	metricsRegistry *metric.Registry,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	var bridgeServer *bridge.Server
	if cfg.Bridge.Enabled {
		bridgeServer = bridge.NewServer(cfg.Bridge, dispatcher.HandleMessage,
			bridge.WithLogger(logger))
		if err := bridgeServer.AttachBus(bus); err != nil {
			return fmt.Errorf("attach bridge to bus: %w", err)
		}
		if err := bridgeServer.Start(); err != nil {
			return fmt.Errorf("start bridge: %w", err)
		}
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if bridgeServer != nil {
			if err := bridgeServer.Stop(shutdownCtx); err != nil {
				logger.Warn("bridge shutdown failed", "error", err)
			}
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown failed", "error", err)
			}
		}
		bus.Close()
		return nil
	})

	logger.Info("cellium running")
	return group.Wait()
}

// stopCells gives Stoppable cells a chance to release resources
func stopCells(registry *cell.Registry, loaded []string, logger *slog.Logger) {
	for _, name := range loaded {
		c, err := registry.Resolve(name)
		if err != nil {
			continue
		}
		if stoppable, ok := c.(cell.Stoppable); ok {
			if err := stoppable.Stop(); err != nil {
				logger.Warn("cell stop failed", "cell", name, "error", err)
			}
		}
	}
}
