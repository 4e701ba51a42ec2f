// Package main implements gcslink, the command-line front end of the ground
// station link layer: it lists serial ports, captures a live link to disk and
// replays captured logs.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/gcslink/config"
	"github.com/c360/gcslink/errors"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gcslink"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(3)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		code := exitCode(err)
		slog.Error("Application failed", "error", err,
			"class", errors.Classify(err).String(), "exit_code", code)
		os.Exit(code)
	}
}

// exitCode maps a failure to the process exit status: 2 for bad usage or
// configuration, 1 for everything else.
func exitCode(err error) int {
	if errors.Classify(err) == errors.ErrorInvalid {
		return 2
	}
	return 1
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return usageError(fmt.Errorf("no command given"))
	}

	command := args[0]
	switch command {
	case "version", "-v", "--version":
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "ports", "capture", "replay", "config":
	default:
		printUsage(stderr)
		return usageError(fmt.Errorf("unknown command %q", command))
	}

	cliCfg, err := parseFlags(command, args[1:], stderr)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return usageError(err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return usageError(err)
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format, stderr)
	slog.SetDefault(logger)
	logger.Debug("Starting gcslink",
		"command", command,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	a := &app{cfg: cfg, cli: cliCfg, logger: logger, out: stdout}
	switch command {
	case "ports":
		return a.ports()
	case "capture":
		return a.capture(ctx)
	case "replay":
		return a.replay(ctx)
	default:
		_, err := fmt.Fprint(stdout, cfg.String())
		return err
	}
}

func usageError(err error) error {
	return errors.WrapInvalid(err, "CLI", "run", "parse flags")
}

// initializeConfiguration loads the configuration and applies flag overrides
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyFlagOverrides(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	switch {
	case cliCfg.MetricsPort == 0:
		cfg.Metrics.Enabled = false
	case cliCfg.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}
	if cliCfg.Dir != "" {
		cfg.Recorder.Dir = cliCfg.Dir
	}
	if cliCfg.Speed > 0 {
		cfg.Replay.Speed = cliCfg.Speed
	}
}
