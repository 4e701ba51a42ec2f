package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Command         string
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration

	// capture
	Port string
	Dir  string

	// replay
	File  string
	Kind  string
	Speed float64
	Seek  float64
	Loop  bool

	// explicit lists the flags given on the command line.
	explicit []string
}

func (c *CLIConfig) isSet(name string) bool {
	return contains(c.explicit, name)
}

// parseFlags parses the flags of one subcommand. Empty strings and the -1
// defaults of -metrics-port and -speed mean "use the loaded configuration".
func parseFlags(command string, args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{Command: command}

	fs := flag.NewFlagSet(appName+" "+command, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("GCSLINK_CONFIG", ""),
		"Path to a YAML configuration file (env: GCSLINK_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("GCSLINK_CONFIG", ""),
		"Path to a YAML configuration file (env: GCSLINK_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: GCSLINK_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: GCSLINK_LOG_FORMAT)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("GCSLINK_METRICS_PORT", -1),
		"Serve Prometheus metrics and /health on this port, 0 to disable (env: GCSLINK_METRICS_PORT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("GCSLINK_SHUTDOWN_TIMEOUT", 5*time.Second),
		"Graceful shutdown timeout (env: GCSLINK_SHUTDOWN_TIMEOUT)")

	switch command {
	case "capture":
		fs.StringVar(&cfg.Port, "port", getEnv("GCSLINK_PORT", ""),
			"Port identifier to open, as listed by 'ports' (env: GCSLINK_PORT)")
		fs.StringVar(&cfg.Dir, "dir", "",
			"Directory for capture files (env: GCSLINK_RECORDER_DIR)")
	case "replay":
		fs.StringVar(&cfg.File, "file", "", "Log file to replay")
		fs.StringVar(&cfg.Kind, "kind", "",
			"Log kind: raw or decoded (default: from the file suffix)")
		fs.Float64Var(&cfg.Speed, "speed", -1, "Playback speed factor (default: from config)")
		fs.Float64Var(&cfg.Seek, "seek", 0, "Start position as a fraction of the file, 0 to 1")
		fs.BoolVar(&cfg.Loop, "loop", false, "Restart from the beginning at end of file")
	}

	fs.Usage = func() { printCommandHelp(fs, command) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.explicit = append(cfg.explicit, f.Name) })
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < -1 || cfg.MetricsPort > 65535 || (cfg.isSet("metrics-port") && cfg.MetricsPort < 0) {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	switch cfg.Command {
	case "capture":
		if cfg.Port == "" {
			return fmt.Errorf("capture requires -port")
		}
	case "replay":
		if cfg.File == "" {
			return fmt.Errorf("replay requires -file")
		}
		if cfg.Seek < 0 || cfg.Seek > 1 {
			return fmt.Errorf("invalid seek position: %v", cfg.Seek)
		}
		if cfg.isSet("speed") && !validSpeed(cfg.Speed) {
			return fmt.Errorf("invalid speed: %v", cfg.Speed)
		}
	}
	return nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - ground station link layer

Usage: %s <command> [options]

Commands:
  ports     List serial ports and configured network endpoints
  capture   Record a link to raw and decoded log files
  replay    Play back a raw or decoded log
  config    Print the effective configuration
  version   Show version information

Run '%s <command> -h' for the options of a command.

Examples:
  %s capture -port /dev/ttyUSB0 -dir logs
  %s replay -file logs/20240517_093005_parsed.dat -speed 4
  %s capture -port udp://:14550
  GCSLINK_TRANSPORT_BAUD_RATE=57600 %s capture -port COM3

Version: %s
Build: %s
`, appName, appName, appName, appName, appName, appName, appName, Version, BuildTime)
}

func printCommandHelp(fs *flag.FlagSet, command string) {
	_, _ = fmt.Fprintf(fs.Output(), "Usage: %s %s [options]\n\nOptions:\n", appName, command)
	fs.PrintDefaults()
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func validSpeed(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
