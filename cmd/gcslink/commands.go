package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/c360/gcslink/config"
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/health"
	"github.com/c360/gcslink/metric"
	"github.com/c360/gcslink/protocol"
	"github.com/c360/gcslink/recorder"
	"github.com/c360/gcslink/replay"
	"github.com/c360/gcslink/telemetry"
	"github.com/c360/gcslink/transport"
)

// app carries what every subcommand needs.
type app struct {
	cfg    *config.Config
	cli    *CLIConfig
	logger *slog.Logger
	out    io.Writer
	outMu  sync.Mutex
}

// startMetrics serves metrics and status on /health when metrics are
// enabled. The returned registry is nil when they are not.
func (a *app) startMetrics(status func() health.Status) (*metric.MetricsRegistry, func()) {
	if !a.cfg.Metrics.Enabled {
		return nil, func() {}
	}

	registry := metric.NewMetricsRegistry()
	server := metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, registry)

	server.SetHealth(status)

	go func() {
		if err := server.Start(); err != nil {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("metrics server listening", "address", server.Address())

	return registry, func() {
		if err := server.Stop(); err != nil {
			a.logger.Warn("failed to stop metrics server", "error", err)
		}
	}
}

func (a *app) println(line string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, _ = fmt.Fprintln(a.out, line)
}

// driver opens serial ports and the configured network endpoints.
func (a *app) driver() transport.Driver {
	return transport.RoutingDriver{
		Serial: transport.NewSerialDriver(a.logger),
		Net:    transport.NewNetDriver(a.cfg.Network, a.logger),
	}
}

func (a *app) ports() error {
	mgr, err := transport.NewManager(transport.ManagerDeps{
		Driver: a.driver(),
		Config: a.cfg.Transport,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}

	ports, err := mgr.Discover()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		a.println("no ports found")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME")
	for _, p := range ports {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Name)
	}
	return tw.Flush()
}

func (a *app) capture(ctx context.Context) error {
	checks := health.NewMonitor()
	registry, stopMetrics := a.startMetrics(func() health.Status { return checks.AggregateHealth(appName) })
	defer stopMetrics()

	parser := protocol.NewFrameParser(protocol.DefaultRegistry(), a.logger)
	converter := protocol.NewTelemetryConverter(a.logger)

	mgr, err := transport.NewManager(transport.ManagerDeps{
		Driver:          a.driver(),
		Config:          a.cfg.Transport,
		MetricsRegistry: registry,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	checks.Register("transport", mgr.Health)

	writer, err := recorder.NewWriter(recorder.WriterDeps{
		Parser:          parser,
		Converter:       converter,
		Config:          a.cfg.Recorder,
		MetricsRegistry: registry,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			a.logger.Warn("failed to close capture", "error", err)
		}
	}()
	writer.Bind(mgr)
	checks.Register("recorder", writer.Health)

	lost := make(chan transport.PortInfo, 1)
	var tokens event.Tokens
	defer tokens.ReleaseAll()
	tokens.Add(
		converter.Telemetry().Subscribe(func(d telemetry.Data) {
			a.logger.Debug("telemetry", "record", formatTelemetry(d))
		}),
		parser.ChecksumFailures().Subscribe(func(frame []byte) {
			a.logger.Warn("checksum failure", "frame_bytes", len(frame))
		}),
		mgr.PortClosed().Subscribe(func(info transport.PortInfo) {
			select {
			case lost <- info:
			default:
			}
		}),
	)

	if _, err := mgr.Discover(); err != nil {
		a.logger.Warn("port discovery failed, opening by identifier", "error", err)
	}
	if err := mgr.Open(a.cli.Port); err != nil {
		return err
	}

	files := writer.Files()
	a.logger.Info("capturing", "port", a.cli.Port, "session", mgr.SessionID(),
		"raw", files.Raw, "decoded", files.Decoded)

	var result error
	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case info := <-lost:
		result = fmt.Errorf("link to %s closed", info.ID)
	}

	if err := mgr.Stop(a.cli.ShutdownTimeout); err != nil {
		a.logger.Error("Error stopping transport", "error", err)
		if result == nil {
			result = err
		}
	}

	stats := parser.Stats()
	a.logger.Info("capture finished",
		"frames", stats.Frames,
		"checksum_failures", stats.ChecksumFailure,
		"records", converter.Converted())
	return result
}

func (a *app) replay(ctx context.Context) error {
	kind, err := replayKind(a.cli.Kind, a.cli.File)
	if err != nil {
		return err
	}

	checks := health.NewMonitor()
	registry, stopMetrics := a.startMetrics(func() health.Status { return checks.AggregateHealth(appName) })
	defer stopMetrics()

	player, err := replay.NewPlayer(replay.PlayerDeps{
		Parser:          protocol.NewFrameParser(protocol.DefaultRegistry(), a.logger),
		Converter:       protocol.NewTelemetryConverter(a.logger),
		Config:          a.cfg.Replay,
		MetricsRegistry: registry,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = player.Close() }()
	checks.Register("replay", player.Health)

	finished := make(chan struct{}, 1)
	var tokens event.Tokens
	defer tokens.ReleaseAll()
	tokens.Add(
		player.Telemetry().Subscribe(func(d telemetry.Data) {
			a.println(formatTelemetry(d))
		}),
		player.ChecksumFailed().Subscribe(func(frame []byte) {
			a.logger.Warn("checksum failure", "frame_bytes", len(frame))
		}),
		player.EOF().Subscribe(func(struct{}) {
			if a.cli.Loop {
				player.Stop()
				if err := player.Play(); err == nil {
					return
				}
			}
			select {
			case finished <- struct{}{}:
			default:
			}
		}),
	)

	if err := player.Load(a.cli.File, kind); err != nil {
		return err
	}
	if a.cli.Seek > 0 {
		if err := player.SeekTo(a.cli.Seek); err != nil {
			return err
		}
	}
	if err := player.Play(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	case <-finished:
	}
	player.Stop()
	return nil
}

// replayKind returns the explicit kind, or infers it from the capture file
// suffix.
func replayKind(explicit, path string) (replay.Kind, error) {
	if explicit != "" {
		return replay.ParseKind(explicit)
	}
	switch {
	case strings.HasSuffix(path, recorder.RawSuffix):
		return replay.KindRaw, nil
	case strings.HasSuffix(path, recorder.DecodedSuffix):
		return replay.KindDecoded, nil
	}
	return 0, fmt.Errorf("cannot infer log kind of %s, use -kind raw or -kind decoded", path)
}
