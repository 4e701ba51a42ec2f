// Package gcslink is the link layer of a ground-control station. It moves
// telemetry bytes from a serial port, a network bridge or a recorded log into
// typed telemetry events, the same way for live and replayed sources.
//
// # Architecture
//
//	┌──────────────────┐   RawData    ┌────────────┐  Packets  ┌─────────────┐
//	│ transport.Manager│ ───────────▶ │  Parser    │ ────────▶ │  Converter  │ ──▶ Telemetry
//	└──────────────────┘              └────────────┘           └─────────────┘
//	         │ PortOpened/PortClosed/RawData                          │
//	         ▼                                                        ▼
//	┌──────────────────┐                                     _parsed.dat records
//	│ recorder.Writer  │ ─────────────▶ _raw.bin
//	└──────────────────┘
//
//	┌──────────────────┐  raw chunks through Parser/Converter, or records
//	│  replay.Player   │ ───────────────────────────────────────────────────▶ Telemetry
//	└──────────────────┘  paced by the recorded timestamps
//
// Components never call each other directly. Each exposes event.Signal values
// and consumers subscribe, keeping the returned event.Token until they are
// done.
//
// # Packages
//
//   - event: typed publish/subscribe signals with explicit subscription tokens
//   - transport: port discovery, the single open connection and its read loop
//   - protocol: the parser, converter and packet contracts plus the
//     reference sync-word framing
//   - telemetry: the telemetry record and its fixed binary layout
//   - replay: timestamp-paced playback of raw and decoded logs
//   - recorder: capture of a live link to raw and decoded files
//   - config, errors, health, metric: configuration, classified errors,
//     health status and Prometheus metrics
//
// The gcslink command in cmd/gcslink wires these together.
package gcslink
