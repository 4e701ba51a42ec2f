package protocol

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/c360/gcslink/event"
)

var syncWord = []byte{Sync0, Sync1}

// ParserStats counts what a FrameParser has seen since creation.
type ParserStats struct {
	Frames          uint64
	ChecksumFailure uint64
	UnknownPackets  uint64
	DecodeErrors    uint64
}

// FrameParser is the reference Parser for the sync-word framing in frame.go.
// It resynchronizes on the sync word after garbage or a bad checksum.
type FrameParser struct {
	registry *Registry
	logger   *slog.Logger

	mu    sync.Mutex
	buf   []byte
	stats ParserStats

	packets  event.Signal[Packet]
	failures event.Signal[[]byte]
}

// NewFrameParser creates a parser that builds packets from registry.
// A nil registry means DefaultRegistry.
func NewFrameParser(registry *Registry, logger *slog.Logger) *FrameParser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameParser{
		registry: registry,
		logger:   logger.With("component", "frame-parser"),
		buf:      make([]byte, 0, MaxFrameSize),
	}
}

func (p *FrameParser) Packets() *event.Signal[Packet]          { return &p.packets }
func (p *FrameParser) ChecksumFailures() *event.Signal[[]byte] { return &p.failures }

// Push implements Parser.
func (p *FrameParser) Push(data []byte) {
	if len(data) == 0 {
		return
	}

	p.mu.Lock()
	p.buf = append(p.buf, data...)
	results := p.drain()
	p.mu.Unlock()

	for _, r := range results {
		if r.packet != nil {
			p.packets.Publish(r.packet)
		} else {
			p.failures.Publish(r.rejected)
		}
	}
}

// result is one outcome of drain, in stream order.
type result struct {
	packet   Packet
	rejected []byte
}

// Reset implements Parser.
func (p *FrameParser) Reset() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	p.mu.Unlock()
}

// Stats returns a copy of the parser counters.
func (p *FrameParser) Stats() ParserStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// drain extracts every complete frame from the buffer. Caller holds p.mu.
func (p *FrameParser) drain() (results []result) {
	for {
		start := bytes.Index(p.buf, syncWord)
		if start < 0 {
			// Keep a trailing first sync byte; its partner may be in the next push.
			if n := len(p.buf); n > 0 && p.buf[n-1] == Sync0 {
				p.consume(n - 1)
			} else {
				p.buf = p.buf[:0]
			}
			return results
		}
		p.consume(start)

		size := frameSize(p.buf)
		if size == 0 || len(p.buf) < size {
			return results
		}
		frame := p.buf[:size]

		if !verifyFrame(frame) {
			p.stats.ChecksumFailure++
			results = append(results, result{rejected: bytes.Clone(frame)})
			p.consume(SyncSize)
			continue
		}

		p.stats.Frames++
		if pkt := p.decode(frame); pkt != nil {
			results = append(results, result{packet: pkt})
		}
		p.consume(size)
	}
}

func (p *FrameParser) decode(frame []byte) Packet {
	id := frame[2]
	pkt, ok := p.registry.New(id)
	if !ok {
		p.stats.UnknownPackets++
		p.logger.Debug("dropping frame with unregistered id", "packet_id", id)
		return nil
	}

	payload := bytes.Clone(frame[HeaderSize : len(frame)-CRCSize])
	if err := pkt.UnmarshalBinary(payload); err != nil {
		p.stats.DecodeErrors++
		p.logger.Warn("failed to decode packet", "packet_id", id, "error", err)
		return nil
	}
	return pkt
}

func (p *FrameParser) consume(n int) {
	rest := copy(p.buf, p.buf[n:])
	p.buf = p.buf[:rest]
}
