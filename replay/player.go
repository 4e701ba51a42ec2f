// Package replay plays recorded logs back through the same event shapes the
// live link produces, paced by the timestamps embedded in the telemetry.
//
// A Player reads either a raw capture, which it feeds through a parser and
// converter, or a decoded log of fixed-size telemetry records. Control calls
// (Play, Pause, Stop, SetSpeed, SeekTo) may come from any goroutine while the
// playback goroutine runs.
//
// Callbacks on the Player's signals run on the playback goroutine. From a
// Telemetry or ChecksumFailed callback only Pause, SetSpeed and SeekTo may be
// called; Stop and Play would wait on the goroutine running the callback.
// EOF callbacks may call any method.
package replay

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/health"
	"github.com/c360/gcslink/metric"
	"github.com/c360/gcslink/protocol"
	"github.com/c360/gcslink/telemetry"
)

// PlayerDeps holds the dependencies of a Player. Parser and Converter are
// required for raw logs only and must not be shared with other producers.
type PlayerDeps struct {
	Parser          protocol.Parser
	Converter       protocol.Converter
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional, defaults to slog.Default()
}

// run is one start of the playback goroutine.
type run struct {
	gen  uint64
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (r *run) cancel() {
	r.once.Do(func() { close(r.stop) })
}

// Player replays one log file at a time.
type Player struct {
	parser    protocol.Parser
	converter protocol.Converter
	config    Config
	logger    *slog.Logger
	metrics   *Metrics
	tokens    event.Tokens

	ctlMu   sync.Mutex // serializes Load, Play, Stop and Close
	current *run
	active  atomic.Pointer[run]
	gen     atomic.Uint64 // bumped by every stop; a run only reports EOF for its own generation

	fileMu sync.Mutex
	file   *os.File
	path   string
	kind   Kind
	size   int64
	offset int64

	playing      atomic.Bool
	paused       atomic.Bool
	stopReq      atomic.Bool
	resetPending atomic.Bool
	speed        atomic.Uint64 // math.Float64bits

	// Pacing state, owned by the playback goroutine.
	hasBaseline bool
	baseline    uint32

	sleep func(d time.Duration, stop <-chan struct{})

	emitted          atomic.Int64
	checksumFailures atomic.Int64

	telemetry      event.Signal[telemetry.Data]
	checksumFailed event.Signal[[]byte]
	eof            event.Signal[struct{}]
}

// NewPlayer creates a stopped Player with nothing loaded. A zero Config means
// DefaultConfig.
func NewPlayer(deps PlayerDeps) (*Player, error) {
	cfg := deps.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Player{
		parser:    deps.Parser,
		converter: deps.Converter,
		config:    cfg,
		logger:    logger.With("component", "replay"),
		sleep:     sleepUntilStopped,
	}
	if deps.MetricsRegistry != nil {
		metrics, err := newMetrics(deps.MetricsRegistry)
		if err != nil {
			p.logger.Warn("failed to register metrics", "error", err)
		}
		p.metrics = metrics
	}
	p.speed.Store(math.Float64bits(cfg.Speed))

	if p.parser != nil && p.converter != nil {
		p.tokens.Add(
			protocol.Pipe(p.parser, p.converter),
			p.converter.Telemetry().Subscribe(p.deliver),
			p.parser.ChecksumFailures().Subscribe(p.onChecksumFailure),
		)
	}

	return p, nil
}

// Telemetry carries each replayed telemetry value.
func (p *Player) Telemetry() *event.Signal[telemetry.Data] { return &p.telemetry }

// ChecksumFailed carries frames the parser rejected during raw replay.
func (p *Player) ChecksumFailed() *event.Signal[[]byte] { return &p.checksumFailed }

// EOF fires once each time playback runs off the end of the file.
func (p *Player) EOF() *event.Signal[struct{}] { return &p.eof }

// Load stops playback and opens path as a log of the given kind. On failure
// nothing is loaded.
func (p *Player) Load(path string, kind Kind) error {
	switch kind {
	case KindRaw:
		if p.parser == nil || p.converter == nil {
			return errors.WrapInvalid(errors.ErrNoParser, "Player", "Load", fmt.Sprintf("load %s", path))
		}
	case KindDecoded:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, kind),
			"Player", "Load", "check log kind")
	}

	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	p.stopLocked()
	p.unload()

	f, err := os.Open(path)
	if err != nil {
		p.logger.Error("failed to open log", "path", path, "error", err)
		return errors.WrapTransient(err, "Player", "Load", fmt.Sprintf("open %s", path))
	}

	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%w: %s is a directory", errors.ErrInvalidData, path)
	}
	if err != nil {
		_ = f.Close()
		p.logger.Error("failed to inspect log", "path", path, "error", err)
		return errors.WrapInvalid(err, "Player", "Load", fmt.Sprintf("stat %s", path))
	}

	p.fileMu.Lock()
	p.file = f
	p.path = path
	p.kind = kind
	p.size = info.Size()
	p.offset = 0
	p.fileMu.Unlock()

	p.resetPending.Store(true)
	p.setPositionMetric(0)

	if kind == KindDecoded && info.Size()%telemetry.RecordSize != 0 {
		p.logger.Warn("decoded log has a partial trailing record",
			"path", path, "size", info.Size(), "record_size", telemetry.RecordSize)
	}
	p.logger.Info("log loaded", "path", path, "kind", kind, "size", info.Size())
	return nil
}

// Play starts playback, or resumes it when paused.
func (p *Player) Play() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.playing.Load() {
		p.paused.Store(false)
		return nil
	}

	p.fileMu.Lock()
	loaded := p.file != nil
	p.fileMu.Unlock()
	if !loaded {
		return errors.WrapInvalid(errors.ErrNotLoaded, "Player", "Play", "start playback")
	}

	r := &run{gen: p.gen.Load(), stop: make(chan struct{}), done: make(chan struct{})}
	p.current = r
	p.active.Store(r)
	p.stopReq.Store(false)
	p.paused.Store(false)
	p.playing.Store(true)

	go p.loop(r)
	return nil
}

// Pause suspends playback without consuming file data.
func (p *Player) Pause() {
	p.paused.Store(true)
}

// Stop ends playback, rewinds to the start and clears pacing state. It is
// safe in any state.
func (p *Player) Stop() {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	p.gen.Add(1)
	p.stopReq.Store(true)
	if r := p.current; r != nil {
		r.cancel()
		<-r.done
		p.current = nil
	}
	p.paused.Store(false)

	p.fileMu.Lock()
	if p.file != nil {
		if _, err := p.file.Seek(0, io.SeekStart); err != nil {
			p.logger.Warn("failed to rewind log", "path", p.path, "error", err)
		}
		p.offset = 0
	}
	p.fileMu.Unlock()

	p.resetPending.Store(true)
	p.setPositionMetric(0)
}

// unload closes the loaded file. Caller holds ctlMu with playback stopped.
func (p *Player) unload() {
	p.fileMu.Lock()
	f := p.file
	p.file = nil
	p.path = ""
	p.size = 0
	p.offset = 0
	p.fileMu.Unlock()

	if f != nil {
		_ = f.Close()
	}
}

// Close stops playback, closes the file and detaches from the parser and
// converter.
func (p *Player) Close() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	p.stopLocked()
	p.unload()
	p.tokens.ReleaseAll()
	return nil
}

// SetSpeed sets the playback speed factor. Values that are not positive
// finite numbers are ignored.
func (p *Player) SetSpeed(factor float64) {
	if !validSpeed(factor) {
		p.logger.Debug("ignoring invalid speed", "speed", factor)
		return
	}
	p.speed.Store(math.Float64bits(factor))
}

// Speed returns the playback speed factor.
func (p *Player) Speed() float64 {
	return math.Float64frombits(p.speed.Load())
}

// SeekTo moves to fraction (clamped to [0, 1]) of the file. Decoded logs
// land on a record boundary. Parser and converter state is dropped before the
// next read.
func (p *Player) SeekTo(fraction float64) error {
	switch {
	case math.IsNaN(fraction) || fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}

	p.fileMu.Lock()
	if p.file == nil {
		p.fileMu.Unlock()
		return errors.WrapInvalid(errors.ErrNotLoaded, "Player", "SeekTo", "seek")
	}
	offset := int64(float64(p.size) * fraction)
	if p.kind == KindDecoded {
		offset -= offset % telemetry.RecordSize
	}
	_, err := p.file.Seek(offset, io.SeekStart)
	if err == nil {
		p.offset = offset
	}
	path := p.path
	p.fileMu.Unlock()

	if err != nil {
		p.logger.Error("seek failed", "path", path, "offset", offset, "error", err)
		return errors.WrapTransient(err, "Player", "SeekTo", fmt.Sprintf("seek to %d", offset))
	}

	p.resetPending.Store(true)
	if p.metrics != nil {
		p.metrics.seeks.Inc()
	}
	p.setPositionMetric(p.Position())
	p.logger.Debug("seek", "fraction", fraction, "offset", offset)
	return nil
}

// IsPlaying reports whether the playback goroutine is running, paused or not.
func (p *Player) IsPlaying() bool {
	return p.playing.Load()
}

// IsPaused reports whether playback is running but paused.
func (p *Player) IsPaused() bool {
	return p.playing.Load() && p.paused.Load()
}

// Position returns the fraction of the file consumed so far.
func (p *Player) Position() float64 {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if p.size <= 0 {
		return 0
	}
	return float64(p.offset) / float64(p.size)
}

// Offset returns the byte offset of the next read.
func (p *Player) Offset() int64 {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	return p.offset
}

// Path returns the loaded file, or "" when nothing is loaded.
func (p *Player) Path() string {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	return p.path
}

// Kind returns the kind of the loaded file.
func (p *Player) Kind() Kind {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	return p.kind
}

// Health reports the replay state.
func (p *Player) Health() health.Status {
	path := p.Path()

	var status health.Status
	switch {
	case path == "":
		status = health.NewDegraded("replay", "no log loaded")
	case p.IsPaused():
		status = health.NewHealthy("replay", "paused "+path)
	case p.IsPlaying():
		status = health.NewHealthy("replay", "playing "+path)
	default:
		status = health.NewHealthy("replay", "stopped "+path)
	}
	return status.WithMetrics(&health.Metrics{
		Events:     p.emitted.Load(),
		ErrorCount: int(p.checksumFailures.Load()),
	})
}

func (p *Player) loop(r *run) {
	p.logger.Info("playback started", "speed", p.Speed())

	eof := false
	for !p.stopReq.Load() {
		if p.paused.Load() {
			sleepUntilStopped(p.config.PauseInterval, r.stop)
			continue
		}

		if p.resetPending.Swap(false) {
			p.resetPipeline()
		}

		if !p.step() {
			eof = true
			break
		}
	}

	p.stopReq.Store(true)
	p.playing.Store(false)
	p.setPositionMetric(p.Position())
	close(r.done)

	if eof {
		p.publishEOF(r)
	}
}

// publishEOF reports the end of r's file unless a Stop or Load has happened
// since r started, so a finished run never announces EOF for a file loaded
// after it.
func (p *Player) publishEOF(r *run) {
	if p.gen.Load() != r.gen {
		p.logger.Debug("dropping end of file of a stopped run")
		return
	}
	p.logger.Info("playback reached end of file", "records", p.emitted.Load())
	if p.metrics != nil {
		p.metrics.eofs.Inc()
	}
	p.eof.Publish(struct{}{})
}

// resetPipeline drops pacing and decoder state. Runs on the playback goroutine.
func (p *Player) resetPipeline() {
	p.hasBaseline = false
	p.baseline = 0
	if p.parser != nil {
		p.parser.Reset()
	}
	if p.converter != nil {
		p.converter.Reset()
	}
}

// step processes one unit of the file and reports whether a full unit was
// read.
func (p *Player) step() bool {
	p.fileMu.Lock()
	if p.file == nil {
		p.fileMu.Unlock()
		return false
	}
	kind := p.kind
	size := telemetry.RecordSize
	if kind == KindRaw {
		size = p.config.RawChunkSize
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(p.file, buf)
	p.offset += int64(n)
	p.fileMu.Unlock()

	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		p.logger.Error("log read failed", "error", err)
	}

	if kind == KindRaw {
		if n > 0 {
			// Telemetry decoded from this chunk comes back through deliver.
			p.parser.Push(buf[:n])
		}
		return n == size
	}

	if n < size {
		if n > 0 {
			p.logger.Warn("discarding partial trailing record", "bytes", n)
		}
		return false
	}

	var d telemetry.Data
	if err := d.UnmarshalBinary(buf); err != nil {
		p.logger.Error("failed to decode record", "error", err)
		return false
	}
	p.deliver(d)
	return true
}

// deliver paces and publishes one telemetry value.
func (p *Player) deliver(d telemetry.Data) {
	if wait := p.pacing(d.Timestamp); wait > 0 {
		if p.metrics != nil {
			p.metrics.pacing.Observe(wait.Seconds())
		}
		var stop <-chan struct{}
		if r := p.active.Load(); r != nil {
			stop = r.stop
		}
		p.sleep(wait, stop)
	}

	if p.stopReq.Load() {
		return
	}

	p.emitted.Add(1)
	if p.metrics != nil {
		p.metrics.records.Inc()
	}
	p.telemetry.Publish(d)
}

// pacing returns how long to wait before emitting a value stamped ts and
// moves the baseline to ts.
func (p *Player) pacing(ts uint32) time.Duration {
	if !p.hasBaseline {
		p.hasBaseline = true
		p.baseline = ts
		return 0
	}

	delta := int64(ts) - int64(p.baseline)
	p.baseline = ts

	if delta <= 0 || time.Duration(delta)*time.Millisecond >= p.config.MaxDelta {
		return 0
	}

	wait := time.Duration(float64(delta) / p.Speed() * float64(time.Millisecond))
	if wait < p.config.MinSleep {
		return 0
	}
	return wait
}

func (p *Player) onChecksumFailure(frame []byte) {
	p.checksumFailures.Add(1)
	if p.metrics != nil {
		p.metrics.checksumFailures.Inc()
	}
	p.checksumFailed.Publish(frame)
}

func (p *Player) setPositionMetric(v float64) {
	if p.metrics != nil {
		p.metrics.position.Set(v)
	}
}

func sleepUntilStopped(d time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}
