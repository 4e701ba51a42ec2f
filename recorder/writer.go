// Package recorder captures a live link to disk: the raw byte stream as
// received and the decoded telemetry as fixed-size records that the replay
// package can play back.
package recorder

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/health"
	"github.com/c360/gcslink/metric"
	"github.com/c360/gcslink/protocol"
	"github.com/c360/gcslink/telemetry"
	"github.com/c360/gcslink/transport"
)

// File name suffixes of a capture pair.
const (
	RawSuffix     = "_raw.bin"
	DecodedSuffix = "_parsed.dat"

	timeLayout = "20060102_150405"

	// maxCollisions bounds the _1, _2, ... suffixes tried for one stamp.
	maxCollisions = 1000
)

// Link is the event surface a Writer records from.
type Link interface {
	PortOpened() *event.Signal[transport.PortInfo]
	PortClosed() *event.Signal[transport.PortInfo]
	RawData() *event.Signal[[]byte]
}

var _ Link = (*transport.Manager)(nil)

// Files names the pair of capture files being written.
type Files struct {
	Raw     string
	Decoded string
}

// IsZero reports whether no capture is open.
func (f Files) IsZero() bool { return f.Raw == "" && f.Decoded == "" }

// WriterDeps holds the dependencies of a Writer. Parser and Converter are
// optional; without them only the raw file receives data.
type WriterDeps struct {
	Parser          protocol.Parser
	Converter       protocol.Converter
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional, defaults to slog.Default()
}

// Writer records a link. Each PortOpened starts a new timestamped pair of
// files; PortClosed closes them.
type Writer struct {
	parser    protocol.Parser
	converter protocol.Converter
	dir       string
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	tokens    event.Tokens

	mu      sync.Mutex
	raw     *os.File
	decoded *os.File
	files   Files
	started time.Time

	bytesWritten   int64
	recordsWritten int64
	errors         int
	lastActivity   time.Time
}

// NewWriter creates a Writer that is not yet bound to any link.
func NewWriter(deps WriterDeps) (*Writer, error) {
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

	w := &Writer{
		parser:    deps.Parser,
		converter: deps.Converter,
		dir:       cfg.Dir,
		logger:    logger.With("component", "recorder"),
		now:       time.Now,
	}

	if deps.MetricsRegistry != nil {
		metrics, err := newMetrics(deps.MetricsRegistry)
		if err != nil {
			w.logger.Warn("failed to register metrics", "error", err)
		}
		w.metrics = metrics
	}

	if w.parser != nil && w.converter != nil {
		w.tokens.Add(
			protocol.Pipe(w.parser, w.converter),
			w.converter.Telemetry().Subscribe(w.writeRecord),
		)
	}
	return w, nil
}

// Bind subscribes the writer to link. A writer may be bound to one link at
// a time; the subscriptions last until Close.
func (w *Writer) Bind(link Link) {
	w.tokens.Add(
		link.PortOpened().Subscribe(w.onOpened),
		link.PortClosed().Subscribe(w.onClosed),
		link.RawData().Subscribe(w.onRawData),
	)
}

// Files returns the capture files currently open, or a zero Files.
func (w *Writer) Files() Files {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files
}

// Close detaches from the link and closes any open capture.
func (w *Writer) Close() error {
	w.tokens.ReleaseAll()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFilesLocked()
}

// Start opens a fresh pair of empty capture files, closing any current pair.
// Existing files are never reused: when a pair with the same timestamp
// exists, a _1, _2, ... suffix is added to the stamp.
func (w *Writer) Start() (Files, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return Files{}, errors.WrapFatal(err, "Writer", "Start", "create log directory")
	}

	files, raw, decoded, err := w.createPair(w.now().Format(timeLayout))
	if err != nil {
		return Files{}, err
	}

	if w.parser != nil {
		w.parser.Reset()
	}
	if w.converter != nil {
		w.converter.Reset()
	}

	w.mu.Lock()
	if err := w.closeFilesLocked(); err != nil {
		w.logger.Warn("failed to close previous capture", "error", err)
	}
	w.raw = raw
	w.decoded = decoded
	w.files = files
	w.started = w.now()
	if w.metrics != nil {
		w.metrics.captures.Inc()
		w.metrics.capturing.Set(1)
	}
	w.mu.Unlock()

	w.logger.Info("capture started", "raw", files.Raw, "decoded", files.Decoded)
	return files, nil
}

// Stop closes the current capture files, if any.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFilesLocked()
}

// createPair creates both files of a capture exclusively.
func (w *Writer) createPair(stamp string) (Files, *os.File, *os.File, error) {
	for i := 0; i < maxCollisions; i++ {
		name := stamp
		if i > 0 {
			name = fmt.Sprintf("%s_%d", stamp, i)
		}
		files := Files{
			Raw:     filepath.Join(w.dir, name+RawSuffix),
			Decoded: filepath.Join(w.dir, name+DecodedSuffix),
		}

		raw, err := createCapture(files.Raw)
		if stderrors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return Files{}, nil, nil, err
		}

		decoded, err := createCapture(files.Decoded)
		if err != nil {
			_ = raw.Close()
			_ = os.Remove(files.Raw)
			if stderrors.Is(err, os.ErrExist) {
				continue
			}
			return Files{}, nil, nil, err
		}
		return files, raw, decoded, nil
	}
	return Files{}, nil, nil, errors.WrapFatal(
		fmt.Errorf("%d capture pairs already exist for %s", maxCollisions, stamp),
		"Writer", "Start", "create capture files")
}

func createCapture(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if stderrors.Is(err, os.ErrExist) {
		return nil, err
	}
	if err != nil {
		return nil, errors.WrapFatal(err, "Writer", "Start", fmt.Sprintf("create %s", path))
	}
	return f, nil
}

func (w *Writer) closeFilesLocked() error {
	if w.files.IsZero() {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{w.raw, w.decoded} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Writer", "Stop", fmt.Sprintf("close %s", f.Name()))
		}
	}

	w.logger.Info("capture closed",
		"raw", w.files.Raw,
		"bytes", w.bytesWritten,
		"records", w.recordsWritten,
		"duration", w.now().Sub(w.started))

	w.raw = nil
	w.decoded = nil
	w.files = Files{}
	if w.metrics != nil {
		w.metrics.capturing.Set(0)
	}
	return firstErr
}

func (w *Writer) onOpened(info transport.PortInfo) {
	if _, err := w.Start(); err != nil {
		w.countError()
		w.logger.Error("failed to start capture", "port", info.Name, "error", err)
	}
}

func (w *Writer) onClosed(info transport.PortInfo) {
	if err := w.Stop(); err != nil {
		w.logger.Warn("failed to close capture", "port", info.Name, "error", err)
	}
}

// onRawData appends b to the raw file, then hands it to the parser. The
// parser runs outside the lock because decoded records come back through
// writeRecord.
func (w *Writer) onRawData(b []byte) {
	w.mu.Lock()
	if w.raw != nil {
		n, err := w.raw.Write(b)
		w.bytesWritten += int64(n)
		w.lastActivity = w.now()
		if w.metrics != nil {
			w.metrics.bytesWritten.Add(float64(n))
		}
		if err != nil {
			w.errorsLocked()
			w.logger.Error("raw write failed", "path", w.files.Raw, "error", err)
		}
	}
	w.mu.Unlock()

	if w.parser != nil {
		w.parser.Push(b)
	}
}

func (w *Writer) writeRecord(d telemetry.Data) {
	rec, err := d.MarshalBinary()
	if err != nil {
		w.logger.Error("failed to encode record", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.decoded == nil {
		return
	}
	if _, err := w.decoded.Write(rec); err != nil {
		w.errorsLocked()
		w.logger.Error("record write failed", "path", w.files.Decoded, "error", err)
		return
	}
	w.recordsWritten++
	w.lastActivity = w.now()
	if w.metrics != nil {
		w.metrics.recordsWritten.Inc()
	}
}

func (w *Writer) countError() {
	w.mu.Lock()
	w.errorsLocked()
	w.mu.Unlock()
}

func (w *Writer) errorsLocked() {
	w.errors++
	if w.metrics != nil {
		w.metrics.writeErrors.Inc()
	}
}

// Health reports whether a capture is in progress.
func (w *Writer) Health() health.Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	var status health.Status
	if w.files.IsZero() {
		status = health.NewDegraded("recorder", "no capture open")
	} else {
		status = health.NewHealthy("recorder", "writing "+w.files.Raw)
	}
	return status.WithMetrics(&health.Metrics{
		ErrorCount:   w.errors,
		Events:       w.recordsWritten,
		LastActivity: w.lastActivity,
	})
}
