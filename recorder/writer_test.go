package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/metric"
	"github.com/c360/gcslink/protocol"
	"github.com/c360/gcslink/replay"
	"github.com/c360/gcslink/telemetry"
	"github.com/c360/gcslink/transport"
)

type fakeLink struct {
	opened event.Signal[transport.PortInfo]
	closed event.Signal[transport.PortInfo]
	raw    event.Signal[[]byte]
}

func (l *fakeLink) PortOpened() *event.Signal[transport.PortInfo] { return &l.opened }
func (l *fakeLink) PortClosed() *event.Signal[transport.PortInfo] { return &l.closed }
func (l *fakeLink) RawData() *event.Signal[[]byte]                { return &l.raw }

var port = transport.PortInfo{Name: "ttyUSB0", ID: "/dev/ttyUSB0"}

func sample(ts uint32) telemetry.Data {
	return telemetry.Data{
		Timestamp: ts,
		Pos:       telemetry.Vec3{1, 2, float64(ts)},
		Quat:      telemetry.Quat{1, 0, 0, 0},
		Euler:     telemetry.Euler{0.1, 0.2, 0.3},
		TxCount:   ts,
		Ejection:  1,
	}
}

func encode(t *testing.T, ts uint32) []byte {
	t.Helper()
	b, err := protocol.EncodeFrame(&protocol.TelemetryPacket{Data: sample(ts)})
	require.NoError(t, err)
	return b
}

func newTestWriter(t *testing.T, dir string) (*Writer, *fakeLink) {
	t.Helper()
	w, err := NewWriter(WriterDeps{
		Parser:    protocol.NewFrameParser(nil, nil),
		Converter: protocol.NewTelemetryConverter(nil),
		Config:    Config{Dir: dir},
	})
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2024, 5, 17, 9, 30, 5, 0, time.UTC) }
	t.Cleanup(func() { _ = w.Close() })

	link := &fakeLink{}
	w.Bind(link)
	return w, link
}

func TestNewWriter_Config(t *testing.T) {
	w, err := NewWriter(WriterDeps{})
	require.NoError(t, err)
	assert.Equal(t, "logs", w.dir)

	assert.ErrorIs(t, Config{}.Validate(), errors.ErrInvalidConfig)
	assert.NoError(t, DefaultConfig().Validate())
}

func TestWriter_CreatesTimestampedPairOnOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	w, link := newTestWriter(t, dir)

	assert.True(t, w.Files().IsZero())
	assert.True(t, w.Health().IsDegraded())

	link.opened.Publish(port)

	files := w.Files()
	assert.Equal(t, filepath.Join(dir, "20240517_093005_raw.bin"), files.Raw)
	assert.Equal(t, filepath.Join(dir, "20240517_093005_parsed.dat"), files.Decoded)
	assert.FileExists(t, files.Raw)
	assert.FileExists(t, files.Decoded)
	assert.True(t, w.Health().IsHealthy())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriter_RecordsRawAndDecoded(t *testing.T) {
	dir := t.TempDir()
	w, link := newTestWriter(t, dir)
	link.opened.Publish(port)
	files := w.Files()

	f1, f2 := encode(t, 100), encode(t, 200)
	stream := append(append([]byte{0x00, 0x13}, f1...), f2...)

	// Split across reads the way a serial port delivers it.
	link.raw.Publish(stream[:50])
	link.raw.Publish(stream[50:200])
	link.raw.Publish(stream[200:])

	link.closed.Publish(port)
	assert.True(t, w.Files().IsZero())

	raw, err := os.ReadFile(files.Raw)
	require.NoError(t, err)
	assert.Equal(t, stream, raw, "raw file is byte exact")

	decoded, err := os.ReadFile(files.Decoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2*telemetry.RecordSize)

	var got telemetry.Data
	require.NoError(t, got.UnmarshalBinary(decoded[:telemetry.RecordSize]))
	assert.Equal(t, sample(100), got)
	require.NoError(t, got.UnmarshalBinary(decoded[telemetry.RecordSize:]))
	assert.Equal(t, sample(200), got)

	h := w.Health()
	require.NotNil(t, h.Metrics)
	assert.Equal(t, int64(2), h.Metrics.Events)
	assert.Zero(t, h.Metrics.ErrorCount)
}

func TestWriter_DataWithoutCaptureIsParsedButNotWritten(t *testing.T) {
	dir := t.TempDir()
	w, link := newTestWriter(t, dir)

	var seen []telemetry.Data
	w.converter.Telemetry().Subscribe(func(d telemetry.Data) { seen = append(seen, d) })

	link.raw.Publish(encode(t, 5))

	assert.Len(t, seen, 1)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriter_ReopenStartsNewPair(t *testing.T) {
	dir := t.TempDir()
	w, link := newTestWriter(t, dir)

	link.opened.Publish(port)
	first := w.Files()
	f1 := encode(t, 1)
	link.raw.Publish(f1)

	w.now = func() time.Time { return time.Date(2024, 5, 17, 9, 31, 0, 0, time.UTC) }
	link.opened.Publish(port)
	second := w.Files()
	assert.NotEqual(t, first, second)

	// A partial frame left over from the second capture must not leak into
	// the third, which starts within the same second.
	half := encode(t, 2)
	half = half[:len(half)/2]
	link.raw.Publish(half)
	link.closed.Publish(port)
	link.opened.Publish(port)
	third := w.Files()
	f3 := encode(t, 3)
	link.raw.Publish(f3)
	require.NoError(t, w.Close())

	assert.Equal(t, filepath.Join(dir, "20240517_093100_raw.bin"), second.Raw)
	assert.Equal(t, filepath.Join(dir, "20240517_093100_1_raw.bin"), third.Raw)
	assert.Equal(t, filepath.Join(dir, "20240517_093100_1_parsed.dat"), third.Decoded)

	for _, tc := range []struct {
		files   Files
		raw     []byte
		records int
	}{
		{first, f1, 1},
		{second, half, 0},
		{third, f3, 1},
	} {
		raw, err := os.ReadFile(tc.files.Raw)
		require.NoError(t, err)
		assert.Equal(t, tc.raw, raw, "%s holds only its own session", tc.files.Raw)

		decoded, err := os.ReadFile(tc.files.Decoded)
		require.NoError(t, err)
		assert.Len(t, decoded, tc.records*telemetry.RecordSize, tc.files.Decoded)
	}
}

func TestWriter_NeverReusesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)

	// Leftovers with the stamp of the next capture, including a lone
	// decoded file whose raw partner is missing.
	stale := []byte("earlier session")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20240517_093005_raw.bin"), stale, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20240517_093005_1_parsed.dat"), stale, 0o644))

	files, err := w.Start()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240517_093005_2_raw.bin"), files.Raw)
	assert.Equal(t, filepath.Join(dir, "20240517_093005_2_parsed.dat"), files.Decoded)
	require.NoError(t, w.Stop())

	for _, name := range []string{"20240517_093005_raw.bin", "20240517_093005_1_parsed.dat"} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, stale, got, "%s is left untouched", name)
	}
	assert.NoFileExists(t, filepath.Join(dir, "20240517_093005_1_raw.bin"),
		"half-created pair is removed")

	info, err := os.Stat(files.Raw)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestWriter_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	w, err := NewWriter(WriterDeps{
		Parser:          protocol.NewFrameParser(nil, nil),
		Converter:       protocol.NewTelemetryConverter(nil),
		Config:          Config{Dir: t.TempDir()},
		MetricsRegistry: registry,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	link := &fakeLink{}
	w.Bind(link)

	link.opened.Publish(port)
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.capturing))

	frames := append(encode(t, 1), encode(t, 2)...)
	link.raw.Publish(frames)
	link.closed.Publish(port)

	assert.Equal(t, float64(len(frames)), testutil.ToFloat64(w.metrics.bytesWritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(w.metrics.recordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.captures))
	assert.Zero(t, testutil.ToFloat64(w.metrics.capturing))

	// A second writer on the same registry still records, it just is not
	// exported twice.
	other, err := NewWriter(WriterDeps{Config: Config{Dir: t.TempDir()}, MetricsRegistry: registry})
	require.NoError(t, err)
	require.NotNil(t, other.metrics)
}

func TestWriter_CloseDetaches(t *testing.T) {
	dir := t.TempDir()
	w, link := newTestWriter(t, dir)
	link.opened.Publish(port)
	files := w.Files()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	link.raw.Publish([]byte{1, 2, 3})
	assert.Zero(t, link.raw.Len())
	assert.Zero(t, link.opened.Len())

	raw, err := os.ReadFile(files.Raw)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestWriter_UnwritableDirectory(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w, link := newTestWriter(t, filepath.Join(blocker, "logs"))
	link.opened.Publish(port)

	assert.True(t, w.Files().IsZero())
	h := w.Health()
	require.NotNil(t, h.Metrics)
	assert.Equal(t, 1, h.Metrics.ErrorCount)

	_, err := w.Start()
	assert.True(t, errors.IsFatal(err))
}

func TestWriter_CaptureReplaysIdentically(t *testing.T) {
	dir := t.TempDir()
	w, link := newTestWriter(t, dir)
	link.opened.Publish(port)
	files := w.Files()

	var want []telemetry.Data
	for ts := uint32(0); ts < 5; ts++ {
		want = append(want, sample(ts))
		link.raw.Publish(encode(t, ts))
	}
	link.closed.Publish(port)

	for _, tc := range []struct {
		kind      replay.Kind
		path      string
		parser    protocol.Parser
		converter protocol.Converter
	}{
		{replay.KindDecoded, files.Decoded, nil, nil},
		{replay.KindRaw, files.Raw, protocol.NewFrameParser(nil, nil), protocol.NewTelemetryConverter(nil)},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			p, err := replay.NewPlayer(replay.PlayerDeps{Parser: tc.parser, Converter: tc.converter})
			require.NoError(t, err)
			defer p.Close()

			got := make(chan telemetry.Data, len(want))
			eof := make(chan struct{}, 1)
			p.Telemetry().Subscribe(func(d telemetry.Data) { got <- d })
			p.EOF().Subscribe(func(struct{}) { eof <- struct{}{} })

			require.NoError(t, p.Load(tc.path, tc.kind))
			p.SetSpeed(1000)
			require.NoError(t, p.Play())

			select {
			case <-eof:
			case <-time.After(5 * time.Second):
				t.Fatal("replay did not finish")
			}
			close(got)
			var replayed []telemetry.Data
			for d := range got {
				replayed = append(replayed, d)
			}
			assert.Equal(t, want, replayed)
		})
	}
}
