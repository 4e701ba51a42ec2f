package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/metric"
)

var (
	portA = PortInfo{Name: "Flight radio (ttyUSB0)", ID: "/dev/ttyUSB0"}
	portB = PortInfo{Name: "Bench adapter (ttyUSB1)", ID: "/dev/ttyUSB1"}
)

const waitFor = 2 * time.Second

func newTestManager(t *testing.T, driver *fakeDriver, registry *metric.MetricsRegistry) *Manager {
	t.Helper()
	m, err := NewManager(ManagerDeps{Driver: driver, MetricsRegistry: registry})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(time.Second) })
	return m
}

type recorder struct {
	mu     sync.Mutex
	opened []PortInfo
	closed []PortInfo
	raw    [][]byte
}

func record(m *Manager) *recorder {
	r := &recorder{}
	m.PortOpened().Subscribe(func(p PortInfo) { r.mu.Lock(); r.opened = append(r.opened, p); r.mu.Unlock() })
	m.PortClosed().Subscribe(func(p PortInfo) { r.mu.Lock(); r.closed = append(r.closed, p); r.mu.Unlock() })
	m.RawData().Subscribe(func(b []byte) { r.mu.Lock(); r.raw = append(r.raw, b); r.mu.Unlock() })
	return r
}

func (r *recorder) counts() (opened, closed, raw int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened), len(r.closed), len(r.raw)
}

func (r *recorder) rawBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, b := range r.raw {
		out = append(out, b...)
	}
	return out
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(ManagerDeps{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = NewManager(ManagerDeps{Driver: newFakeDriver(), Config: Config{BaudRate: -1, ReadTimeout: time.Millisecond, ReadChunkSize: 1}})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestManager_DiscoverAndOpen(t *testing.T) {
	driver := newFakeDriver(portA, portB)
	m := newTestManager(t, driver, nil)
	r := record(m)

	ports, err := m.Discover()
	require.NoError(t, err)
	assert.Equal(t, []PortInfo{portA, portB}, ports)

	require.NoError(t, m.Open(portA.ID))

	assert.True(t, m.IsOpen())
	assert.Equal(t, portA, m.ConnectedPort())
	_, err = uuid.Parse(m.SessionID())
	assert.NoError(t, err)

	opened, closed, _ := r.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 0, closed)
	assert.Equal(t, []PortInfo{portA}, r.opened)

	require.Len(t, driver.opened, 1)
	assert.Equal(t, Mode{BaudRate: 115200, ReadTimeout: 10 * time.Millisecond}, driver.opened[0])
	assert.True(t, m.Health().IsHealthy())
}

func TestManager_OpenUndiscoveredPortUsesIDAsName(t *testing.T) {
	m := newTestManager(t, newFakeDriver(portA), nil)
	require.NoError(t, m.Open(portA.ID))
	assert.Equal(t, PortInfo{Name: portA.ID, ID: portA.ID}, m.ConnectedPort())
}

func TestManager_OpenTwiceKeepsFirstConnection(t *testing.T) {
	driver := newFakeDriver(portA, portB)
	m := newTestManager(t, driver, nil)
	r := record(m)

	require.NoError(t, m.Open(portA.ID))
	err := m.Open(portB.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyOpen)

	assert.Equal(t, portA.ID, m.ConnectedPort().ID)
	opened, _, _ := r.counts()
	assert.Equal(t, 1, opened)

	// The first connection still reads.
	driver.device(portA.ID).feed([]byte("still alive"))
	assert.Eventually(t, func() bool { return string(r.rawBytes()) == "still alive" }, waitFor, time.Millisecond)
}

func TestManager_ConcurrentOpenAdmitsOne(t *testing.T) {
	driver := newFakeDriver(portA)
	driver.openDelay = 20 * time.Millisecond
	m := newTestManager(t, driver, nil)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Open(portA.ID); err == nil {
				ok.Add(1)
			} else if errors.IsInvalid(err) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), rejected.Load())
}

func TestManager_OpenFailurePublishesNothing(t *testing.T) {
	driver := newFakeDriver(portA)
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, driver, registry)
	r := record(m)

	err := m.Open("/dev/ttyMissing")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, m.IsOpen())
	assert.True(t, m.ConnectedPort().IsZero())

	opened, closed, _ := r.counts()
	assert.Zero(t, opened)
	assert.Zero(t, closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.openFailures))

	// A failed open does not block the next one.
	require.NoError(t, m.Open(portA.ID))

	assert.ErrorIs(t, m.Open(""), errors.ErrInvalidConfig)
}

func TestManager_RawDataAndWrite(t *testing.T) {
	driver := newFakeDriver(portA)
	registry := metric.NewMetricsRegistry()
	m := newTestManager(t, driver, registry)
	r := record(m)

	assert.Equal(t, 0, m.Write([]byte("ping")), "write while closed")

	require.NoError(t, m.Open(portA.ID))
	dev := driver.device(portA.ID)

	dev.feed([]byte{0xAA, 0x55})
	dev.feed([]byte{0x01, 0x02, 0x03})
	assert.Eventually(t, func() bool { return len(r.rawBytes()) == 5 }, waitFor, time.Millisecond)
	assert.Equal(t, []byte{0xAA, 0x55, 0x01, 0x02, 0x03}, r.rawBytes())

	assert.Equal(t, 4, m.Write([]byte("ping")))
	assert.Equal(t, []byte("ping"), dev.writtenBytes())

	assert.Equal(t, 5.0, testutil.ToFloat64(m.metrics.bytesRead))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.metrics.bytesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.open))
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	driver := newFakeDriver(portA)
	m := newTestManager(t, driver, nil)
	r := record(m)

	m.Close()
	require.NoError(t, m.Open(portA.ID))
	m.Close()
	m.Close()

	_, closed, _ := r.counts()
	assert.Equal(t, 1, closed)
	assert.Equal(t, []PortInfo{portA}, r.closed[:1])
	assert.False(t, m.IsOpen())
	assert.True(t, m.ConnectedPort().IsZero())
	assert.Empty(t, m.SessionID())
	assert.Equal(t, 1, driver.device(portA.ID).closeCount())
	assert.Equal(t, 0, m.Write([]byte{1}))

	// Reopen after close.
	require.NoError(t, m.Open(portA.ID))
	assert.True(t, m.IsOpen())
}

func TestManager_NoRawDataAfterClose(t *testing.T) {
	driver := newFakeDriver(portA)
	m := newTestManager(t, driver, nil)
	r := record(m)

	require.NoError(t, m.Open(portA.ID))
	dev := driver.device(portA.ID)
	dev.feed([]byte{1})
	assert.Eventually(t, func() bool { _, _, n := r.counts(); return n == 1 }, waitFor, time.Millisecond)

	m.Close()
	dev.chunks <- []byte{2}
	time.Sleep(50 * time.Millisecond)

	_, _, raw := r.counts()
	assert.Equal(t, 1, raw)
}

func TestManager_CloseDuringStreamingBoundsLateRawData(t *testing.T) {
	driver := newFakeDriver(portA)
	m := newTestManager(t, driver, nil)

	var delivered atomic.Int64
	m.RawData().Subscribe(func([]byte) { delivered.Add(1) })

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Open(portA.ID))
		dev := driver.device(portA.ID)

		stop := make(chan struct{})
		var feeder sync.WaitGroup
		feeder.Add(1)
		go func() {
			defer feeder.Done()
			for {
				select {
				case dev.chunks <- []byte{byte(i)}:
				case <-stop:
					return
				}
			}
		}()

		before := delivered.Load()
		require.Eventually(t, func() bool { return delivered.Load() > before }, waitFor, time.Millisecond)

		m.Close()
		atClose := delivered.Load()
		require.NoError(t, m.Stop(time.Second))
		atStop := delivered.Load()

		close(stop)
		feeder.Wait()
		time.Sleep(2 * time.Millisecond)

		assert.LessOrEqual(t, atStop-atClose, int64(1), "at most the in-flight chunk follows Close")
		assert.Equal(t, atStop, delivered.Load(), "nothing follows Stop")
	}
}

func TestManager_ReadErrorClosesOnce(t *testing.T) {
	driver := newFakeDriver(portA)
	m := newTestManager(t, driver, nil)
	r := record(m)

	require.NoError(t, m.Open(portA.ID))
	driver.device(portA.ID).fail(fmt.Errorf("device disconnected"))

	assert.Eventually(t, func() bool { _, c, _ := r.counts(); return c == 1 }, waitFor, time.Millisecond)
	assert.False(t, m.IsOpen())
	r.mu.Lock()
	assert.Equal(t, portA, r.closed[0])
	r.mu.Unlock()

	status := m.Health()
	assert.True(t, status.IsUnhealthy())
	assert.Contains(t, status.Message, "device disconnected")
	assert.Equal(t, 1, status.Metrics.ErrorCount)

	m.Close()
	_, closed, _ := r.counts()
	assert.Equal(t, 1, closed)
}

func TestManager_InternalAndExternalCloseRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		driver := newFakeDriver(portA)
		m := newTestManager(t, driver, nil)
		r := record(m)

		require.NoError(t, m.Open(portA.ID))
		driver.device(portA.ID).fail(fmt.Errorf("framing error"))

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.Close()
			}()
		}
		wg.Wait()
		require.NoError(t, m.Stop(time.Second))

		_, closed, _ := r.counts()
		require.Equal(t, 1, closed, "iteration %d", i)
	}
}

func TestManager_CloseFromCallback(t *testing.T) {
	driver := newFakeDriver(portA)
	m := newTestManager(t, driver, nil)
	r := record(m)

	m.RawData().Subscribe(func(b []byte) {
		if string(b) == "bye" {
			m.Close()
		}
	})

	require.NoError(t, m.Open(portA.ID))
	driver.device(portA.ID).feed([]byte("bye"))

	assert.Eventually(t, func() bool { _, c, _ := r.counts(); return c == 1 }, waitFor, time.Millisecond)
	assert.NoError(t, m.Stop(time.Second))
}

func TestManager_OpenAsync(t *testing.T) {
	m := newTestManager(t, newFakeDriver(portA), nil)

	select {
	case err := <-m.OpenAsync(portA.ID):
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("OpenAsync did not complete")
	}

	err := <-m.OpenAsync(portA.ID)
	assert.ErrorIs(t, err, errors.ErrAlreadyOpen)
}

func TestManager_HealthWhenIdle(t *testing.T) {
	m := newTestManager(t, newFakeDriver(), nil)
	status := m.Health()
	assert.True(t, status.IsDegraded())
	assert.Equal(t, "transport", status.Component)
}

func TestIsClosedError(t *testing.T) {
	assert.True(t, IsClosedError(errors.ErrPortClosed))
	assert.True(t, IsClosedError(fmt.Errorf("read: %w", errors.ErrPortClosed)))
	assert.False(t, IsClosedError(fmt.Errorf("device disconnected")))
	assert.False(t, IsClosedError(nil))
}
