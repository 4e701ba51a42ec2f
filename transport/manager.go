// Package transport owns the physical link of the ground station: it
// discovers ports, keeps at most one open, runs the background read loop and
// publishes raw bytes and open/close events.
package transport

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gcslink/errors"
	"github.com/c360/gcslink/event"
	"github.com/c360/gcslink/health"
	"github.com/c360/gcslink/metric"
)

// ManagerDeps holds the dependencies of a Manager.
type ManagerDeps struct {
	Driver          Driver
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional, defaults to slog.Default()
}

// Manager owns one link connection at a time. All methods are safe for
// concurrent use.
type Manager struct {
	driver  Driver
	config  Config
	logger  *slog.Logger
	metrics *Metrics

	mu         sync.Mutex
	device     Device
	info       PortInfo
	session    string
	generation uint64
	reading    bool
	opening    bool
	openedAt   time.Time
	known      map[string]PortInfo

	wg sync.WaitGroup

	chunks       atomic.Int64
	readErrors   atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastError    atomic.Value // string

	portOpened event.Signal[PortInfo]
	portClosed event.Signal[PortInfo]
	rawData    event.Signal[[]byte]
}

// NewManager creates a closed Manager. A zero Config means DefaultConfig.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Driver == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "driver is required")
	}

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

	m := &Manager{
		driver: deps.Driver,
		config: cfg,
		logger: logger.With("component", "transport"),
		known:  make(map[string]PortInfo),
	}
	if deps.MetricsRegistry != nil {
		metrics, err := newMetrics(deps.MetricsRegistry)
		if err != nil {
			m.logger.Warn("failed to register metrics", "error", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

// PortOpened fires after a successful Open with the new port.
func (m *Manager) PortOpened() *event.Signal[PortInfo] { return &m.portOpened }

// PortClosed fires once per opened connection, carrying the port as it was
// before closing.
func (m *Manager) PortClosed() *event.Signal[PortInfo] { return &m.portClosed }

// RawData carries each non-empty read. Subscribers own the slice.
func (m *Manager) RawData() *event.Signal[[]byte] { return &m.rawData }

// Discover enumerates the ports the driver can see.
func (m *Manager) Discover() ([]PortInfo, error) {
	ports, err := m.driver.Discover()
	if err != nil {
		m.logger.Error("port discovery failed", "error", err)
		return nil, errors.WrapTransient(err, "Manager", "Discover", "enumerate ports")
	}

	m.mu.Lock()
	for _, p := range ports {
		m.known[p.ID] = p
	}
	m.mu.Unlock()

	return ports, nil
}

// Open connects to the port with the given identifier and starts reading.
// It fails with errors.ErrAlreadyOpen while another connection is open or
// being opened; requests are never queued. Nothing is published on failure.
func (m *Manager) Open(id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Open", "empty port identifier")
	}

	m.mu.Lock()
	if m.device != nil || m.opening {
		current := m.info
		m.mu.Unlock()
		m.logger.Warn("open rejected, port already open", "port", id, "open_port", current.ID)
		return errors.WrapInvalid(errors.ErrAlreadyOpen, "Manager", "Open", fmt.Sprintf("open %s", id))
	}
	m.opening = true
	info, ok := m.known[id]
	m.mu.Unlock()

	if !ok {
		info = PortInfo{Name: id, ID: id}
	}

	dev, err := m.driver.Open(id, Mode{BaudRate: m.config.BaudRate, ReadTimeout: m.config.ReadTimeout})
	if err != nil {
		m.mu.Lock()
		m.opening = false
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.openFailures.Inc()
		}
		m.logger.Error("failed to open port", "port", id, "error", err)
		return errors.WrapTransient(err, "Manager", "Open", fmt.Sprintf("open %s", id))
	}

	ready := make(chan struct{})

	m.mu.Lock()
	m.opening = false
	m.device = dev
	m.info = info
	m.reading = true
	m.session = uuid.NewString()
	m.generation++
	gen := m.generation
	session := m.session
	m.openedAt = time.Now()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(dev, gen, ready)

	if m.metrics != nil {
		m.metrics.opens.Inc()
		m.metrics.open.Set(1)
	}
	m.logger.Info("port opened", "port", info.ID, "name", info.Name, "session", session,
		"baud_rate", m.config.BaudRate)

	// A Close racing this Open has already reported the port closed.
	if m.active(gen) {
		m.portOpened.Publish(info)
	}
	close(ready)
	return nil
}

// OpenAsync runs Open on its own goroutine and delivers the result.
func (m *Manager) OpenAsync(id string) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- m.Open(id)
	}()
	return result
}

// Write sends p to the open device and returns the bytes accepted, or 0 when
// no port is open.
func (m *Manager) Write(p []byte) int {
	m.mu.Lock()
	dev := m.device
	m.mu.Unlock()

	if dev == nil || len(p) == 0 {
		return 0
	}

	n, err := dev.Write(p)
	if err != nil {
		if IsClosedError(err) {
			m.logger.Debug("write on closing port", "error", err)
		} else {
			m.logger.Warn("write failed", "bytes", len(p), "written", n, "error", err)
		}
	}
	if n > 0 && m.metrics != nil {
		m.metrics.bytesWritten.Add(float64(n))
	}
	return n
}

// Close closes the open port. It is a no-op when no port is open.
//
// Close may be called from an event callback, so it does not wait for the
// read loop: a chunk the loop had already accepted before the close may
// still be delivered on RawData after Close returns, and nothing after it.
// Use Stop when no event may follow.
func (m *Manager) Close() {
	m.closeConnection(0, "")
}

// Stop closes the port and waits up to timeout for the read loop to exit.
// Once it returns nil no further events are published for that connection.
// It must not be called from an event callback of this Manager.
func (m *Manager) Stop(timeout time.Duration) error {
	m.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("read loop still running after %s", timeout),
			"Manager", "Stop", "wait for read loop")
	}
}

// closeConnection closes the current connection. A non-zero gen restricts
// the close to that connection so a failing read loop never closes a newer
// one. Only the caller that detaches the device publishes PortClosed.
func (m *Manager) closeConnection(gen uint64, cause string) {
	m.mu.Lock()
	if m.device == nil || (gen != 0 && gen != m.generation) {
		m.mu.Unlock()
		return
	}
	dev := m.device
	info := m.info
	session := m.session
	m.reading = false
	m.device = nil
	m.info = PortInfo{}
	m.session = ""
	m.mu.Unlock()

	if err := dev.Close(); err != nil && !IsClosedError(err) {
		m.logger.Warn("error closing device", "port", info.ID, "error", err)
	}

	if m.metrics != nil {
		m.metrics.closes.Inc()
		m.metrics.open.Set(0)
	}
	if cause != "" {
		m.logger.Warn("port closed after read failure", "port", info.ID, "session", session, "cause", cause)
	} else {
		m.logger.Info("port closed", "port", info.ID, "session", session)
	}

	m.portClosed.Publish(info)
}

// active reports whether gen is still the connection being read.
func (m *Manager) active(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading && m.device != nil && m.generation == gen
}

func (m *Manager) readLoop(dev Device, gen uint64, ready <-chan struct{}) {
	defer m.wg.Done()
	<-ready

	buf := make([]byte, m.config.ReadChunkSize)
	for {
		n, err := dev.Read(buf)

		if n > 0 {
			if !m.active(gen) {
				return
			}
			chunk := bytes.Clone(buf[:n])
			m.chunks.Add(1)
			m.lastActivity.Store(time.Now().UnixNano())
			if m.metrics != nil {
				m.metrics.bytesRead.Add(float64(n))
				m.metrics.chunksRead.Inc()
				m.metrics.lastActivity.SetToCurrentTime()
			}
			m.rawData.Publish(chunk)
		}

		if err != nil {
			if IsClosedError(err) || !m.active(gen) {
				m.logger.Debug("read loop exiting on shutdown", "error", err)
				return
			}
			m.readErrors.Add(1)
			m.lastError.Store(err.Error())
			if m.metrics != nil {
				m.metrics.readErrors.Inc()
			}
			m.logger.Error("read failed", "error", err)
			m.closeConnection(gen, err.Error())
			return
		}

		if n < len(buf) && !m.active(gen) {
			return
		}
	}
}

// IsOpen reports whether a port is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil
}

// ConnectedPort returns the open port, or the zero PortInfo.
func (m *Manager) ConnectedPort() PortInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// SessionID identifies the current connection in logs. Empty when closed.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Health reports the link state.
func (m *Manager) Health() health.Status {
	m.mu.Lock()
	open := m.device != nil
	info := m.info
	openedAt := m.openedAt
	m.mu.Unlock()

	var status health.Status
	lastErr, _ := m.lastError.Load().(string)
	switch {
	case open:
		status = health.NewHealthy("transport", fmt.Sprintf("port %s open", info.ID))
	case lastErr != "":
		status = health.NewUnhealthy("transport", "last read failed: "+lastErr)
	default:
		status = health.NewDegraded("transport", "no port open")
	}

	metrics := &health.Metrics{
		ErrorCount: int(m.readErrors.Load()),
		Events:     m.chunks.Load(),
	}
	if open {
		metrics.Uptime = time.Since(openedAt)
	}
	if ts := m.lastActivity.Load(); ts != 0 {
		metrics.LastActivity = time.Unix(0, ts)
	}
	return status.WithMetrics(metrics)
}
