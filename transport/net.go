package transport

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/c360/gcslink/errors"
)

// Network endpoint schemes accepted by NetDriver.
const (
	SchemeUDP = "udp"
	SchemeTCP = "tcp"
)

// NetConfig lists network endpoints that carry the link byte stream, such as
// telemetry radios with an IP bridge or ser2net.
type NetConfig struct {
	// Endpoints are "udp://host:port" (listen) or "tcp://host:port" (dial).
	Endpoints   []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty" env:"ENDPOINTS"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadBuffer  int           `yaml:"read_buffer" json:"read_buffer" env:"READ_BUFFER"`
}

// DefaultNetConfig returns no endpoints, a 5s dial timeout and a 2MB UDP
// socket buffer.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		DialTimeout: 5 * time.Second,
		ReadBuffer:  2 * 1024 * 1024,
	}
}

// Validate checks the endpoint syntax and timeouts.
func (c NetConfig) Validate() error {
	for _, ep := range c.Endpoints {
		if _, _, err := splitEndpoint(ep); err != nil {
			return errors.WrapInvalid(err, "NetConfig", "Validate", "check endpoint")
		}
	}
	if c.DialTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: dial timeout %s", errors.ErrInvalidConfig, c.DialTimeout),
			"NetConfig", "Validate", "check dial timeout")
	}
	if c.ReadBuffer < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: read buffer %d", errors.ErrInvalidConfig, c.ReadBuffer),
			"NetConfig", "Validate", "check read buffer")
	}
	return nil
}

// IsNetEndpoint reports whether id names a network endpoint rather than a
// serial port.
func IsNetEndpoint(id string) bool {
	_, _, err := splitEndpoint(id)
	return err == nil
}

func splitEndpoint(id string) (scheme, addr string, err error) {
	scheme, addr, ok := strings.Cut(id, "://")
	if !ok || (scheme != SchemeUDP && scheme != SchemeTCP) {
		return "", "", fmt.Errorf("%w: endpoint %q must start with udp:// or tcp://", errors.ErrInvalidConfig, id)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", "", fmt.Errorf("%w: endpoint %q: %v", errors.ErrInvalidConfig, id, err)
	}
	return scheme, addr, nil
}

// NetDriver opens network endpoints as link devices.
type NetDriver struct {
	config NetConfig
	logger *slog.Logger
}

// NewNetDriver creates a driver for the configured endpoints.
func NewNetDriver(cfg NetConfig, logger *slog.Logger) *NetDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetDriver{config: cfg, logger: logger.With("component", "net-driver")}
}

// Discover lists the configured endpoints. Malformed entries are skipped.
func (d *NetDriver) Discover() ([]PortInfo, error) {
	ports := make([]PortInfo, 0, len(d.config.Endpoints))
	for _, ep := range d.config.Endpoints {
		scheme, addr, err := splitEndpoint(ep)
		if err != nil {
			d.logger.Warn("skipping endpoint", "endpoint", ep, "error", err)
			continue
		}
		name := fmt.Sprintf("TCP %s", addr)
		if scheme == SchemeUDP {
			name = fmt.Sprintf("UDP listen %s", addr)
		}
		ports = append(ports, PortInfo{Name: name, ID: ep})
	}
	return ports, nil
}

// Open listens on a UDP endpoint or dials a TCP one. Mode.ReadTimeout bounds
// each Read; BaudRate does not apply.
func (d *NetDriver) Open(id string, mode Mode) (Device, error) {
	scheme, addr, err := splitEndpoint(id)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NetDriver", "Open", "parse endpoint")
	}

	switch scheme {
	case SchemeUDP:
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, errors.WrapInvalid(err, "NetDriver", "Open", fmt.Sprintf("resolve %s", addr))
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return nil, errors.WrapTransient(err, "NetDriver", "Open", fmt.Sprintf("listen on %s", addr))
		}
		if d.config.ReadBuffer > 0 {
			if err := conn.SetReadBuffer(d.config.ReadBuffer); err != nil {
				// Some systems limit the buffer size; the default still works.
				d.logger.Warn("could not set UDP buffer size",
					"buffer_size", d.config.ReadBuffer, "endpoint", id, "error", err)
			}
		}
		return &udpDevice{conn: conn, timeout: mode.ReadTimeout}, nil

	default:
		conn, err := net.DialTimeout("tcp", addr, d.config.DialTimeout)
		if err != nil {
			return nil, errors.WrapTransient(err, "NetDriver", "Open", fmt.Sprintf("dial %s", addr))
		}
		return &tcpDevice{conn: conn, timeout: mode.ReadTimeout}, nil
	}
}

// isTimeout reports a read deadline expiry, which a serial port reports as
// an empty read.
func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

type tcpDevice struct {
	conn    net.Conn
	timeout time.Duration
}

func (t *tcpDevice) Read(p []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	n, err := t.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (t *tcpDevice) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpDevice) Close() error                { return t.conn.Close() }

// udpDevice receives datagrams from any sender and writes to the most
// recent one.
type udpDevice struct {
	conn    *net.UDPConn
	timeout time.Duration

	mu   sync.Mutex
	peer *net.UDPAddr
}

func (u *udpDevice) Read(p []byte) (int, error) {
	_ = u.conn.SetReadDeadline(time.Now().Add(u.timeout))
	n, from, err := u.conn.ReadFromUDP(p)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, err
	}

	u.mu.Lock()
	u.peer = from
	u.mu.Unlock()
	return n, nil
}

func (u *udpDevice) Write(p []byte) (int, error) {
	u.mu.Lock()
	peer := u.peer
	u.mu.Unlock()

	if peer == nil {
		return 0, fmt.Errorf("%w: no UDP peer has sent data yet", errors.ErrNotOpen)
	}
	return u.conn.WriteToUDP(p, peer)
}

func (u *udpDevice) Close() error { return u.conn.Close() }

// LocalAddr is the address the device listens on.
func (u *udpDevice) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// RoutingDriver sends network endpoints to a NetDriver and everything else
// to a serial driver.
type RoutingDriver struct {
	Serial Driver
	Net    Driver
}

// Discover merges both drivers' ports. A failing driver is skipped as long
// as the other succeeds.
func (r RoutingDriver) Discover() ([]PortInfo, error) {
	var (
		ports []PortInfo
		errs  []error
	)
	for _, d := range []Driver{r.Serial, r.Net} {
		if d == nil {
			continue
		}
		found, err := d.Discover()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ports = append(ports, found...)
	}
	if len(ports) == 0 && len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}
	return ports, nil
}

// Open routes id by its form.
func (r RoutingDriver) Open(id string, mode Mode) (Device, error) {
	d := r.Serial
	if IsNetEndpoint(id) {
		d = r.Net
	}
	if d == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no driver for %q", errors.ErrInvalidConfig, id),
			"RoutingDriver", "Open", "route port")
	}
	return d.Open(id, mode)
}
