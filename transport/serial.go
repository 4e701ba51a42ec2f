package transport

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/c360/gcslink/errors"
)

// SerialDriver opens serial ports through go.bug.st/serial.
type SerialDriver struct {
	logger *slog.Logger
}

// NewSerialDriver creates the host serial driver.
func NewSerialDriver(logger *slog.Logger) *SerialDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialDriver{logger: logger.With("component", "serial-driver")}
}

// Discover lists the serial ports present on the host.
func (d *SerialDriver) Discover() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.WrapTransient(err, "SerialDriver", "Discover", "enumerate serial ports")
	}

	ports := make([]PortInfo, 0, len(details))
	for _, p := range details {
		ports = append(ports, PortInfo{Name: describePort(p), ID: p.Name})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })
	return ports, nil
}

func describePort(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	product := p.Product
	if product == "" {
		product = "USB serial"
	}
	return fmt.Sprintf("%s (%s, %s:%s)", product, p.Name, p.VID, p.PID)
}

// Open opens id as 8N1 without flow control and asserts DTR and RTS.
func (d *SerialDriver) Open(id string, mode Mode) (Device, error) {
	port, err := serial.Open(id, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, translateSerialError(err)
	}

	if err := port.SetReadTimeout(mode.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(translateSerialError(err), "SerialDriver", "Open", "set read timeout")
	}

	// Some adapters reject modem control lines; the link still works without them.
	if err := port.SetDTR(true); err != nil {
		d.logger.Debug("DTR not supported", "port", id, "error", err)
	}
	if err := port.SetRTS(true); err != nil {
		d.logger.Debug("RTS not supported", "port", id, "error", err)
	}

	return &serialDevice{port: port}, nil
}

type serialDevice struct {
	port serial.Port
}

func (s *serialDevice) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	return n, translateSerialError(err)
}

func (s *serialDevice) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	return n, translateSerialError(err)
}

func (s *serialDevice) Close() error {
	return translateSerialError(s.port.Close())
}

// translateSerialError maps the library's port-closed code onto
// errors.ErrPortClosed so the read loop can tell shutdown from failure.
func translateSerialError(err error) error {
	if err == nil {
		return nil
	}

	var code serial.PortErrorCode
	var pe *serial.PortError
	var pv serial.PortError
	switch {
	case stderrors.As(err, &pe):
		code = pe.Code()
	case stderrors.As(err, &pv):
		code = pv.Code()
	default:
		return err
	}

	if code == serial.PortClosed {
		return fmt.Errorf("%w: %v", errors.ErrPortClosed, err)
	}
	return err
}
