package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/gcslink/errors"
)

// fakeDevice feeds queued chunks to Read and records writes. Read waits up
// to the read timeout for data, like a serial port with a timeout set.
type fakeDevice struct {
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	readErr error
	written []byte
	closes  int

	chunks chan []byte
	done   chan struct{}
}

func newFakeDevice(timeout time.Duration) *fakeDevice {
	return &fakeDevice{
		timeout: timeout,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (d *fakeDevice) feed(b []byte) { d.chunks <- b }

// fail makes the next Read return err.
func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, fmt.Errorf("read: %w", errors.ErrPortClosed)
	}
	if err := d.readErr; err != nil {
		d.readErr = nil
		d.mu.Unlock()
		return 0, err
	}
	d.mu.Unlock()

	select {
	case b := <-d.chunks:
		return copy(p, b), nil
	case <-d.done:
		return 0, fmt.Errorf("read: %w", errors.ErrPortClosed)
	case <-time.After(d.timeout):
		return 0, nil
	}
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.ErrPortClosed
	}
	d.written = append(d.written, p...)
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	if d.closed {
		return errors.ErrPortClosed
	}
	d.closed = true
	close(d.done)
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDevice) writtenBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written...)
}

// fakeDriver hands out fakeDevices for known ids.
type fakeDriver struct {
	mu        sync.Mutex
	ports     []PortInfo
	devices   map[string]*fakeDevice
	openDelay time.Duration
	opened    []Mode
	openErr   error
}

func newFakeDriver(ports ...PortInfo) *fakeDriver {
	return &fakeDriver{ports: ports, devices: make(map[string]*fakeDevice)}
}

func (d *fakeDriver) Discover() ([]PortInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PortInfo(nil), d.ports...), nil
}

func (d *fakeDriver) Open(id string, mode Mode) (Device, error) {
	if d.openDelay > 0 {
		time.Sleep(d.openDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}
	found := false
	for _, p := range d.ports {
		if p.ID == id {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("open %s: no such device", id)
	}

	dev := newFakeDevice(mode.ReadTimeout)
	d.devices[id] = dev
	d.opened = append(d.opened, mode)
	return dev, nil
}

func (d *fakeDriver) device(id string) *fakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[id]
}
