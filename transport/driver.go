package transport

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/c360/gcslink/errors"
)

// PortInfo identifies a port. Only ID may be passed to Open.
type PortInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// IsZero reports whether p is the empty PortInfo.
func (p PortInfo) IsZero() bool {
	return p == PortInfo{}
}

// Mode is the line configuration passed to a Driver. Drivers always use
// 8 data bits, no parity, one stop bit and no flow control.
type Mode struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Device is an open link. Read returns (0, nil) when the read timeout
// expires with no data. After Close, Read and Write return an error that
// IsClosedError recognizes.
type Device interface {
	io.ReadWriteCloser
}

// Driver enumerates and opens physical ports.
type Driver interface {
	Discover() ([]PortInfo, error)
	Open(id string, mode Mode) (Device, error)
}

// IsClosedError reports whether err means the device was closed underneath
// a pending read, which is how a read loop learns about shutdown.
func IsClosedError(err error) bool {
	return stderrors.Is(err, errors.ErrPortClosed) ||
		stderrors.Is(err, os.ErrClosed) ||
		stderrors.Is(err, net.ErrClosed)
}
