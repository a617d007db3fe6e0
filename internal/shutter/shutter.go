// Package shutter gates the solar simulator's mechanical shutter over
// a TCP-bridged digital I/O line.  The line sense follows the lab
// bench wiring: driving the line low admits light, driving it high
// blocks it.
package shutter

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/perovskite-lab/mpptctl/internal/logger"
)

const (
	ErrConnectFailed = errors.ErrorCode("shutter_connect_failed")
	ErrActuateFailed = errors.ErrorCode("shutter_actuate_failed")
	ErrBadAddress    = errors.ErrorCode("shutter_bad_address")
)

// Controller gates illumination onto the device under test.
type Controller interface {
	// Connect acquires the digital I/O handle.
	Connect() error

	// Open admits light.
	Open() error

	// Close blocks light.  It must be safe to call on every exit
	// path, connected or not.
	Close() error

	// Release frees the digital I/O handle.
	Release() error
}

// Line drives one digital output line on a TCP ASCII DIO bridge.
// Addresses take the form host:port[/lineN]; the line defaults to 0.
type Line struct {
	addr string
	line int
	conn io.ReadWriteCloser
}

// New parses a digital I/O address into a shutter line.
func New(addr string) (*Line, error) {
	host, line := addr, 0
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		host = addr[:i]
		num := strings.TrimPrefix(addr[i+1:], "line")
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			return nil, errors.New().WithData(ErrBadAddress, addr)
		}
		line = n
	}
	if host == "" {
		return nil, errors.New().WithData(ErrBadAddress, addr)
	}

	return &Line{addr: host, line: line}, nil
}

// Connect acquires the digital I/O handle.
func (l *Line) Connect() error {
	conn, err := dialLine(l.addr)
	if err != nil {
		return errors.New().Wrap(ErrConnectFailed, err)
	}
	l.conn = conn
	logger.Debug().Str("addr", l.addr).Int("line", l.line).Msg("shutter line acquired")

	return nil
}

// Open drives the line low, admitting light.
func (l *Line) Open() error {
	return l.drive(0)
}

// Close drives the line high, blocking light.  A Close with no handle
// is a no-op so the release path never fails on a line that was never
// acquired.
func (l *Line) Close() error {
	if l.conn == nil {
		return nil
	}

	return l.drive(1)
}

// Release frees the digital I/O handle.
func (l *Line) Release() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil {
		return errors.New().Wrap(ErrConnectFailed, err)
	}

	return nil
}

func (l *Line) drive(level int) error {
	errFactory := errors.New()

	if l.conn == nil {
		return errFactory.New(ErrConnectFailed)
	}
	rearm(l.conn)
	if _, err := fmt.Fprintf(l.conn, "set %d %d\n", l.line, level); err != nil {
		return errFactory.Wrap(ErrActuateFailed, err)
	}

	return nil
}

// Nop is the shutter used when no shutter is configured; every
// operation succeeds without touching hardware.
type Nop struct{}

func (Nop) Connect() error { return nil }
func (Nop) Open() error    { return nil }
func (Nop) Close() error   { return nil }
func (Nop) Release() error { return nil }
