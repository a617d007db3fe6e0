package instrument

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/tarm/serial"
)

const (
	dialTimeout    = 3 * time.Second
	defaultBaud    = 9600
	maxConnectWait = 10 * time.Second
)

// dial opens the raw transport to the instrument.  GPIB-LAN gateways
// and the 2400's ethernet option speak TCP; the native RS-232 port is
// reached through a serial device node.  Instruments do not like
// being connection-thrashed, so connect attempts back off
// exponentially until maxConnectWait elapses.
func dial(addr string, useSerial bool, timeout time.Duration) (io.ReadWriteCloser, error) {
	errFactory := errors.New()

	var conn io.ReadWriteCloser
	op := func() error {
		var err error
		if useSerial {
			conn, err = serial.OpenPort(&serial.Config{
				Name:        addr,
				Baud:        defaultBaud,
				ReadTimeout: timeout,
			})
		} else {
			conn, err = tcpSetup(addr, timeout)
		}
		if err != nil && permanentDialError(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxConnectWait,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}

	return conn, nil
}

// permanentDialError reports errors that retrying cannot fix, such as
// a missing serial device node.
func permanentDialError(err error) bool {
	s := strings.ToLower(err.Error())

	return strings.Contains(s, "no such file") || strings.Contains(s, "permission denied")
}

// tcpSetup opens a TCP connection with a timeout on connect, read and
// write.
func tcpSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	return conn, nil
}

// rearm pushes the I/O deadlines forward before each exchange so a
// long session does not trip the deadline set at dial time.
func rearm(conn io.ReadWriteCloser, timeout time.Duration) {
	if nc, ok := conn.(net.Conn); ok {
		deadline := time.Now().Add(timeout)
		nc.SetReadDeadline(deadline)
		nc.SetWriteDeadline(deadline)
	}
}
