package shutter

import (
	"io"
	"net"
	"time"
)

const dialTimeout = 3 * time.Second

func dialLine(addr string) (io.ReadWriteCloser, error) {
	return net.DialTimeout("tcp", addr, dialTimeout)
}

// rearm refreshes the write deadline before each actuation so a close
// at the end of a long session is not rejected by a stale deadline.
func rearm(conn io.ReadWriteCloser) {
	if nc, ok := conn.(net.Conn); ok {
		nc.SetWriteDeadline(time.Now().Add(dialTimeout))
	}
}
