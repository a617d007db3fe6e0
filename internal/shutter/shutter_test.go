package shutter

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDIOBridge(t *testing.T) (addr string, lines chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	lines = make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				rdr := bufio.NewReader(conn)
				for {
					line, err := rdr.ReadString('\n')
					if err != nil {
						return
					}
					lines <- line
				}
			}()
		}
	}()

	return ln.Addr().String(), lines
}

func TestAddressParsing(t *testing.T) {
	l, err := New("bench:4001")
	require.NoError(t, err)
	assert.Equal(t, 0, l.line)

	l, err = New("bench:4001/line3")
	require.NoError(t, err)
	assert.Equal(t, 3, l.line)

	_, err = New("bench:4001/lineX")
	assert.Error(t, err)

	_, err = New("/line0")
	assert.Error(t, err)
}

func TestOpenDrivesLineLowCloseDrivesHigh(t *testing.T) {
	addr, lines := startDIOBridge(t)

	l, err := New(addr + "/line2")
	require.NoError(t, err)
	require.NoError(t, l.Connect())
	defer l.Release()

	require.NoError(t, l.Open())
	assert.Equal(t, "set 2 0\n", <-lines)

	require.NoError(t, l.Close())
	assert.Equal(t, "set 2 1\n", <-lines)
}

func TestCloseWithoutHandleIsSafe(t *testing.T) {
	l, err := New("bench:4001")
	require.NoError(t, err)

	assert.NoError(t, l.Close(), "release path must tolerate a line that was never acquired")
	assert.NoError(t, l.Release())
}

func TestOpenWithoutHandleFails(t *testing.T) {
	l, err := New("bench:4001")
	require.NoError(t, err)

	assert.Error(t, l.Open())
}
