package transport

import (
	"net"
	"sync"

	"github.com/busforge/dbus/wire"
)

// Pipe returns two connected in-memory transports, already authenticated.
// It is the module's counterpart to danderson-dbus's dbustest package, but
// avoids spawning a real dbus-daemon: tests exercise the router and object
// tree against a net.Pipe-backed duplex instead.
func Pipe() (a, b Transport) {
	c1, c2 := net.Pipe()
	return &memTransport{conn: c1}, &memTransport{conn: c2}
}

type memTransport struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

func (t *memTransport) Authenticate() error { return nil }

func (t *memTransport) SupportsUnixFDs() bool { return false }

func (t *memTransport) Send(msg *wire.Message) error {
	return writeFrame(t.conn, msg)
}

func (t *memTransport) Recv() (*wire.Message, error) {
	return readFrame(t.conn)
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
