// Package transport provides the authenticated, framed, bidirectional
// message exchange the router assumes exists (spec §1). It is deliberately
// thin: socket discovery, address parsing, and full SASL negotiation are
// Non-goals, but a real (if minimal) EXTERNAL-mechanism unix transport is
// provided, grounded on the teacher's transport_unix.go/auth_external.go, so
// the rest of the module has a genuine endpoint to run against.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/busforge/dbus/wire"
)

// Transport is a D-Bus transport: an authenticated, message-framed duplex
// channel. Router is its sole owner.
type Transport interface {
	io.Closer

	// Authenticate performs the (mechanism-specific) handshake. Called once,
	// before any messages are exchanged.
	Authenticate() error

	// Send writes one message frame.
	Send(msg *wire.Message) error

	// Recv blocks for the next message frame.
	Recv() (*wire.Message, error)

	// SupportsUnixFDs reports whether this transport can carry Unix file
	// descriptors alongside a message.
	SupportsUnixFDs() bool
}

// ByteOrder is little-endian, the order wire.DefaultCodec encodes message
// bodies in. Nothing in this package reads it: frame lengths and header
// fields are written big-endian, and bodies go through wire.DefaultCodec.
var ByteOrder = binary.LittleEndian

// frame is the minimal self-delimiting envelope this module puts messages
// in: a big-endian length prefix (chosen independent of ByteOrder, matching
// the real protocol's byte-order-independent fixed header prefix) followed
// by a codec-encoded payload. The payload format itself is private to this
// package and encodeFrame/decodeFrame.
func writeFrame(w io.Writer, msg *wire.Message) error {
	payload, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame(r io.Reader) (*wire.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 64<<20 {
		return nil, fmt.Errorf("transport: frame too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decodeFrame(payload)
}
