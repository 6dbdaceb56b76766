package transport

import (
	"testing"

	"github.com/busforge/dbus/wire"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	msg := wire.NewMethodCall("com.example.SimpleService", "/com/example/SimpleService",
		"com.example.SimpleService", "SayHello", "s", []interface{}{"World"})
	msg.Serial = 7
	msg.Sender = ":1.0"

	// net.Pipe is unbuffered: Send returns only once the peer has read the
	// frame, so it runs on its own goroutine while this one calls Recv.
	sendErr := make(chan error, 1)
	go func() { sendErr <- a.Send(msg) }()
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Type != msg.Type || got.Serial != msg.Serial || got.Member != msg.Member ||
		got.Path != msg.Path || got.Sender != msg.Sender {
		t.Fatalf("frame round trip mismatch: got %#v, want %#v", got, msg)
	}
	if len(got.Body) != 1 || got.Body[0] != "World" {
		t.Fatalf("frame round trip lost body: %#v", got.Body)
	}
}

func TestPipeClosePropagatesToPeer(t *testing.T) {
	a, b := Pipe()
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if _, err := b.Recv(); err == nil {
		t.Fatal("Recv on the peer of a closed transport should fail")
	}
}
