package proxy

import (
	"context"
	"testing"
	"time"
)

// TestProxyWaitsForNameOwnerChangedThenIntrospects covers the activation
// fallback of spec §4.7 step 1's third branch: when a name is neither
// currently owned nor activatable, New blocks until NameOwnerChanged
// reports a new owner, then introspects normally.
func TestProxyWaitsForNameOwnerChangedThenIntrospects(t *testing.T) {
	d := newFakeDaemon()
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	type result struct {
		p   *Proxy
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := New(ctx, client, "com.example.SimpleService", "", "", InfiniteDepth, nil)
		done <- result{p, err}
	}()

	// Give New a moment to reach the NameOwnerChanged wait before the name
	// is ever granted.
	time.Sleep(50 * time.Millisecond)

	server := mustRouter(t, d)
	setupSimpleService(t, server)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("New: %v", r.err)
		}
		obj, ok := r.p.Object("/com/example/SimpleService")
		if !ok {
			t.Fatal("proxy should have introspected the tree once the name was granted")
		}
		if _, ok := obj.Interface("com.example.SimpleService"); !ok {
			t.Fatal("proxy should have discovered the interface")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the proxy to unblock on NameOwnerChanged")
	}
}

// TestProxyDisconnectThenReconnectRebuildsTree covers spec §6's
// disconnection resilience: releasing and re-requesting the target name
// should surface a disconnected event, then a connected one once the tree
// is rebuilt.
func TestProxyDisconnectThenReconnectRebuildsTree(t *testing.T) {
	d := newFakeDaemon()
	server := mustRouter(t, d)
	setupSimpleService(t, server)

	client := mustRouter(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p, err := New(ctx, client, "com.example.SimpleService", "", "", InfiniteDepth, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := server.UnregisterService(ctx, "com.example.SimpleService"); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}

	select {
	case ev := <-p.Events:
		if ev.Kind != EventDisconnected {
			t.Fatalf("expected EventDisconnected, got %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the disconnected event")
	}

	svc, err := server.RegisterService(ctx, "com.example.SimpleService", 0)
	if err != nil {
		t.Fatalf("re-RegisterService: %v", err)
	}
	installSimpleService(t, svc)

	select {
	case ev := <-p.Events:
		if ev.Kind != EventConnected {
			t.Fatalf("expected EventConnected, got %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reconnected event")
	}

	if _, ok := p.Object("/com/example/SimpleService"); !ok {
		t.Fatal("proxy tree should have been rebuilt after reconnect")
	}
}
