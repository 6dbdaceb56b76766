package dbus

import (
	"context"
	"testing"
	"time"
)

func TestRequestNameSecondOwnerWithDoNotQueueFails(t *testing.T) {
	d := newFakeDaemon()
	first := mustRouter(t, d)
	second := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := first.RegisterService(ctx, "com.example.Exclusive", 0); err != nil {
		t.Fatalf("first RegisterService: %v", err)
	}

	_, err := second.RegisterService(ctx, "com.example.Exclusive", FlagDoNotQueue)
	if err == nil {
		t.Fatal("second RegisterService with DoNotQueue against an owned name should fail")
	}
	rne, ok := err.(*RequestNameError)
	if !ok || rne.Outcome != NameExists {
		t.Fatalf("expected RequestNameError{NameExists}, got %#v", err)
	}
}

func TestInvokeHonorsContextCancellation(t *testing.T) {
	d := newFakeDaemon()
	client := mustRouter(t, d)
	// No server ever attaches to the destination, so the call would hang
	// forever without the fake daemon relaying anything back; the context
	// deadline is what actually ends the call.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Invoke(ctx, "com.example.NoSuchService", "/x", "com.example.X", "M", "", nil)
	if _, ok := err.(*CancelledError); !ok {
		t.Fatalf("expected *CancelledError, got %#v", err)
	}
}

func TestSubscribeMatchRuleFiltersByMember(t *testing.T) {
	d := newFakeDaemon()
	server := mustRouter(t, d)
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, stop, err := client.Subscribe(ctx, MatchRule{Member: "Wanted"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := server.SendSignal("/x", "com.example.X", "Unwanted", "", nil); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if err := server.SendSignal("/x", "com.example.X", "Wanted", "", nil); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Member != "Wanted" {
			t.Fatalf("expected only the Wanted signal, got member %q", msg.Member)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the matching signal")
	}

	select {
	case msg := <-ch:
		t.Fatalf("Unwanted signal should have been filtered out, got %#v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestConnectionCredentials(t *testing.T) {
	d := newFakeDaemon()
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	creds, err := client.ConnectionCredentials(ctx, "com.example.Whoever")
	if err != nil {
		t.Fatalf("ConnectionCredentials: %v", err)
	}
	if creds.UID != 1000 || creds.PID != 4242 {
		t.Fatalf("ConnectionCredentials = %+v, want {UID:1000 PID:4242}", creds)
	}
}

func TestOrderedSubscriberDeliversInFIFOOrder(t *testing.T) {
	d := newFakeDaemon()
	server := mustRouter(t, d)
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := client.NewOrderedSubscriber(ctx, MatchRule{Interface: "com.example.X", Member: "Tick"})
	if err != nil {
		t.Fatalf("NewOrderedSubscriber: %v", err)
	}
	defer sub.Close()

	const n = 50
	for i := 0; i < n; i++ {
		if err := server.SendSignal("/x", "com.example.X", "Tick", "i", []interface{}{int32(i)}); err != nil {
			t.Fatalf("SendSignal %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-sub.Chan():
			got, _ := msg.Body[0].(int32)
			if got != int32(i) {
				t.Fatalf("delivery %d out of order: got Tick(%d)", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for Tick(%d)", i)
		}
	}
	if sub.Overflow() {
		t.Fatal("unexpected overflow for a run within the queue limit")
	}
}

func TestCloseReleasesRegisteredNames(t *testing.T) {
	d := newFakeDaemon()
	r := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.RegisterService(ctx, "com.example.ToRelease", FlagReplaceExisting); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	other := mustRouter(t, d)
	if _, err := other.RegisterService(ctx, "com.example.ToRelease", FlagDoNotQueue); err != nil {
		t.Fatalf("name should be free after Close released it: %v", err)
	}
}
