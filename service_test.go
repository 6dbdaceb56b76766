package dbus

import (
	"context"
	"testing"
	"time"

	"github.com/busforge/dbus/wire"
)

// TestObjectManagerOptInGatesEmission covers spec invariant 6: a subtree
// with no opted-in ObjectManager ancestor announces nothing, and opting in
// makes both InterfacesAdded and GetManagedObjects work from that node.
func TestObjectManagerOptInGatesEmission(t *testing.T) {
	d := newFakeDaemon()
	server := mustRouter(t, d)
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc, err := server.RegisterService(ctx, "com.example.PhoneBook", FlagReplaceExisting)
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	root := svc.Object("/com/example/PhoneBook")
	unmanaged := svc.Object("/com/example/PhoneBook/Contacts/silent")
	iface := unmanaged.AddInterface(NewInterfaceDescriptor("com.example.PhoneBook.Contact").Property("Name", AccessRead, "s"))
	AddProperty(iface, "Name", "Nobody Listening")

	ch, stop, err := client.Subscribe(ctx, MatchRule{Interface: IfaceObjectManager, Member: "InterfacesAdded"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := svc.Expose(unmanaged); err != nil {
		t.Fatalf("Expose (no ObjectManager ancestor): %v", err)
	}
	select {
	case msg := <-ch:
		t.Fatalf("expected no InterfacesAdded without an opted-in ancestor, got %#v", msg)
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := client.Invoke(ctx, "com.example.PhoneBook", "/com/example/PhoneBook",
		IfaceObjectManager, "GetManagedObjects", "", nil); err == nil {
		t.Fatal("GetManagedObjects should fail on a node that never opted in")
	}

	root.EnableObjectManager()
	managed := svc.Object("/com/example/PhoneBook/Contacts/ada")
	iface2 := managed.AddInterface(NewInterfaceDescriptor("com.example.PhoneBook.Contact").Property("Name", AccessRead, "s"))
	AddProperty(iface2, "Name", "Ada Lovelace")
	if err := svc.Expose(managed); err != nil {
		t.Fatalf("Expose (with ObjectManager ancestor): %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Path != "/com/example/PhoneBook" {
			t.Fatalf("InterfacesAdded should be emitted from the ObjectManager node, got path %q", msg.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for InterfacesAdded from the opted-in ancestor")
	}

	reply, err := client.Invoke(ctx, "com.example.PhoneBook", "/com/example/PhoneBook",
		IfaceObjectManager, "GetManagedObjects", "", nil)
	if err != nil {
		t.Fatalf("GetManagedObjects: %v", err)
	}
	entries, _ := reply.Body[0].([]wire.DictEntry)
	found := false
	for _, e := range entries {
		if e.Key == wire.ObjectPath("/com/example/PhoneBook/Contacts/ada") {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetManagedObjects reply missing the managed contact: %#v", entries)
	}
}

// TestRemoveEmptyListPolicyIsDefault covers spec §4.3/§8.3's canonical
// InterfacesRemoved(path, []) convention, which RemoveEmptyList (the zero
// value of InterfacesRemovedPolicy) produces without being configured.
func TestRemoveEmptyListPolicyIsDefault(t *testing.T) {
	d := newFakeDaemon()
	server := mustRouter(t, d)
	client := mustRouter(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc, err := server.RegisterService(ctx, "com.example.PhoneBook", FlagReplaceExisting)
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	svc.Object("/com/example/PhoneBook").EnableObjectManager()

	contacts := svc.Object("/com/example/PhoneBook/Contacts")
	child := svc.Object("/com/example/PhoneBook/Contacts/abc")
	iface := child.AddInterface(NewInterfaceDescriptor("com.example.PhoneBook.Contact").Property("Name", AccessRead, "s"))
	AddProperty(iface, "Name", "Ada Lovelace")
	if err := svc.Expose(child); err != nil {
		t.Fatalf("Expose: %v", err)
	}

	ch, stop, err := client.Subscribe(ctx, MatchRule{Interface: IfaceObjectManager, Member: "InterfacesRemoved"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := svc.RemoveObject(contacts, "abc"); err != nil {
		t.Fatalf("RemoveObject: %v", err)
	}

	select {
	case msg := <-ch:
		if len(msg.Body) != 2 {
			t.Fatalf("unexpected InterfacesRemoved body: %#v", msg.Body)
		}
		if path, _ := msg.Body[0].(wire.ObjectPath); path != "/com/example/PhoneBook/Contacts/abc" {
			t.Fatalf("InterfacesRemoved path = %q, want the removed node's path", path)
		}
		ifaces, _ := msg.Body[1].([]interface{})
		if len(ifaces) != 0 {
			t.Fatalf("RemoveEmptyList should send an empty interface list, got %#v", ifaces)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for InterfacesRemoved")
	}
}
