package dbus

import (
	"fmt"
	"sync"

	"github.com/busforge/dbus/transport"
	"github.com/busforge/dbus/wire"
)

// fakeDaemon is a minimal, in-process stand-in for a real bus daemon: enough
// of org.freedesktop.DBus (Hello, RequestName, ReleaseName, AddMatch,
// RemoveMatch, NameHasOwner) to drive a Router end to end over
// transport.Pipe, plus destination-based relaying between attached
// connections and signal broadcast.
type fakeDaemon struct {
	mu    sync.Mutex
	next  int
	conns map[string]transport.Transport
	names map[string]string // well-known name -> unique name
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		conns: make(map[string]transport.Transport),
		names: make(map[string]string),
	}
}

// attach returns a client-facing transport already wired to the fake daemon.
func (d *fakeDaemon) attach() transport.Transport {
	client, daemonSide := transport.Pipe()
	d.mu.Lock()
	unique := fmt.Sprintf(":1.%d", d.next)
	d.next++
	d.conns[unique] = daemonSide
	d.mu.Unlock()
	go d.serve(unique, daemonSide)
	return client
}

func (d *fakeDaemon) serve(unique string, conn transport.Transport) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		d.handle(unique, conn, msg)
	}
}

func (d *fakeDaemon) handle(from string, conn transport.Transport, msg *wire.Message) {
	switch msg.Type {
	case wire.TypeMethodCall:
		if msg.Destination == "" || msg.Destination == "org.freedesktop.DBus" {
			d.handleBusCall(from, conn, msg)
			return
		}
		d.relay(msg)
	case wire.TypeMethodReturn, wire.TypeError:
		d.relay(msg)
	case wire.TypeSignal:
		d.broadcast(from, msg)
	}
}

func (d *fakeDaemon) handleBusCall(from string, conn transport.Transport, msg *wire.Message) {
	reply := func(sig wire.Signature, body []interface{}) {
		r := wire.NewMethodReturn(msg, sig, body)
		r.Sender = "org.freedesktop.DBus"
		conn.Send(r)
	}
	switch msg.Member {
	case "Hello":
		reply("s", []interface{}{from})
	case "RequestName":
		name, _ := msg.Body[0].(string)
		flags, _ := msg.Body[1].(uint32)
		d.mu.Lock()
		owner, owned := d.names[name]
		if owned && owner != from && RequestNameFlags(flags)&FlagDoNotQueue != 0 {
			d.mu.Unlock()
			reply("u", []interface{}{uint32(3)}) // NameExists
			return
		}
		d.names[name] = from
		d.mu.Unlock()
		reply("u", []interface{}{uint32(1)}) // NamePrimaryOwner
		d.broadcastNameOwnerChanged(name, owner, from)
	case "ReleaseName":
		name, _ := msg.Body[0].(string)
		d.mu.Lock()
		oldOwner := d.names[name]
		delete(d.names, name)
		d.mu.Unlock()
		reply("u", []interface{}{uint32(1)})
		d.broadcastNameOwnerChanged(name, oldOwner, "")
	case "AddMatch", "RemoveMatch":
		reply("", nil)
	case "NameHasOwner":
		name, _ := msg.Body[0].(string)
		d.mu.Lock()
		_, ok := d.names[name]
		d.mu.Unlock()
		reply("b", []interface{}{ok})
	case "GetConnectionUnixUser":
		reply("u", []interface{}{uint32(1000)})
	case "GetConnectionUnixProcessID":
		reply("u", []interface{}{uint32(4242)})
	case "ListActivatableNames":
		reply("as", []interface{}{[]interface{}{}})
	case "StartServiceByName":
		reply("u", []interface{}{uint32(0)})
	default:
		errMsg := wire.NewError(msg, "org.freedesktop.DBus.Error.UnknownMethod", "fakeDaemon: unhandled bus method "+msg.Member)
		errMsg.Sender = "org.freedesktop.DBus"
		conn.Send(errMsg)
	}
}

func (d *fakeDaemon) broadcastNameOwnerChanged(name, oldOwner, newOwner string) {
	sig := wire.NewSignal(busPath, busIface, "NameOwnerChanged", "sss", []interface{}{name, oldOwner, newOwner})
	sig.Sender = "org.freedesktop.DBus"
	d.mu.Lock()
	targets := make([]transport.Transport, 0, len(d.conns))
	for _, conn := range d.conns {
		targets = append(targets, conn)
	}
	d.mu.Unlock()
	for _, conn := range targets {
		conn.Send(sig)
	}
}

func (d *fakeDaemon) relay(msg *wire.Message) {
	d.mu.Lock()
	unique, ok := d.names[msg.Destination]
	if !ok {
		unique = msg.Destination // already a unique name
	}
	conn, ok := d.conns[unique]
	d.mu.Unlock()
	if !ok {
		return
	}
	conn.Send(msg)
}

func (d *fakeDaemon) broadcast(from string, msg *wire.Message) {
	d.mu.Lock()
	targets := make([]transport.Transport, 0, len(d.conns))
	for unique, conn := range d.conns {
		if unique == from {
			continue
		}
		targets = append(targets, conn)
	}
	d.mu.Unlock()
	for _, conn := range targets {
		conn.Send(msg)
	}
}
