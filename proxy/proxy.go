// Package proxy implements the client-side mirror of a remote service's
// object tree: Proxy walks Introspect output to build ProxyObject/
// ProxyInterface stubs, keeps property caches warm off PropertiesChanged,
// and grows/shrinks the tree off InterfacesAdded/InterfacesRemoved (spec
// §4.7). Grounded on the teacher's object.go/call.go method-stub shape and
// prop/prop.go's property-cache pattern, generalized from a single flat
// object to a recursively introspected tree.
package proxy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/busforge/dbus"
	"github.com/busforge/dbus/dlog"
	"github.com/busforge/dbus/introspect"
	"github.com/busforge/dbus/wire"
	"go.uber.org/zap"
)

// InfiniteDepth disables the introspection recursion bound.
const InfiniteDepth = math.MaxInt

// Proxy is the client-side mirror of one bus name's object tree.
type Proxy struct {
	router *dbus.Router
	log    *zap.Logger

	name        string
	targetPath  wire.ObjectPath
	targetIface string
	maxDepth    int

	mu   sync.RWMutex
	root *ProxyObject

	Events chan Event
}

// Event is delivered on Proxy.Events as the proxy's connection state
// changes (spec §6's "connected"/"disconnected"/"error" surface).
type Event struct {
	Kind ProxyEventKind
	Err  error
}

// ProxyEventKind enumerates the lifecycle events a Proxy emits.
type ProxyEventKind int

const (
	EventConnected ProxyEventKind = iota
	EventDisconnected
	EventError
)

// ProxyObject mirrors one object path of the remote tree.
type ProxyObject struct {
	mu       sync.RWMutex
	path     wire.ObjectPath
	parent   *ProxyObject
	children map[string]*ProxyObject
	ifaces   map[string]*ProxyInterface
}

func newProxyObject(path wire.ObjectPath, parent *ProxyObject) *ProxyObject {
	return &ProxyObject{
		path:     path,
		parent:   parent,
		children: make(map[string]*ProxyObject),
		ifaces:   make(map[string]*ProxyInterface),
	}
}

// Path returns the object path this node mirrors.
func (o *ProxyObject) Path() wire.ObjectPath { return o.path }

// Interface returns the named ProxyInterface, if the remote object exposes
// it.
func (o *ProxyObject) Interface(name string) (*ProxyInterface, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	i, ok := o.ifaces[name]
	return i, ok
}

func (o *ProxyObject) find(path wire.ObjectPath) (*ProxyObject, bool) {
	if path == o.path {
		return o, true
	}
	cur := o
	for _, comp := range componentsAfter(o.path, path) {
		o.mu.RLock()
		child, ok := cur.children[comp]
		o.mu.RUnlock()
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func componentsAfter(base, full wire.ObjectPath) []string {
	bc := base.Components()
	fc := full.Components()
	if len(fc) < len(bc) {
		return nil
	}
	for i, c := range bc {
		if fc[i] != c {
			return nil
		}
	}
	return fc[len(bc):]
}

// New builds a proxy for name. It blocks until activation and the first
// introspection pass are done; only the owner and signal watchers run in
// the background after it returns. targetPath/targetIface
// restrict the walk to a subtree/interface; leave both zero to mirror
// everything reachable within maxDepth path components.
func New(ctx context.Context, router *dbus.Router, name string, targetPath wire.ObjectPath, targetIface string, maxDepth int, log *zap.Logger) (*Proxy, error) {
	p := &Proxy{
		router:      router,
		log:         dlog.Or(log),
		name:        name,
		targetPath:  targetPath,
		targetIface: targetIface,
		maxDepth:    maxDepth,
		Events:      make(chan Event, 8),
	}
	if err := p.activate(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.root = newProxyObject("/", nil)
	p.mu.Unlock()
	if err := p.introspectFrom(ctx, p.root, 1); err != nil {
		return nil, err
	}
	go p.watchGlobalSignals(ctx)
	go p.watchOwner(ctx)
	return p, nil
}

// Object returns the proxy object at path, if the introspection pass ever
// reached it.
func (p *Proxy) Object(path wire.ObjectPath) (*ProxyObject, bool) {
	p.mu.RLock()
	root := p.root
	p.mu.RUnlock()
	if root == nil {
		return nil, false
	}
	return root.find(path)
}

// activate implements step 1 of §4.7: NameHasOwner, else activation via
// ListActivatableNames + StartServiceByName, else wait on NameOwnerChanged.
func (p *Proxy) activate(ctx context.Context) error {
	has, err := p.nameHasOwner(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	activatable, err := p.listActivatableNames(ctx)
	if err != nil {
		return err
	}
	for _, n := range activatable {
		if n == p.name {
			_, err := p.router.Invoke(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "StartServiceByName", "su", []interface{}{p.name, uint32(0)})
			return err
		}
	}
	ch, stop, err := p.router.Subscribe(ctx, dbus.MatchRule{
		Sender: "org.freedesktop.DBus", Interface: "org.freedesktop.DBus", Member: "NameOwnerChanged",
	})
	if err != nil {
		return err
	}
	defer stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("proxy: bus subscription closed while waiting for %s", p.name)
			}
			if len(msg.Body) != 3 {
				continue
			}
			owned, _ := msg.Body[0].(string)
			newOwner, _ := msg.Body[2].(string)
			if owned == p.name && newOwner != "" {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Proxy) nameHasOwner(ctx context.Context) (bool, error) {
	reply, err := p.router.Invoke(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "NameHasOwner", "s", []interface{}{p.name})
	if err != nil {
		return false, err
	}
	if len(reply.Body) != 1 {
		return false, fmt.Errorf("proxy: unexpected NameHasOwner reply")
	}
	b, _ := reply.Body[0].(bool)
	return b, nil
}

func (p *Proxy) listActivatableNames(ctx context.Context) ([]string, error) {
	reply, err := p.router.Invoke(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "ListActivatableNames", "", nil)
	if err != nil {
		return nil, err
	}
	if len(reply.Body) != 1 {
		return nil, nil
	}
	items, _ := reply.Body[0].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// watchOwner installs the long-lived NameOwnerChanged subscription of
// §4.7 step 3: empty new owner -> disconnected, non-empty -> full rebuild.
func (p *Proxy) watchOwner(ctx context.Context) {
	ch, stop, err := p.router.Subscribe(ctx, dbus.MatchRule{
		Sender: "org.freedesktop.DBus", Interface: "org.freedesktop.DBus", Member: "NameOwnerChanged",
	})
	if err != nil {
		p.emit(Event{Kind: EventError, Err: err})
		return
	}
	defer stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(msg.Body) != 3 {
				continue
			}
			owned, _ := msg.Body[0].(string)
			if owned != p.name {
				continue
			}
			newOwner, _ := msg.Body[2].(string)
			if newOwner == "" {
				p.emit(Event{Kind: EventDisconnected})
				continue
			}
			p.mu.Lock()
			p.root = newProxyObject("/", nil)
			p.mu.Unlock()
			if err := p.introspectFrom(ctx, p.root, 1); err != nil {
				p.emit(Event{Kind: EventError, Err: err})
				continue
			}
			p.emit(Event{Kind: EventConnected})
		case <-ctx.Done():
			return
		}
	}
}

func (p *Proxy) emit(e Event) {
	select {
	case p.Events <- e:
	default:
		p.log.Warn("dropping proxy event, listener backlog full")
	}
}

// belongsToTarget implements the path-belonging test of §4.7: two paths
// belong iff one is a component-wise prefix of the other; an unset target
// matches everything.
func (p *Proxy) belongsToTarget(path wire.ObjectPath) bool {
	if p.targetPath == "" {
		return true
	}
	tc := p.targetPath.Components()
	pc := path.Components()
	shorter, longer := tc, pc
	if len(pc) < len(tc) {
		shorter, longer = pc, tc
	}
	for i, c := range shorter {
		if longer[i] != c {
			return false
		}
	}
	return true
}

// introspectFrom performs the recursive introspection pass of §4.7 step 2
// starting at obj, whose depth (in path components, "/" is depth 1) is
// currentDepth.
func (p *Proxy) introspectFrom(ctx context.Context, obj *ProxyObject, currentDepth int) error {
	if currentDepth > p.maxDepth {
		return nil
	}
	reply, err := p.router.Invoke(ctx, p.name, obj.path, "org.freedesktop.DBus.Introspectable", "Introspect", "", nil)
	if err != nil {
		return err
	}
	xmlStr, _ := firstString(reply.Body)
	doc, err := introspect.Parse([]byte(xmlStr))
	if err != nil {
		return err
	}

	for _, ifaceXML := range doc.Interfaces {
		if p.targetIface != "" && ifaceXML.Name != p.targetIface {
			continue
		}
		if isStandardInterfaceName(ifaceXML.Name) {
			continue
		}
		pi, err := p.buildInterface(ctx, obj, ifaceXML)
		if err != nil {
			return err
		}
		obj.mu.Lock()
		obj.ifaces[ifaceXML.Name] = pi
		obj.mu.Unlock()
	}

	for _, childXML := range doc.Children {
		childPath := obj.path.Child(childXML.Name)
		if !p.belongsToTarget(childPath) {
			continue
		}
		obj.mu.Lock()
		child, ok := obj.children[childXML.Name]
		if !ok {
			child = newProxyObject(childPath, obj)
			obj.children[childXML.Name] = child
		}
		obj.mu.Unlock()
		if err := p.introspectFrom(ctx, child, currentDepth+1); err != nil {
			return err
		}
	}
	return nil
}

func isStandardInterfaceName(name string) bool {
	switch name {
	case "org.freedesktop.DBus.Peer", "org.freedesktop.DBus.Introspectable",
		"org.freedesktop.DBus.Properties", "org.freedesktop.DBus.ObjectManager":
		return true
	}
	return false
}

func firstString(body []interface{}) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	s, ok := body[0].(string)
	return s, ok
}
