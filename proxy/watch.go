package proxy

import (
	"context"

	"github.com/busforge/dbus"
	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
	"go.uber.org/zap"
)

// watchGlobalSignals intercepts PropertiesChanged, InterfacesAdded, and
// InterfacesRemoved for the whole proxy tree before any of it reaches user
// signal listeners, per spec §4.7's three interception bullets.
func (p *Proxy) watchGlobalSignals(ctx context.Context) {
	propCh, stopProp, err := p.router.Subscribe(ctx, dbus.MatchRule{Interface: "org.freedesktop.DBus.Properties", Member: "PropertiesChanged"})
	if err != nil {
		p.log.Warn("proxy: could not subscribe to PropertiesChanged", zap.Error(err))
		return
	}
	addedCh, stopAdded, err := p.router.Subscribe(ctx, dbus.MatchRule{Interface: "org.freedesktop.DBus.ObjectManager", Member: "InterfacesAdded"})
	if err != nil {
		p.log.Warn("proxy: could not subscribe to InterfacesAdded", zap.Error(err))
		return
	}
	removedCh, stopRemoved, err := p.router.Subscribe(ctx, dbus.MatchRule{Interface: "org.freedesktop.DBus.ObjectManager", Member: "InterfacesRemoved"})
	if err != nil {
		p.log.Warn("proxy: could not subscribe to InterfacesRemoved", zap.Error(err))
		return
	}
	defer stopProp()
	defer stopAdded()
	defer stopRemoved()

	for {
		select {
		case msg, ok := <-propCh:
			if !ok {
				return
			}
			p.onPropertiesChanged(msg)
		case msg, ok := <-addedCh:
			if !ok {
				return
			}
			p.onInterfacesAdded(ctx, msg)
		case msg, ok := <-removedCh:
			if !ok {
				return
			}
			p.onInterfacesRemoved(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Proxy) onPropertiesChanged(msg *wire.Message) {
	if len(msg.Body) != 3 {
		return
	}
	ifaceName, _ := msg.Body[0].(string)
	entries, _ := msg.Body[1].([]wire.DictEntry)

	obj, ok := p.Object(msg.Path)
	if !ok {
		return
	}
	iface, ok := obj.Interface(ifaceName)
	if !ok {
		return
	}
	iface.mu.RLock()
	defer iface.mu.RUnlock()
	for _, e := range entries {
		name, _ := e.Key.(string)
		c, ok := iface.props[name]
		if !ok {
			p.log.Debug("dropping PropertiesChanged for unknown property",
				zap.String("interface", ifaceName), zap.String("property", name))
			continue
		}
		variant, ok := e.Value.(wire.Variant)
		if !ok {
			continue
		}
		hv, err := value.Bridge{}.MarshalToHigh(variant.Value, c.typ)
		if err != nil {
			continue
		}
		c.set(hv)
	}
}

func (p *Proxy) onInterfacesAdded(ctx context.Context, msg *wire.Message) {
	if len(msg.Body) != 1 {
		return
	}
	entries, _ := msg.Body[0].([]wire.DictEntry)
	for _, e := range entries {
		path, ok := e.Key.(wire.ObjectPath)
		if !ok {
			continue
		}
		if !p.belongsToTarget(path) {
			continue
		}
		depth := len(path.Components()) + 1
		if depth > p.maxDepth {
			continue
		}
		obj := p.ensurePath(path)
		if err := p.introspectFrom(ctx, obj, depth); err != nil {
			p.log.Warn("proxy: introspection after InterfacesAdded failed",
				zap.String("path", string(path)), zap.Error(err))
		}
	}
}

// onInterfacesRemoved prunes ifaces named in the signal from the matching
// proxy object, then drops the object from its parent once it has neither
// interfaces nor children left. An empty names list is the server's
// RemoveEmptyList convention for "this whole object is gone" (spec §4.7,
// §9's default InterfacesRemovedPolicy), so it clears every interface the
// proxy still has cached for that object rather than none at all.
func (p *Proxy) onInterfacesRemoved(msg *wire.Message) {
	if len(msg.Body) != 2 {
		return
	}
	path, _ := msg.Body[0].(wire.ObjectPath)
	names, _ := msg.Body[1].([]interface{})

	obj, ok := p.Object(path)
	if !ok {
		return
	}
	obj.mu.Lock()
	if len(names) == 0 {
		for name := range obj.ifaces {
			delete(obj.ifaces, name)
		}
	} else {
		for _, n := range names {
			if s, ok := n.(string); ok {
				delete(obj.ifaces, s)
			}
		}
	}
	empty := len(obj.ifaces) == 0 && len(obj.children) == 0
	obj.mu.Unlock()

	if empty && obj.parent != nil {
		obj.parent.mu.Lock()
		for name, child := range obj.parent.children {
			if child == obj {
				delete(obj.parent.children, name)
				break
			}
		}
		obj.parent.mu.Unlock()
	}
}

// ensurePath creates any missing intermediate ProxyObjects along path,
// returning the (possibly newly created) leaf.
func (p *Proxy) ensurePath(path wire.ObjectPath) *ProxyObject {
	p.mu.RLock()
	cur := p.root
	p.mu.RUnlock()
	if path == "/" {
		return cur
	}
	built := wire.ObjectPath("")
	for _, comp := range path.Components() {
		built = built.Child(comp)
		cur.mu.Lock()
		child, ok := cur.children[comp]
		if !ok {
			child = newProxyObject(built, cur)
			cur.children[comp] = child
		}
		cur.mu.Unlock()
		cur = child
	}
	return cur
}
