package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/busforge/dbus"
	"github.com/busforge/dbus/introspect"
	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
	"go.uber.org/zap"
)

// proxyMethod is a call stub built from one <method> element: its arity and
// signatures, checked against introspection once, at build time.
type proxyMethod struct {
	name string
	in   []*wire.SignatureTree
	out  []*wire.SignatureTree
}

// propertyCache is the primed, live-updated cache for one property, kept
// warm by PropertiesChanged interception (spec §4.7, §5's "reader between
// Set and the signal observes the old value" ordering guarantee).
type propertyCache struct {
	mu     sync.RWMutex
	typ    *wire.SignatureTree
	access dbus.PropertyAccess
	value  value.Value
	have   bool
}

func (c *propertyCache) get() value.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *propertyCache) set(v value.Value) {
	c.mu.Lock()
	c.value = v
	c.have = true
	c.mu.Unlock()
}

// ProxyInterface is the client-side mirror of one remote interface: method
// stubs, a primed property cache, and per-signal delivery channels.
type ProxyInterface struct {
	proxy *Proxy
	obj   *ProxyObject
	name  string

	mu      sync.RWMutex
	methods map[string]*proxyMethod
	props   map[string]*propertyCache
	signals map[string]chan []value.Value
}

// Name returns the interface name.
func (pi *ProxyInterface) Name() string { return pi.name }

// Call issues a routed method call, translating args from high-level Values
// to marshal form using the method's precomputed input signature tree, and
// translating the reply back (spec §4.7 bullet on method stubs).
func (pi *ProxyInterface) Call(ctx context.Context, member string, args ...value.Value) ([]value.Value, error) {
	pi.mu.RLock()
	m, ok := pi.methods[member]
	pi.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("proxy: %s has no method %s", pi.name, member)
	}
	if len(args) != len(m.in) {
		return nil, fmt.Errorf("proxy: %s.%s expects %d arguments, got %d", pi.name, member, len(m.in), len(args))
	}
	body := make([]interface{}, len(args))
	for i, a := range args {
		mv, err := value.Bridge{}.HighToMarshal(a, m.in[i])
		if err != nil {
			return nil, err
		}
		body[i] = mv
	}
	reply, err := pi.proxy.router.Invoke(ctx, pi.proxy.name, pi.obj.path, pi.name, member, wire.SignatureOfAll(m.in), body)
	if err != nil {
		return nil, err
	}
	if len(reply.Body) != len(m.out) {
		return nil, fmt.Errorf("proxy: %s.%s reply arity mismatch: expected %d, got %d", pi.name, member, len(m.out), len(reply.Body))
	}
	out := make([]value.Value, len(m.out))
	for i, t := range m.out {
		hv, err := value.Bridge{}.MarshalToHigh(reply.Body[i], t)
		if err != nil {
			return nil, err
		}
		out[i] = hv
	}
	return out, nil
}

// CallInto issues Call and destructures the reply into dest via
// value.Store, so callers who want native Go out-parameters don't have to
// unwrap each returned Value by hand.
func (pi *ProxyInterface) CallInto(ctx context.Context, member string, args []value.Value, dest ...interface{}) error {
	out, err := pi.Call(ctx, member, args...)
	if err != nil {
		return err
	}
	return value.Store(out, dest...)
}

// Get implements the zero-argument form of the property accessor: return
// the cached value, or reject with PropertyWriteOnly.
func (pi *ProxyInterface) Get(name string) (value.Value, error) {
	pi.mu.RLock()
	c, ok := pi.props[name]
	pi.mu.RUnlock()
	if !ok {
		return value.Value{}, fmt.Errorf("proxy: %s has no property %s", pi.name, name)
	}
	if !c.access.Readable() {
		return value.Value{}, &dbus.PropertyAccessError{Kind: dbus.PropertyWriteOnly, Interface: pi.name, Property: name}
	}
	return c.get(), nil
}

// Set implements the one-argument form: issue Properties.Set, rejecting
// PropertyReadOnly when the property isn't writable. The cache itself is
// only updated when the resulting PropertiesChanged signal arrives, per
// spec §5's deliberate consistency-over-liveness ordering.
func (pi *ProxyInterface) Set(ctx context.Context, name string, v value.Value) error {
	pi.mu.RLock()
	c, ok := pi.props[name]
	pi.mu.RUnlock()
	if !ok {
		return fmt.Errorf("proxy: %s has no property %s", pi.name, name)
	}
	if !c.access.Writable() {
		return &dbus.PropertyAccessError{Kind: dbus.PropertyReadOnly, Interface: pi.name, Property: name}
	}
	mv, err := value.Bridge{}.HighToMarshal(v, c.typ)
	if err != nil {
		return err
	}
	variant := wire.MakeVariant(wire.Signature(c.typ.String()), mv)
	_, err = pi.proxy.router.Invoke(ctx, pi.proxy.name, pi.obj.path, "org.freedesktop.DBus.Properties", "Set",
		"ssv", []interface{}{pi.name, name, variant})
	return err
}

// Signal returns the delivery channel for a declared signal. The match
// subscription behind it was already made when the interface was built.
func (pi *ProxyInterface) Signal(name string) (<-chan []value.Value, error) {
	pi.mu.RLock()
	ch, ok := pi.signals[name]
	pi.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("proxy: %s has no signal %s", pi.name, name)
	}
	return ch, nil
}

// buildInterface builds a ProxyInterface from its introspection XML: method
// stubs and signatures, a primed property cache via GetAll, and a
// subscription per declared signal (spec §4.7 bullet points 1-3).
func (p *Proxy) buildInterface(ctx context.Context, obj *ProxyObject, ifaceXML introspect.Interface) (*ProxyInterface, error) {
	pi := &ProxyInterface{
		proxy:   p,
		obj:     obj,
		name:    ifaceXML.Name,
		methods: make(map[string]*proxyMethod),
		props:   make(map[string]*propertyCache),
		signals: make(map[string]chan []value.Value),
	}

	for _, m := range ifaceXML.Methods {
		var in, out []*wire.SignatureTree
		for _, a := range m.Args {
			t, err := wire.Parse(a.Type)
			if err != nil {
				return nil, err
			}
			if a.Direction == "out" {
				out = append(out, t)
			} else {
				in = append(in, t)
			}
		}
		pi.methods[m.Name] = &proxyMethod{name: m.Name, in: in, out: out}
	}

	for _, prop := range ifaceXML.Properties {
		t, err := wire.Parse(prop.Type)
		if err != nil {
			return nil, err
		}
		access := dbus.AccessReadWrite
		switch prop.Access {
		case "read":
			access = dbus.AccessRead
		case "write":
			access = dbus.AccessWrite
		}
		pi.props[prop.Name] = &propertyCache{typ: t, access: access}
	}

	if len(pi.props) > 0 {
		if err := p.primeProperties(ctx, pi); err != nil {
			return nil, err
		}
	}

	for _, sig := range ifaceXML.Signals {
		var out []*wire.SignatureTree
		for _, a := range sig.Args {
			t, err := wire.Parse(a.Type)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		ch := make(chan []value.Value, 16)
		pi.signals[sig.Name] = ch
		if err := p.subscribeSignal(ctx, obj.path, ifaceXML.Name, sig.Name, out, ch); err != nil {
			return nil, err
		}
	}

	return pi, nil
}

func (p *Proxy) primeProperties(ctx context.Context, pi *ProxyInterface) error {
	reply, err := p.router.Invoke(ctx, p.name, pi.obj.path, "org.freedesktop.DBus.Properties", "GetAll", "s", []interface{}{pi.name})
	if err != nil {
		return err
	}
	if len(reply.Body) != 1 {
		return fmt.Errorf("proxy: GetAll(%s) unexpected reply arity", pi.name)
	}
	entries, _ := reply.Body[0].([]wire.DictEntry)
	names := make([]string, 0, len(entries))
	byName := make(map[string]wire.DictEntry, len(entries))
	for _, e := range entries {
		k, _ := e.Key.(string)
		names = append(names, k)
		byName[k] = e
	}
	sort.Strings(names)
	for _, n := range names {
		c, ok := pi.props[n]
		if !ok {
			continue
		}
		variant, ok := byName[n].Value.(wire.Variant)
		if !ok {
			continue
		}
		hv, err := value.Bridge{}.MarshalToHigh(variant.Value, c.typ)
		if err != nil {
			continue
		}
		c.set(hv)
	}
	return nil
}

func (p *Proxy) subscribeSignal(ctx context.Context, path wire.ObjectPath, iface, member string, out []*wire.SignatureTree, dest chan []value.Value) error {
	ch, _, err := p.router.Subscribe(ctx, dbus.MatchRule{Path: path, Interface: iface, Member: member})
	if err != nil {
		return err
	}
	go func() {
		for msg := range ch {
			if len(msg.Body) != len(out) {
				p.log.Debug("dropping signal with unexpected arity",
					zap.String("interface", iface), zap.String("member", member))
				continue
			}
			vals := make([]value.Value, len(out))
			ok := true
			for i, t := range out {
				hv, err := value.Bridge{}.MarshalToHigh(msg.Body[i], t)
				if err != nil {
					ok = false
					break
				}
				vals[i] = hv
			}
			if !ok {
				continue
			}
			select {
			case dest <- vals:
			default:
			}
		}
	}()
	return nil
}
