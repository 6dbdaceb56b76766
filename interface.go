package dbus

import (
	"context"
	"sort"
	"sync"

	"github.com/busforge/dbus/introspect"
	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
)

// MethodHandler implements one method of an interface. args are already
// translated to high-level Values; the returned Values are translated back
// to marshal form by the dispatcher using the method's declared Out
// signature (spec §4.2/§4.8).
type MethodHandler func(ctx context.Context, args []value.Value) ([]value.Value, error)

// propertyHandle is the type-erased view of a PropertyCell[T] that
// Interface needs for Get/Set/GetAll dispatch, since a map cannot hold
// PropertyCell[T] for varying T directly.
type propertyHandle interface {
	getValue() (value.Value, error)
	setValue(value.Value) error
	descriptor() *PropertyDescriptor
}

// Interface is one interface instance attached to an ObjectNode: the
// descriptor it was built from, its live property cells, and its method
// dispatch table (spec §4.1/§4.4).
type Interface struct {
	desc *InterfaceDescriptor
	node *ObjectNode

	mu         sync.RWMutex
	handlers   map[string]MethodHandler
	properties map[string]propertyHandle
}

func newInterfaceInstance(desc *InterfaceDescriptor, node *ObjectNode) *Interface {
	return &Interface{
		desc:       desc,
		node:       node,
		handlers:   make(map[string]MethodHandler),
		properties: make(map[string]propertyHandle),
	}
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.desc.Name }

// Descriptor returns the static descriptor this instance was built from.
func (i *Interface) Descriptor() *InterfaceDescriptor { return i.desc }

// HandleMethod registers the Go function backing a method the descriptor
// declares. Calling it for a method name the descriptor never declared is
// a programmer error and panics, mirroring the teacher's export-time
// validation.
func (i *Interface) HandleMethod(name string, h MethodHandler) {
	if _, ok := i.desc.Methods[name]; !ok {
		panic(&RoutingError{Kind: RoutingUnknownMethod, Text: "dbus: no such method " + name + " on " + i.desc.Name})
	}
	i.mu.Lock()
	i.handlers[name] = h
	i.mu.Unlock()
}

// AddProperty attaches a typed, live-mutable property cell for a property
// the descriptor declares and returns it. Generic type parameters cannot
// live on a method, so this is a package function taking the owning
// Interface explicitly.
func AddProperty[T any](i *Interface, name string, initial T) *PropertyCell[T] {
	desc, ok := i.desc.Properties[name]
	if !ok {
		panic(&NameError{Kind: "property", Name: name})
	}
	cell := newPropertyCell(i, desc, initial)
	i.mu.Lock()
	i.properties[name] = cell
	i.mu.Unlock()
	return cell
}

func (i *Interface) dispatchMethod(ctx context.Context, member string, args []value.Value) (out []value.Value, err error) {
	i.mu.RLock()
	h, ok := i.handlers[member]
	i.mu.RUnlock()
	if !ok {
		return nil, unknownMethod(i.desc.Name, member)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, recoveredHandlerError(r)
		}
	}()
	return h(ctx, args)
}

func (i *Interface) getProperty(name string) (value.Value, error) {
	i.mu.RLock()
	p, ok := i.properties[name]
	i.mu.RUnlock()
	if !ok {
		return value.Value{}, unknownProperty(i.desc.Name, name)
	}
	if !p.descriptor().Access.Readable() {
		return value.Value{}, &PropertyAccessError{Kind: PropertyWriteOnly, Interface: i.desc.Name, Property: name}
	}
	return p.getValue()
}

func (i *Interface) setProperty(name string, v value.Value) error {
	i.mu.RLock()
	p, ok := i.properties[name]
	i.mu.RUnlock()
	if !ok {
		return unknownProperty(i.desc.Name, name)
	}
	if !p.descriptor().Access.Writable() {
		return &PropertyAccessError{Kind: PropertyReadOnly, Interface: i.desc.Name, Property: name}
	}
	return p.setValue(v)
}

// getAllProperties returns every readable property's current value, for
// Properties.GetAll and for the priming pass a property cache runs on
// activation.
func (i *Interface) getAllProperties() (map[string]value.Value, error) {
	i.mu.RLock()
	handles := make(map[string]propertyHandle, len(i.properties))
	for name, p := range i.properties {
		handles[name] = p
	}
	i.mu.RUnlock()

	out := make(map[string]value.Value, len(handles))
	for name, p := range handles {
		if !p.descriptor().Access.Readable() {
			continue
		}
		v, err := p.getValue()
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// emitPropertyChanged sends the interface's PropertiesChanged signal
// carrying the single named property's post-write value (spec §9's chosen
// resolution: emit what was actually written, not a stale pre-write copy).
func (i *Interface) emitPropertyChanged(name string, _ interface{}) {
	if i.node == nil || i.node.service == nil {
		return
	}
	v, err := i.getProperty(name)
	if err != nil {
		return
	}
	i.node.service.emitPropertiesChanged(i.node.path, i.desc.Name, map[string]value.Value{name: v}, nil)
}

// EmitSignal sends a signal declared on this interface's descriptor from
// this interface's object path.
func (i *Interface) EmitSignal(name string, args ...value.Value) error {
	sig, ok := i.desc.Signals[name]
	if !ok {
		return &NameError{Kind: "signal", Name: name}
	}
	if len(args) != len(sig.Out) {
		return &ProtocolError{Reason: "signal " + name + " argument count mismatch"}
	}
	body := make([]interface{}, len(args))
	for idx, a := range args {
		mv, err := value.Bridge{}.HighToMarshal(a, sig.Out[idx])
		if err != nil {
			return err
		}
		body[idx] = mv
	}
	if i.node == nil || i.node.service == nil {
		return &BusNotReadyError{Timeout: "interface not attached to a service"}
	}
	return i.node.service.router.SendSignal(i.node.path, i.desc.Name, name, wire.SignatureOfAll(sig.Out), body)
}

func (i *Interface) introspectData() introspect.Interface {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := introspect.Interface{Name: i.desc.Name}

	methodNames := make([]string, 0, len(i.desc.Methods))
	for n := range i.desc.Methods {
		methodNames = append(methodNames, n)
	}
	sort.Strings(methodNames)
	for _, n := range methodNames {
		m := i.desc.Methods[n]
		method := introspect.Method{Name: n}
		for _, t := range m.In {
			method.Args = append(method.Args, introspect.Arg{Type: t.String(), Direction: "in"})
		}
		for _, t := range m.Out {
			method.Args = append(method.Args, introspect.Arg{Type: t.String(), Direction: "out"})
		}
		out.Methods = append(out.Methods, method)
	}

	propNames := make([]string, 0, len(i.desc.Properties))
	for n := range i.desc.Properties {
		propNames = append(propNames, n)
	}
	sort.Strings(propNames)
	for _, n := range propNames {
		p := i.desc.Properties[n]
		access := "readwrite"
		switch {
		case p.Access == AccessRead:
			access = "read"
		case p.Access == AccessWrite:
			access = "write"
		}
		out.Properties = append(out.Properties, introspect.Property{Name: n, Type: p.Type.String(), Access: access})
	}

	sigNames := make([]string, 0, len(i.desc.Signals))
	for n := range i.desc.Signals {
		sigNames = append(sigNames, n)
	}
	sort.Strings(sigNames)
	for _, n := range sigNames {
		s := i.desc.Signals[n]
		signal := introspect.Signal{Name: n}
		for _, t := range s.Out {
			signal.Args = append(signal.Args, introspect.Arg{Type: t.String(), Direction: "out"})
		}
		out.Signals = append(out.Signals, signal)
	}

	return out
}
