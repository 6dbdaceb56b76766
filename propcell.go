package dbus

import (
	"sync"

	"github.com/busforge/dbus/value"
)

// PropertyCell holds one property's live value and, on every mutation,
// synchronously emits PropertiesChanged (spec §4.4/§9's redesign of the
// old dynamic-mutation-interception approach into a typed capability).
// Interface embeds one PropertyCell[T] per property instead of dispatching
// Get/Set through reflection. T is the property's marshal-form Go type
// (bool, string, int32, []interface{}, ... — whatever wire.Codec.Decode
// would hand back for its signature), matching value.Bridge's contract.
type PropertyCell[T any] struct {
	mu    sync.RWMutex
	value T
	iface *Interface
	desc  *PropertyDescriptor
}

// newPropertyCell binds a cell to the interface instance and property
// descriptor it belongs to, so mutations know where to route
// PropertiesChanged and how to translate to/from the wire.
func newPropertyCell[T any](iface *Interface, desc *PropertyDescriptor, initial T) *PropertyCell[T] {
	return &PropertyCell[T]{value: initial, iface: iface, desc: desc}
}

// Get returns the current value.
func (c *PropertyCell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and emits PropertiesChanged carrying the
// post-write value, per the spec's own recommendation in §9.
func (c *PropertyCell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.notify()
}

// Update applies fn to the current value under the lock and emits
// PropertiesChanged once, covering compound in-place mutations (append to
// a slice-valued property, increment a counter) with a single notification
// instead of a read-modify-write race between callers.
func (c *PropertyCell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.value = fn(c.value)
	c.mu.Unlock()
	c.notify()
}

func (c *PropertyCell[T]) notify() {
	if c.iface == nil {
		return
	}
	c.iface.emitPropertyChanged(c.desc.Name, c.Get())
}

// getValue implements propertyHandle: marshal the current value against the
// property's declared type.
func (c *PropertyCell[T]) getValue() (value.Value, error) {
	return value.Bridge{}.MarshalToHigh(c.Get(), c.desc.Type)
}

// setValue implements propertyHandle: unmarshal an incoming wire value and
// store it, emitting PropertiesChanged.
func (c *PropertyCell[T]) setValue(v value.Value) error {
	mv, err := value.Bridge{}.HighToMarshal(v, c.desc.Type)
	if err != nil {
		return err
	}
	tv, ok := mv.(T)
	if !ok {
		return &ProtocolError{Reason: "property value type mismatch for " + c.desc.Name}
	}
	c.Set(tv)
	return nil
}

func (c *PropertyCell[T]) descriptor() *PropertyDescriptor { return c.desc }
