package dbus

import (
	"sort"
	"sync"

	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
	"go.uber.org/multierr"
)

// joinErrors aggregates the per-node failures a whole-subtree teardown (or
// Router.Close) can produce into one error with go.uber.org/multierr.
func joinErrors(errs []error) error {
	var out error
	for _, e := range errs {
		out = multierr.Append(out, e)
	}
	return out
}

// InterfacesRemovedPolicy selects how Service.RemoveObject announces a
// subtree's departure over org.freedesktop.DBus.ObjectManager, per the
// redesign in spec §9: the source's whole-subtree removal left the
// interface list empty on InterfacesRemoved for descendants, which this
// module makes an explicit, callable-configurable choice instead.
type InterfacesRemovedPolicy int

const (
	// RemoveEmptyList emits a single InterfacesRemoved for the subtree
	// root with an empty interface list, the canonical form documented by
	// the org.freedesktop.DBus.ObjectManager convention: the listener is
	// expected to drop every interface it had cached for that path and
	// everything beneath it.
	RemoveEmptyList InterfacesRemovedPolicy = iota
	// RemoveWholeSubtree emits one InterfacesRemoved per node in the
	// removed subtree, each listing that node's actual interfaces.
	RemoveWholeSubtree
	// RemoveRootOnly emits a single InterfacesRemoved for the subtree
	// root only, listing its actual interfaces.
	RemoveRootOnly
)

// Service is a root object node exposed under a bus name: either a
// well-known name obtained via RequestName, or the connection's own
// unique name when no well-known name was requested (spec §4.5/§4.6).
type Service struct {
	router *Router
	name   string // well-known name, or "" for the unique-name-only service

	mu     sync.Mutex
	root   *ObjectNode
	policy InterfacesRemovedPolicy
}

func newService(router *Router, name string) *Service {
	svc := &Service{router: router, name: name}
	svc.root = newObjectNode("/", nil, svc)
	return svc
}

// Name returns the well-known name this service was published under, or ""
// if it was never given one.
func (s *Service) Name() string { return s.name }

// Root returns the "/" node of this service's object tree.
func (s *Service) Root() *ObjectNode { return s.root }

// SetInterfacesRemovedPolicy overrides the default whole-subtree removal
// announcement behavior.
func (s *Service) SetInterfacesRemovedPolicy(p InterfacesRemovedPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Object returns the node at path, creating any missing intermediate nodes
// along the way. It does not, by itself, announce anything: call Expose
// once the subtree is fully built (spec §4.6: a single InterfacesAdded per
// subtree addition, not one per interface).
func (s *Service) Object(path wire.ObjectPath) *ObjectNode {
	if !path.IsValid() {
		panic(&NameError{Kind: "path", Name: string(path)})
	}
	cur := s.root
	if path == "/" {
		return cur
	}
	for _, comp := range path.Components() {
		cur = cur.AddObject(comp)
	}
	return cur
}

// Expose announces node and every descendant already attached under it via
// a single InterfacesAdded signal per §4.6's traversal-order rule: parent
// before children, one dictionary entry per node keyed by path with that
// node's interfaces and their current property values.
func (s *Service) Expose(node *ObjectNode) error {
	// a{oa{sa{sv}}}: one entry per object path, each holding one entry per
	// interface name, each holding that interface's readable properties as
	// name -> variant.
	var pathEntries []wire.DictEntry
	var walkErr error
	node.Walk(func(n *ObjectNode) {
		ifaceNames := n.Interfaces()
		if len(ifaceNames) == 0 {
			return
		}
		var ifaceEntries []wire.DictEntry
		for _, name := range ifaceNames {
			iface, _ := n.Interface(name)
			props, err := iface.getAllProperties()
			if err != nil {
				walkErr = err
				return
			}
			var propEntries []wire.DictEntry
			propNames := make([]string, 0, len(props))
			for pn := range props {
				propNames = append(propNames, pn)
			}
			sort.Strings(propNames)
			for _, pn := range propNames {
				desc := iface.desc.Properties[pn]
				mv, err := value.Bridge{}.HighToMarshal(props[pn], desc.Type)
				if err != nil {
					walkErr = err
					return
				}
				propEntries = append(propEntries, wire.DictEntry{
					Key:   pn,
					Value: wire.MakeVariant(wire.Signature(desc.Type.String()), mv),
				})
			}
			ifaceEntries = append(ifaceEntries, wire.DictEntry{Key: name, Value: propEntries})
		}
		pathEntries = append(pathEntries, wire.DictEntry{Key: n.path, Value: ifaceEntries})
	})
	if walkErr != nil {
		return walkErr
	}
	if len(pathEntries) == 0 {
		return nil
	}
	mgr, ok := node.nearestObjectManager()
	if !ok {
		// No ancestor opted into ObjectManager: nothing to announce to
		// (spec invariant 6).
		return nil
	}
	body := []interface{}{pathEntries}
	return s.router.SendSignal(mgr.path, IfaceObjectManager, "InterfacesAdded", "a{oa{sa{sv}}}", body)
}

// RemoveObject detaches the child named name from parent and announces its
// departure per the configured InterfacesRemovedPolicy.
func (s *Service) RemoveObject(parent *ObjectNode, name string) error {
	removed := parent.RemoveObject(name)
	if removed == nil {
		return nil
	}
	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()

	switch policy {
	case RemoveWholeSubtree:
		var errs []error
		removed.Walk(func(n *ObjectNode) {
			if err := s.emitInterfacesRemoved(n, n.Interfaces()); err != nil {
				errs = append(errs, err)
			}
		})
		return joinErrors(errs)
	case RemoveRootOnly:
		return s.emitInterfacesRemoved(removed, removed.Interfaces())
	default: // RemoveEmptyList
		return s.emitInterfacesRemoved(removed, nil)
	}
}

// emitInterfacesRemoved announces n's departure from the nearest ancestor
// ObjectManager still attached above n (n was already unlinked from its
// parent's children map by RemoveObject, but its parent pointer survives,
// so the walk up still finds it). ifaces is nil for the RemoveEmptyList
// policy's canonical empty-list form.
func (s *Service) emitInterfacesRemoved(n *ObjectNode, ifaces []string) error {
	mgr, ok := n.nearestObjectManager()
	if !ok {
		return nil
	}
	sort.Strings(ifaces)
	body := []interface{}{n.path, toInterfaceStringArray(ifaces)}
	return s.router.SendSignal(mgr.path, IfaceObjectManager, "InterfacesRemoved", "oas", body)
}

func toInterfaceStringArray(names []string) []interface{} {
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// emitPropertiesChanged sends the standard Properties.PropertiesChanged
// signal for one interface on one path.
func (s *Service) emitPropertiesChanged(path wire.ObjectPath, iface string, changed map[string]value.Value, invalidated []string) error {
	names := make([]string, 0, len(changed))
	for n := range changed {
		names = append(names, n)
	}
	sort.Strings(names)

	entries := make([]wire.DictEntry, 0, len(names))
	for _, n := range names {
		v := changed[n]
		desc, ok := s.lookupPropertyType(path, iface, n)
		if !ok {
			continue
		}
		mv, err := value.Bridge{}.HighToMarshal(v, desc)
		if err != nil {
			return err
		}
		entries = append(entries, wire.DictEntry{
			Key:   n,
			Value: wire.MakeVariant(wire.Signature(desc.String()), mv),
		})
	}
	inv := make([]interface{}, len(invalidated))
	for i, n := range invalidated {
		inv[i] = n
	}
	body := []interface{}{iface, entries, inv}
	return s.router.SendSignal(path, IfaceProperties, "PropertiesChanged", "sa{sv}as", body)
}

func (s *Service) lookupPropertyType(path wire.ObjectPath, iface, prop string) (*wire.SignatureTree, bool) {
	node, ok := s.root.Find(path)
	if !ok {
		return nil, false
	}
	i, ok := node.Interface(iface)
	if !ok {
		return nil, false
	}
	d, ok := i.desc.Properties[prop]
	if !ok {
		return nil, false
	}
	return d.Type, true
}
