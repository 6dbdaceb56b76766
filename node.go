package dbus

import (
	"sort"
	"sync"

	"github.com/busforge/dbus/introspect"
	"github.com/busforge/dbus/wire"
)

// ObjectNode is one path component in a service's server-side object tree
// (spec §4.3). Each node owns zero or more Interface instances and zero or
// more child nodes; the whole tree is walked to build introspection XML and
// to route inbound method calls.
type ObjectNode struct {
	mu sync.RWMutex

	path          wire.ObjectPath
	parent        *ObjectNode
	service       *Service
	children      map[string]*ObjectNode
	ifaces        map[string]*Interface
	objectManager bool
}

func newObjectNode(path wire.ObjectPath, parent *ObjectNode, svc *Service) *ObjectNode {
	return &ObjectNode{
		path:     path,
		parent:   parent,
		service:  svc,
		children: make(map[string]*ObjectNode),
		ifaces:   make(map[string]*Interface),
	}
}

// Path returns the node's absolute object path.
func (n *ObjectNode) Path() wire.ObjectPath { return n.path }

// EnableObjectManager opts n into org.freedesktop.DBus.ObjectManager (spec
// §4.3/§4.6): GetManagedObjects answers for n's subtree, and InterfacesAdded/
// InterfacesRemoved for n or any descendant are emitted from n's path, the
// nearest such ancestor winning when several are opted in along the way to
// the root. A tree with no opted-in node emits nothing, per invariant 6.
func (n *ObjectNode) EnableObjectManager() {
	n.mu.Lock()
	n.objectManager = true
	n.mu.Unlock()
}

// IsObjectManager reports whether n itself was opted in via
// EnableObjectManager.
func (n *ObjectNode) IsObjectManager() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.objectManager
}

// nearestObjectManager walks up from n (inclusive) to the root looking for
// the first opted-in ObjectManager node. It returns false when none of n's
// ancestors ever opted in.
func (n *ObjectNode) nearestObjectManager() (*ObjectNode, bool) {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.IsObjectManager() {
			return cur, true
		}
	}
	return nil, false
}

// AddInterface attaches iface, built from desc, to this node and returns
// the live Interface instance callers use to register handlers and
// property cells.
func (n *ObjectNode) AddInterface(desc *InterfaceDescriptor) *Interface {
	iface := newInterfaceInstance(desc, n)
	n.mu.Lock()
	n.ifaces[desc.Name] = iface
	n.mu.Unlock()
	return iface
}

// RemoveInterface detaches an interface by name.
func (n *ObjectNode) RemoveInterface(name string) {
	n.mu.Lock()
	delete(n.ifaces, name)
	n.mu.Unlock()
}

// Interface looks up an already-attached interface by name.
func (n *ObjectNode) Interface(name string) (*Interface, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	iface, ok := n.ifaces[name]
	return iface, ok
}

// Interfaces returns a snapshot of every interface name attached to n.
func (n *ObjectNode) Interfaces() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.ifaces))
	for name := range n.ifaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddObject creates (or returns, if already present) the child node at
// relative name under n. It does not itself announce anything; callers that
// want InterfacesAdded emitted for the new subtree do so through
// Service.Expose once the subtree is fully built (spec §4.6).
func (n *ObjectNode) AddObject(name string) *ObjectNode {
	n.mu.Lock()
	child, ok := n.children[name]
	if !ok {
		child = newObjectNode(n.path.Child(name), n, n.service)
		n.children[name] = child
	}
	n.mu.Unlock()
	return child
}

// RemoveObject detaches and returns the child node at relative name, or nil
// if none exists. The caller (Service.RemoveObject) is responsible for the
// InterfacesRemoved emission policy, since that varies (spec §9).
func (n *ObjectNode) RemoveObject(name string) *ObjectNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	child := n.children[name]
	delete(n.children, name)
	return child
}

// Child returns the direct child named name, if any.
func (n *ObjectNode) Child(name string) (*ObjectNode, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.children[name]
	return c, ok
}

// Children returns a snapshot of direct child names, sorted.
func (n *ObjectNode) Children() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Walk visits n and every descendant node in pre-order.
func (n *ObjectNode) Walk(fn func(*ObjectNode)) {
	fn(n)
	n.mu.RLock()
	children := make([]*ObjectNode, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.mu.RUnlock()
	for _, c := range children {
		c.Walk(fn)
	}
}

// Find resolves an absolute path to the node, if it exists under n's root.
func (n *ObjectNode) Find(path wire.ObjectPath) (*ObjectNode, bool) {
	if path == n.path {
		return n, true
	}
	rest, ok := trimPathPrefix(n.path, path)
	if !ok {
		return nil, false
	}
	cur := n
	for _, comp := range rest {
		child, ok := cur.Child(comp)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func trimPathPrefix(base, full wire.ObjectPath) ([]string, bool) {
	bc := base.Components()
	fc := full.Components()
	if len(fc) < len(bc) {
		return nil, false
	}
	for i, c := range bc {
		if fc[i] != c {
			return nil, false
		}
	}
	return fc[len(bc):], true
}

// Introspect builds the introspection document for n: its own interfaces
// plus one <node> stub per direct child (spec §4.7's server-side half).
func (n *ObjectNode) Introspect() *introspect.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	doc := &introspect.Node{Name: string(n.path)}
	names := make([]string, 0, len(n.ifaces))
	for name := range n.ifaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Interfaces = append(doc.Interfaces, n.ifaces[name].introspectData())
	}
	childNames := make([]string, 0, len(n.children))
	for name := range n.children {
		childNames = append(childNames, name)
	}
	sort.Strings(childNames)
	for _, name := range childNames {
		doc.Children = append(doc.Children, introspect.Node{Name: name})
	}
	return doc
}
