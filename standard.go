package dbus

// Well-known interface names for the standard interfaces answered without
// registration (spec §4.3): Peer, Introspectable and Properties on every
// object, and ObjectManager on nodes that called EnableObjectManager. These
// are handled directly by dispatchStandard rather than registered as
// ordinary Interface instances.
const (
	IfacePeer           = "org.freedesktop.DBus.Peer"
	IfaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	IfaceProperties     = "org.freedesktop.DBus.Properties"
	IfaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
)

func isStandardInterface(name string) bool {
	switch name {
	case IfacePeer, IfaceIntrospectable, IfaceProperties, IfaceObjectManager:
		return true
	}
	return false
}
