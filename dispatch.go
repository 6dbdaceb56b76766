package dbus

import (
	"context"
	"sort"

	"github.com/busforge/dbus/introspect"
	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
	"go.uber.org/zap"
)

const localMachineID = "0000000000000000000000000000000000000000000000000000000000000000"

// dispatchCall implements the server-side resolution algorithm of spec §4.2:
// destination -> service, path -> node, interface -> standard shim or
// Interface instance, member -> method, with signature translation through
// value.Bridge at both edges.
func (r *Router) dispatchCall(msg *wire.Message) {
	svc, ok := r.serviceForDestination(msg.Destination)
	if !ok {
		r.replyErr(msg, unknownService(msg.Destination))
		return
	}
	node, ok := svc.root.Find(msg.Path)
	if !ok {
		r.replyErr(msg, unknownObject(string(msg.Path)))
		return
	}

	if isStandardInterface(msg.Interface) || (msg.Interface == "" && isStandardMember(msg.Member)) {
		r.dispatchStandard(msg, svc, node)
		return
	}

	iface, ok := node.Interface(msg.Interface)
	if !ok {
		r.replyErr(msg, unknownInterface(string(msg.Path), msg.Interface))
		return
	}
	method, ok := iface.desc.Methods[msg.Member]
	if !ok {
		r.replyErr(msg, unknownMethod(msg.Interface, msg.Member))
		return
	}
	args, err := translateIn(msg.Body, method.In)
	if err != nil {
		r.replyErr(msg, &ProtocolError{Reason: err.Error()})
		return
	}
	out, err := iface.dispatchMethod(context.Background(), msg.Member, args)
	if err != nil {
		r.replyErr(msg, err)
		return
	}
	body, err := translateOut(out, method.Out)
	if err != nil {
		r.replyErr(msg, &ProtocolError{Reason: err.Error()})
		return
	}
	if msg.Flags&wire.FlagNoReplyExpected == 0 {
		if err := r.SendReply(msg, wire.SignatureOfAll(method.Out), body); err != nil {
			r.log.Warn("sending method reply failed", zap.Error(err))
		}
	}
}

func isStandardMember(member string) bool {
	switch member {
	case "Ping", "GetMachineId", "Introspect", "Get", "Set", "GetAll", "GetManagedObjects":
		return true
	}
	return false
}

func (r *Router) serviceForDestination(dest string) (*Service, bool) {
	if dest == "" || dest == r.UniqueName() {
		return r.local, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[dest]
	return svc, ok
}

func (r *Router) replyErr(call *wire.Message, err error) {
	if call.Flags&wire.FlagNoReplyExpected != 0 {
		return
	}
	name := errorNameFor(err)
	if sendErr := r.SendError(call, name, err.Error()); sendErr != nil {
		r.log.Warn("sending error reply failed", zap.Error(sendErr))
	}
}

func translateIn(body []interface{}, sigs []*wire.SignatureTree) ([]value.Value, error) {
	if len(body) != len(sigs) {
		return nil, &ProtocolError{Reason: "argument count mismatch"}
	}
	out := make([]value.Value, len(sigs))
	for i, t := range sigs {
		v, err := value.Bridge{}.MarshalToHigh(body[i], t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func translateOut(vals []value.Value, sigs []*wire.SignatureTree) ([]interface{}, error) {
	if len(vals) != len(sigs) {
		return nil, &ProtocolError{Reason: "return value count mismatch"}
	}
	out := make([]interface{}, len(sigs))
	for i, t := range sigs {
		mv, err := value.Bridge{}.HighToMarshal(vals[i], t)
		if err != nil {
			return nil, err
		}
		out[i] = mv
	}
	return out, nil
}

// dispatchStandard answers the standard interfaces without requiring an
// application to register them (spec §4.3): Peer, Introspectable and
// Properties for every object, ObjectManager only for opted-in nodes.
func (r *Router) dispatchStandard(msg *wire.Message, svc *Service, node *ObjectNode) {
	switch msg.Member {
	case "Ping":
		r.replyOK(msg, "", nil)

	case "GetMachineId":
		r.replyOK(msg, "s", []interface{}{localMachineID})

	case "Introspect":
		doc := node.Introspect()
		doc.Interfaces = append(doc.Interfaces, standardInterfaceStubs()...)
		if node.IsObjectManager() {
			doc.Interfaces = append(doc.Interfaces, introspect.Interface{Name: IfaceObjectManager, Methods: []introspect.Method{
				{Name: "GetManagedObjects", Args: []introspect.Arg{{Type: "a{oa{sa{sv}}}", Direction: "out"}}},
			}})
		}
		xmlBytes, err := introspect.Marshal(doc)
		if err != nil {
			r.replyErr(msg, &ProtocolError{Reason: err.Error()})
			return
		}
		r.replyOK(msg, "s", []interface{}{string(xmlBytes)})

	case "Get":
		ifaceName, prop, err := twoStrings(msg.Body)
		if err != nil {
			r.replyErr(msg, err)
			return
		}
		iface, ok := node.Interface(ifaceName)
		if !ok {
			r.replyErr(msg, unknownInterface(string(node.path), ifaceName))
			return
		}
		v, err := iface.getProperty(prop)
		if err != nil {
			r.replyErr(msg, err)
			return
		}
		desc := iface.desc.Properties[prop]
		mv, err := value.Bridge{}.HighToMarshal(v, desc.Type)
		if err != nil {
			r.replyErr(msg, err)
			return
		}
		r.replyOK(msg, "v", []interface{}{wire.MakeVariant(wire.Signature(desc.Type.String()), mv)})

	case "Set":
		if len(msg.Body) != 3 {
			r.replyErr(msg, &ProtocolError{Reason: "Set expects 3 arguments"})
			return
		}
		ifaceName, _ := msg.Body[0].(string)
		prop, _ := msg.Body[1].(string)
		variant, ok := msg.Body[2].(wire.Variant)
		if !ok {
			r.replyErr(msg, &ProtocolError{Reason: "Set: third argument is not a variant"})
			return
		}
		iface, ok := node.Interface(ifaceName)
		if !ok {
			r.replyErr(msg, unknownInterface(string(node.path), ifaceName))
			return
		}
		desc, ok := iface.desc.Properties[prop]
		if !ok {
			r.replyErr(msg, unknownProperty(ifaceName, prop))
			return
		}
		inner, err := wire.Parse(string(variant.Sig))
		if err != nil {
			r.replyErr(msg, &ProtocolError{Reason: err.Error()})
			return
		}
		hv, err := value.Bridge{}.MarshalToHigh(variant.Value, inner)
		if err != nil {
			r.replyErr(msg, err)
			return
		}
		if err := iface.setProperty(prop, hv); err != nil {
			r.replyErr(msg, err)
			return
		}
		_ = desc
		r.replyOK(msg, "", nil)

	case "GetAll":
		ifaceName, ok := firstString(msg.Body)
		if !ok {
			r.replyErr(msg, &ProtocolError{Reason: "GetAll expects one string argument"})
			return
		}
		iface, ok := node.Interface(ifaceName)
		if !ok {
			r.replyErr(msg, unknownInterface(string(node.path), ifaceName))
			return
		}
		props, err := iface.getAllProperties()
		if err != nil {
			r.replyErr(msg, err)
			return
		}
		names := make([]string, 0, len(props))
		for n := range props {
			names = append(names, n)
		}
		sort.Strings(names)
		entries := make([]wire.DictEntry, 0, len(names))
		for _, n := range names {
			desc := iface.desc.Properties[n]
			mv, err := value.Bridge{}.HighToMarshal(props[n], desc.Type)
			if err != nil {
				r.replyErr(msg, err)
				return
			}
			entries = append(entries, wire.DictEntry{Key: n, Value: wire.MakeVariant(wire.Signature(desc.Type.String()), mv)})
		}
		r.replyOK(msg, "a{sv}", []interface{}{entries})

	case "GetManagedObjects":
		if !node.IsObjectManager() {
			r.replyErr(msg, unknownInterface(string(node.path), IfaceObjectManager))
			return
		}
		var pathEntries []wire.DictEntry
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
					continue
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
						continue
					}
					propEntries = append(propEntries, wire.DictEntry{Key: pn, Value: wire.MakeVariant(wire.Signature(desc.Type.String()), mv)})
				}
				ifaceEntries = append(ifaceEntries, wire.DictEntry{Key: name, Value: propEntries})
			}
			pathEntries = append(pathEntries, wire.DictEntry{Key: n.path, Value: ifaceEntries})
		})
		r.replyOK(msg, "a{oa{sa{sv}}}", []interface{}{pathEntries})

	default:
		r.replyErr(msg, unknownMethod(msg.Interface, msg.Member))
	}
}

func (r *Router) replyOK(call *wire.Message, sig wire.Signature, body []interface{}) {
	if call.Flags&wire.FlagNoReplyExpected != 0 {
		return
	}
	if err := r.SendReply(call, sig, body); err != nil {
		r.log.Warn("sending standard-interface reply failed", zap.Error(err))
	}
}

func twoStrings(body []interface{}) (string, string, error) {
	if len(body) != 2 {
		return "", "", &ProtocolError{Reason: "expected two string arguments"}
	}
	a, ok1 := body[0].(string)
	b, ok2 := body[1].(string)
	if !ok1 || !ok2 {
		return "", "", &ProtocolError{Reason: "expected two string arguments"}
	}
	return a, b, nil
}

func standardInterfaceStubs() []introspect.Interface {
	return []introspect.Interface{
		{Name: IfacePeer, Methods: []introspect.Method{
			{Name: "Ping"},
			{Name: "GetMachineId", Args: []introspect.Arg{{Type: "s", Direction: "out"}}},
		}},
		{Name: IfaceIntrospectable, Methods: []introspect.Method{
			{Name: "Introspect", Args: []introspect.Arg{{Type: "s", Direction: "out"}}},
		}},
	}
}
