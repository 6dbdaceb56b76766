// Package wire implements the on-wire message shape and type signature
// grammar that the router and value bridge are built against. It plays the
// role of the "codec" and "signature parser" the core assumes exists: a
// concrete, small implementation is provided so the rest of the module has
// something real to run against, but exact byte-for-byte compliance with the
// D-Bus wire protocol is not a goal (see spec Non-goals).
package wire

import (
	"strings"
)

// ObjectPath is a "/"-separated sequence of path components identifying an
// object within a service.
type ObjectPath string

// IsValid reports whether o is a syntactically valid object path.
func (o ObjectPath) IsValid() bool {
	s := string(o)
	if len(s) == 0 || s[0] != '/' {
		return false
	}
	if s == "/" {
		return true
	}
	if s[len(s)-1] == '/' {
		return false
	}
	for _, part := range strings.Split(s[1:], "/") {
		if len(part) == 0 {
			return false
		}
		for _, c := range part {
			if !isMemberChar(c) {
				return false
			}
		}
	}
	return true
}

// Child returns the object path obtained by appending component to o.
func (o ObjectPath) Child(component string) ObjectPath {
	if o == "/" {
		return ObjectPath("/" + component)
	}
	return ObjectPath(string(o) + "/" + component)
}

// Components splits the path into its "/"-separated components. The root
// path yields an empty slice.
func (o ObjectPath) Components() []string {
	s := string(o)
	if s == "/" || s == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(s, "/"), "/")
}

func isMemberChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') || c == '_'
}

// IsValidInterfaceName reports whether s is a valid dotted D-Bus interface
// name, e.g. "com.example.Foo".
func IsValidInterfaceName(s string) bool {
	if len(s) == 0 || len(s) > 255 || s[0] == '.' {
		return false
	}
	elems := strings.Split(s, ".")
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if !isValidMemberName(e) || (e[0] >= '0' && e[0] <= '9') {
			return false
		}
	}
	return true
}

// IsValidMemberName reports whether s is a valid method, signal, or property
// name.
func IsValidMemberName(s string) bool {
	if len(s) == 0 || len(s) > 255 || strings.Contains(s, ".") {
		return false
	}
	return isValidMemberName(s) && !(s[0] >= '0' && s[0] <= '9')
}

func isValidMemberName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !isMemberChar(c) {
			return false
		}
	}
	return true
}

// MessageType is the kind of a Message, per spec Data Model.
type MessageType byte

const (
	TypeMethodCall MessageType = 1 + iota
	TypeMethodReturn
	TypeError
	TypeSignal
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Flags are the possible flags of a Message.
type Flags byte

const (
	FlagNoReplyExpected Flags = 1 << iota
	FlagNoAutoStart
)

// Message is a single D-Bus message, wire-framed but already decoded into
// its header fields and a positional, "marshal form" body (see the value
// package for the high-level form).
type Message struct {
	Type        MessageType
	Flags       Flags
	Serial      uint32
	ReplySerial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	Destination string
	Sender      string
	ErrorName   string

	Signature Signature
	Body      []interface{}
}

// NewMethodCall builds an unsent method call message. Serial is assigned by
// the router at send time.
func NewMethodCall(dest string, path ObjectPath, iface, member string, sig Signature, body []interface{}) *Message {
	return &Message{
		Type:        TypeMethodCall,
		Destination: dest,
		Path:        path,
		Interface:   iface,
		Member:      member,
		Signature:   sig,
		Body:        body,
	}
}

// NewSignal builds an unsent signal message.
func NewSignal(path ObjectPath, iface, member string, sig Signature, body []interface{}) *Message {
	return &Message{
		Type:      TypeSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
		Signature: sig,
		Body:      body,
	}
}

// NewMethodReturn builds a reply to call.
func NewMethodReturn(call *Message, sig Signature, body []interface{}) *Message {
	return &Message{
		Type:        TypeMethodReturn,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		Signature:   sig,
		Body:        body,
	}
}

// NewError builds an error reply to call.
func NewError(call *Message, name string, text string) *Message {
	return &Message{
		Type:        TypeError,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		ErrorName:   name,
		Signature:   Signature("s"),
		Body:        []interface{}{text},
	}
}
