package dbus

import "github.com/busforge/dbus/wire"

// PropertyAccess is the direction a property allows.
type PropertyAccess int

const (
	AccessRead PropertyAccess = iota
	AccessWrite
	AccessReadWrite
)

func (a PropertyAccess) Readable() bool { return a == AccessRead || a == AccessReadWrite }
func (a PropertyAccess) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

// MethodDescriptor describes one method's input and output signatures.
type MethodDescriptor struct {
	Name string
	In   []*wire.SignatureTree
	Out  []*wire.SignatureTree
}

// PropertyDescriptor describes one property's access mode and type.
type PropertyDescriptor struct {
	Name   string
	Access PropertyAccess
	Type   *wire.SignatureTree
}

// SignalDescriptor describes one signal's output signature.
type SignalDescriptor struct {
	Name string
	Out  []*wire.SignatureTree
}

// InterfaceDescriptor is a static description of an interface's members,
// shared by every Interface instance of that interface (spec Data Model).
type InterfaceDescriptor struct {
	Name       string
	Methods    map[string]*MethodDescriptor
	Properties map[string]*PropertyDescriptor
	Signals    map[string]*SignalDescriptor
}

// NewInterfaceDescriptor builds an empty descriptor for name.
func NewInterfaceDescriptor(name string) *InterfaceDescriptor {
	return &InterfaceDescriptor{
		Name:       name,
		Methods:    make(map[string]*MethodDescriptor),
		Properties: make(map[string]*PropertyDescriptor),
		Signals:    make(map[string]*SignalDescriptor),
	}
}

// Method registers a method on the descriptor from raw D-Bus signature
// strings, and returns the descriptor for chaining.
func (d *InterfaceDescriptor) Method(name, inSig, outSig string) *InterfaceDescriptor {
	in, err := wire.ParseAll(inSig)
	if err != nil {
		panic(&NameError{Kind: "signature", Name: inSig})
	}
	out, err := wire.ParseAll(outSig)
	if err != nil {
		panic(&NameError{Kind: "signature", Name: outSig})
	}
	d.Methods[name] = &MethodDescriptor{Name: name, In: in, Out: out}
	return d
}

// Property registers a property.
func (d *InterfaceDescriptor) Property(name string, access PropertyAccess, sig string) *InterfaceDescriptor {
	t, err := wire.Parse(sig)
	if err != nil {
		panic(&NameError{Kind: "signature", Name: sig})
	}
	d.Properties[name] = &PropertyDescriptor{Name: name, Access: access, Type: t}
	return d
}

// Signal registers a signal.
func (d *InterfaceDescriptor) Signal(name, outSig string) *InterfaceDescriptor {
	out, err := wire.ParseAll(outSig)
	if err != nil {
		panic(&NameError{Kind: "signature", Name: outSig})
	}
	d.Signals[name] = &SignalDescriptor{Name: name, Out: out}
	return d
}
