// Package value implements the high-level value model and the ValueBridge
// that translates between it and the wire package's marshal form, per spec
// §4.8. The high-level model replaces the source's ad-hoc {type, value} pair
// with a tagged sum over the SignatureTree (spec Design Notes, "Dynamically
// typed bodies").
package value

import "github.com/busforge/dbus/wire"

// Value is a single high-level D-Bus value: a basic scalar, an ordered
// sequence, a mapping, a fixed tuple, or a tagged variant.
type Value struct {
	Kind wire.Kind

	// Scalar holds the native Go representation for basic kinds: bool,
	// byte, int16, uint16, int32, uint32, int64, uint64, float64, string,
	// wire.ObjectPath, wire.Signature, or uint32 (KindUnixFD, an index).
	Scalar interface{}

	Array   []Value     // KindArray
	Dict    []DictEntry // KindDict, insertion order preserved
	Struct  []Value     // KindStruct
	Variant *Variant    // KindVariant
}

// DictEntry is one key/value pair of a Dict value.
type DictEntry struct {
	Key   Value
	Value Value
}

// Variant is a value carrying its type tag alongside the payload, per the
// GLOSSARY definition.
type Variant struct {
	Type  *wire.SignatureTree
	Value Value
}

func Bool(b bool) Value       { return Value{Kind: wire.KindBool, Scalar: b} }
func Byte(b byte) Value       { return Value{Kind: wire.KindByte, Scalar: b} }
func Int16(v int16) Value     { return Value{Kind: wire.KindInt16, Scalar: v} }
func Uint16(v uint16) Value   { return Value{Kind: wire.KindUint16, Scalar: v} }
func Int32(v int32) Value     { return Value{Kind: wire.KindInt32, Scalar: v} }
func Uint32(v uint32) Value   { return Value{Kind: wire.KindUint32, Scalar: v} }
func Int64(v int64) Value     { return Value{Kind: wire.KindInt64, Scalar: v} }
func Uint64(v uint64) Value   { return Value{Kind: wire.KindUint64, Scalar: v} }
func Double(v float64) Value  { return Value{Kind: wire.KindDouble, Scalar: v} }
func String(s string) Value   { return Value{Kind: wire.KindString, Scalar: s} }
func Path(p wire.ObjectPath) Value {
	return Value{Kind: wire.KindObjectPath, Scalar: p}
}
func Sig(s wire.Signature) Value { return Value{Kind: wire.KindSignature, Scalar: s} }
func UnixFDIndex(i uint32) Value { return Value{Kind: wire.KindUnixFD, Scalar: i} }

// NewVariant tags v with its type, ready to be carried inside another Value.
func NewVariant(t *wire.SignatureTree, v Value) Value {
	return Value{Kind: wire.KindVariant, Variant: &Variant{Type: t, Value: v}}
}

// NewArray builds a KindArray value from elems.
func NewArray(elems ...Value) Value {
	return Value{Kind: wire.KindArray, Array: elems}
}

// NewStruct builds a KindStruct value from fields.
func NewStruct(fields ...Value) Value {
	return Value{Kind: wire.KindStruct, Struct: fields}
}

// NewDict builds a KindDict value from entries, preserving order.
func NewDict(entries ...DictEntry) Value {
	return Value{Kind: wire.KindDict, Dict: entries}
}

// AsBool, AsString and AsObjectPath are panic-free accessors: they return the zero value if the
// Kind doesn't match, which is adequate for the module's own use (call sites
// always check descriptors before reading).

func (v Value) AsBool() bool             { b, _ := v.Scalar.(bool); return b }
func (v Value) AsString() string         { s, _ := v.Scalar.(string); return s }
func (v Value) AsObjectPath() wire.ObjectPath {
	p, _ := v.Scalar.(wire.ObjectPath)
	return p
}
