package value

import (
	"fmt"

	"github.com/busforge/dbus/wire"
)

// Bridge implements the two total functions of spec §4.8: MarshalToHigh and
// HighToMarshal, each driven by a wire.SignatureTree. Go's static typing
// removes the need for wrinkle (a) of §4.8 ("a container of the right shape
// is not re-wrapped") as a runtime check: a Value's Kind already matches the
// tree it was built against by construction, so HighToMarshal never needs to
// guess whether it was handed a scalar or an already-shaped container.
// Wrinkle (b), the single-element array wrapping used by property Set in the
// source's dynamic call convention, has no analog here: this codec always
// carries a Set payload as a single wire.Variant, never as a variadic sink
// that needs a scalar/container disambiguator, so there is nothing to wrap.
type Bridge struct{}

// MarshalToHigh converts a value already in wire marshal form (as produced
// by wire.Codec.Decode) into the high-level Value tree described by t.
func (Bridge) MarshalToHigh(v interface{}, t *wire.SignatureTree) (Value, error) {
	switch t.Kind {
	case wire.KindByte, wire.KindBool, wire.KindInt16, wire.KindUint16,
		wire.KindInt32, wire.KindUint32, wire.KindInt64, wire.KindUint64,
		wire.KindDouble, wire.KindString, wire.KindObjectPath, wire.KindSignature,
		wire.KindUnixFD:
		return Value{Kind: t.Kind, Scalar: v}, nil

	case wire.KindVariant:
		vt, ok := v.(wire.Variant)
		if !ok {
			return Value{}, fmt.Errorf("value: expected wire.Variant, got %T", v)
		}
		inner, err := wire.Parse(string(vt.Sig))
		if err != nil {
			return Value{}, err
		}
		hv, err := Bridge{}.MarshalToHigh(vt.Value, inner)
		if err != nil {
			return Value{}, err
		}
		return NewVariant(inner, hv), nil

	case wire.KindArray:
		items, ok := v.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("value: expected []interface{} for array, got %T", v)
		}
		out := make([]Value, len(items))
		for i, item := range items {
			hv, err := Bridge{}.MarshalToHigh(item, t.Elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = hv
		}
		return Value{Kind: wire.KindArray, Array: out}, nil

	case wire.KindDict:
		entries, ok := v.([]wire.DictEntry)
		if !ok {
			return Value{}, fmt.Errorf("value: expected []wire.DictEntry for dict, got %T", v)
		}
		out := make([]DictEntry, len(entries))
		for i, e := range entries {
			k, err := Bridge{}.MarshalToHigh(e.Key, t.Key)
			if err != nil {
				return Value{}, err
			}
			val, err := Bridge{}.MarshalToHigh(e.Value, t.Value)
			if err != nil {
				return Value{}, err
			}
			out[i] = DictEntry{Key: k, Value: val}
		}
		return Value{Kind: wire.KindDict, Dict: out}, nil

	case wire.KindStruct:
		fields, ok := v.([]interface{})
		if !ok {
			return Value{}, fmt.Errorf("value: expected []interface{} for struct, got %T", v)
		}
		if len(fields) != len(t.Fields) {
			return Value{}, fmt.Errorf("value: struct arity mismatch: type has %d, value has %d", len(t.Fields), len(fields))
		}
		out := make([]Value, len(fields))
		for i, f := range t.Fields {
			hv, err := Bridge{}.MarshalToHigh(fields[i], f)
			if err != nil {
				return Value{}, err
			}
			out[i] = hv
		}
		return Value{Kind: wire.KindStruct, Struct: out}, nil
	}
	return Value{}, fmt.Errorf("value: unsupported kind %v", t.Kind)
}

// HighToMarshal converts a high-level Value into wire marshal form suitable
// for wire.Codec.Encode.
func (Bridge) HighToMarshal(v Value, t *wire.SignatureTree) (interface{}, error) {
	if v.Kind != t.Kind {
		return nil, fmt.Errorf("value: value kind %v does not match expected type %s", v.Kind, t.String())
	}
	switch t.Kind {
	case wire.KindByte, wire.KindBool, wire.KindInt16, wire.KindUint16,
		wire.KindInt32, wire.KindUint32, wire.KindInt64, wire.KindUint64,
		wire.KindDouble, wire.KindString, wire.KindObjectPath, wire.KindSignature,
		wire.KindUnixFD:
		return v.Scalar, nil

	case wire.KindVariant:
		mv, err := Bridge{}.HighToMarshal(v.Variant.Value, v.Variant.Type)
		if err != nil {
			return nil, err
		}
		return wire.MakeVariant(wire.Signature(v.Variant.Type.String()), mv), nil

	case wire.KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			mv, err := Bridge{}.HighToMarshal(e, t.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = mv
		}
		return out, nil

	case wire.KindDict:
		out := make([]wire.DictEntry, len(v.Dict))
		for i, e := range v.Dict {
			k, err := Bridge{}.HighToMarshal(e.Key, t.Key)
			if err != nil {
				return nil, err
			}
			val, err := Bridge{}.HighToMarshal(e.Value, t.Value)
			if err != nil {
				return nil, err
			}
			out[i] = wire.DictEntry{Key: k, Value: val}
		}
		return out, nil

	case wire.KindStruct:
		if len(v.Struct) != len(t.Fields) {
			return nil, fmt.Errorf("value: struct arity mismatch: type has %d, value has %d", len(t.Fields), len(v.Struct))
		}
		out := make([]interface{}, len(v.Struct))
		for i, f := range t.Fields {
			mv, err := Bridge{}.HighToMarshal(v.Struct[i], f)
			if err != nil {
				return nil, err
			}
			out[i] = mv
		}
		return out, nil
	}
	return nil, fmt.Errorf("value: unsupported kind %v", t.Kind)
}
