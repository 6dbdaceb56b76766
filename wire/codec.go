package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DictEntry is the marshal-form representation of one key/value pair of a
// dict container. Order is preserved because callers (the a{sv} property
// maps of Properties.GetAll and PropertiesChanged, for instance) rely on
// insertion order.
type DictEntry struct {
	Key   interface{}
	Value interface{}
}

// Codec marshals and unmarshals values in "marshal form" — a nested
// positional encoding of basics, []interface{} arrays, []DictEntry dicts,
// []interface{} structs, and Variant — against a byte buffer, driven by a
// SignatureTree. It is the concrete realization of the "codec" the spec
// treats as an assumed external collaborator; exact D-Bus wire alignment is
// not reproduced (Non-goal: on-wire byte layout), only a self-consistent,
// round-trippable little-endian framing used between this module's own
// transport endpoints.
type Codec struct {
	Order binary.ByteOrder
}

// DefaultCodec is little-endian, matching the teacher's default.
var DefaultCodec = Codec{Order: binary.LittleEndian}

// EncodeMulti encodes one marshal-form value per tree in trees, concatenated.
func (c Codec) EncodeMulti(buf *bytes.Buffer, trees []*SignatureTree, values []interface{}) error {
	if len(trees) != len(values) {
		return fmt.Errorf("wire: %d types but %d values", len(trees), len(values))
	}
	for i, t := range trees {
		if err := c.encode(buf, t, values[i]); err != nil {
			return fmt.Errorf("wire: encoding arg %d (%s): %w", i, t.String(), err)
		}
	}
	return nil
}

// DecodeMulti decodes one marshal-form value per tree in trees from buf.
func (c Codec) DecodeMulti(buf *bytes.Reader, trees []*SignatureTree) ([]interface{}, error) {
	out := make([]interface{}, len(trees))
	for i, t := range trees {
		v, err := c.decode(buf, t)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding arg %d (%s): %w", i, t.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func (c Codec) encode(buf *bytes.Buffer, t *SignatureTree, v interface{}) error {
	switch t.Kind {
	case KindByte:
		return binary.Write(buf, c.Order, v.(byte))
	case KindBool:
		b := v.(bool)
		var u uint32
		if b {
			u = 1
		}
		return binary.Write(buf, c.Order, u)
	case KindInt16:
		return binary.Write(buf, c.Order, v.(int16))
	case KindUint16:
		return binary.Write(buf, c.Order, v.(uint16))
	case KindInt32:
		return binary.Write(buf, c.Order, v.(int32))
	case KindUint32, KindUnixFD:
		return binary.Write(buf, c.Order, v.(uint32))
	case KindInt64:
		return binary.Write(buf, c.Order, v.(int64))
	case KindUint64:
		return binary.Write(buf, c.Order, v.(uint64))
	case KindDouble:
		return binary.Write(buf, c.Order, v.(float64))
	case KindString:
		return c.encodeString(buf, v.(string))
	case KindObjectPath:
		return c.encodeString(buf, string(v.(ObjectPath)))
	case KindSignature:
		s := string(v.(Signature))
		if err := binary.Write(buf, c.Order, byte(len(s))); err != nil {
			return err
		}
		buf.WriteString(s)
		return buf.WriteByte(0)
	case KindVariant:
		vt := v.(Variant)
		if err := c.encodeString(buf, string(vt.Sig)); err != nil {
			return err
		}
		tree, err := Parse(string(vt.Sig))
		if err != nil {
			return err
		}
		return c.encode(buf, tree, vt.Value)
	case KindArray:
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("wire: expected []interface{} for array, got %T", v)
		}
		if err := binary.Write(buf, c.Order, uint32(len(items))); err != nil {
			return err
		}
		for _, item := range items {
			if err := c.encode(buf, t.Elem, item); err != nil {
				return err
			}
		}
		return nil
	case KindDict:
		entries, ok := v.([]DictEntry)
		if !ok {
			return fmt.Errorf("wire: expected []DictEntry for dict, got %T", v)
		}
		if err := binary.Write(buf, c.Order, uint32(len(entries))); err != nil {
			return err
		}
		for _, e := range entries {
			if err := c.encode(buf, t.Key, e.Key); err != nil {
				return err
			}
			if err := c.encode(buf, t.Value, e.Value); err != nil {
				return err
			}
		}
		return nil
	case KindStruct:
		fields, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("wire: expected []interface{} for struct, got %T", v)
		}
		if len(fields) != len(t.Fields) {
			return fmt.Errorf("wire: struct has %d fields, value has %d", len(t.Fields), len(fields))
		}
		for i, f := range t.Fields {
			if err := c.encode(buf, f, fields[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("wire: unencodable kind %v", t.Kind)
}

func (c Codec) encodeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, c.Order, uint32(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return buf.WriteByte(0)
}

func (c Codec) decode(buf *bytes.Reader, t *SignatureTree) (interface{}, error) {
	switch t.Kind {
	case KindByte:
		var v byte
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindBool:
		var u uint32
		if err := binary.Read(buf, c.Order, &u); err != nil {
			return nil, err
		}
		return u != 0, nil
	case KindInt16:
		var v int16
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindUint16:
		var v uint16
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindInt32:
		var v int32
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindUint32, KindUnixFD:
		var v uint32
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindInt64:
		var v int64
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindUint64:
		var v uint64
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindDouble:
		var v float64
		err := binary.Read(buf, c.Order, &v)
		return v, err
	case KindString:
		return c.decodeString(buf)
	case KindObjectPath:
		s, err := c.decodeString(buf)
		if err != nil {
			return nil, err
		}
		return ObjectPath(s), nil
	case KindSignature:
		var n byte
		if err := binary.Read(buf, c.Order, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n+1)
		if _, err := buf.Read(b); err != nil {
			return nil, err
		}
		return Signature(b[:n]), nil
	case KindVariant:
		sigStr, err := c.decodeString(buf)
		if err != nil {
			return nil, err
		}
		tree, err := Parse(sigStr)
		if err != nil {
			return nil, err
		}
		val, err := c.decode(buf, tree)
		if err != nil {
			return nil, err
		}
		return Variant{Sig: Signature(sigStr), Value: val}, nil
	case KindArray:
		var n uint32
		if err := binary.Read(buf, c.Order, &n); err != nil {
			return nil, err
		}
		items := make([]interface{}, n)
		for i := range items {
			v, err := c.decode(buf, t.Elem)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case KindDict:
		var n uint32
		if err := binary.Read(buf, c.Order, &n); err != nil {
			return nil, err
		}
		entries := make([]DictEntry, n)
		for i := range entries {
			k, err := c.decode(buf, t.Key)
			if err != nil {
				return nil, err
			}
			v, err := c.decode(buf, t.Value)
			if err != nil {
				return nil, err
			}
			entries[i] = DictEntry{Key: k, Value: v}
		}
		return entries, nil
	case KindStruct:
		fields := make([]interface{}, len(t.Fields))
		for i, f := range t.Fields {
			v, err := c.decode(buf, f)
			if err != nil {
				return nil, err
			}
			fields[i] = v
		}
		return fields, nil
	}
	return nil, fmt.Errorf("wire: undecodable kind %v", t.Kind)
}

func (c Codec) decodeString(buf *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(buf, c.Order, &n); err != nil {
		return "", err
	}
	b := make([]byte, n+1)
	if _, err := buf.Read(b); err != nil {
		return "", err
	}
	return string(b[:n]), nil
}
