package wire

import (
	"fmt"
	"strings"
)

// Signature is the raw, unparsed D-Bus type signature string carried on the
// wire (e.g. "a{sv}", "(ii)"). Use Parse to obtain the tree form the rest of
// the module operates on.
type Signature string

// Kind identifies which shape a SignatureTree node has.
type Kind byte

const (
	KindInvalid Kind = iota
	KindByte
	KindBool
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindObjectPath
	KindSignature
	KindUnixFD
	KindArray
	KindDict
	KindStruct
	KindVariant
)

var basicCodes = map[byte]Kind{
	'y': KindByte,
	'b': KindBool,
	'n': KindInt16,
	'q': KindUint16,
	'i': KindInt32,
	'u': KindUint32,
	'x': KindInt64,
	't': KindUint64,
	'd': KindDouble,
	's': KindString,
	'o': KindObjectPath,
	'g': KindSignature,
	'h': KindUnixFD,
	'v': KindVariant,
}

func (k Kind) IsBasic() bool {
	switch k {
	case KindArray, KindDict, KindStruct, KindVariant, KindInvalid:
		return false
	default:
		return true
	}
}

func (k Kind) IsContainer() bool {
	switch k {
	case KindArray, KindDict, KindStruct:
		return true
	default:
		return false
	}
}

// SignatureTree is a parsed D-Bus type: either a basic scalar leaf or a
// container node with children. It is built once from a signature string and
// shared read-only thereafter (spec Data Model).
type SignatureTree struct {
	Kind Kind

	// Elem is the element type of an Array.
	Elem *SignatureTree

	// Key and Value describe a Dict entry ("a{kv}").
	Key   *SignatureTree
	Value *SignatureTree

	// Fields lists the member types of a Struct, in order.
	Fields []*SignatureTree
}

// String reconstructs the signature string for t.
func (t *SignatureTree) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case KindArray:
		return "a" + t.Elem.String()
	case KindDict:
		return "a{" + t.Key.String() + t.Value.String() + "}"
	case KindStruct:
		var b strings.Builder
		b.WriteByte('(')
		for _, f := range t.Fields {
			b.WriteString(f.String())
		}
		b.WriteByte(')')
		return b.String()
	default:
		for code, k := range basicCodes {
			if k == t.Kind {
				return string(code)
			}
		}
		return ""
	}
}

// Parse parses s, which must describe exactly one complete type, into a
// SignatureTree.
func Parse(s string) (*SignatureTree, error) {
	trees, rest, err := parseOne(s, 0)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("wire: %q is not a single complete type (trailing %q)", s, rest)
	}
	return trees, nil
}

// ParseAll parses s, a concatenation of zero or more complete types (as
// found in a method's combined "in" or "out" signature), into a slice of
// trees, one per top-level type.
func ParseAll(s string) ([]*SignatureTree, error) {
	var out []*SignatureTree
	for s != "" {
		t, rest, err := parseOne(s, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		s = rest
	}
	return out, nil
}

// SignatureOfAll renders trees back to a single concatenated Signature, the
// inverse of ParseAll.
func SignatureOfAll(trees []*SignatureTree) Signature {
	var b strings.Builder
	for _, t := range trees {
		b.WriteString(t.String())
	}
	return Signature(b.String())
}

const maxNestingDepth = 32

func parseOne(s string, depth int) (*SignatureTree, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("wire: empty signature")
	}
	if depth > maxNestingDepth {
		return nil, "", fmt.Errorf("wire: signature nesting too deep")
	}
	if k, ok := basicCodes[s[0]]; ok {
		return &SignatureTree{Kind: k}, s[1:], nil
	}
	switch s[0] {
	case 'a':
		if len(s) < 2 {
			return nil, "", fmt.Errorf("wire: truncated array signature")
		}
		if s[1] == '{' {
			key, rest, err := parseOne(s[2:], depth+1)
			if err != nil {
				return nil, "", err
			}
			if !key.Kind.IsBasic() {
				return nil, "", fmt.Errorf("wire: dict key type must be basic, got %q", key.String())
			}
			val, rest2, err := parseOne(rest, depth+1)
			if err != nil {
				return nil, "", err
			}
			if len(rest2) == 0 || rest2[0] != '}' {
				return nil, "", fmt.Errorf("wire: unterminated dict entry in %q", s)
			}
			return &SignatureTree{Kind: KindDict, Key: key, Value: val}, rest2[1:], nil
		}
		elem, rest, err := parseOne(s[1:], depth+1)
		if err != nil {
			return nil, "", err
		}
		return &SignatureTree{Kind: KindArray, Elem: elem}, rest, nil
	case '(':
		rest := s[1:]
		var fields []*SignatureTree
		for {
			if rest == "" {
				return nil, "", fmt.Errorf("wire: unterminated struct in %q", s)
			}
			if rest[0] == ')' {
				return &SignatureTree{Kind: KindStruct, Fields: fields}, rest[1:], nil
			}
			f, next, err := parseOne(rest, depth+1)
			if err != nil {
				return nil, "", err
			}
			fields = append(fields, f)
			rest = next
		}
	}
	return nil, "", fmt.Errorf("wire: invalid type code %q in %q", s[0], s)
}
