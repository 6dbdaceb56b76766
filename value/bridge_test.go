package value

import (
	"testing"

	"github.com/busforge/dbus/wire"
	"github.com/google/go-cmp/cmp"
)

// TestBridgeRoundTrip exercises the module's universal round-trip invariant:
// marshal_to_high(high_to_marshal(v, t), t) == v for every basic and
// container shape the bridge supports.
func TestBridgeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		sig  string
		high Value
	}{
		{"uint16", "q", Uint16(54827)},
		{"int16", "n", Int16(-29786)},
		{"string", "s", String("hello, world!")},
		{"bool", "b", Bool(false)},
		{"objectpath", "o", Path("/path/to/some/dbus/object")},
		{"array", "as", NewArray(String("foo"), String("bar"), String("quux"))},
		{"struct", "(bds)", NewStruct(Bool(true), Double(42.1089), String("Just a string..."))},
		{"dict", "a{sv}", NewDict(
			DictEntry{Key: String("count"), Value: NewVariant(mustParse(t, "u"), Uint32(3))},
		)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tree := mustParse(t, c.sig)
			mv, err := (Bridge{}).HighToMarshal(c.high, tree)
			if err != nil {
				t.Fatalf("HighToMarshal: %v", err)
			}
			back, err := (Bridge{}).MarshalToHigh(mv, tree)
			if err != nil {
				t.Fatalf("MarshalToHigh: %v", err)
			}
			if diff := cmp.Diff(c.high, back); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHighToMarshalRejectsKindMismatch(t *testing.T) {
	tree := mustParse(t, "s")
	if _, err := (Bridge{}).HighToMarshal(Uint16(1), tree); err == nil {
		t.Fatal("HighToMarshal should reject a uint16 value against a string type")
	}
}

func mustParse(t *testing.T, sig string) *wire.SignatureTree {
	t.Helper()
	tree, err := wire.Parse(sig)
	if err != nil {
		t.Fatalf("wire.Parse(%q): %v", sig, err)
	}
	return tree
}
