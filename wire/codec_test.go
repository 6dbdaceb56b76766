package wire

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/kr/pretty"
)

func TestCodecRoundTripBasics(t *testing.T) {
	tree := &SignatureTree{Kind: KindStruct, Fields: []*SignatureTree{
		{Kind: KindUint16}, {Kind: KindString}, {Kind: KindBool}, {Kind: KindDouble},
		{Kind: KindObjectPath},
	}}
	in := []interface{}{uint16(54827), "hello, world!", true, 129387.9786742, ObjectPath("/a/b")}

	var buf bytes.Buffer
	if err := DefaultCodec.encode(&buf, tree, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DefaultCodec.decode(bytes.NewReader(buf.Bytes()), tree)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: got %#v, want %#v", out, in)
	}
}

func TestCodecRoundTripArrayAndDict(t *testing.T) {
	arrTree, err := Parse("as")
	if err != nil {
		t.Fatal(err)
	}
	dictTree, err := Parse("a{sv}")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	arrVal := []interface{}{"foo", "bar", "quux"}
	if err := DefaultCodec.encode(&buf, arrTree, arrVal); err != nil {
		t.Fatalf("encode array: %v", err)
	}
	gotArr, err := DefaultCodec.decode(bytes.NewReader(buf.Bytes()), arrTree)
	if err != nil {
		t.Fatalf("decode array: %v", err)
	}
	if !reflect.DeepEqual(arrVal, gotArr) {
		t.Fatalf("array round trip mismatch: got %#v, want %#v", gotArr, arrVal)
	}

	buf.Reset()
	dictVal := []DictEntry{
		{Key: "count", Value: MakeVariant("u", uint32(3))},
		{Key: "name", Value: MakeVariant("s", "phonebook")},
	}
	if err := DefaultCodec.encode(&buf, dictTree, dictVal); err != nil {
		t.Fatalf("encode dict: %v", err)
	}
	gotDict, err := DefaultCodec.decode(bytes.NewReader(buf.Bytes()), dictTree)
	if err != nil {
		t.Fatalf("decode dict: %v", err)
	}
	if !reflect.DeepEqual(dictVal, gotDict) {
		t.Fatalf("dict round trip mismatch:\n%s", strings.Join(pretty.Diff(dictVal, gotDict), "\n"))
	}
}

func TestEncodeMultiArityMismatch(t *testing.T) {
	var buf bytes.Buffer
	trees, _ := ParseAll("ss")
	if err := DefaultCodec.EncodeMulti(&buf, trees, []interface{}{"only one"}); err == nil {
		t.Fatal("EncodeMulti should reject a body shorter than its type list")
	}
}
