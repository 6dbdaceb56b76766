package value

import "testing"

func TestStoreScalarsAndSlice(t *testing.T) {
	var name string
	var age uint16
	if err := Store([]Value{String("Ada"), Uint16(36)}, &name, &age); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if name != "Ada" || age != 36 {
		t.Fatalf("got name=%q age=%d", name, age)
	}

	var names []string
	if err := Store([]Value{NewArray(String("a"), String("b"))}, &names); err != nil {
		t.Fatalf("Store array: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("got names=%v", names)
	}
}

func TestStoreLengthMismatch(t *testing.T) {
	var s string
	if err := Store([]Value{String("a"), String("b")}, &s); err == nil {
		t.Fatal("Store should reject a length mismatch between src and dest")
	}
}
