package wire

import "testing"

func TestParseAllRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"s",
		"sii",
		"a{sv}",
		"(bds)",
		"aa{sv}",
		"a(os)",
	}
	for _, sig := range cases {
		trees, err := ParseAll(sig)
		if err != nil {
			t.Fatalf("ParseAll(%q): %v", sig, err)
		}
		if got := string(SignatureOfAll(trees)); got != sig {
			t.Errorf("ParseAll(%q) round trip = %q, want %q", sig, got, sig)
		}
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse("ss"); err == nil {
		t.Fatal("Parse(\"ss\") should reject a signature describing two complete types")
	}
}

func TestParseRejectsBadDictKey(t *testing.T) {
	if _, err := Parse("a{vs}"); err == nil {
		t.Fatal("Parse(\"a{vs}\") should reject a variant dict key")
	}
}

func TestParseRejectsUnterminatedStruct(t *testing.T) {
	if _, err := Parse("(si"); err == nil {
		t.Fatal("Parse(\"(si\") should reject an unterminated struct")
	}
}

func TestObjectPathValidity(t *testing.T) {
	valid := []ObjectPath{"/", "/a", "/a/b_c", "/com/example/Foo"}
	invalid := []ObjectPath{"", "a/b", "/a/", "/a//b", "/a.b"}
	for _, p := range valid {
		if !p.IsValid() {
			t.Errorf("%q should be valid", p)
		}
	}
	for _, p := range invalid {
		if p.IsValid() {
			t.Errorf("%q should be invalid", p)
		}
	}
}

func TestObjectPathChildAndComponents(t *testing.T) {
	root := ObjectPath("/")
	child := root.Child("com").Child("example")
	if child != "/com/example" {
		t.Fatalf("Child chain = %q, want /com/example", child)
	}
	comps := child.Components()
	if len(comps) != 2 || comps[0] != "com" || comps[1] != "example" {
		t.Fatalf("Components() = %v", comps)
	}
	if len(root.Components()) != 0 {
		t.Fatalf("root Components() should be empty, got %v", root.Components())
	}
}

func TestIsValidInterfaceName(t *testing.T) {
	if !IsValidInterfaceName("com.example.Foo") {
		t.Error("com.example.Foo should be valid")
	}
	if IsValidInterfaceName("Foo") {
		t.Error("a single element name should be invalid")
	}
	if IsValidInterfaceName("com.1example.Foo") {
		t.Error("an element starting with a digit should be invalid")
	}
}
