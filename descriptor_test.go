package dbus

import "testing"

func TestInterfaceDescriptorBuildsAllMemberKinds(t *testing.T) {
	d := NewInterfaceDescriptor("com.example.PhoneBook").
		Method("AddContact", "ssq", "o").
		Property("NbContacts", AccessRead, "u").
		Signal("ContactAdded", "o")

	if _, ok := d.Methods["AddContact"]; !ok {
		t.Fatal("Method should register under its name")
	}
	if _, ok := d.Properties["NbContacts"]; !ok {
		t.Fatal("Property should register under its name")
	}
	if _, ok := d.Signals["ContactAdded"]; !ok {
		t.Fatal("Signal should register under its name")
	}
}

func TestMethodPanicsOnInvalidSignature(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Method should panic on a malformed input signature")
		}
	}()
	NewInterfaceDescriptor("com.example.Bad").Method("Oops", "a{vs}", "")
}

func TestPropertyPanicsOnInvalidSignature(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Property should panic on a malformed type signature")
		}
	}()
	NewInterfaceDescriptor("com.example.Bad").Property("Oops", AccessRead, "(si")
}

func TestPropertyAccessPredicates(t *testing.T) {
	cases := []struct {
		access             PropertyAccess
		readable, writable bool
	}{
		{AccessRead, true, false},
		{AccessWrite, false, true},
		{AccessReadWrite, true, true},
	}
	for _, c := range cases {
		if got := c.access.Readable(); got != c.readable {
			t.Fatalf("%v.Readable() = %v, want %v", c.access, got, c.readable)
		}
		if got := c.access.Writable(); got != c.writable {
			t.Fatalf("%v.Writable() = %v, want %v", c.access, got, c.writable)
		}
	}
}
