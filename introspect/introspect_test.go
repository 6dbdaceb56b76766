package introspect

import (
	"strings"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	doc := &Node{
		Name: "/com/example/PhoneBook",
		Interfaces: []Interface{
			{
				Name: "com.example.PhoneBook",
				Methods: []Method{
					{Name: "AddContact", Args: []Arg{
						{Name: "name", Type: "s", Direction: "in"},
						{Name: "phone", Type: "s", Direction: "in"},
						{Name: "age", Type: "q", Direction: "in"},
						{Type: "o", Direction: "out"},
					}},
				},
				Properties: []Property{
					{Name: "NbContacts", Type: "u", Access: "read"},
				},
			},
		},
		Children: []Node{{Name: "Contacts"}},
	}

	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), IntrospectDocType) {
		t.Fatal("Marshal output must be prefixed with the introspection DTD")
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Interfaces) != 1 || parsed.Interfaces[0].Name != "com.example.PhoneBook" {
		t.Fatalf("unexpected parsed interfaces: %+v", parsed.Interfaces)
	}
	if len(parsed.Interfaces[0].Methods) != 1 || len(parsed.Interfaces[0].Methods[0].Args) != 4 {
		t.Fatalf("unexpected parsed method: %+v", parsed.Interfaces[0].Methods)
	}
	if len(parsed.Children) != 1 || parsed.Children[0].Name != "Contacts" {
		t.Fatalf("unexpected parsed children: %+v", parsed.Children)
	}
}
