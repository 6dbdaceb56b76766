// Package introspect defines the XML document shape returned by the
// standard org.freedesktop.DBus.Introspectable.Introspect method, grounded
// on the teacher's introspect/introspect.go.
package introspect

import "encoding/xml"

// IntrospectDocType is the DTD line every introspection document is
// prefixed with, matching what real D-Bus peers (and this module's own
// proxy parser) expect.
const IntrospectDocType = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" ` +
	`"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">`

// Node is the root (or nested) <node> element of an introspection document.
type Node struct {
	XMLName    xml.Name    `xml:"node"`
	Name       string      `xml:"name,attr,omitempty"`
	Interfaces []Interface `xml:"interface"`
	Children   []Node      `xml:"node"`
}

// Interface is one <interface> element.
type Interface struct {
	Name        string       `xml:"name,attr"`
	Methods     []Method     `xml:"method"`
	Signals     []Signal     `xml:"signal"`
	Properties  []Property   `xml:"property"`
	Annotations []Annotation `xml:"annotation"`
}

// Method is one <method> element.
type Method struct {
	Name        string       `xml:"name,attr"`
	Args        []Arg        `xml:"arg"`
	Annotations []Annotation `xml:"annotation"`
}

// Signal is one <signal> element. Signal args never carry a "direction"
// attribute of "in" on the wire, only "out"; Arg.Direction is still filled
// in for symmetry with Method.
type Signal struct {
	Name        string       `xml:"name,attr"`
	Args        []Arg        `xml:"arg"`
	Annotations []Annotation `xml:"annotation"`
}

// Property is one <property> element. Access is one of "read", "write",
// "readwrite".
type Property struct {
	Name        string       `xml:"name,attr"`
	Type        string       `xml:"type,attr"`
	Access      string       `xml:"access,attr"`
	Annotations []Annotation `xml:"annotation"`
}

// Arg is one <arg> element of a method or signal.
type Arg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

// Annotation is one <annotation> element.
type Annotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Marshal renders doc as a complete introspection XML document, DTD
// included.
func Marshal(doc *Node) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(IntrospectDocType)+2)
	out = append(out, IntrospectDocType...)
	out = append(out, '\n')
	out = append(out, body...)
	return out, nil
}

// Parse decodes an introspection XML document (proxy side, spec §4.7).
func Parse(data []byte) (*Node, error) {
	var doc Node
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
