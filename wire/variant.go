package wire

import "fmt"

// Variant is the wire-level tagged value: a signature paired with a value
// already in marshal form. The codec treats it as an opaque single complete
// type ('v'); the value package is responsible for lifting it to the
// high-level tagged Variant that carries a parsed SignatureTree instead of a
// raw string.
type Variant struct {
	Sig   Signature
	Value interface{}
}

// MakeVariant wraps sig/value into a Variant.
func MakeVariant(sig Signature, value interface{}) Variant {
	return Variant{Sig: sig, Value: value}
}

func (v Variant) String() string {
	return fmt.Sprintf("@%s %v", v.Sig, v.Value)
}
