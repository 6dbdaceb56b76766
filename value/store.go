package value

import (
	"fmt"
	"reflect"

	"github.com/busforge/dbus/wire"
)

// Store copies the values in src into dest, which must be pointers to Go
// types matching the shape of each Value. It is the module's counterpart of
// godbus's dbus.Store, used by proxy.ProxyInterface.CallInto so a caller can
// write:
//
//	var name string
//	var age uint16
//	iface.CallInto(ctx, "GetContact", args, &name, &age)
//
// instead of manually type-asserting Value.Scalar at every call site.
func Store(src []Value, dest ...interface{}) error {
	if len(src) != len(dest) {
		return fmt.Errorf("value: Store length mismatch: %d values, %d destinations", len(src), len(dest))
	}
	for i, v := range src {
		if err := storeOne(v, dest[i]); err != nil {
			return fmt.Errorf("value: Store arg %d: %w", i, err)
		}
	}
	return nil
}

func storeOne(v Value, dest interface{}) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dest)
	}
	elem := rv.Elem()

	switch v.Kind {
	case wire.KindArray:
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("cannot store array into %s", elem.Type())
		}
		out := reflect.MakeSlice(elem.Type(), len(v.Array), len(v.Array))
		for i, item := range v.Array {
			if err := storeOne(item, out.Index(i).Addr().Interface()); err != nil {
				return err
			}
		}
		elem.Set(out)
		return nil
	case wire.KindStruct:
		if elem.Kind() != reflect.Struct {
			return fmt.Errorf("cannot store struct into %s", elem.Type())
		}
		fi := 0
		for i := 0; i < elem.NumField() && fi < len(v.Struct); i++ {
			f := elem.Type().Field(i)
			if f.PkgPath != "" || f.Tag.Get("dbus") == "-" {
				continue
			}
			if err := storeOne(v.Struct[fi], elem.Field(i).Addr().Interface()); err != nil {
				return err
			}
			fi++
		}
		return nil
	case wire.KindVariant:
		return storeOne(v.Variant.Value, dest)
	default:
		sv := reflect.ValueOf(v.Scalar)
		if !sv.Type().ConvertibleTo(elem.Type()) {
			return fmt.Errorf("cannot store %s into %s", sv.Type(), elem.Type())
		}
		elem.Set(sv.Convert(elem.Type()))
		return nil
	}
}
