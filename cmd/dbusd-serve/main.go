// Command dbusd-serve exposes the demo services used throughout this
// module's tests and documentation: SimpleService, PhoneBook, and
// TypesOverview, all under one well-known bus name.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/busforge/dbus"
	"github.com/busforge/dbus/busconfig"
	"github.com/busforge/dbus/dlog"
	"github.com/busforge/dbus/value"
	"github.com/busforge/dbus/wire"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a TOML config file")
		busName    = pflag.StringP("name", "n", "com.example.Demo", "well-known bus name to request")
		debug      = pflag.BoolP("debug", "d", false, "enable development-mode logging")
	)
	pflag.Parse()

	cfg := busconfig.Default()
	if *configPath != "" {
		loaded, err := busconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "dbusd-serve:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Debug = cfg.Debug || *debug

	var log *zap.Logger
	if cfg.Debug {
		log, _ = zap.NewDevelopment()
	} else {
		log = dlog.NewNop()
	}

	router, err := dbus.SessionBus(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-serve: dialing session bus:", err)
		os.Exit(1)
	}
	defer router.Close()

	flags := dbus.RequestNameFlags(0)
	if cfg.RequestNameReplaceExisting {
		flags |= dbus.FlagReplaceExisting
	}
	if cfg.RequestNameDoNotQueue {
		flags |= dbus.FlagDoNotQueue
	}
	svc, err := router.RegisterService(context.Background(), *busName, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-serve: requesting name:", err)
		os.Exit(1)
	}

	// The root opts into ObjectManager so PhoneBook's dynamic contact
	// objects show up in GetManagedObjects and drive InterfacesAdded/
	// InterfacesRemoved for every proxy watching this name.
	svc.Root().EnableObjectManager()

	installSimpleService(svc)
	installPhoneBook(svc)
	installTypesOverview(svc)

	select {}
}

func installSimpleService(svc *dbus.Service) {
	node := svc.Object("/com/example/SimpleService")
	desc := dbus.NewInterfaceDescriptor("com.example.SimpleService").
		Method("SayHello", "s", "s").
		Property("ExampleProperty", dbus.AccessReadWrite, "q")
	iface := node.AddInterface(desc)
	iface.HandleMethod("SayHello", func(ctx context.Context, args []value.Value) ([]value.Value, error) {
		who := args[0].AsString()
		if who == "" {
			return []value.Value{value.String("Hello, world!")}, nil
		}
		return []value.Value{value.String("Hello, " + who + "!")}, nil
	})
	dbus.AddProperty(iface, "ExampleProperty", uint16(1089))

	svc.Expose(node)
}

// contact is one PhoneBook entry.
type contact struct {
	path  wire.ObjectPath
	name  string
	phone string
	age   uint16
}

func installPhoneBook(svc *dbus.Service) {
	node := svc.Object("/com/example/PhoneBook")
	desc := dbus.NewInterfaceDescriptor("com.example.PhoneBook").
		Method("AddContact", "ssq", "o").
		Method("DeleteContacts", "ao", "").
		Property("NbContacts", dbus.AccessRead, "u").
		Property("Contacts", dbus.AccessRead, "a(os)")
	iface := node.AddInterface(desc)

	var mu sync.Mutex
	contacts := make(map[wire.ObjectPath]*contact)
	order := make([]wire.ObjectPath, 0)

	nbContacts := dbus.AddProperty(iface, "NbContacts", uint32(0))
	contactsProp := dbus.AddProperty(iface, "Contacts", []interface{}{})

	rebuildContactsProp := func() {
		rows := make([]interface{}, 0, len(order))
		for _, p := range order {
			c := contacts[p]
			rows = append(rows, []interface{}{c.path, c.name})
		}
		contactsProp.Set(rows)
	}

	iface.HandleMethod("AddContact", func(ctx context.Context, args []value.Value) ([]value.Value, error) {
		name, phone, age := args[0].AsString(), args[1].AsString(), args[2].Scalar.(uint16)
		// Object path elements allow only [A-Za-z0-9_], so the UUID's
		// dashes are dropped.
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		path := node.Path().Child("Contacts").Child(id)
		contactNode := svc.Object(path)
		contactDesc := dbus.NewInterfaceDescriptor("com.example.PhoneBook.Contact").
			Property("Name", dbus.AccessRead, "s").
			Property("Phone", dbus.AccessRead, "s").
			Property("Age", dbus.AccessRead, "q")
		ci := contactNode.AddInterface(contactDesc)
		dbus.AddProperty(ci, "Name", name)
		dbus.AddProperty(ci, "Phone", phone)
		dbus.AddProperty(ci, "Age", age)

		mu.Lock()
		contacts[path] = &contact{path: path, name: name, phone: phone, age: age}
		order = append(order, path)
		nbContacts.Set(uint32(len(order)))
		rebuildContactsProp()
		mu.Unlock()

		svc.Expose(contactNode)
		return []value.Value{value.Path(path)}, nil
	})

	iface.HandleMethod("DeleteContacts", func(ctx context.Context, args []value.Value) ([]value.Value, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, pv := range args[0].Array {
			p := pv.AsObjectPath()
			if _, ok := contacts[p]; !ok {
				continue
			}
			delete(contacts, p)
			for i, existing := range order {
				if existing == p {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
			comps := p.Components()
			parentPath := wire.ObjectPath("")
			for _, c := range comps[:len(comps)-1] {
				parentPath = parentPath.Child(c)
			}
			parent := svc.Object(parentPath)
			svc.RemoveObject(parent, comps[len(comps)-1])
		}
		nbContacts.Set(uint32(len(order)))
		rebuildContactsProp()
		return nil, nil
	})

	svc.Expose(node)
}

func installTypesOverview(svc *dbus.Service) {
	node := svc.Object("/com/example/TypesOverview")
	desc := dbus.NewInterfaceDescriptor("TypesOverview").
		Method("GetUint16", "", "q").
		Method("GetInt16", "", "n").
		Method("GetUint32", "", "u").
		Method("GetInt32", "", "i").
		Method("GetDouble", "", "d").
		Method("GetBool", "", "b").
		Method("GetObjectPath", "", "o").
		Method("GetStringArray", "", "as").
		Method("GetStruct", "", "(bds)").
		Method("GetMulti", "", "sbi")
	iface := node.AddInterface(desc)

	iface.HandleMethod("GetUint16", constReply(value.Uint16(54827)))
	iface.HandleMethod("GetInt16", constReply(value.Int16(-29786)))
	iface.HandleMethod("GetUint32", constReply(value.Uint32(3728666323)))
	iface.HandleMethod("GetInt32", constReply(value.Int32(-1829732118)))
	iface.HandleMethod("GetDouble", constReply(value.Double(129387.9786742)))
	iface.HandleMethod("GetBool", constReply(value.Bool(false)))
	iface.HandleMethod("GetObjectPath", constReply(value.Path("/path/to/some/dbus/object")))
	iface.HandleMethod("GetStringArray", constReply(value.NewArray(
		value.String("foo"), value.String("bar"), value.String("quux"), value.String("hello, world!"),
	)))
	iface.HandleMethod("GetStruct", constReply(value.NewStruct(
		value.Bool(true), value.Double(42.1089), value.String("Just a string..."),
	)))
	iface.HandleMethod("GetMulti", func(ctx context.Context, args []value.Value) ([]value.Value, error) {
		return []value.Value{
			value.String("String as argument #1"),
			value.Bool(false),
			value.Int32(-52395872),
		}, nil
	})

	svc.Expose(node)
}

func constReply(v value.Value) dbus.MethodHandler {
	return func(ctx context.Context, args []value.Value) ([]value.Value, error) {
		return []value.Value{v}, nil
	}
}
