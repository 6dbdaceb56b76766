// Command dbusd-call is a demo client that mirrors the dbusd-serve
// object tree through package proxy and exercises it interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/busforge/dbus"
	"github.com/busforge/dbus/busconfig"
	"github.com/busforge/dbus/dlog"
	"github.com/busforge/dbus/proxy"
	"github.com/busforge/dbus/value"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a TOML config file")
		busName    = pflag.StringP("name", "n", "com.example.Demo", "well-known bus name to mirror")
		debug      = pflag.BoolP("debug", "d", false, "enable development-mode logging")
	)
	pflag.Parse()

	cfg := busconfig.Default()
	if *configPath != "" {
		loaded, err := busconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "dbusd-call:", err)
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
		fmt.Fprintln(os.Stderr, "dbusd-call: dialing session bus:", err)
		os.Exit(1)
	}
	defer router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := proxy.New(ctx, router, *busName, "", "", proxy.InfiniteDepth, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-call: connecting to", *busName, "failed:", err)
		os.Exit(1)
	}

	go watchEvents(p)

	if err := runSimpleService(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-call: SimpleService scenario failed:", err)
	}
	if err := runPhoneBook(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-call: PhoneBook scenario failed:", err)
	}
	if err := runTypesOverview(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, "dbusd-call: TypesOverview scenario failed:", err)
	}
	runDisconnectionWatch(p)
}

func watchEvents(p *proxy.Proxy) {
	for ev := range p.Events {
		switch ev.Kind {
		case proxy.EventConnected:
			fmt.Println("dbusd-call: reconnected, object tree rebuilt")
		case proxy.EventDisconnected:
			fmt.Println("dbusd-call: name lost, waiting for a new owner")
		case proxy.EventError:
			fmt.Fprintln(os.Stderr, "dbusd-call: proxy error:", ev.Err)
		}
	}
}

func runSimpleService(ctx context.Context, p *proxy.Proxy) error {
	obj, ok := p.Object("/com/example/SimpleService")
	if !ok {
		return fmt.Errorf("SimpleService object not found")
	}
	iface, ok := obj.Interface("com.example.SimpleService")
	if !ok {
		return fmt.Errorf("com.example.SimpleService interface not found")
	}

	reply, err := iface.Call(ctx, "SayHello", value.String("dbusd-call"))
	if err != nil {
		return err
	}
	fmt.Println("SayHello:", reply[0].AsString())

	before, err := iface.Get("ExampleProperty")
	if err != nil {
		return err
	}
	fmt.Println("ExampleProperty before:", before.Scalar)

	if err := iface.Set(ctx, "ExampleProperty", value.Uint16(42)); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond) // let PropertiesChanged land before re-reading the cache
	after, err := iface.Get("ExampleProperty")
	if err != nil {
		return err
	}
	fmt.Println("ExampleProperty after:", after.Scalar)
	return nil
}

func runPhoneBook(ctx context.Context, p *proxy.Proxy) error {
	obj, ok := p.Object("/com/example/PhoneBook")
	if !ok {
		return fmt.Errorf("PhoneBook object not found")
	}
	iface, ok := obj.Interface("com.example.PhoneBook")
	if !ok {
		return fmt.Errorf("com.example.PhoneBook interface not found")
	}

	reply, err := iface.Call(ctx, "AddContact", value.String("Ada Lovelace"), value.String("+44 20 7946 0000"), value.Uint16(36))
	if err != nil {
		return err
	}
	contactPath := reply[0].AsObjectPath()
	fmt.Println("AddContact ->", contactPath)

	time.Sleep(200 * time.Millisecond)
	n, err := iface.Get("NbContacts")
	if err != nil {
		return err
	}
	fmt.Println("NbContacts:", n.Scalar)

	if _, err := iface.Call(ctx, "DeleteContacts", value.NewArray(value.Path(contactPath))); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	n, err = iface.Get("NbContacts")
	if err != nil {
		return err
	}
	fmt.Println("NbContacts after delete:", n.Scalar)
	return nil
}

func runTypesOverview(ctx context.Context, p *proxy.Proxy) error {
	obj, ok := p.Object("/com/example/TypesOverview")
	if !ok {
		return fmt.Errorf("TypesOverview object not found")
	}
	iface, ok := obj.Interface("TypesOverview")
	if !ok {
		return fmt.Errorf("TypesOverview interface not found")
	}

	for _, member := range []string{
		"GetUint16", "GetInt16", "GetUint32", "GetInt32", "GetDouble",
		"GetBool", "GetObjectPath", "GetStringArray", "GetStruct",
	} {
		reply, err := iface.Call(ctx, member)
		if err != nil {
			return fmt.Errorf("%s: %w", member, err)
		}
		fmt.Printf("%s: %+v\n", member, reply[0])
	}

	var (
		asString string
		asBool   bool
		asInt32  int32
	)
	if err := iface.CallInto(ctx, "GetMulti", nil, &asString, &asBool, &asInt32); err != nil {
		return err
	}
	fmt.Printf("GetMulti: %s, %v, %d\n", asString, asBool, asInt32)
	return nil
}

// runDisconnectionWatch sleeps for two seconds so that a disconnected/
// connected pair, if the owner of *busName releases and re-requests its name
// meanwhile, can show up (spec §6's resilience scenario). It does not read
// p.Events itself and nothing forces that cycle from this side; watchEvents
// (running concurrently) prints whatever the bus actually reports.
func runDisconnectionWatch(p *proxy.Proxy) {
	fmt.Println("dbusd-call: watching for name-owner changes for 2s (Ctrl+C the server to see it)")
	time.Sleep(2 * time.Second)
}
