package dbus

import (
	"fmt"
	"os"
	"strings"

	"github.com/busforge/dbus/busconfig"
	"github.com/busforge/dbus/transport"
	"go.uber.org/zap"
)

const defaultSystemBusSocket = "/var/run/dbus/system_bus_socket"

// SessionBus dials the session bus named by DBUS_SESSION_BUS_ADDRESS.
func SessionBus(cfg busconfig.Config, log *zap.Logger) (*Router, error) {
	addr := cfg.Address
	if addr == "" {
		addr = os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	}
	if addr == "" {
		return nil, fmt.Errorf("dbus: DBUS_SESSION_BUS_ADDRESS is not set")
	}
	return Dial(addr, cfg, log)
}

// SystemBus dials the well-known system bus socket, honoring
// DBUS_SYSTEM_BUS_ADDRESS if set.
func SystemBus(cfg busconfig.Config, log *zap.Logger) (*Router, error) {
	addr := cfg.Address
	if addr == "" {
		addr = os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")
	}
	if addr == "" {
		addr = "unix:path=" + defaultSystemBusSocket
	}
	return Dial(addr, cfg, log)
}

// Dial connects to addr, a "unix:path=/some/socket" address (address
// parsing beyond the plain unix-path form is a Non-goal), authenticates,
// and completes the Hello handshake.
func Dial(addr string, cfg busconfig.Config, log *zap.Logger) (*Router, error) {
	path, err := parseUnixAddress(addr)
	if err != nil {
		return nil, err
	}
	t, err := transport.DialUnix(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRouter(t, cfg, log)
	if err != nil {
		t.Close()
		return nil, err
	}
	return r, nil
}

func parseUnixAddress(addr string) (string, error) {
	if !strings.HasPrefix(addr, "unix:") {
		return "", fmt.Errorf("dbus: unsupported bus address %q", addr)
	}
	for _, kv := range strings.Split(strings.TrimPrefix(addr, "unix:"), ",") {
		if path, ok := strings.CutPrefix(kv, "path="); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("dbus: unix address %q has no path= component", addr)
}
