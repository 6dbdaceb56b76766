// Package busconfig loads process-wide bus configuration, grounded on
// LeoCommon-client's internal/client/config package (a TOML file plus a
// CLIFlags struct that overrides it).
package busconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the tunable behavior of a Router/bus connection.
type Config struct {
	// Address overrides bus address discovery ("unix:path=..."). Empty
	// means use the DBUS_SESSION_BUS_ADDRESS/DBUS_SYSTEM_BUS_ADDRESS
	// environment convention (address parsing itself is a Non-goal; only
	// the plain "unix:path=/x" form is understood).
	Address string `toml:"address"`

	// HandshakeTimeout bounds the Hello() round trip. Spec §5 default: 5s.
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`

	// RequestNameReplaceExisting and RequestNameDoNotQueue set the default
	// RequestName flags (spec §6: ORed by default).
	RequestNameReplaceExisting bool `toml:"request_name_replace_existing"`
	RequestNameDoNotQueue      bool `toml:"request_name_do_not_queue"`

	// Debug enables development-mode structured logging.
	Debug bool `toml:"debug"`
}

// Default returns the configuration spec §5/§6 describes as the default
// behavior.
func Default() Config {
	return Config{
		HandshakeTimeout:           5 * time.Second,
		RequestNameReplaceExisting: true,
		RequestNameDoNotQueue:      true,
	}
}

// Load reads a TOML config file at path, applying it on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("busconfig: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("busconfig: parsing %s: %w", path, err)
	}
	return cfg, nil
}
