// Package dlog wraps go.uber.org/zap for the module's diagnostic-only
// logging: dropped stale replies, unmatched signal deliveries, unknown
// properties, recovered handler panics. Per spec Design Notes §9, this is
// kept out of the core's control flow — callers pass a *zap.Logger to the
// constructors (dbus.NewRouter, dbus.Dial, proxy.New, ...) rather than the core calling
// a package-level logger from deep in the dispatch path.
package dlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() {
	global, _ = zap.NewDevelopment()
}

// L returns the current global logger. Safe for concurrent use.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// SetGlobal replaces the global logger used by components that were not
// given an explicit one. Embedding hosts typically call this once at
// startup with a *zap.Logger configured for their environment (grounded on
// LeoCommon-client/pkg/log's development/production split).
func SetGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// NewNop returns a logger that discards everything, for hosts that want the
// core silent.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Or returns l if non-nil, otherwise the current global logger. Components
// that accept an optional *zap.Logger field call this once at construction.
func Or(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return L()
}
