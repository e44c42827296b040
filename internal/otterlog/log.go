// Package otterlog wraps a package-level zap.Logger the way wazero's
// internal/logging wraps its listener factory: a no-op default, replaceable
// per-runtime.
package otterlog

import "go.uber.org/zap"

var global = zap.NewNop()

// Set installs the logger used by every otter subsystem. Passing nil resets
// to the no-op default.
func Set(l *zap.Logger) {
	if l == nil {
		global = zap.NewNop()
		return
	}
	global = l
}

// L returns the current process-wide logger.
func L() *zap.Logger { return global }

// Named returns a child logger scoped to a subsystem, e.g. otterlog.Named("jit").
func Named(name string) *zap.Logger { return global.Named(name) }
