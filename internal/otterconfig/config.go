// Package otterconfig binds Otter's runtime-tuning knobs (spec.md §6 Env
// vars) to both environment variables and CLI flags, the way the teacher
// layers `pflag` over process configuration for its own CLI tools.
package otterconfig

import (
	"github.com/caarlos0/env/v9"
	"github.com/spf13/pflag"
)

// JIT holds the baseline compiler's tunables (spec.md §4.9-§4.11).
type JIT struct {
	Disable        bool   `env:"OTTER_DISABLE_JIT"`
	Eager          bool   `env:"OTTER_JIT_EAGER"`
	Background     bool   `env:"OTTER_JIT_BACKGROUND" envDefault:"true"`
	HotThreshold   uint32 `env:"OTTER_JIT_HOT_THRESHOLD" envDefault:"1000"`
	DeoptThreshold uint32 `env:"OTTER_JIT_DEOPT_THRESHOLD" envDefault:"10"`
	Stats          bool   `env:"OTTER_JIT_STATS"`
}

// Load reads JIT tunables from the environment, applying the documented
// defaults for anything unset.
func Load() (JIT, error) {
	cfg := JIT{}
	if err := env.Parse(&cfg); err != nil {
		return JIT{}, err
	}
	return cfg, nil
}

// BindFlags registers CLI flags that override the environment-sourced
// defaults, the precedence order `cmd/otter` wires flags before env so an
// explicit flag always wins over an ambient environment variable.
func (c *JIT) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.Disable, "disable-jit", c.Disable, "disable the baseline JIT and run purely interpreted")
	fs.BoolVar(&c.Eager, "jit-eager", c.Eager, "compile every function on first invocation instead of waiting for the hot threshold")
	fs.BoolVar(&c.Background, "jit-background", c.Background, "compile hot functions on a background worker instead of synchronously")
	fs.Uint32Var(&c.HotThreshold, "jit-hot-threshold", c.HotThreshold, "invocation count at which a function is enqueued for JIT compilation")
	fs.Uint32Var(&c.DeoptThreshold, "jit-deopt-threshold", c.DeoptThreshold, "consecutive bailout count at which a function is permanently deoptimized")
	fs.BoolVar(&c.Stats, "jit-stats", c.Stats, "enable JIT telemetry counters")
}
