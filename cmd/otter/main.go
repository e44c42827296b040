// Command otter is Otter's standalone REPL and bytecode-module runner:
// load a compiled .otmod file (internal/bytecode's on-disk format, spec.md
// §6), run its entry function, and drop into an interactive shell for
// inspecting the resulting Runtime (JIT telemetry, the global object).
// Otter's core never parses JS source itself (spec.md §1's "out of
// scope: concrete parsers/transpilers"), so this tool has no `eval`
// command — only bytecode modules the external compiler already produced.
package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/octofhir/otter-sub002"
	"github.com/octofhir/otter-sub002/internal/bytecode"
	"github.com/octofhir/otter-sub002/internal/otterconfig"
	"github.com/octofhir/otter-sub002/internal/otterlog"
)

const historyFile = ".otter_history"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("otter", pflag.ContinueOnError)
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")
	cfg, err := otterconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "otter: loading config:", err)
		return 1
	}
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "otter:", err)
		return 1
	}

	if *verbose {
		l, _ := zap.NewDevelopment()
		otterlog.Set(l)
	}

	rt, err := otter.NewRuntime(otter.RuntimeConfig{JIT: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, "otter: constructing runtime:", err)
		return 1
	}
	defer rt.Close()

	for _, path := range fs.Args() {
		if err := loadAndRun(rt, path); err != nil {
			fmt.Fprintf(os.Stderr, "otter: running %s: %v\n", path, err)
			return 1
		}
	}

	return repl(rt)
}

func loadAndRun(rt *otter.Runtime, path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := bytecode.Decode(data)
	if err != nil {
		return err
	}
	result, err := rt.Eval(m)
	if err != nil {
		return err
	}
	fmt.Println(rt.VM().ToGoString(result))
	return nil
}

// repl runs an interactive shell over rt with a small set of introspection
// commands; `.load <path>` is the only way to bring in new code, since
// there is no source-level eval (spec.md §1 scope).
func repl(rt *otter.Runtime) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("otter REPL — .load <path>, .stats, .exit")
	for {
		input, err := line.Prompt("otter> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}
			fmt.Fprintln(os.Stderr, "otter:", err)
			return 1
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch {
		case input == ".exit":
			return 0
		case input == ".stats":
			printStats(rt)
		case strings.HasPrefix(input, ".load "):
			path := strings.TrimSpace(strings.TrimPrefix(input, ".load "))
			if err := loadAndRun(rt, path); err != nil {
				fmt.Fprintln(os.Stderr, "otter:", err)
			}
		default:
			fmt.Fprintln(os.Stderr, "otter: unrecognized command (expected .load/.stats/.exit)")
		}
	}
}

func printStats(rt *otter.Runtime) {
	jrt := rt.JITRuntime()
	if jrt == nil {
		fmt.Println("JIT disabled")
		return
	}
	s := jrt.Stats
	fmt.Printf("compile requests=%d successes=%d errors=%d\n",
		atomic.LoadInt64(&s.CompileRequests), atomic.LoadInt64(&s.CompileSuccesses), atomic.LoadInt64(&s.CompileErrors))
	fmt.Printf("execute attempts=%d hits=%d bailouts=%d deopts=%d\n",
		atomic.LoadInt64(&s.ExecuteAttempts), atomic.LoadInt64(&s.ExecuteHits), atomic.LoadInt64(&s.BailoutsTotal), atomic.LoadInt64(&s.Deoptimizations))
}
