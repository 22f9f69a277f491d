// Command leshy builds the recursive fib(n) program from package webasm
// and runs it to completion on one of the three execution engines,
// printing the result. It exists to exercise the core end to end, the
// way original_source/leshy-rust/src/main.rs drives its own core from a
// short, hand-wired main rather than a general-purpose CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ttim/leshy/codegen"
	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/interp"
	"github.com/ttim/leshy/specialize"
	"github.com/ttim/leshy/webasm"
)

func main() {
	var (
		engineName = flag.String("engine", "interp", "execution engine: interp, compact, or jit")
		n          = flag.Uint("n", 10, "compute fib(n)")
		trace      = flag.Bool("trace", false, "log register/suspend cycles to stderr")
	)
	flag.Parse()

	engine, err := newEngine(*engineName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "leshy:", err)
		os.Exit(2)
	}

	opts := driver.Options{}
	if *trace {
		opts.Trace = os.Stderr
	}

	root, stack := webasm.BuildFib(uint32(*n))
	d := driver.New(engine, opts)
	if err := d.Eval(root, stack); err != nil {
		fmt.Fprintln(os.Stderr, "leshy: eval failed:", err)
		os.Exit(1)
	}

	fmt.Printf("fib(%d) = %d\n", *n, webasm.Result(stack))
}

func newEngine(name string) (driver.Engine, error) {
	switch name {
	case "interp":
		return interp.New(), nil
	case "compact":
		return specialize.New(), nil
	case "jit":
		return codegen.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q (want interp, compact, or jit)", name)
	}
}
