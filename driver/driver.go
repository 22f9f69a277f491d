// Package driver implements the incremental, lazy-discovery protocol
// shared by every execution engine: a dense id table over provider
// nodes, a stack of frames, and a loop that alternates between asking
// the selected Engine to run as far as it can and, on suspension,
// resolving one more node from the provider.
package driver

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ttim/leshy/node"
)

// Engine is the contract every execution strategy (tree-walking
// interpreter, specialized interpreter, AArch64 JIT) implements.
//
// Run executes as far as possible and returns true iff the top of
// state.Frames names an id the engine has not yet seen (via Register);
// it must return false only with an empty frame stack (terminal
// success). Register records the kind for id; it must be idempotent for
// a given id (spec.md property 6 — re-registering an already-known id
// must not change observable behaviour).
//
// Implementations must never mutate bytes of stack outside the window
// belonging to the frame they are currently executing, must interpret
// Call exactly as spec.md §4.5 describes, and must be deterministic
// given the same (registered kinds, stack contents).
type Engine interface {
	Register(id NodeID, kind node.NodeKind[NodeID])
	Run(state *RunState, stack []byte) (suspended bool)
}

// Options configures a Driver. The zero value is usable: no trace
// output, no frame-depth budget enforced.
//
// This mirrors yaegi's opt/Options split (breadchris-yaegi/interp/interp.go):
// a small, caller-settable struct, with one field (Trace) readable from
// an environment variable the same way yaegi's Options are supplemented
// by YAEGI_AST_DOT/YAEGI_CFG_DOT/etc.
type Options struct {
	// Trace, if non-nil, receives one line per suspend/register cycle.
	// Never written to on the hot execution path inside an engine's Run.
	Trace io.Writer

	// MaxFrames bounds call-stack depth (spec.md §7, "caller-induced
	// stack exhaustion"); 0 means unbounded.
	MaxFrames int
}

// traceFromEnv mirrors yaegi's New(options Options) pattern of letting a
// debug environment variable supplement explicit options: setting
// LESHY_TRACE=1 turns on stderr tracing even if the caller didn't ask
// for it, exactly as YAEGI_AST_DOT/YAEGI_CFG_DOT gate yaegi's debug
// graphs.
func traceFromEnv(opts Options) Options {
	if opts.Trace == nil {
		if on, _ := strconv.ParseBool(os.Getenv("LESHY_TRACE")); on {
			opts.Trace = os.Stderr
		}
	}
	return opts
}

// Driver orchestrates evaluation: it owns the id table and the selected
// Engine, and drives the suspend/resolve/resume loop described in
// spec.md §4.4.
type Driver struct {
	ids    *idTable
	engine Engine
	opts   Options
}

// New constructs a Driver around the given Engine.
func New(engine Engine, opts Options) *Driver {
	return &Driver{ids: newIDTable(), engine: engine, opts: traceFromEnv(opts)}
}

// Eval interns root, runs it to completion against stack, and returns
// nil on success or an error describing the first fatal Fault raised by
// the provider or the engine.
func (d *Driver) Eval(root node.Node, stack []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*Fault); ok {
				err = f
				return
			}
			panic(r)
		}
	}()

	id := d.ids.intern(root)
	state := &RunState{Frames: []Frame{{ID: id, Offset: 0}}}
	d.run(state, stack)
	if !state.Empty() {
		panic(newFault(FaultMalformedKind, "engine returned not-suspended with a non-empty frame stack"))
	}
	return nil
}

func (d *Driver) run(state *RunState, stack []byte) {
	for !state.Empty() {
		if d.opts.MaxFrames > 0 && len(state.Frames) > d.opts.MaxFrames {
			RaiseAt(FaultStackExhausted, state.Top().ID, fmt.Sprintf("depth %d exceeds budget %d", len(state.Frames), d.opts.MaxFrames))
		}
		if d.engine.Run(state, stack) {
			id := state.Top().ID
			kind := d.resolve(id)
			d.trace("register id=%d kind=%v", id, kind.Tag)
			d.engine.Register(id, kind)
		}
	}
}

// resolve returns the fully-interned NodeKind for id: it fetches the
// node from the id table, asks the provider for its kind, folds away any
// leading Noop/PoisonFrom commands (final-kind folding, spec.md §4.4),
// and interns every successor so the engine only ever sees NodeIDs.
func (d *Driver) resolve(id NodeID) node.NodeKind[NodeID] {
	n := finalKind(d.ids.nodeOf(id))
	return node.MapSuccessors(n, d.ids.intern)
}

// finalKind chases a node's Kind() through leading Noop/PoisonFrom
// commands so the engine never has to dispatch on them: they exist so
// providers can stitch control flow together without allocating
// sentinel states (spec.md §4.4, property 4).
func finalKind(n node.Node) node.NodeKind[node.Node] {
	for {
		kind := n.Kind()
		if kind.Tag != node.KindCommand {
			return kind
		}
		switch kind.Command.Tag {
		case node.CmdNoop, node.CmdPoisonFrom:
			n = kind.Next
			continue
		default:
			return kind
		}
	}
}

func (d *Driver) trace(format string, args ...any) {
	if d.opts.Trace != nil {
		fmt.Fprintf(d.opts.Trace, format+"\n", args...)
	}
}
