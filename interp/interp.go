// Package interp is the baseline Interpreter Engine: a tree-walking
// dispatch loop over fully-resolved NodeKind[driver.NodeID] values,
// indexed by id. It has no tricks — the Specialized Engine (package
// specialize) and the AArch64 JIT (package codegen) both exist to be
// faster at the same semantics this package defines; this package is
// the reference they are checked against.
package interp

import (
	"fmt"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/node"
	"github.com/ttim/leshy/ops"
)

// Engine is the tree-walking Interpreter Engine from the component
// design (spec.md §4.6). It stores one optional NodeKind per id,
// growing the backing slice as new ids are registered.
type Engine struct {
	computed []entry
}

type entry struct {
	kind node.NodeKind[driver.NodeID]
	set  bool
}

// New returns an Engine with no nodes registered yet.
func New() *Engine { return &Engine{} }

// Register records kind for id. Idempotent: registering the same id
// twice with an equal kind leaves behavior unchanged (spec.md property
// 6); this engine does not even check, since NodeKind values are
// immutable once produced by the driver and the driver resolves a given
// id's kind the same way every time (spec.md §4.2, referential
// transparency).
func (e *Engine) Register(id driver.NodeID, kind node.NodeKind[driver.NodeID]) {
	for len(e.computed) <= int(id) {
		e.computed = append(e.computed, entry{})
	}
	e.computed[id] = entry{kind: kind, set: true}
}

func (e *Engine) get(id driver.NodeID) (node.NodeKind[driver.NodeID], bool) {
	if int(id) >= len(e.computed) {
		return node.NodeKind[driver.NodeID]{}, false
	}
	en := e.computed[id]
	return en.kind, en.set
}

// Run executes as far as possible. Frame offsets are absolute byte
// positions in stack (see driver.Frame's doc comment): Command/Branch
// rewrite the top frame's id in place; Call pushes a continuation frame
// at the caller's own absolute offset, then a callee frame at the
// caller's absolute offset plus the Call's own offset field; Final pops
// one frame.
func (e *Engine) Run(state *driver.RunState, stack []byte) bool {
	for !state.Empty() {
		top := state.Top()
		kind, ok := e.get(top.ID)
		if !ok {
			return true
		}

		switch kind.Tag {
		case node.KindCommand:
			ops.EvalCommand(kind.Command, stack[top.Offset:])
			state.SetTopID(kind.Next)
		case node.KindBranch:
			if ops.EvalCondition(kind.Condition, stack[top.Offset:]) {
				state.SetTopID(kind.IfTrue)
			} else {
				state.SetTopID(kind.IfFalse)
			}
		case node.KindCall:
			state.Pop()
			state.Push(driver.Frame{ID: kind.Next, Offset: top.Offset})
			state.Push(driver.Frame{ID: kind.Call, Offset: top.Offset + int(kind.CallOffset)})
		case node.KindFinal:
			state.Pop()
		default:
			panic(fmt.Sprintf("interp: malformed kind tag %d", kind.Tag))
		}
	}
	return false
}

var _ driver.Engine = (*Engine)(nil)
