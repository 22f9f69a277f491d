// Package ops holds the actual byte-level semantics of Command and
// Condition (spec.md §3) — the little-endian load/store/arithmetic
// helpers and a plain recursive evaluator, Eval. Every engine (interp,
// specialize, codegen) is built to behave identically on non-poisoned
// bytes (spec.md property 1); EvalCommand and EvalCondition are what
// the interpreter and the specialized engine's Full fallback table
// dispatch into, so this is the one place command/condition semantics
// are defined.
package ops

import (
	"encoding/binary"
	"fmt"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/node"
)

// Eval walks n directly (no id table, no engine, no suspension) until
// it reaches Final. It only terminates on graphs with no unresolved
// successors, i.e. ones built entirely in-process by a provider rather
// than lazily discovered.
func Eval(n node.Node, stack []byte) {
	current := n
	for {
		kind := current.Kind()
		switch kind.Tag {
		case node.KindCommand:
			EvalCommand(kind.Command, stack)
			current = kind.Next
		case node.KindBranch:
			if EvalCondition(kind.Condition, stack) {
				current = kind.IfTrue
			} else {
				current = kind.IfFalse
			}
		case node.KindCall:
			Eval(kind.Call, stack[kind.CallOffset:])
			current = kind.Next
		case node.KindFinal:
			return
		default:
			panic(fmt.Sprintf("ops: malformed kind tag %d", kind.Tag))
		}
	}
}

// EvalCommand applies command to stack (already sliced to the current
// frame's window).
func EvalCommand(command node.Command, stack []byte) {
	switch command.Tag {
	case node.CmdNoop, node.CmdPoisonFrom:
		// No observable effect: PoisonFrom only marks bytes at and
		// above Dst as unspecified for the purposes of testing, it
		// does not itself change them (spec.md open question: this
		// module chooses "unspecified", not "zeroed").
	case node.CmdSet:
		dst := command.Dst.Offset
		checkBounds(dst, len(command.Bytes), stack)
		copy(stack[dst:int(dst)+len(command.Bytes)], command.Bytes)
	case node.CmdCopy:
		withWidth(command.Size, func() {
			putU32(command.Dst, stack, getU32(command.Op, stack))
		}, func() {
			putU64(command.Dst, stack, getU64(command.Op, stack))
		})
	case node.CmdAdd:
		withWidth(command.Size, func() {
			putU32(command.Dst, stack, getU32(command.Op1, stack)+getU32(command.Op2, stack))
		}, func() {
			putU64(command.Dst, stack, getU64(command.Op1, stack)+getU64(command.Op2, stack))
		})
	case node.CmdSub:
		withWidth(command.Size, func() {
			putU32(command.Dst, stack, getU32(command.Op1, stack)-getU32(command.Op2, stack))
		}, func() {
			putU64(command.Dst, stack, getU64(command.Op1, stack)-getU64(command.Op2, stack))
		})
	default:
		panic(fmt.Sprintf("ops: malformed command tag %d", command.Tag))
	}
}

// EvalCondition evaluates condition against stack.
func EvalCondition(condition node.Condition, stack []byte) bool {
	switch condition.Tag {
	case node.CondNe:
		var result bool
		withWidth(condition.Size, func() {
			result = getU32(condition.Op1, stack) != getU32(condition.Op2, stack)
		}, func() {
			result = getU64(condition.Op1, stack) != getU64(condition.Op2, stack)
		})
		return result
	case node.CondNe0:
		var result bool
		withWidth(condition.Size, func() {
			result = getU32(condition.Op, stack) != 0
		}, func() {
			result = getU64(condition.Op, stack) != 0
		})
		return result
	default:
		panic(fmt.Sprintf("ops: malformed condition tag %d", condition.Tag))
	}
}

func withWidth(size node.Width, width4, width8 func()) {
	switch size {
	case node.Width4:
		width4()
	case node.Width8:
		width8()
	default:
		driver.Raise(driver.FaultUnsupportedWidth, fmt.Sprintf("width %d", size))
	}
}

func GetU32(ref node.Ref, stack []byte) uint32 { return getU32(ref, stack) }
func GetU64(ref node.Ref, stack []byte) uint64 { return getU64(ref, stack) }
func PutU32(ref node.Ref, stack []byte, v uint32) { putU32(ref, stack, v) }
func PutU64(ref node.Ref, stack []byte, v uint64) { putU64(ref, stack, v) }

// checkBounds raises FaultOutOfBounds rather than letting a malformed
// Ref/Command escape as a bare slice-index panic — spec.md §7/§8 commits
// every out-of-bounds access to this typed fault, caught uniformly at
// Driver.Eval's recover boundary regardless of which engine (interp, or
// specialize through its compact paths or its Full fallback) hit it.
func checkBounds(off uint32, size int, stack []byte) {
	if int(off)+size > len(stack) {
		driver.Raise(driver.FaultOutOfBounds, fmt.Sprintf("offset %d size %d exceeds frame of %d bytes", off, size, len(stack)))
	}
}

func getU32(ref node.Ref, stack []byte) uint32 {
	off := ref.Offset
	checkBounds(off, 4, stack)
	return binary.LittleEndian.Uint32(stack[off : off+4])
}

func getU64(ref node.Ref, stack []byte) uint64 {
	off := ref.Offset
	checkBounds(off, 8, stack)
	return binary.LittleEndian.Uint64(stack[off : off+8])
}

func putU32(ref node.Ref, stack []byte, v uint32) {
	off := ref.Offset
	checkBounds(off, 4, stack)
	binary.LittleEndian.PutUint32(stack[off:off+4], v)
}

func putU64(ref node.Ref, stack []byte, v uint64) {
	off := ref.Offset
	checkBounds(off, 8, stack)
	binary.LittleEndian.PutUint64(stack[off:off+8], v)
}
