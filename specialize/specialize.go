// Package specialize is the Specialized Interpreter Engine (spec.md
// §4.7): it packs the common node shapes — small stack offsets, near
// neighbours, 4-byte operations — into an 8-byte CompactKind, and falls
// back to a full NodeKind[driver.NodeID] (stored in a side table) for
// anything that doesn't fit. It must be observationally identical to
// package interp on every input (spec.md property 1); the only
// difference is speed.
package specialize

import (
	"encoding/binary"
	"fmt"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/node"
	"github.com/ttim/leshy/ops"
)

// CompactKind is a tagged 8-byte value: byte 0 is the tag, bytes 1..8
// are a tag-specific payload packed with binary.LittleEndian. This is
// the Go rendering of the original source's 8-byte tagged enum — a flat
// byte array rather than a Go struct, since a struct-of-fields cannot be
// engineered to 8 bytes once it has to carry a 4-byte immediate value
// *and* a 2-byte successor delta in the same variant (Set4). The zero
// value is tagNotComputed, so a freshly grown computed slice needs no
// explicit initialization.
type CompactKind [8]byte

const (
	tagNotComputed byte = iota
	tagFinal
	tagSet4
	tagSet4N
	tagCopy4
	tagCopy4N
	tagAdd4
	tagAdd4N
	tagSub4
	tagSub4N
	tagNe4
	tagNe04
	tagCall
	tagFull
)

func (k CompactKind) tag() byte { return k[0] }

// --- packing helpers -------------------------------------------------

func packSet4N(dst uint8, value uint32) CompactKind {
	var k CompactKind
	k[0] = tagSet4N
	k[1] = dst
	binary.LittleEndian.PutUint32(k[2:6], value)
	return k
}

func (k CompactKind) unpackSet4N() (dst uint8, value uint32) {
	return k[1], binary.LittleEndian.Uint32(k[2:6])
}

func packSet4(dst uint8, value uint32, next int16) CompactKind {
	var k CompactKind
	k[0] = tagSet4
	k[1] = dst
	binary.LittleEndian.PutUint32(k[2:6], value)
	binary.LittleEndian.PutUint16(k[6:8], uint16(next))
	return k
}

func (k CompactKind) unpackSet4() (dst uint8, value uint32, next int16) {
	return k[1], binary.LittleEndian.Uint32(k[2:6]), int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packCopy4N(dst, op uint8) CompactKind {
	var k CompactKind
	k[0] = tagCopy4N
	k[1], k[2] = dst, op
	return k
}

func (k CompactKind) unpackCopy4N() (dst, op uint8) { return k[1], k[2] }

func packCopy4(dst, op uint8, next int16) CompactKind {
	var k CompactKind
	k[0] = tagCopy4
	k[1], k[2] = dst, op
	binary.LittleEndian.PutUint16(k[6:8], uint16(next))
	return k
}

func (k CompactKind) unpackCopy4() (dst, op uint8, next int16) {
	return k[1], k[2], int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packArith4N(tag byte, dst, op1, op2 uint8) CompactKind {
	var k CompactKind
	k[0] = tag
	k[1], k[2], k[3] = dst, op1, op2
	return k
}

func (k CompactKind) unpackArith4N() (dst, op1, op2 uint8) { return k[1], k[2], k[3] }

func packArith4(tag byte, dst, op1, op2 uint8, next int16) CompactKind {
	var k CompactKind
	k[0] = tag
	k[1], k[2], k[3] = dst, op1, op2
	binary.LittleEndian.PutUint16(k[6:8], uint16(next))
	return k
}

func (k CompactKind) unpackArith4() (dst, op1, op2 uint8, next int16) {
	return k[1], k[2], k[3], int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packNe4(op1, op2 uint8, ifTrue, ifFalse int16) CompactKind {
	var k CompactKind
	k[0] = tagNe4
	k[1], k[2] = op1, op2
	binary.LittleEndian.PutUint16(k[4:6], uint16(ifTrue))
	binary.LittleEndian.PutUint16(k[6:8], uint16(ifFalse))
	return k
}

func (k CompactKind) unpackNe4() (op1, op2 uint8, ifTrue, ifFalse int16) {
	return k[1], k[2], int16(binary.LittleEndian.Uint16(k[4:6])), int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packNe04(op uint8, ifTrue, ifFalse int16) CompactKind {
	var k CompactKind
	k[0] = tagNe04
	k[1] = op
	binary.LittleEndian.PutUint16(k[4:6], uint16(ifTrue))
	binary.LittleEndian.PutUint16(k[6:8], uint16(ifFalse))
	return k
}

func (k CompactKind) unpackNe04() (op uint8, ifTrue, ifFalse int16) {
	return k[1], int16(binary.LittleEndian.Uint16(k[4:6])), int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packCall(offset uint8, call, next int16) CompactKind {
	var k CompactKind
	k[0] = tagCall
	k[1] = offset
	binary.LittleEndian.PutUint16(k[4:6], uint16(call))
	binary.LittleEndian.PutUint16(k[6:8], uint16(next))
	return k
}

func (k CompactKind) unpackCall() (offset uint8, call, next int16) {
	return k[1], int16(binary.LittleEndian.Uint16(k[4:6])), int16(binary.LittleEndian.Uint16(k[6:8]))
}

func packFull(index uint32) CompactKind {
	var k CompactKind
	k[0] = tagFull
	binary.LittleEndian.PutUint32(k[1:5], index)
	return k
}

func (k CompactKind) unpackFull() uint32 { return binary.LittleEndian.Uint32(k[1:5]) }

// --- small-value conventions ------------------------------------------

// smallDelta reports whether id fits as a signed 16-bit delta from ctx
// (the id currently being registered), per spec.md §4.7's ±2^15 rule.
func smallDelta(ctx, id driver.NodeID) (int16, bool) {
	delta := int64(id) - int64(ctx)
	if delta < -(1<<15) || delta >= (1<<15) {
		return 0, false
	}
	return int16(delta), true
}

func applyDelta(ctx driver.NodeID, delta int16) driver.NodeID {
	return driver.NodeID(int64(ctx) + int64(delta))
}

// smallRef reports whether ref fits the 8-bit SmallStackRef convention
// (offset <= 255).
func smallRef(ref node.Ref) (uint8, bool) {
	if ref.Offset > 255 {
		return 0, false
	}
	return uint8(ref.Offset), true
}

func fromSmallRef(r uint8) node.Ref { return node.Stack(uint32(r)) }

// Engine is the Specialized Interpreter Engine.
type Engine struct {
	computed []CompactKind
	full     []node.NodeKind[driver.NodeID]
}

// New returns an Engine with no nodes registered yet.
func New() *Engine { return &Engine{} }

// Register records kind for id, compacting it per spec.md §4.7's rules
// (falling back to the full table when the shape doesn't fit). Idempotent.
func (e *Engine) Register(id driver.NodeID, kind node.NodeKind[driver.NodeID]) {
	for len(e.computed) <= int(id) {
		e.computed = append(e.computed, CompactKind{})
	}
	e.computed[id] = e.compact(id, kind)
}

func (e *Engine) get(id driver.NodeID) CompactKind {
	if int(id) >= len(e.computed) {
		return CompactKind{}
	}
	return e.computed[id]
}

// Run executes as far as possible. Unlike the baseline interpreter, a
// single Run call may descend through several nested Call levels
// in-process (via Go recursion in runInternal) without going back
// through the driver's frame stack for each level — that's the whole
// point of compacting hot shapes. Only when it truly cannot proceed
// (an unregistered id, possibly several Call levels deep) does it
// translate the accumulated recursion back into driver.Frame entries.
// When a frame runs to Final, Run goes on with the next frame on the
// stack, and returns false once the stack is empty.
func (e *Engine) Run(state *driver.RunState, stack []byte) bool {
	frame := state.Pop()
	trace, suspended := e.runInternal(frame.ID, stack[frame.Offset:])
	if !suspended {
		if state.Empty() {
			return false
		}
		return e.Run(state, stack)
	}
	// trace is ordered innermost-unresolved-first, outermost-continuation
	// last; pushing it back to front leaves the innermost unresolved id
	// on top, which is what the driver needs to resolve next.
	for i := len(trace) - 1; i >= 0; i-- {
		f := trace[i]
		f.Offset += frame.Offset
		state.Push(f)
	}
	return true
}

func (e *Engine) runInternal(id driver.NodeID, stack []byte) ([]driver.Frame, bool) {
	current := id
	for {
		kind := e.get(current)
		switch kind.tag() {
		case tagNotComputed:
			return []driver.Frame{{ID: current, Offset: 0}}, true
		case tagFinal:
			return nil, false
		case tagSet4:
			dst, value, next := kind.unpackSet4()
			ops.PutU32(fromSmallRef(dst), stack, value)
			current = applyDelta(current, next)
		case tagSet4N:
			dst, value := kind.unpackSet4N()
			ops.PutU32(fromSmallRef(dst), stack, value)
			current = applyDelta(current, 1)
		case tagCopy4:
			dst, op, next := kind.unpackCopy4()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op), stack))
			current = applyDelta(current, next)
		case tagCopy4N:
			dst, op := kind.unpackCopy4N()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op), stack))
			current = applyDelta(current, 1)
		case tagAdd4:
			dst, op1, op2, next := kind.unpackArith4()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op1), stack)+ops.GetU32(fromSmallRef(op2), stack))
			current = applyDelta(current, next)
		case tagAdd4N:
			dst, op1, op2 := kind.unpackArith4N()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op1), stack)+ops.GetU32(fromSmallRef(op2), stack))
			current = applyDelta(current, 1)
		case tagSub4:
			dst, op1, op2, next := kind.unpackArith4()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op1), stack)-ops.GetU32(fromSmallRef(op2), stack))
			current = applyDelta(current, next)
		case tagSub4N:
			dst, op1, op2 := kind.unpackArith4N()
			ops.PutU32(fromSmallRef(dst), stack, ops.GetU32(fromSmallRef(op1), stack)-ops.GetU32(fromSmallRef(op2), stack))
			current = applyDelta(current, 1)
		case tagNe4:
			op1, op2, ifTrue, ifFalse := kind.unpackNe4()
			if ops.GetU32(fromSmallRef(op1), stack) != ops.GetU32(fromSmallRef(op2), stack) {
				current = applyDelta(current, ifTrue)
			} else {
				current = applyDelta(current, ifFalse)
			}
		case tagNe04:
			op, ifTrue, ifFalse := kind.unpackNe04()
			if ops.GetU32(fromSmallRef(op), stack) != 0 {
				current = applyDelta(current, ifTrue)
			} else {
				current = applyDelta(current, ifFalse)
			}
		case tagCall:
			offsetRef, call, next := kind.unpackCall()
			offset := int(offsetRef)
			calleeID := applyDelta(current, call)
			nextID := applyDelta(current, next)
			sub, suspended := e.runInternal(calleeID, stack[offset:])
			if !suspended {
				current = nextID
				continue
			}
			return subcallSuspendedTrace(sub, nextID, offset), true
		case tagFull:
			idx := kind.unpackFull()
			full := e.full[idx]
			switch full.Tag {
			case node.KindCommand:
				ops.EvalCommand(full.Command, stack)
				current = full.Next
			case node.KindBranch:
				if ops.EvalCondition(full.Condition, stack) {
					current = full.IfTrue
				} else {
					current = full.IfFalse
				}
			case node.KindCall:
				offset := int(full.CallOffset)
				sub, suspended := e.runInternal(full.Call, stack[offset:])
				if !suspended {
					current = full.Next
					continue
				}
				return subcallSuspendedTrace(sub, full.Next, offset), true
			default:
				panic(fmt.Sprintf("specialize: full kind can only be command/branch/call, got tag %d", full.Tag))
			}
		default:
			panic(fmt.Sprintf("specialize: malformed compact tag %d", kind.tag()))
		}
	}
}

// subcallSuspendedTrace folds a nested call's suspend trace into the
// enclosing level's frame: every existing entry is re-based by offset
// (the Call's own subframe offset), and the enclosing level's own
// continuation (next) is appended as the new outermost entry.
func subcallSuspendedTrace(trace []driver.Frame, next driver.NodeID, offset int) []driver.Frame {
	for i := range trace {
		trace[i].Offset += offset
	}
	return append(trace, driver.Frame{ID: next, Offset: 0})
}

// --- compaction (register-time) ---------------------------------------

func (e *Engine) compact(ctx driver.NodeID, kind node.NodeKind[driver.NodeID]) CompactKind {
	switch kind.Tag {
	case node.KindCommand:
		if next, ok := smallDelta(ctx, kind.Next); ok {
			if ck, ok := e.compactCommand(kind.Command, next, ctx); ok {
				return ck
			}
		}
	case node.KindBranch:
		if ifTrue, ok := smallDelta(ctx, kind.IfTrue); ok {
			if ifFalse, ok := smallDelta(ctx, kind.IfFalse); ok {
				if ck, ok := e.compactCondition(kind.Condition, ifTrue, ifFalse); ok {
					return ck
				}
			}
		}
	case node.KindCall:
		if call, ok := smallDelta(ctx, kind.Call); ok {
			if next, ok := smallDelta(ctx, kind.Next); ok {
				if kind.CallOffset <= 255 {
					return packCall(uint8(kind.CallOffset), call, next)
				}
			}
		}
	case node.KindFinal:
		var k CompactKind
		k[0] = tagFinal
		return k
	}
	return e.fullKind(kind)
}

func (e *Engine) compactCommand(cmd node.Command, next int16, ctx driver.NodeID) (CompactKind, bool) {
	switch cmd.Tag {
	case node.CmdSet:
		if dst, ok := smallRef(cmd.Dst); ok && len(cmd.Bytes) == 4 {
			value := binary.LittleEndian.Uint32(cmd.Bytes)
			if next == 1 {
				return packSet4N(dst, value), true
			}
			return packSet4(dst, value, next), true
		}
	case node.CmdCopy:
		if cmd.Size == node.Width4 {
			if dst, ok1 := smallRef(cmd.Dst); ok1 {
				if op, ok2 := smallRef(cmd.Op); ok2 {
					if next == 1 {
						return packCopy4N(dst, op), true
					}
					return packCopy4(dst, op, next), true
				}
			}
		}
	case node.CmdAdd:
		if cmd.Size == node.Width4 {
			if dst, ok1 := smallRef(cmd.Dst); ok1 {
				if op1, ok2 := smallRef(cmd.Op1); ok2 {
					if op2, ok3 := smallRef(cmd.Op2); ok3 {
						if next == 1 {
							return packArith4N(tagAdd4N, dst, op1, op2), true
						}
						return packArith4(tagAdd4, dst, op1, op2, next), true
					}
				}
			}
		}
	case node.CmdSub:
		if cmd.Size == node.Width4 {
			if dst, ok1 := smallRef(cmd.Dst); ok1 {
				if op1, ok2 := smallRef(cmd.Op1); ok2 {
					if op2, ok3 := smallRef(cmd.Op2); ok3 {
						if next == 1 {
							return packArith4N(tagSub4N, dst, op1, op2), true
						}
						return packArith4(tagSub4, dst, op1, op2, next), true
					}
				}
			}
		}
	}
	return e.fullKind(node.Command_(cmd, applyDelta(ctx, next))), true
}

func (e *Engine) compactCondition(cond node.Condition, ifTrue, ifFalse int16) (CompactKind, bool) {
	switch cond.Tag {
	case node.CondNe:
		if cond.Size == node.Width4 {
			if op1, ok1 := smallRef(cond.Op1); ok1 {
				if op2, ok2 := smallRef(cond.Op2); ok2 {
					return packNe4(op1, op2, ifTrue, ifFalse), true
				}
			}
		}
	case node.CondNe0:
		if cond.Size == node.Width4 {
			if op, ok := smallRef(cond.Op); ok {
				return packNe04(op, ifTrue, ifFalse), true
			}
		}
	}
	return CompactKind{}, false
}

func (e *Engine) fullKind(kind node.NodeKind[driver.NodeID]) CompactKind {
	e.full = append(e.full, kind)
	return packFull(uint32(len(e.full) - 1))
}

var _ driver.Engine = (*Engine)(nil)
