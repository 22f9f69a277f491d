package codegen

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/node"
)

// DefaultBufferSize is the capacity a plain New() gives its code
// buffer. NewSize lets a caller (chiefly tests exercising
// FaultCodeBufferExhausted) pick a smaller one.
const DefaultBufferSize = 64 * 1024

// traceBufferSize bounds how many (offset, id) suspend-trace records a
// single Run call can accumulate across nested Call levels before
// returning to the driver; spec.md §4.8's x1 (frame-end pointer) is
// reserved for a future overflow check on the *data* stack, this is the
// analogous budget for the *trace* scratch buffer codegen itself owns.
const traceBufferSize = 4096 * traceEntrySize
const traceEntrySize = 8

// ReturnInfo records where a ret-suspend stub for target_id was
// emitted, so that a later Register(target_id, ...) can rewrite the
// stub's first instruction into a direct branch (spec.md §4.8,
// "Patching").
type ReturnInfo struct {
	TargetID   driver.NodeID
	FromOffset int
	ToOffset   int
}

// runner is a codeBuffer that can additionally be entered as native
// code. Only the linux/arm64 build provides a runner that can actually
// execute (mem_linux_arm64.go); elsewhere (buffer_other.go) call raises
// a Fault, since the JIT has nothing to run on.
type runner interface {
	codeBuffer
	// call enters the generated code at byte offset entry with the
	// AArch64 calling convention from spec.md §4.8 (x0/x1/x2) and
	// returns the callee's x0.
	call(entry int, framePtr, frameEnd, tracePtr uintptr) uintptr
	// sync restores the buffer to its executable state after a batch of
	// writes/patches, even if called during a panic unwind — spec.md
	// §9's "guaranteed restoration of execute permissions ... even on
	// error paths". A no-op wherever there is no real W^X toggle.
	sync()
}

// Engine is the Code Generator Engine (AArch64 JIT): it emits native
// code for each registered node into a runner, and patches prior
// ret-suspend stubs into direct branches as their targets become known.
type Engine struct {
	buf runner

	offsets     map[driver.NodeID]int
	returnInfos map[driver.NodeID][]*ReturnInfo
	lastStub    *ReturnInfo // most recently emitted stub, for the tail-rewind optimization
}

// New returns an Engine with a DefaultBufferSize code buffer.
func New() *Engine { return NewSize(DefaultBufferSize) }

// NewSize returns an Engine whose code buffer holds at most capacity
// bytes of generated instructions.
func NewSize(capacity int) *Engine {
	return &Engine{
		buf:         newRunner(capacity),
		offsets:     make(map[driver.NodeID]int),
		returnInfos: make(map[driver.NodeID][]*ReturnInfo),
	}
}

// Register emits native code for kind at id, patching any prior
// ret-suspend stubs that targeted id into direct branches. Idempotent.
func (e *Engine) Register(id driver.NodeID, kind node.NodeKind[driver.NodeID]) {
	if _, ok := e.offsets[id]; ok {
		return
	}
	defer e.buf.sync()
	e.maybeRewindTail(id)
	e.lastStub = nil

	entry := e.buf.len()
	switch kind.Tag {
	case node.KindCommand:
		e.emitCommand(kind.Command)
		e.emitSuccessorRef(kind.Next, 0)
	case node.KindBranch:
		e.emitBranch(kind)
	case node.KindCall:
		e.emitCall(kind.CallOffset, kind.Call, kind.Next)
	case node.KindFinal:
		e.emitFinal()
	default:
		driver.RaiseAt(driver.FaultMalformedKind, id, fmt.Sprintf("codegen: bad kind tag %d", kind.Tag))
	}

	e.offsets[id] = entry
	e.patchPriorReturns(id, entry)
}

// maybeRewindTail implements spec.md §4.8 step 1: if the very last
// thing written was an as-yet-unresolved ret-suspend stub targeting the
// id about to be registered, drop it and reuse its space, since the new
// node's own code will now start exactly where control would otherwise
// have branched to it.
func (e *Engine) maybeRewindTail(id driver.NodeID) {
	if e.lastStub == nil || e.lastStub.TargetID != id || e.lastStub.ToOffset != e.buf.len() {
		return
	}
	stub := e.lastStub
	e.buf.truncate(stub.FromOffset)
	infos := e.returnInfos[id]
	for i, ri := range infos {
		if ri == stub {
			e.returnInfos[id] = append(infos[:i], infos[i+1:]...)
			break
		}
	}
	e.lastStub = nil
}

// patchPriorReturns rewrites every previously emitted ret-suspend stub
// targeting id into a direct branch to entry.
func (e *Engine) patchPriorReturns(id driver.NodeID, entry int) {
	infos := e.returnInfos[id]
	if len(infos) == 0 {
		return
	}
	for _, ri := range infos {
		delta := int64(entry-ri.FromOffset) / 4
		if !branchFitsWord(delta) {
			driver.RaiseAt(driver.FaultBranchOutOfRange, id, fmt.Sprintf("patch distance %d instructions", delta))
		}
		e.buf.patchAt(ri.FromOffset, bImm(int32(delta)))
	}
	delete(e.returnInfos, id)
}

// emitStub writes a ret-suspend stub for target (spec.md §4.8: write
// (frameOffset, target) to *x2, x0 = x2+8, ret) and tracks it as a
// ReturnInfo so a later Register(target, ...) can patch it.
func (e *Engine) emitStub(target driver.NodeID, frameOffset uint32) int {
	off := e.buf.len()
	e.buf.write(loadImm32(x9, frameOffset))
	e.buf.write(strImm(x9, x2, 0, false))
	e.buf.write(loadImm32(x10, uint32(target)))
	e.buf.write(strImm(x10, x2, 4, false))
	e.buf.write(addImm(x0, x2, 8, true))
	e.buf.write(ret())

	ri := &ReturnInfo{TargetID: target, FromOffset: off, ToOffset: e.buf.len()}
	e.returnInfos[target] = append(e.returnInfos[target], ri)
	e.lastStub = ri
	return off
}

// emitSuccessorRef emits a reference to target: a direct branch if
// target's entry is already known, otherwise a ret-suspend stub that
// will be patched into one once it is.
func (e *Engine) emitSuccessorRef(target driver.NodeID, frameOffset uint32) {
	if entry, ok := e.offsets[target]; ok {
		site := e.buf.len()
		e.buf.write(bImm(0))
		delta := int64(entry-site) / 4
		if !branchFitsWord(delta) {
			driver.RaiseAt(driver.FaultBranchOutOfRange, target, fmt.Sprintf("branch distance %d instructions", delta))
		}
		e.buf.patchAt(site, bImm(int32(delta)))
		return
	}
	e.emitStub(target, frameOffset)
}

func widthIs64(size node.Width) bool {
	switch size {
	case node.Width4:
		return false
	case node.Width8:
		return true
	default:
		driver.Raise(driver.FaultUnsupportedWidth, fmt.Sprintf("width %d", size))
		panic("unreachable")
	}
}

// emitCommand emits the stack transform for cmd. Noop/PoisonFrom are
// folded away before an engine ever sees them (driver.finalKind), but
// are handled here too — as no emitted bytes — for the same defensive
// reason ops.EvalCommand handles them explicitly.
func (e *Engine) emitCommand(cmd node.Command) {
	switch cmd.Tag {
	case node.CmdNoop, node.CmdPoisonFrom:
	case node.CmdSet:
		e.buf.write(addImmAny(x9, x0, cmd.Dst.Offset))
		for i, b := range cmd.Bytes {
			e.buf.write(movz(x10, uint16(b), false))
			e.buf.write(strbImm(x10, x9, uint32(i)))
		}
	case node.CmdCopy:
		is64 := widthIs64(cmd.Size)
		e.buf.write(addImmAny(x9, x0, cmd.Op.Offset))
		e.buf.write(ldrOff0(x10, x9, is64))
		e.buf.write(addImmAny(x9, x0, cmd.Dst.Offset))
		e.buf.write(strOff0(x10, x9, is64))
	case node.CmdAdd, node.CmdSub:
		is64 := widthIs64(cmd.Size)
		e.buf.write(addImmAny(x9, x0, cmd.Op1.Offset))
		e.buf.write(ldrOff0(x10, x9, is64))
		e.buf.write(addImmAny(x9, x0, cmd.Op2.Offset))
		e.buf.write(ldrOff0(x11, x9, is64))
		if cmd.Tag == node.CmdAdd {
			e.buf.write(addReg(x10, x10, x11, is64))
		} else {
			e.buf.write(subReg(x10, x10, x11, is64))
		}
		e.buf.write(addImmAny(x9, x0, cmd.Dst.Offset))
		e.buf.write(strOff0(x10, x9, is64))
	default:
		driver.Raise(driver.FaultMalformedKind, fmt.Sprintf("codegen: bad command tag %d", cmd.Tag))
	}
}

func (e *Engine) emitCondition(cond node.Condition) {
	switch cond.Tag {
	case node.CondNe:
		is64 := widthIs64(cond.Size)
		e.buf.write(addImmAny(x9, x0, cond.Op1.Offset))
		e.buf.write(ldrOff0(x10, x9, is64))
		e.buf.write(addImmAny(x9, x0, cond.Op2.Offset))
		e.buf.write(ldrOff0(x11, x9, is64))
		e.buf.write(cmpReg(x10, x11, is64))
	case node.CondNe0:
		is64 := widthIs64(cond.Size)
		e.buf.write(addImmAny(x9, x0, cond.Op.Offset))
		e.buf.write(ldrOff0(x10, x9, is64))
		e.buf.write(cmpReg(x10, reg(31), is64)) // xzr
	default:
		driver.Raise(driver.FaultMalformedKind, fmt.Sprintf("codegen: bad condition tag %d", cond.Tag))
	}
}

// patchCondAt rewrites the 19-bit displacement of a b.cond
// instruction previously written at site, leaving its condition code
// untouched.
func (e *Engine) patchCondAt(site int, deltaInstructions int64) {
	if !branchFitsCond(deltaInstructions) {
		driver.Raise(driver.FaultBranchOutOfRange, fmt.Sprintf("conditional branch distance %d instructions", deltaInstructions))
	}
	word := append([]byte(nil), e.buf.bytes()[site:site+4]...)
	patchBCond(word, int32(deltaInstructions))
	e.buf.patchAt(site, word)
}

// emitBranch lays out: [comparison] [b.cond -> if_true stub] [if_false
// ref] [if_true ref], exactly the order spec.md §4.8 describes ("b.cond
// to the if_true ret-suspend stub that follows the immediately emitted
// if_false ret-suspend stub").
func (e *Engine) emitBranch(kind node.NodeKind[driver.NodeID]) {
	e.emitCondition(kind.Condition)
	condSite := e.buf.len()
	e.buf.write(bCondPlaceholder(condNE))
	e.emitSuccessorRef(kind.IfFalse, 0)
	ifTrueEntry := e.buf.len()
	e.emitSuccessorRef(kind.IfTrue, 0)
	e.patchCondAt(condSite, int64(ifTrueEntry-condSite)/4)
}

// emitCall lays out the Call sequence from spec.md §4.8: BL to the
// callee (direct if known, else to an inline ret-suspend stub for it),
// compare the returned trace cursor against x2, and either fall through
// to `next` (callee terminated) or append (offset, next) at the
// returned cursor and return (callee itself suspended somewhere).
func (e *Engine) emitCall(offset uint32, call, next driver.NodeID) {
	blSite := e.buf.len()
	e.buf.write(blImm(0))
	var target int
	if entry, ok := e.offsets[call]; ok {
		target = entry
	} else {
		target = e.emitStub(call, 0)
	}
	blDelta := int64(target-blSite) / 4
	if !branchFitsWord(blDelta) {
		driver.Raise(driver.FaultBranchOutOfRange, fmt.Sprintf("call distance %d instructions", blDelta))
	}
	e.buf.patchAt(blSite, blImm(int32(blDelta)))

	e.buf.write(cmpReg(x0, x2, true))
	beqSite := e.buf.len()
	e.buf.write(bCondPlaceholder(condEQ))

	// NE path: the callee suspended somewhere inside it. Append our own
	// continuation to the trace at the cursor it just returned (x0) and
	// return — this is genuinely data-dependent at runtime, never a
	// patchable stub.
	e.buf.write(movReg(x9, x0, true))
	e.buf.write(loadImm32(x10, offset))
	e.buf.write(strImm(x10, x9, 0, false))
	e.buf.write(loadImm32(x11, uint32(next)))
	e.buf.write(strImm(x11, x9, 4, false))
	e.buf.write(addImm(x0, x9, 8, true))
	e.buf.write(ret())

	eqTarget := e.buf.len()
	e.patchCondAt(beqSite, int64(eqTarget-beqSite)/4)
	e.emitSuccessorRef(next, 0)
}

func (e *Engine) emitFinal() {
	e.buf.write(movReg(x0, x2, true))
	e.buf.write(ret())
}

// Run executes as far as possible from the current top frame. Native
// code is entered with x0/x1/x2 set per spec.md §4.8; on return, x0 ==
// the trace pointer it was given iff execution reached Final (Run then
// goes on with the next frame on the stack, returning false once the
// stack is empty), otherwise the trace between the two is read back and
// turned into the frames to push (innermost, i.e. the id the driver must
// resolve next, ends up on top — spec.md §9, "Suspension as return, not
// coroutine").
func (e *Engine) Run(state *driver.RunState, stack []byte) bool {
	frame := state.Top()
	entry, ok := e.offsets[frame.ID]
	if !ok {
		return true
	}
	absOffset := state.Offset()
	state.Pop()

	trace := make([]byte, traceBufferSize)
	framePtr := uintptr(unsafe.Pointer(&stack[absOffset]))
	var endPtr uintptr
	if len(stack) > 0 {
		endPtr = uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
	}
	tracePtr := uintptr(unsafe.Pointer(&trace[0]))

	cursor := e.buf.call(entry, framePtr, endPtr, tracePtr)
	if cursor == tracePtr {
		if state.Empty() {
			return false
		}
		return e.Run(state, stack)
	}

	n := int(cursor-tracePtr) / traceEntrySize
	type rec struct {
		offset uint32
		id     driver.NodeID
	}
	entries := make([]rec, n)
	for i := 0; i < n; i++ {
		b := trace[i*traceEntrySize : (i+1)*traceEntrySize]
		entries[i] = rec{
			offset: binary.LittleEndian.Uint32(b[0:4]),
			id:     driver.NodeID(binary.LittleEndian.Uint32(b[4:8])),
		}
	}
	for i := n - 1; i >= 0; i-- {
		state.Push(driver.Frame{ID: entries[i].id, Offset: int(entries[i].offset)})
	}
	return true
}

var _ driver.Engine = (*Engine)(nil)
