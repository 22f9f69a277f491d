package driver

import (
	"fmt"
	"runtime/debug"
)

// FaultKind discriminates the fatal-error taxonomy from spec.md §7. Every
// one of these is a programming error (in the provider, in the caller's
// stack sizing, or in the JIT's own buffer sizing); none is recoverable
// by the driver.
type FaultKind int

const (
	// FaultMalformedKind: a node's Kind() is internally inconsistent
	// (e.g. its successors are not stable across repeated calls).
	FaultMalformedKind FaultKind = iota
	// FaultOutOfBounds: an engine tried to read or write outside the
	// current frame's window of the data stack.
	FaultOutOfBounds
	// FaultUnsupportedWidth: a Command/Condition named a width other
	// than 4 or 8.
	FaultUnsupportedWidth
	// FaultCodeBufferExhausted: the JIT ran out of room in its
	// executable-memory buffer.
	FaultCodeBufferExhausted
	// FaultBranchOutOfRange: the JIT needed to patch a branch whose
	// target lies outside AArch64's encodable range.
	FaultBranchOutOfRange
	// FaultStackExhausted: the depth of call frames exceeded the
	// caller-supplied budget (Options.MaxFrames).
	FaultStackExhausted
)

func (k FaultKind) String() string {
	switch k {
	case FaultMalformedKind:
		return "malformed kind"
	case FaultOutOfBounds:
		return "out-of-bounds stack access"
	case FaultUnsupportedWidth:
		return "unsupported command width"
	case FaultCodeBufferExhausted:
		return "code buffer exhausted"
	case FaultBranchOutOfRange:
		return "branch target out of range"
	case FaultStackExhausted:
		return "call stack exhausted"
	default:
		return "unknown fault"
	}
}

// Fault is the payload every fatal condition in this module panics with.
// Driver.Eval recovers exactly one Fault panic at its boundary and
// returns it as an error, mirroring yaegi's Panic/GetOldestPanicForErr
// idiom of catching a typed value rather than letting an opaque panic
// escape.
type Fault struct {
	Kind FaultKind
	// NodeID of the node being executed/generated when the fault was
	// raised, if applicable.
	NodeID NodeID
	HasID  bool
	// Offset is the code-buffer or stack offset implicated, if any.
	Offset int
	// Detail is a short, kind-specific description (the offending
	// command, the requested width, ...).
	Detail string
	// Stack is captured at the point the Fault was constructed, for
	// diagnosis — the same role runtime/debug.Stack plays in yaegi's
	// panic recovery path.
	Stack []byte
}

func newFault(kind FaultKind, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail, Stack: debug.Stack()}
}

func (f *Fault) withNode(id NodeID) *Fault {
	f.NodeID = id
	f.HasID = true
	return f
}

func (f *Fault) withOffset(offset int) *Fault {
	f.Offset = offset
	return f
}

func (f *Fault) Error() string {
	msg := f.Kind.String()
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.HasID {
		msg += fmt.Sprintf(" (node %d)", f.NodeID)
	}
	if f.Offset != 0 {
		msg += fmt.Sprintf(" (offset %d)", f.Offset)
	}
	return msg
}

// Raise panics with a Fault. Engines call this instead of returning an
// error from run/register, since spec.md §7 treats every one of these
// as a programming error the driver does not attempt to recover from
// mid-evaluation — only Driver.Eval's single recover() boundary turns it
// back into a normal Go error.
func Raise(kind FaultKind, detail string) {
	panic(newFault(kind, detail))
}

// RaiseAt is Raise with node-id context attached.
func RaiseAt(kind FaultKind, id NodeID, detail string) {
	panic(newFault(kind, detail).withNode(id))
}
