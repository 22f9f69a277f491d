//go:build linux && arm64

package codegen

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ttim/leshy/driver"
)

// execBuffer is the real linux/arm64 runner: a single mmap'd region
// that toggles between writable (RW) and executable (RX) — never both,
// a genuine W^X discipline — with an instruction-cache flush every time
// it flips back to executable, per spec.md §4.8 ("Executable memory
// must be made writable for the patch, then re-executable;
// instruction-cache flushes are required between").
type execBuffer struct {
	mem      []byte
	n        int
	writable bool
}

func newRunner(capacity int) runner {
	mem, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		// mmap failing is an environment/resource problem, not one of
		// the programming errors driver.Fault models; there is nothing
		// a caller could sensibly recover from, so this is a plain panic.
		panic("codegen: mmap executable buffer: " + err.Error())
	}
	return &execBuffer{mem: mem, writable: true}
}

func (b *execBuffer) ensureWritable() {
	if b.writable {
		return
	}
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		panic("codegen: mprotect RW: " + err.Error())
	}
	b.writable = true
}

func (b *execBuffer) ensureExecutable() {
	if !b.writable {
		return
	}
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		panic("codegen: mprotect RX: " + err.Error())
	}
	if b.n > 0 {
		start := uintptr(unsafe.Pointer(&b.mem[0]))
		flushICacheRange(start, start+uintptr(b.n))
	}
	b.writable = false
}

func (b *execBuffer) len() int { return b.n }

func (b *execBuffer) write(p []byte) int {
	if b.n+len(p) > len(b.mem) {
		driver.Raise(driver.FaultCodeBufferExhausted, "jit code buffer exhausted")
	}
	b.ensureWritable()
	off := b.n
	copy(b.mem[off:], p)
	b.n += len(p)
	return off
}

func (b *execBuffer) truncate(n int) {
	b.ensureWritable()
	b.n = n
}

func (b *execBuffer) patchAt(off int, p []byte) {
	b.ensureWritable()
	copy(b.mem[off:off+len(p)], p)
}

func (b *execBuffer) bytes() []byte { return b.mem[:b.n] }

// sync restores the buffer to its executable state; Engine.Register
// defers a call to this so a batch of writes/patches always leaves the
// buffer executable again before control returns to the driver, even
// if a Fault panics mid-emission.
func (b *execBuffer) sync() { b.ensureExecutable() }

func (b *execBuffer) call(entry int, framePtr, frameEnd, tracePtr uintptr) uintptr {
	b.ensureExecutable()
	base := uintptr(unsafe.Pointer(&b.mem[0]))
	return callJIT(base+uintptr(entry), framePtr, frameEnd, tracePtr)
}

// callJIT and flushICacheRange are implemented in call_arm64.s: Go
// cannot call through a bare function pointer without cgo, so entering
// generated machine code needs a small hand-written assembly
// trampoline that loads the calling-convention registers and branches
// to it (mirroring the jitcall-style stub every cgo-free Go JIT needs —
// wazero's compiler engine has the identical requirement).
func callJIT(entry, x0, x1, x2 uintptr) uintptr

func flushICacheRange(start, end uintptr)

var _ runner = (*execBuffer)(nil)
