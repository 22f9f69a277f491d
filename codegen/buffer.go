package codegen

import "github.com/ttim/leshy/driver"

// codeBuffer is the narrow surface the engine needs from whatever holds
// its generated instructions: append, overwrite-in-place (for
// patching), and a read-only view for diagnostics/tests. Splitting this
// out of Engine lets the patch-in-place bookkeeping (the part spec.md
// §9's "Open Question" calls out as wanting its own test coverage) run
// against a plain in-memory buffer on any host, while linux/arm64 gets
// a second implementation backed by real W^X executable memory.
//
// Every codeBuffer has a fixed capacity, set at construction: spec.md
// §4.8 treats code-buffer exhaustion as a fatal, reportable condition,
// not something to paper over by growing forever.
type codeBuffer interface {
	// len reports the number of bytes written so far.
	len() int
	// write appends b and returns the offset it was written at. Raises
	// FaultCodeBufferExhausted if b would not fit in the remaining
	// capacity.
	write(b []byte) int
	// truncate drops the buffer back to length n (n <= len()), the
	// "rewind the write pointer" half of the tail-ret-suspend
	// optimization (spec.md §4.8 step 1).
	truncate(n int)
	// patchAt overwrites len(b) bytes starting at off. off+len(b) must
	// not exceed len().
	patchAt(off int, b []byte)
	// bytes returns the buffer's current contents. Implementations that
	// back onto executable memory must make it readable without
	// requiring a writable/executable toggle.
	bytes() []byte
}

// softBuffer is a plain fixed-capacity byte buffer codeBuffer: real bit
// patterns, no memory-protection semantics. It backs the engine
// whenever real executable memory is unavailable (any non-linux/arm64
// host — see buffer_other.go) and is also what patch_test.go drives
// directly to exercise the ReturnInfo bookkeeping independent of
// architecture.
type softBuffer struct {
	mem []byte // fixed capacity, length == cap
	n   int    // logical length actually written
}

func newSoftBuffer(capacity int) *softBuffer { return &softBuffer{mem: make([]byte, capacity)} }

func (b *softBuffer) len() int { return b.n }

func (b *softBuffer) write(p []byte) int {
	if b.n+len(p) > len(b.mem) {
		driver.Raise(driver.FaultCodeBufferExhausted, "soft code buffer exhausted")
	}
	off := b.n
	copy(b.mem[off:], p)
	b.n += len(p)
	return off
}

func (b *softBuffer) truncate(n int) { b.n = n }

func (b *softBuffer) patchAt(off int, p []byte) {
	copy(b.mem[off:off+len(p)], p)
}

func (b *softBuffer) bytes() []byte { return b.mem[:b.n] }

var _ codeBuffer = (*softBuffer)(nil)
