//go:build !(linux && arm64)

package codegen

import "github.com/ttim/leshy/driver"

// softRunner backs Engine on every platform except linux/arm64: code
// generation, patching and all the ReturnInfo bookkeeping work exactly
// as they do on the real target (so the tests in patch_test.go run
// everywhere), but call has nothing to jump
// into — there is no AArch64 CPU to run the generated bytes on.
type softRunner struct {
	*softBuffer
}

func newRunner(capacity int) runner { return softRunner{newSoftBuffer(capacity)} }

func (softRunner) call(entry int, framePtr, frameEnd, tracePtr uintptr) uintptr {
	driver.Raise(driver.FaultMalformedKind, "codegen: AArch64 JIT has no executor on this platform (linux/arm64 only)")
	panic("unreachable")
}

func (softRunner) sync() {}

var _ runner = softRunner{}
