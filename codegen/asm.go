// Package codegen is the Code Generator Engine (spec.md §4.8): it emits
// native AArch64 instructions for each registered node directly into an
// executable buffer, linking nodes by branches, and patches prior
// "suspend and return to the driver" stubs into direct branches once
// their target becomes known.
//
// This file holds the instruction encoder: free functions that each
// return the four bytes of one A64 instruction (or a short, fixed
// sequence of them). None of it touches memory protection or the
// buffer abstraction — it is pure bit-packing, grounded directly on the
// ARM Architecture Reference Manual's encoding tables, so it compiles
// and is unit-testable on any host regardless of GOARCH. Only actually
// running the bytes it produces requires linux/arm64 (see
// mem_linux_arm64.go, buffer_other.go).
package codegen

import "encoding/binary"

// reg names the general-purpose registers this engine's generated code
// touches. x0/x1/x2 carry the calling convention spec.md §4.8 fixes
// (frame base, frame end, suspend-trace cursor); lr is the link
// register; the rest are scratch, never live across a node boundary.
type reg uint32

const (
	x0  reg = 0
	x1  reg = 1
	x2  reg = 2
	x9  reg = 9  // scratch: address computation
	x10 reg = 10 // scratch: loaded/computed values
	x11 reg = 11 // scratch: second operand
	lr  reg = 30
)

func le32(word uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, word)
	return b
}

// movz loads an unsigned 16-bit immediate into rd, zeroing the rest of
// the register (MOVZ, shift 0); is64 selects the X-register form. A
// Set's payload is materialized one byte at a time through this.
func movz(rd reg, imm16 uint16, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	return le32(sf<<31 | 0b10100101<<23 | uint32(imm16)<<5 | uint32(rd))
}

// movk merges a 16-bit immediate into bits [16:32) of rd without
// touching the rest (MOVK, hw=1).
func movk(rd reg, imm16 uint16, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	return le32(sf<<31 | 0b11100101<<23 | 0b01<<21 | uint32(imm16)<<5 | uint32(rd))
}

// loadImm32 materializes a full 32-bit unsigned value into rd via
// MOVZ+MOVK (the MOVK is skipped when the upper half is zero). It is
// used for the frame offsets and node ids written into suspend-trace
// records, all of which are 32-bit values.
func loadImm32(rd reg, value uint32) []byte {
	out := movz(rd, uint16(value), true)
	if hi := uint16(value >> 16); hi != 0 {
		out = append(out, movk(rd, hi, true)...)
	}
	return out
}

// addImm encodes ADD (immediate), rd = rn + imm12 (imm12 unsigned, <=
// 4095). is64 selects the X-register form.
func addImm(rd, rn reg, imm12 uint32, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	return le32(sf<<31 | 0b0010001<<24 | (imm12&0xfff)<<10 | uint32(rn)<<5 | uint32(rd))
}

// addImmAny emits ADD rd, rn, #imm, splitting into a 12-bit-immediate
// instruction (optionally LSL #12) when imm exceeds 4095. Only imm below
// 2^24 is encoded exactly; bits above that are dropped. Stack offsets in this module are uint32s, so
// this is the general entry point codegen reaches for instead of
// addImm directly whenever the immediate isn't known to already fit.
func addImmAny(rd, rn reg, imm uint32) []byte {
	if imm <= 0xfff {
		return addImm(rd, rn, imm, true)
	}
	// ADD rd, rn, #(imm>>12), lsl #12 ; ADD rd, rd, #(imm&0xfff)
	hi := imm >> 12
	lo := imm & 0xfff
	out := le32(1<<31 | 0b0010001<<24 | 1<<22 | (hi&0xfff)<<10 | uint32(rn)<<5 | uint32(rd))
	if lo != 0 {
		out = append(out, addImm(rd, rd, lo, true)...)
	}
	return out
}

// ldrImm / strImm encode the unsigned-offset form of LDR/STR for a
// 32-bit (W) or 64-bit (X) register, base rn, byte offset imm (must be
// a multiple of the access size — always true here since every load or
// store is pre-computed into a scratch address register at offset 0).
func ldrImm(rt, rn reg, imm uint32, is64 bool) []byte {
	size := uint32(0b10)
	if is64 {
		size = 0b11
	}
	scale := uint32(4)
	if is64 {
		scale = 8
	}
	return le32(size<<30 | 0b111001<<24 | 0b01<<22 | (imm/scale&0xfff)<<10 | uint32(rn)<<5 | uint32(rt))
}

func strImm(rt, rn reg, imm uint32, is64 bool) []byte {
	size := uint32(0b10)
	if is64 {
		size = 0b11
	}
	scale := uint32(4)
	if is64 {
		scale = 8
	}
	return le32(size<<30 | 0b111001<<24 | 0b00<<22 | (imm/scale&0xfff)<<10 | uint32(rn)<<5 | uint32(rt))
}

// ldrOff0 / strOff0 load/store through rn with offset 0, the only form this
// engine ever needs once an address has been materialized into a
// scratch register by addImmAny.
func ldrOff0(rt, rn reg, is64 bool) []byte { return ldrImm(rt, rn, 0, is64) }
func strOff0(rt, rn reg, is64 bool) []byte { return strImm(rt, rn, 0, is64) }

// strbImm encodes STRB (immediate, unsigned byte offset) — used to
// write a Command::Set's raw bytes one at a time, since a Set's payload
// has no guaranteed alignment or fixed width the way Copy/Add/Sub do.
func strbImm(rt, rn reg, imm uint32) []byte {
	return le32(0b111001<<24 | (imm&0xfff)<<10 | uint32(rn)<<5 | uint32(rt))
}

// addReg / subReg encode ADD/SUB (shifted register), rd = rn op rm.
func addReg(rd, rn, rm reg, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	return le32(sf<<31 | 0b01011<<24 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func subReg(rd, rn, rm reg, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	return le32(sf<<31 | 0b1<<30 | 0b01011<<24 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

// cmpReg encodes CMP (shifted register), an alias for SUBS rzr, rn, rm.
func cmpReg(rn, rm reg, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	const zr = 31
	return le32(sf<<31 | 0b1<<30 | 0b1<<29 | 0b01011<<24 | uint32(rm)<<16 | uint32(rn)<<5 | zr)
}

// movReg copies rn into rd (ORR rd, xzr, rn).
func movReg(rd, rn reg, is64 bool) []byte {
	sf := uint32(0)
	if is64 {
		sf = 1
	}
	const zr = 31
	return le32(sf<<31 | 0b0101010<<24 | uint32(rn)<<16 | zr<<5 | uint32(rd))
}

// condNE / condEQ are the AArch64 condition codes this engine branches
// on: "not equal" (Branch nodes, and detecting that a called callee
// suspended) and "equal" (detecting that a called callee reached
// Final).
const condNE = 0b0001
const condEQ = 0b0000

// bCondPlaceholder emits a conditional branch whose 19-bit offset field
// is 0; callers patch it in place once the real displacement is known
// (every conditional branch this engine emits targets a location fixed
// up immediately after emission, never a forward-unknown one).
func bCondPlaceholder(cond uint32) []byte {
	return le32(0b01010100<<24 | cond)
}

// patchBCond overwrites the 19-bit immediate of a b.cond instruction
// previously emitted at word, retargeting it to a new word-granular
// displacement (in instructions, not bytes).
func patchBCond(word []byte, deltaInstructions int32) {
	w := binary.LittleEndian.Uint32(word)
	w = w&^(0x7ffff<<5) | (uint32(deltaInstructions)&0x7ffff)<<5
	binary.LittleEndian.PutUint32(word, w)
}

// bImm encodes an unconditional branch (B) with a signed word
// displacement (in instructions, range ±2^25 — AArch64's documented
// ±128 MiB).
func bImm(deltaInstructions int32) []byte {
	return le32(0b000101<<26 | uint32(deltaInstructions)&0x3ffffff)
}

// blImm encodes a branch-with-link (BL), same displacement field as B.
func blImm(deltaInstructions int32) []byte {
	return le32(1<<31 | 0b00101<<26 | uint32(deltaInstructions)&0x3ffffff)
}

// ret encodes RET (implicitly via LR).
func ret() []byte { return le32(0b1101011001011111000000<<10 | uint32(lr)<<5) }

// branchFitsWord reports whether delta (in instructions) fits the
// 26-bit signed field every unconditional branch here uses; the JIT
// raises FaultBranchOutOfRange rather than ever emitting a
// mal-encoded branch (spec.md §4.8, fatal failures).
func branchFitsWord(deltaInstructions int64) bool {
	const lo, hi = -(1 << 25), (1 << 25) - 1
	return deltaInstructions >= lo && deltaInstructions <= hi
}

// branchFitsCond is the narrower 19-bit range b.cond uses.
func branchFitsCond(deltaInstructions int64) bool {
	const lo, hi = -(1 << 18), (1 << 18) - 1
	return deltaInstructions >= lo && deltaInstructions <= hi
}
