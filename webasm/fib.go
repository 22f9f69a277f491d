// Package webasm stands in for the WebAssembly front end described
// informationally in spec.md §6: a real .wasm parser and lazy section
// hydrator is an explicit external collaborator (out of scope, spec.md
// §1), so this package hand-builds the one concrete program the core
// needs to exercise against — a recursive 32-bit fib(n) — using exactly
// the node shapes (Command/Branch/Call/Final), the explicit stack_size
// convention, and the Copy+PoisonFrom+Final return sequence that
// spec.md §6 says a real translator would emit. It must not grow into
// an actual .wasm parser.
package webasm

import (
	"encoding/binary"

	"github.com/ttim/leshy/node"
)

// program is the fixed node graph for recursive fib(n). Frame layout,
// 20 bytes of per-call header followed by a 20-byte-wide subcall
// workspace (itself a full nested frame of the same shape):
//
//	[0:4]   n on entry; the result is written back here on return
//	[4:8]   the constant 1
//	[8:12]  n-1
//	[12:16] n-2
//	[16:20] fib(n-1), saved here before the second recursive call
//	        reuses the shared subcall workspace at [20:]
//	[20:..] subcall workspace — safe to reuse for both recursive
//	        calls because they never execute concurrently: fib(n-1)
//	        fully returns (and its workspace is done with) before
//	        fib(n-2) begins.
var program = []node.NodeKind[int]{
	// 0: one = 1
	node.Command_[int](node.Set(node.Stack(4), []byte{1, 0, 0, 0}), 1),
	// 1: if n == 0, result is already n (== fib(0)); done.
	node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 2, 11),
	// 2: nm1 = n - 1
	node.Command_[int](node.Sub(node.Width4, node.Stack(8), node.Stack(0), node.Stack(4)), 3),
	// 3: if n - 1 == 0 (n == 1), result is already n (== fib(1)); done.
	node.Branch[int](node.Ne0(node.Width4, node.Stack(8)), 4, 11),
	// 4: nm2 = nm1 - 1 = n - 2
	node.Command_[int](node.Sub(node.Width4, node.Stack(12), node.Stack(8), node.Stack(4)), 5),
	// 5: workspace input = nm1
	node.Command_[int](node.Copy(node.Width4, node.Stack(20), node.Stack(8)), 6),
	// 6: call fib(nm1)
	node.Call[int](20, 0, 7),
	// 7: r1 = fib(n-1), saved before the workspace is reused
	node.Command_[int](node.Copy(node.Width4, node.Stack(16), node.Stack(20)), 8),
	// 8: workspace input = nm2
	node.Command_[int](node.Copy(node.Width4, node.Stack(20), node.Stack(12)), 9),
	// 9: call fib(nm2)
	node.Call[int](20, 0, 10),
	// 10: result = fib(n-1) + fib(n-2)
	node.Command_[int](node.Add(node.Width4, node.Stack(0), node.Stack(16), node.Stack(20)), 11),
	// 11: clear scratch above the result before returning (spec.md §6:
	// Copy result to Stack(0) — already done above — then PoisonFrom).
	node.Command_[int](node.PoisonFrom(node.Stack(4)), 12),
	// 12: done.
	node.Final[int](),
}

// FibNode is a node.Node over the package-level fib program; every
// FibNode compares equal to another with the same index, since there is
// exactly one instance of the program.
type FibNode int

func (n FibNode) Equal(other node.Node) bool {
	o, ok := other.(FibNode)
	return ok && o == n
}

func (n FibNode) Hash() uint64 { return uint64(n) }

func (n FibNode) Kind() node.NodeKind[node.Node] {
	return node.MapSuccessors(program[n], func(i int) node.Node { return FibNode(i) })
}

// BuildFib returns the entry point of the recursive fib(n) node graph
// and a data stack sized for evaluating it, pre-populated with n at
// Stack(0). The deepest live recursion is bounded by n itself (siblings
// reuse the same workspace sequentially), so n+4 frames of slack is
// always enough.
func BuildFib(n uint32) (root node.Node, stack []byte) {
	depth := int(n) + 4
	stack = make([]byte, 20*depth)
	binary.LittleEndian.PutUint32(stack[0:4], n)
	return FibNode(0), stack
}

// Result reads the fib(n) result back out of a stack BuildFib produced,
// per the driver's "result left at Stack(0) by convention" (spec.md
// §6).
func Result(stack []byte) uint32 { return binary.LittleEndian.Uint32(stack[0:4]) }

var _ node.Node = FibNode(0)
