// Package fixtures builds small, hand-wired node.Node graphs for tests:
// a Program is a flat slice of node.NodeKind[int], indexed by position,
// so a test can describe a (possibly cyclic) graph as a literal slice
// instead of standing up a real provider. This plays the role the
// original Rust source's driver_tests.rs gives its own ad hoc node enum,
// and the role package webasm's BuildFib plays for the one non-trivial
// fixture (recursive fib) in this module.
package fixtures

import (
	"sync/atomic"

	"github.com/ttim/leshy/node"
)

var programSeq uint64

// Program is a fixed list of node kinds; successors are plain indices
// into the same list (including a Call's callee — the "subroutine" is
// just more entries in the same Program, sharing its index space).
type Program struct {
	id    uint64
	kinds []node.NodeKind[int]
}

// New builds a Program from kinds, indexed by position starting at 0.
func New(kinds ...node.NodeKind[int]) *Program {
	return &Program{id: atomic.AddUint64(&programSeq, 1), kinds: kinds}
}

// At returns the node.Node standing for index i of p.
func (p *Program) At(i int) Node { return Node{prog: p, idx: i} }

// Root returns At(0), the conventional entry point.
func (p *Program) Root() Node { return p.At(0) }

// Node is a node.Node backed by a Program and an index into it.
type Node struct {
	prog *Program
	idx  int
}

func (n Node) Equal(other node.Node) bool {
	o, ok := other.(Node)
	return ok && o.prog == n.prog && o.idx == n.idx
}

// Hash combines the owning Program's sequence number with the index;
// it only needs to be stable for the lifetime of one Program, not
// across runs.
func (n Node) Hash() uint64 { return n.prog.id*1000003 + uint64(n.idx) }

func (n Node) Kind() node.NodeKind[node.Node] {
	return node.MapSuccessors(n.prog.kinds[n.idx], func(i int) node.Node { return n.prog.At(i) })
}
