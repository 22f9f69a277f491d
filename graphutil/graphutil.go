// Package graphutil holds the two node-graph utilities from spec.md
// §4.10: Traverse (the reachable-node set) and PrettyPrint (a
// line-numbered, cycle-safe debug dump). Both operate on the pre-id,
// generic node.Node graph, and both use a visited set keyed by node
// equality (never raw graph identity) so they terminate on cyclic or
// even infinite-but-eventually-repeating graphs.
//
// Grounded on the original source's traverse_node/pretty_print
// (leshy-rust/src/core/utils.rs), ported line for line: the same
// visited-set recursion, the same indentation-by-branch-depth printer,
// the same "<ref N>" back-reference marker for cycles.
package graphutil

import (
	"fmt"
	"io"

	"github.com/ttim/leshy/node"
)

// Set is a visited-node set keyed by Hash()+Equal, the same bucketing
// convention the id table and the node cache use, since node.Node is
// not necessarily a Go `comparable`.
type Set struct {
	nodes   []node.Node
	buckets map[uint64][]int
}

func newSet() *Set { return &Set{buckets: make(map[uint64][]int)} }

// Contains reports whether n is already in the set.
func (s *Set) Contains(n node.Node) bool {
	_, ok := s.indexOf(n)
	return ok
}

func (s *Set) indexOf(n node.Node) (int, bool) {
	for _, candidate := range s.buckets[n.Hash()] {
		if s.nodes[candidate].Equal(n) {
			return candidate, true
		}
	}
	return 0, false
}

// add inserts n if not already present, returning its index and
// whether it was newly inserted.
func (s *Set) add(n node.Node) (int, bool) {
	if idx, ok := s.indexOf(n); ok {
		return idx, false
	}
	idx := len(s.nodes)
	s.nodes = append(s.nodes, n)
	s.buckets[n.Hash()] = append(s.buckets[n.Hash()], idx)
	return idx, true
}

// Nodes returns every node added to the set, in insertion order.
func (s *Set) Nodes() []node.Node { return s.nodes }

// Len reports the number of distinct nodes visited.
func (s *Set) Len() int { return len(s.nodes) }

// Traverse walks every node reachable from root and returns them as a
// Set, visiting each distinct node exactly once regardless of how many
// cycles or shared successors the graph contains.
func Traverse(root node.Node) *Set {
	visited := newSet()
	var walk func(n node.Node)
	walk = func(n node.Node) {
		if _, isNew := visited.add(n); !isNew {
			return
		}
		kind := n.Kind()
		switch kind.Tag {
		case node.KindCommand:
			walk(kind.Next)
		case node.KindBranch:
			walk(kind.IfTrue)
			walk(kind.IfFalse)
		case node.KindCall:
			walk(kind.Call)
			walk(kind.Next)
		case node.KindFinal:
		}
	}
	walk(root)
	return visited
}

// PrettyPrint writes a line-numbered, indented dump of the graph
// reachable from root to w, for debugging only: a node seen a second
// time (a cycle, or simply a shared successor) is printed as
// "<ref N>" referencing the line it was first printed on, rather than
// being expanded again.
func PrettyPrint(w io.Writer, root node.Node) {
	visited := newSet()
	lineOf := make([]int, 0)
	line := 0

	printLine := func(depth int) {
		line++
		fmt.Fprintf(w, "%d\t", line)
		for i := 0; i < depth; i++ {
			fmt.Fprint(w, "\t")
		}
	}

	var rec func(depth int, n node.Node)
	rec = func(depth int, n node.Node) {
		printLine(depth)
		if idx, ok := visited.indexOf(n); ok {
			fmt.Fprintf(w, "<ref %d>\n", lineOf[idx])
			return
		}
		idx, _ := visited.add(n)
		for len(lineOf) <= idx {
			lineOf = append(lineOf, 0)
		}
		lineOf[idx] = line

		kind := n.Kind()
		switch kind.Tag {
		case node.KindCommand:
			fmt.Fprintln(w, kind.Command.String())
			rec(depth, kind.Next)
		case node.KindBranch:
			fmt.Fprintln(w, kind.Condition.String())
			rec(depth+1, kind.IfTrue)
			printLine(depth)
			fmt.Fprintln(w, "else")
			rec(depth+1, kind.IfFalse)
		case node.KindCall:
			fmt.Fprintf(w, "call %d\n", kind.CallOffset)
			rec(depth+1, kind.Call)
			rec(depth, kind.Next)
		case node.KindFinal:
			fmt.Fprintln(w, "<final>")
		}
	}

	rec(0, root)
}
