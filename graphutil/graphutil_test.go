package graphutil_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ttim/leshy/fixtures"
	"github.com/ttim/leshy/graphutil"
	"github.com/ttim/leshy/node"
)

// TestTraverseCyclic checks that Traverse terminates and visits each
// distinct node exactly once on a graph with a genuine cycle (a Branch
// whose true arm is a Command that loops back to the Branch).
func TestTraverseCyclic(t *testing.T) {
	program := fixtures.New(
		node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 1, 2),
		node.Command_[int](node.Sub(node.Width4, node.Stack(0), node.Stack(0), node.Stack(4)), 0), // loops back to 0
		node.Final[int](),
	)

	set := graphutil.Traverse(program.Root())
	if got, want := set.Len(), 3; got != want {
		t.Fatalf("visited %d distinct nodes, want %d", got, want)
	}
	for i := 0; i < 3; i++ {
		if !set.Contains(program.At(i)) {
			t.Errorf("node %d not in traversal result", i)
		}
	}
}

// TestTraverseSharedSuccessor checks that a node reachable via two
// different paths (both branches of a Branch) is only visited once.
func TestTraverseSharedSuccessor(t *testing.T) {
	program := fixtures.New(
		node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 1, 1),
		node.Final[int](),
	)
	set := graphutil.Traverse(program.Root())
	if got, want := set.Len(), 2; got != want {
		t.Fatalf("visited %d distinct nodes, want %d", got, want)
	}
}

// TestPrettyPrintCycle checks that a node revisited through a cycle is
// rendered as a back-reference rather than re-expanded (which would
// never terminate).
func TestPrettyPrintCycle(t *testing.T) {
	program := fixtures.New(
		node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 1, 2),
		node.Command_[int](node.Sub(node.Width4, node.Stack(0), node.Stack(0), node.Stack(4)), 0),
		node.Final[int](),
	)

	var buf bytes.Buffer
	graphutil.PrettyPrint(&buf, program.Root())
	out := buf.String()

	if !strings.Contains(out, "<ref 1>") {
		t.Errorf("expected a back-reference to line 1, got:\n%s", out)
	}
	if strings.Count(out, "ne0_4") > 1 {
		t.Errorf("the branch condition at the cycle's head was printed more than once:\n%s", out)
	}
}

// TestPrettyPrintBranchLayout checks the if/else line shape documented
// on PrettyPrint: both arms are printed, the false arm preceded by a
// line reading "else".
func TestPrettyPrintBranchLayout(t *testing.T) {
	program := fixtures.New(
		node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 1, 2),
		node.Final[int](),
		node.Final[int](),
	)
	var buf bytes.Buffer
	graphutil.PrettyPrint(&buf, program.Root())
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%v", len(lines), lines)
	}
	if !strings.Contains(lines[2], "else") {
		t.Errorf("line 3 should read else, got %q", lines[2])
	}
}
