package specialize_test

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/fixtures"
	"github.com/ttim/leshy/interp"
	"github.com/ttim/leshy/node"
	"github.com/ttim/leshy/specialize"
)

// TestCompactKindSize documents the 8-byte budget from spec.md §4.7.
func TestCompactKindSize(t *testing.T) {
	var k specialize.CompactKind
	if got := unsafe.Sizeof(k); got != 8 {
		t.Errorf("CompactKind is %d bytes, want 8", got)
	}
}

func run(t *testing.T, engine driver.Engine, root node.Node, stack []byte) []byte {
	t.Helper()
	d := driver.New(engine, driver.Options{})
	got := append([]byte(nil), stack...)
	if err := d.Eval(root, got); err != nil {
		t.Fatalf("eval: %v", err)
	}
	return got
}

// TestSpecializeMatchesInterp is a differential test (spec.md property
// 1, specialized engine only): Set4 on both the N-fast path and the
// non-fast path, Copy4/Add4/Sub4 on the N-fast path, Ne4/Ne04,
// small-delta Call, the Full fallback for a width-8 op and for a stack
// offset above 255, and folded Noop/PoisonFrom must produce
// byte-identical output to the baseline interpreter.
func TestSpecializeMatchesInterp(t *testing.T) {
	cases := []struct {
		name    string
		program *fixtures.Program
		stack   []byte
	}{
		{
			name: "set4 fast path (next=ctx+1)",
			program: fixtures.New(
				node.Command_[int](node.Set(node.Stack(0), []byte{9, 9, 9, 9}), 1),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0},
		},
		{
			name: "set4 non-fast path",
			program: fixtures.New(
				node.Command_[int](node.Set(node.Stack(0), []byte{9, 9, 9, 9}), 2),
				node.Final[int](),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0},
		},
		{
			name: "copy4",
			program: fixtures.New(
				node.Command_[int](node.Copy(node.Width4, node.Stack(4), node.Stack(0)), 1),
				node.Final[int](),
			),
			stack: []byte{1, 2, 3, 4, 0, 0, 0, 0},
		},
		{
			name: "add4 / sub4 chain",
			program: fixtures.New(
				node.Command_[int](node.Add(node.Width4, node.Stack(8), node.Stack(0), node.Stack(4)), 1),
				node.Command_[int](node.Sub(node.Width4, node.Stack(8), node.Stack(8), node.Stack(4)), 2),
				node.Final[int](),
			),
			stack: []byte{5, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "ne4 branch",
			program: fixtures.New(
				node.Branch[int](node.Ne(node.Width4, node.Stack(0), node.Stack(4)), 1, 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{1, 1, 1, 1}), 3),
				node.Command_[int](node.Set(node.Stack(0), []byte{2, 2, 2, 2}), 3),
				node.Final[int](),
			),
			stack: []byte{7, 0, 0, 0, 9, 0, 0, 0},
		},
		{
			name: "ne04 branch",
			program: fixtures.New(
				node.Branch[int](node.Ne0(node.Width4, node.Stack(0)), 1, 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{1, 1, 1, 1}), 3),
				node.Command_[int](node.Set(node.Stack(0), []byte{2, 2, 2, 2}), 3),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0},
		},
		{
			name: "small-delta call",
			program: fixtures.New(
				node.Call[int](4, 1, 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{1, 2, 3, 4}), 3),
				node.Command_[int](node.Set(node.Stack(0), []byte{5, 6, 7, 8}), 3),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "full fallback: width-8 ops",
			program: fixtures.New(
				node.Command_[int](node.Add(node.Width8, node.Stack(16), node.Stack(0), node.Stack(8)), 1),
				node.Final[int](),
			),
			stack: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "full fallback: stack offset > 255",
			program: fixtures.New(
				node.Command_[int](node.Set(node.Stack(300), []byte{9, 9, 9, 9}), 1),
				node.Final[int](),
			),
			stack: make([]byte, 320),
		},
		{
			name: "poison/noop folding ahead of a compact set",
			program: fixtures.New(
				node.Command_[int](node.Noop(), 1),
				node.Command_[int](node.PoisonFrom(node.Stack(0)), 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{4, 3, 2, 1}), 3),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			want := run(t, interp.New(), c.program.Root(), c.stack)
			got := run(t, specialize.New(), c.program.Root(), c.stack)
			if !bytes.Equal(got, want) {
				t.Errorf("specialize diverges from interp: got %v, want %v", got, want)
			}
		})
	}
}

// TestRegisterIdempotent checks spec.md property 6 (adapted to a
// software engine): re-registering an already-known id does not change
// observable behaviour.
func TestRegisterIdempotent(t *testing.T) {
	program := fixtures.New(
		node.Command_[int](node.Set(node.Stack(0), []byte{1, 2, 3, 4}), 1),
		node.Final[int](),
	)
	e := specialize.New()
	kind := node.MapSuccessors(program.At(0).Kind(), func(n node.Node) driver.NodeID {
		if n.Equal(program.At(0)) {
			return 0
		}
		return 1
	})
	e.Register(0, kind)
	e.Register(0, kind) // idempotent
	e.Register(1, node.Final[driver.NodeID]())

	state := &driver.RunState{Frames: []driver.Frame{{ID: 0, Offset: 0}}}
	stack := []byte{0, 0, 0, 0}
	if suspended := e.Run(state, stack); suspended {
		t.Fatalf("expected run to finish, got suspended with frames %v", state.Frames)
	}
	if !bytes.Equal(stack, []byte{1, 2, 3, 4}) {
		t.Errorf("got %v, want [1 2 3 4]", stack)
	}
}
