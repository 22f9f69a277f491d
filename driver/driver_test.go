package driver_test

import (
	"bytes"
	"testing"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/fixtures"
	"github.com/ttim/leshy/interp"
	"github.com/ttim/leshy/node"
	"github.com/ttim/leshy/specialize"
)

// scenario is one of the concrete end-to-end programs from spec.md §8.
type scenario struct {
	name    string
	program *fixtures.Program
	stack   []byte
	want    []byte
}

func scenarios() []scenario {
	return []scenario{
		{
			name: "set then terminate",
			program: fixtures.New(
				node.Command_[int](node.Set(node.Stack(0), []byte{1, 0, 0, 0}), 1),
				node.Final[int](),
			),
			stack: []byte{7, 7, 7, 7},
			want:  []byte{1, 0, 0, 0},
		},
		{
			name: "copy 8 bytes",
			program: fixtures.New(
				node.Command_[int](node.Copy(node.Width8, node.Stack(8), node.Stack(0)), 1),
				node.Final[int](),
			),
			stack: []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0, 0, 0, 0, 0},
			want:  []byte{1, 2, 3, 4, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			name: "32-bit add",
			program: fixtures.New(
				node.Command_[int](node.Add(node.Width4, node.Stack(8), node.Stack(0), node.Stack(4)), 1),
				node.Final[int](),
			),
			stack: []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0},
			want:  []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0},
		},
		{
			name: "branch on inequality",
			program: fixtures.New(
				node.Branch[int](node.Ne(node.Width4, node.Stack(0), node.Stack(4)), 1, 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{2, 2, 2, 2}), 3),
				node.Command_[int](node.Set(node.Stack(0), []byte{3, 3, 3, 3}), 3),
				node.Final[int](),
			),
			stack: []byte{1, 2, 3, 4, 1, 2, 3, 4},
			want:  []byte{3, 3, 3, 3, 1, 2, 3, 4},
		},
		{
			name: "call with offset",
			program: fixtures.New(
				node.Call[int](4, 1, 2),
				node.Command_[int](node.Set(node.Stack(0), []byte{1, 2, 3, 4}), 3),
				node.Command_[int](node.Set(node.Stack(0), []byte{5, 6, 7, 8}), 3),
				node.Final[int](),
			),
			stack: []byte{0, 0, 0, 0, 0, 0, 0, 0},
			want:  []byte{5, 6, 7, 8, 1, 2, 3, 4},
		},
	}
}

type engineFactory struct {
	name string
	new  func() driver.Engine
}

func engineFactories() []engineFactory {
	return []engineFactory{
		{"interp", func() driver.Engine { return interp.New() }},
		{"specialize", func() driver.Engine { return specialize.New() }},
	}
}

// TestEndToEndScenarios runs every spec.md §8 scenario against the
// interpreter and the specialized engine (spec.md property 1, engine
// equivalence); the JIT is covered in package codegen.
func TestEndToEndScenarios(t *testing.T) {
	for _, sc := range scenarios() {
		sc := sc
		for _, ef := range engineFactories() {
			ef := ef
			t.Run(sc.name+"/"+ef.name, func(t *testing.T) {
				d := driver.New(ef.new(), driver.Options{})
				stack := append([]byte(nil), sc.stack...)
				if err := d.Eval(sc.program.Root(), stack); err != nil {
					t.Fatalf("eval: %v", err)
				}
				if got := stack[:len(sc.want)]; !bytes.Equal(got, sc.want) {
					t.Errorf("got %v, want %v", got, sc.want)
				}
			})
		}
	}
}

// TestDeterminism checks spec.md property 2: repeating Eval on
// identical inputs yields identical outputs.
func TestDeterminism(t *testing.T) {
	for _, sc := range scenarios() {
		for _, ef := range engineFactories() {
			d := driver.New(ef.new(), driver.Options{})
			first := append([]byte(nil), sc.stack...)
			if err := d.Eval(sc.program.Root(), first); err != nil {
				t.Fatalf("eval: %v", err)
			}
			d2 := driver.New(ef.new(), driver.Options{})
			second := append([]byte(nil), sc.stack...)
			if err := d2.Eval(sc.program.Root(), second); err != nil {
				t.Fatalf("eval: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Errorf("%s/%s: nondeterministic output: %v vs %v", sc.name, ef.name, first, second)
			}
		}
	}
}

// TestFrameIsolation checks spec.md property 3: bytes [0..offset) are
// unchanged across a Call.
func TestFrameIsolation(t *testing.T) {
	program := fixtures.New(
		node.Call[int](4, 1, 2),
		node.Command_[int](node.Set(node.Stack(0), []byte{9, 9, 9, 9}), 3),
		node.Final[int](),
		node.Final[int](),
	)
	for _, ef := range engineFactories() {
		d := driver.New(ef.new(), driver.Options{})
		stack := []byte{1, 2, 3, 4, 0, 0, 0, 0}
		if err := d.Eval(program.Root(), stack); err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !bytes.Equal(stack[:4], []byte{1, 2, 3, 4}) {
			t.Errorf("%s: caller bytes before offset changed: %v", ef.name, stack[:4])
		}
	}
}

// TestFinalKindFolding checks spec.md property 4: leading Noop/PoisonFrom
// commands never influence observable bytes.
func TestFinalKindFolding(t *testing.T) {
	program := fixtures.New(
		node.Command_[int](node.Noop(), 1),
		node.Command_[int](node.PoisonFrom(node.Stack(0)), 2),
		node.Command_[int](node.Set(node.Stack(0), []byte{4, 3, 2, 1}), 3),
		node.Final[int](),
	)
	for _, ef := range engineFactories() {
		d := driver.New(ef.new(), driver.Options{})
		stack := []byte{0, 0, 0, 0}
		if err := d.Eval(program.Root(), stack); err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !bytes.Equal(stack, []byte{4, 3, 2, 1}) {
			t.Errorf("%s: got %v, want [4 3 2 1]", ef.name, stack)
		}
	}
}

// deepCall is an endless family of distinct nodes (deepCall(n) calls
// deepCall(n+1), never reaching Final): each level is a fresh node
// identity, so the driver must suspend and resolve one more id per
// level of recursion, giving Options.MaxFrames a chance to fire.
type deepCall int

func (n deepCall) Equal(other node.Node) bool { o, ok := other.(deepCall); return ok && o == n }
func (n deepCall) Hash() uint64               { return uint64(n) }
func (n deepCall) Kind() node.NodeKind[node.Node] {
	return node.Call[node.Node](0, deepCall(n+1), finalNode{})
}

type finalNode struct{}

func (finalNode) Equal(other node.Node) bool     { _, ok := other.(finalNode); return ok }
func (finalNode) Hash() uint64                   { return 0xfeed }
func (finalNode) Kind() node.NodeKind[node.Node] { return node.Final[node.Node]() }

// TestMaxFramesFault checks the caller-induced stack exhaustion fault
// from spec.md §7: unbounded recursion must be reported as a Fault once
// it exceeds Options.MaxFrames, not hang or panic uncontrolled.
func TestMaxFramesFault(t *testing.T) {
	d := driver.New(interp.New(), driver.Options{MaxFrames: 8})
	err := d.Eval(deepCall(0), make([]byte, 64))
	if err == nil {
		t.Fatal("expected a fault, got nil")
	}
	f, ok := err.(*driver.Fault)
	if !ok {
		t.Fatalf("expected *driver.Fault, got %T: %v", err, err)
	}
	if f.Kind != driver.FaultStackExhausted {
		t.Errorf("got fault kind %v, want FaultStackExhausted", f.Kind)
	}
}
