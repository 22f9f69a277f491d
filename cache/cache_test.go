package cache_test

import (
	"bytes"
	"testing"

	"github.com/ttim/leshy/cache"
	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/fixtures"
	"github.com/ttim/leshy/interp"
	"github.com/ttim/leshy/node"
	"github.com/ttim/leshy/specialize"
)

// TestCacheTransparency checks spec.md property 5: wrapping any
// provider in the Node Cache must not change any observable byte,
// checked here on the interpreter and the specialized engine.
func TestCacheTransparency(t *testing.T) {
	program := fixtures.New(
		node.Branch[int](node.Ne(node.Width4, node.Stack(0), node.Stack(4)), 1, 2),
		node.Command_[int](node.Set(node.Stack(0), []byte{2, 2, 2, 2}), 3),
		node.Command_[int](node.Set(node.Stack(0), []byte{3, 3, 3, 3}), 3),
		node.Final[int](),
	)
	stack := []byte{1, 2, 3, 4, 1, 2, 3, 4}
	want := []byte{3, 3, 3, 3, 1, 2, 3, 4}

	engines := []func() driver.Engine{
		func() driver.Engine { return interp.New() },
		func() driver.Engine { return specialize.New() },
	}

	for _, newEngine := range engines {
		c := cache.New()
		d := driver.New(newEngine(), driver.Options{})
		got := append([]byte(nil), stack...)
		if err := d.Eval(c.Cache(program.Root()), got); err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

// TestCacheDedupesEqualNodes checks that two calls to Cache on equal
// source nodes return a CachedNode with the same identity.
func TestCacheDedupesEqualNodes(t *testing.T) {
	program := fixtures.New(node.Final[int]())
	c := cache.New()
	a := c.Cache(program.Root())
	b := c.Cache(program.Root())
	if !a.Equal(b) {
		t.Errorf("expected equal CachedNodes for equal source nodes, got %+v vs %+v", a, b)
	}
}
