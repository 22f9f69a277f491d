package webasm_test

import (
	"testing"

	"github.com/ttim/leshy/driver"
	"github.com/ttim/leshy/interp"
	"github.com/ttim/leshy/specialize"
	"github.com/ttim/leshy/webasm"
)

func evalFib(t *testing.T, engine driver.Engine, n uint32) uint32 {
	t.Helper()
	root, stack := webasm.BuildFib(n)
	d := driver.New(engine, driver.Options{})
	if err := d.Eval(root, stack); err != nil {
		t.Fatalf("eval fib(%d): %v", n, err)
	}
	return webasm.Result(stack)
}

// TestFibInterp is spec.md §8's concrete fibonacci scenario: fib(10)
// should come out to 55 on the baseline interpreter.
func TestFibInterp(t *testing.T) {
	if got, want := evalFib(t, interp.New(), 10), uint32(55); got != want {
		t.Errorf("fib(10) = %d, want %d", got, want)
	}
}

// TestFibEquivalence repeats fib(25) against both portable engines
// (spec.md property 1, engine equivalence) — the JIT is covered
// separately under its own build tag.
func TestFibEquivalence(t *testing.T) {
	want := evalFib(t, interp.New(), 25)
	if got := evalFib(t, specialize.New(), 25); got != want {
		t.Errorf("specialize: fib(25) = %d, want %d", got, want)
	}
}

func TestFibKnownValues(t *testing.T) {
	cases := []struct {
		n, want uint32
	}{
		{0, 0}, {1, 1}, {2, 1}, {3, 2}, {4, 3}, {5, 5}, {6, 8}, {7, 13}, {10, 55},
	}
	for _, c := range cases {
		if got := evalFib(t, interp.New(), c.n); got != c.want {
			t.Errorf("fib(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
