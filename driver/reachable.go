package driver

import (
	"golang.org/x/tools/container/intsets"

	"github.com/ttim/leshy/node"
)

// ReachableIDs walks the id-resolved graph reachable from root (already
// interned) and returns it as a sparse set of NodeIDs. Once identity is
// a dense small integer, a sparse int set (rather than a
// map[NodeID]struct{}) is the idiomatic, allocation-light choice. Nothing
// in this module calls it; it is exported for diagnostics.
func (d *Driver) ReachableIDs(root NodeID) *intsets.Sparse {
	var seen intsets.Sparse
	var walk func(id NodeID)
	walk = func(id NodeID) {
		if !seen.Insert(int(id)) {
			return
		}
		kind := d.resolve(id)
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
	return &seen
}
