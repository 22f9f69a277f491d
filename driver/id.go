package driver

import "github.com/ttim/leshy/node"

// NodeID is a dense, append-only identifier assigned the first time a
// node is seen by a Driver. Ids are stable for the lifetime of the
// Driver: once assigned, an id never refers to a different node.
type NodeID uint32

// idTable interns provider nodes into NodeIDs. node.Node is not
// necessarily a Go `comparable` (a provider's natural identity may carry
// a slice, e.g. a cursor into a parsed module), so the table buckets by
// Hash() and does a linear Equal scan within a bucket rather than
// keying a Go map directly on node.Node.
type idTable struct {
	nodes   []node.Node
	buckets map[uint64][]NodeID
}

func newIDTable() *idTable {
	return &idTable{buckets: make(map[uint64][]NodeID)}
}

// intern returns the id for n, assigning a new one (len(nodes)) if n has
// not been seen before. O(1) amortised.
func (t *idTable) intern(n node.Node) NodeID {
	h := n.Hash()
	for _, candidate := range t.buckets[h] {
		if t.nodes[candidate].Equal(n) {
			return candidate
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.buckets[h] = append(t.buckets[h], id)
	return id
}

// nodeOf returns the node interned as id. id must have been produced by
// a prior call to intern on this table.
func (t *idTable) nodeOf(id NodeID) node.Node {
	return t.nodes[id]
}

func (t *idTable) len() int { return len(t.nodes) }
