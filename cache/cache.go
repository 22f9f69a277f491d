// Package cache implements the optional Node Cache decorator (spec.md
// §4.9): wrapping any provider in a *NodeCache memoizes Kind() so that
// repeated graph exploration costs O(unique nodes) instead of whatever
// the underlying provider costs per call.
//
// Grounded on the original source's Cache/CachedNode
// (leshy-rust/src/core/cached_node.rs): an append-only vector of
// originals, a hash-bucketed index to dedupe, and a parallel vector of
// memoized NodeKind[CachedNode]. Rust gets safe interior mutability for
// free from a single-threaded RefCell; this port additionally guards
// concurrent Kind() resolution with golang.org/x/sync/singleflight so a
// NodeCache wrapped around a provider that is itself shared across
// goroutines never computes the same node's kind twice, even though the
// driver itself only ever calls into one engine from one goroutine at a
// time (spec.md §5).
package cache

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ttim/leshy/node"
)

var cacheSeq uint64

// NodeCache memoizes Kind() for every node reachable (via Cache) from
// whatever provider it wraps.
type NodeCache struct {
	id uint64

	mu        sync.Mutex
	originals []node.Node
	buckets   map[uint64][]int
	cached    []*node.NodeKind[CachedNode]

	group singleflight.Group
}

// New returns an empty NodeCache.
func New() *NodeCache {
	return &NodeCache{id: atomic.AddUint64(&cacheSeq, 1), buckets: make(map[uint64][]int)}
}

// Cache interns n (and, lazily, everything reachable from it) into c
// and returns the node.Node the driver should actually use in its
// place. Equal source nodes always yield an equal CachedNode.
func (c *NodeCache) Cache(n node.Node) CachedNode {
	return CachedNode{cache: c, id: c.intern(n)}
}

func (c *NodeCache) intern(n node.Node) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := n.Hash()
	for _, candidate := range c.buckets[h] {
		if c.originals[candidate].Equal(n) {
			return candidate
		}
	}
	id := len(c.originals)
	c.originals = append(c.originals, n)
	c.buckets[h] = append(c.buckets[h], id)
	c.cached = append(c.cached, nil)
	return id
}

// kind returns (computing and memoizing if necessary) the cached kind
// for id, with successors translated into CachedNode via intern.
func (c *NodeCache) kind(id int) node.NodeKind[CachedNode] {
	c.mu.Lock()
	if k := c.cached[id]; k != nil {
		c.mu.Unlock()
		return *k
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(strconv.Itoa(id), func() (any, error) {
		c.mu.Lock()
		if k := c.cached[id]; k != nil {
			c.mu.Unlock()
			return *k, nil
		}
		original := c.originals[id]
		c.mu.Unlock()

		resolved := node.MapSuccessors(original.Kind(), func(n node.Node) CachedNode {
			return CachedNode{cache: c, id: c.intern(n)}
		})

		c.mu.Lock()
		c.cached[id] = &resolved
		c.mu.Unlock()
		return resolved, nil
	})
	return v.(node.NodeKind[CachedNode])
}

// CachedNode is a node.Node standing for a cached position in a
// NodeCache: its identity is (cache, id), and Kind() always resolves
// through the cache's memo table.
type CachedNode struct {
	cache *NodeCache
	id    int
}

func (c CachedNode) Equal(other node.Node) bool {
	o, ok := other.(CachedNode)
	return ok && o.cache == c.cache && o.id == c.id
}

func (c CachedNode) Hash() uint64 { return c.cache.id*1000003 + uint64(c.id) }

func (c CachedNode) Kind() node.NodeKind[node.Node] {
	return node.MapSuccessors(c.cache.kind(c.id), func(cn CachedNode) node.Node { return cn })
}

var _ node.Node = CachedNode{}
