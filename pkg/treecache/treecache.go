// Package treecache provides a keyed cache whose keys are fixed-length
// string tuples, with point lookups and one-call invalidation of every
// entry sharing a key prefix. Internally it is a trie: each interior node
// maps the next key segment to a child, leaves hold values, and nodes left
// empty by a pop are pruned so prefix checks stay O(depth).
package treecache

import "sync"

type node[V any] struct {
	children map[string]*node[V]
	value    V
	hasValue bool
}

// TreeCache is safe for concurrent use. Synchronization is scoped to single
// operations; callers needing cross-operation consistency coordinate above.
type TreeCache[V any] struct {
	mu   sync.RWMutex
	root *node[V]
	size int
}

// New returns an empty cache.
func New[V any]() *TreeCache[V] {
	return &TreeCache[V]{root: &node[V]{}}
}

// Len returns the number of stored values.
func (c *TreeCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Set stores value under the full key, replacing any existing entry.
func (c *TreeCache[V]) Set(key []string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.root
	for _, seg := range key {
		if n.children == nil {
			n.children = make(map[string]*node[V])
		}
		child, ok := n.children[seg]
		if !ok {
			child = &node[V]{}
			n.children[seg] = child
		}
		n = child
	}
	if !n.hasValue {
		c.size++
	}
	n.value = value
	n.hasValue = true
}

// Get returns the value stored under the full key. A key that only reaches
// an interior node reports absent; there are no partial reads.
func (c *TreeCache[V]) Get(key []string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero V
	n := c.root
	for _, seg := range key {
		child, ok := n.children[seg]
		if !ok {
			return zero, false
		}
		n = child
	}
	if !n.hasValue {
		return zero, false
	}
	return n.value, true
}

// Pop removes the entry at key, or, when key is a strict prefix of stored
// keys, every entry below it. It returns the removed values. Unrelated
// branches are untouched, and emptied interior nodes are pruned.
func (c *TreeCache[V]) Pop(key []string) []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Walk down remembering the path so emptied nodes can be pruned.
	type step struct {
		parent *node[V]
		seg    string
	}
	path := make([]step, 0, len(key))
	n := c.root
	for _, seg := range key {
		child, ok := n.children[seg]
		if !ok {
			return nil
		}
		path = append(path, step{parent: n, seg: seg})
		n = child
	}

	var removed []V
	collect(n, &removed)
	if len(removed) == 0 {
		return nil
	}
	c.size -= len(removed)

	// Detach the popped subtree, then prune now-empty ancestors.
	if len(path) > 0 {
		last := path[len(path)-1]
		delete(last.parent.children, last.seg)
		for i := len(path) - 2; i >= 0; i-- {
			p := path[i]
			child := p.parent.children[p.seg]
			if child.hasValue || len(child.children) > 0 {
				break
			}
			delete(p.parent.children, p.seg)
		}
	} else {
		// Popping the empty key clears everything.
		c.root = &node[V]{}
	}
	return removed
}

func collect[V any](n *node[V], out *[]V) {
	if n.hasValue {
		*out = append(*out, n.value)
		var zero V
		n.value = zero
		n.hasValue = false
	}
	for _, child := range n.children {
		collect(child, out)
	}
	n.children = nil
}
