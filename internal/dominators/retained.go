// ABOUTME: Computes dominator-tree retained sizes for every reachable object
// ABOUTME: Sums owned bytes bottom-up over the dominator tree
package dominators

import (
	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
)

// Retained computes, for every reachable object, the total owned-size in
// bytes that would become unreachable were that object removed: the
// object's own size plus the sizes of everything it dominates. Unreachable
// objects are absent from the result.
func Retained(d *dump.Dump) map[object.Address]uint64 {
	idom := Dominators(d)
	tree := Tree(idom)

	sizes := make(map[object.Address]uint64, d.NumObjects())
	d.ForEach(func(o *object.Object) {
		sizes[o.Address] = o.OwnedSize
	})
	sizes[SuperRoot] = 0

	retained := make(map[object.Address]uint64, len(tree))

	var compute func(object.Address) uint64
	compute = func(node object.Address) uint64 {
		if size, done := retained[node]; done {
			return size
		}
		size := sizes[node]
		for _, child := range tree[node] {
			size += compute(child)
		}
		retained[node] = size
		return size
	}
	for node := range tree {
		compute(node)
	}

	delete(retained, SuperRoot)
	return retained
}
