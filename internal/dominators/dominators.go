// ABOUTME: Implements Lengauer-Tarjan immediate dominators over the strong-reference graph
// ABOUTME: A synthetic super-root ties named roots, stack, and immortals together

// Package dominators computes immediate dominators and dominator-tree
// derived retained sizes over a loaded dump's strong-reference graph. A
// synthetic super-root (the zero address, which no heap object can carry)
// points at every named root, the operand stack, and the three immortals,
// so the analysis has a single entry point.
package dominators

import (
	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/refs"
)

// SuperRoot is the synthetic entry node. It is not a heap object; it
// appears only as the immediate dominator of top-level reachable objects.
const SuperRoot object.Address = 0

// buildAdjacency assembles the forward strong-edge graph: super-root to
// every rooted address, then each object to its strong outref targets.
// Weak, indirect, and inferred edges do not retain their target and are
// excluded. Targets not present in the heap are dropped.
func buildAdjacency(d *dump.Dump) map[object.Address][]object.Address {
	adj := make(map[object.Address][]object.Address, d.NumObjects()+1)

	seen := make(map[object.Address]bool)
	addEntry := func(a object.Address) {
		if a == 0 || seen[a] {
			return
		}
		if _, ok := d.Get(a); !ok {
			return
		}
		seen[a] = true
		adj[SuperRoot] = append(adj[SuperRoot], a)
	}
	for _, a := range d.Roots {
		addEntry(a)
	}
	for _, a := range d.Stack {
		addEntry(a)
	}
	addEntry(d.Immortals.Undef)
	addEntry(d.Immortals.Yes)
	addEntry(d.Immortals.No)

	d.ForEach(func(o *object.Object) {
		for _, r := range refs.Outrefs(d, o) {
			if r.Strength != refs.StrengthStrong || r.Target == 0 {
				continue
			}
			if _, ok := d.Get(r.Target); !ok {
				continue
			}
			adj[o.Address] = append(adj[o.Address], r.Target)
		}
	})
	return adj
}

// Dominators computes the immediate dominator for every object reachable
// from the super-root, using the Lengauer-Tarjan algorithm. Top-level
// objects (those reachable directly from a root, the stack, or an
// immortal slot) map to SuperRoot; unreachable objects are absent from
// the result.
func Dominators(d *dump.Dump) map[object.Address]object.Address {
	adj := buildAdjacency(d)

	preds := make(map[object.Address][]object.Address)
	for v, ws := range adj {
		for _, w := range ws {
			preds[w] = append(preds[w], v)
		}
	}

	var dfsNum int
	vertex := make([]object.Address, 0, len(adj)+1)
	parent := make(map[object.Address]int)
	dfnum := make(map[object.Address]int)
	semi := make(map[object.Address]int)
	ancestor := make(map[object.Address]int)
	idom := make(map[object.Address]object.Address)
	samedom := make(map[object.Address]object.Address)
	best := make(map[object.Address]object.Address)
	bucket := make(map[int][]object.Address)

	var dfs func(v object.Address, p int)
	dfs = func(v object.Address, p int) {
		if _, visited := dfnum[v]; visited {
			return
		}
		dfnum[v] = dfsNum
		vertex = append(vertex, v)
		parent[v] = p
		semi[v] = dfsNum
		ancestor[v] = -1
		best[v] = v
		samedom[v] = v
		dfsNum++

		for _, w := range adj[v] {
			dfs(w, dfnum[v])
		}
	}
	dfs(SuperRoot, -1)

	var compress func(v object.Address)
	compress = func(v object.Address) {
		anc := ancestor[v]
		if anc == -1 {
			return
		}
		ancAddr := vertex[anc]
		if ancestor[ancAddr] != -1 {
			compress(ancAddr)
			if semi[best[ancAddr]] < semi[best[v]] {
				best[v] = best[ancAddr]
			}
			ancestor[v] = ancestor[ancAddr]
		}
	}

	eval := func(v object.Address) object.Address {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return best[v]
	}

	link := func(v object.Address, w int) {
		ancestor[v] = w
	}

	for i := dfsNum - 1; i > 0; i-- {
		w := vertex[i]

		for _, v := range preds[w] {
			vNum, reachable := dfnum[v]
			if !reachable {
				continue
			}
			var u object.Address
			if vNum <= dfnum[w] {
				u = v
			} else {
				u = eval(v)
			}
			if semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}

		bucket[semi[w]] = append(bucket[semi[w]], w)
		if parent[w] != -1 {
			link(w, parent[w])
		}

		for _, v := range bucket[parent[w]] {
			u := eval(v)
			if semi[u] == semi[v] {
				idom[v] = vertex[parent[w]]
			} else {
				samedom[v] = u
			}
		}
		bucket[parent[w]] = nil
	}

	for i := 1; i < dfsNum; i++ {
		w := vertex[i]
		if samedom[w] != w {
			idom[w] = idom[samedom[w]]
		}
	}

	delete(idom, SuperRoot)
	return idom
}

// Tree builds the dominator tree from immediate dominators: a map from
// each node (SuperRoot included) to the nodes it immediately dominates.
func Tree(idom map[object.Address]object.Address) map[object.Address][]object.Address {
	tree := make(map[object.Address][]object.Address, len(idom)+1)
	tree[SuperRoot] = nil
	for node := range idom {
		if _, ok := tree[node]; !ok {
			tree[node] = nil
		}
	}
	for node, dom := range idom {
		tree[dom] = append(tree[dom], node)
	}
	return tree
}
