package anno

import "sort"

// UnionFind is a disjoint-set structure over track ids, with path
// compression and union by rank. The merge suggestion engine uses it to
// grow transitive chains (A-B-C-D) out of pairwise merge evidence.
type UnionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

func NewUnionFind(elements []int64) *UnionFind {
	u := &UnionFind{
		parent: make(map[int64]int64, len(elements)),
		rank:   make(map[int64]int, len(elements)),
	}
	for _, e := range elements {
		u.parent[e] = e
		u.rank[e] = 0
	}
	return u
}

func (u *UnionFind) Find(x int64) int64 {
	if u.parent[x] != x {
		u.parent[x] = u.Find(u.parent[x])
	}
	return u.parent[x]
}

func (u *UnionFind) Union(x, y int64) {
	rootX := u.Find(x)
	rootY := u.Find(y)
	if rootX == rootY {
		return
	}
	switch {
	case u.rank[rootX] < u.rank[rootY]:
		u.parent[rootX] = rootY
	case u.rank[rootX] > u.rank[rootY]:
		u.parent[rootY] = rootX
	default:
		u.parent[rootY] = rootX
		u.rank[rootX]++
	}
}

// Groups returns the members of every set, keyed by root. Member lists are
// sorted so that iteration order does not depend on map ordering.
func (u *UnionFind) Groups() map[int64][]int64 {
	groups := map[int64][]int64{}
	for e := range u.parent {
		root := u.Find(e)
		groups[root] = append(groups[root], e)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	return groups
}
