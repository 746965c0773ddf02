package graph

// unionFind tracks connected components with path compression and union by rank
type unionFind struct {
	parent map[string]string
	rank   map[string]int
	size   map[string]int
	count  int
}

func newUnionFind(capacity int) *unionFind {
	return &unionFind{
		parent: make(map[string]string, capacity),
		rank:   make(map[string]int, capacity),
		size:   make(map[string]int, capacity),
	}
}

func (uf *unionFind) add(id string) {
	if _, ok := uf.parent[id]; ok {
		return
	}
	uf.parent[id] = id
	uf.size[id] = 1
	uf.count++
}

func (uf *unionFind) find(id string) string {
	parent, ok := uf.parent[id]
	if !ok {
		return id
	}
	if parent != id {
		root := uf.find(parent)
		uf.parent[id] = root
		return root
	}
	return id
}

func (uf *unionFind) union(a, b string) {
	rootA, rootB := uf.find(a), uf.find(b)
	if rootA == rootB {
		return
	}
	if uf.rank[rootA] < uf.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	uf.parent[rootB] = rootA
	uf.size[rootA] += uf.size[rootB]
	if uf.rank[rootA] == uf.rank[rootB] {
		uf.rank[rootA]++
	}
	uf.count--
}

// largest returns the size of the biggest component
func (uf *unionFind) largest() int {
	best := 0
	for id := range uf.parent {
		if uf.find(id) == id && uf.size[id] > best {
			best = uf.size[id]
		}
	}
	return best
}
