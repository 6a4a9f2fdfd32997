package graph

import (
	"cmp"
	"container/heap"
	"log/slog"
	"slices"
)

// node is an arena entry. Placeholder nodes stand for parents whose commit
// data is missing; present is false for them.
type node struct {
	commit   Commit
	present  bool
	parents  []int
	children []int
	refs     []Ref
}

// Index is the parent/child adjacency of a Store snapshot. Nodes live in an
// arena and refer to each other by position, never by pointer.
type Index struct {
	nodes []node
	slot  map[string]int

	corrupt []error
	issues  []error
}

// BuildIndex indexes every commit of s. Data problems are recorded in
// Issues; building never fails.
func BuildIndex(s *Store) *Index {
	idx := &Index{slot: make(map[string]int, s.Len())}
	for c := range s.AllCommits() {
		idx.add(c)
	}
	idx.attachRefs(s)
	idx.refreshIssues(s)
	return idx
}

// extend adds commits that arrived after the index was built.
func (idx *Index) extend(s *Store, commits []Commit) {
	for _, c := range commits {
		if i, ok := idx.slot[c.ID]; ok && idx.nodes[i].present {
			continue
		}
		idx.add(c)
	}
	idx.attachRefs(s)
	idx.refreshIssues(s)
}

func (idx *Index) ensure(id string) int {
	if i, ok := idx.slot[id]; ok {
		return i
	}
	idx.nodes = append(idx.nodes, node{commit: Commit{ID: id}})
	i := len(idx.nodes) - 1
	idx.slot[id] = i
	return i
}

func (idx *Index) add(c Commit) {
	i := idx.ensure(c.ID)
	c.Refs = nil
	idx.nodes[i].commit = c
	idx.nodes[i].present = true
	if slices.Contains(c.ParentIDs, c.ID) {
		idx.corrupt = append(idx.corrupt, &CorruptHistoryError{Commit: c.ID})
		slog.Warn("commit lists itself as parent, treating it as root", slog.String("commit", c.ID))
		return
	}
	parents := make([]int, 0, len(c.ParentIDs))
	for _, pid := range c.ParentIDs {
		p := idx.ensure(pid)
		if slices.Contains(parents, p) {
			continue
		}
		parents = append(parents, p)
		idx.nodes[p].children = append(idx.nodes[p].children, i)
	}
	idx.nodes[i].parents = parents
}

func (idx *Index) attachRefs(s *Store) {
	for i := range idx.nodes {
		idx.nodes[i].refs = nil
	}
	for _, r := range s.Refs() {
		i, ok := idx.slot[r.TargetID]
		if !ok || !idx.nodes[i].present {
			continue
		}
		idx.nodes[i].refs = append(idx.nodes[i].refs, r)
	}
	for i := range idx.nodes {
		if len(idx.nodes[i].refs) > 1 {
			slices.SortFunc(idx.nodes[i].refs, compareRefs)
		}
	}
}

func (idx *Index) refreshIssues(s *Store) {
	issues := slices.Clone(idx.corrupt)
	for _, n := range idx.nodes {
		if n.present || s.IsBoundary(n.commit.ID) {
			continue
		}
		children := slices.Clone(n.children)
		slices.SortFunc(children, idx.compareID)
		for _, c := range children {
			issues = append(issues, &UnknownParentError{Commit: idx.nodes[c].commit.ID, Parent: n.commit.ID})
		}
	}
	idx.issues = issues
}

// Issues returns the data problems found while indexing: *CorruptHistoryError
// and *UnknownParentError values.
func (idx *Index) Issues() []error { return slices.Clone(idx.issues) }

func (idx *Index) Len() int {
	n := 0
	for i := range idx.nodes {
		if idx.nodes[i].present {
			n++
		}
	}
	return n
}

// Has reports whether commit data for id is indexed.
func (idx *Index) Has(id string) bool {
	i, ok := idx.slot[id]
	return ok && idx.nodes[i].present
}

// IsBoundary reports whether id is referenced as a parent but has no data.
func (idx *Index) IsBoundary(id string) bool {
	i, ok := idx.slot[id]
	return ok && !idx.nodes[i].present
}

func (idx *Index) Commit(id string) (Commit, bool) {
	i, ok := idx.slot[id]
	if !ok || !idx.nodes[i].present {
		return Commit{}, false
	}
	c := idx.nodes[i].commit
	for _, r := range idx.nodes[i].refs {
		c.Refs = append(c.Refs, r.Name)
	}
	return c, true
}

// Parents returns the resolved parent ids of id, first parent first.
func (idx *Index) Parents(id string) []string {
	i, ok := idx.slot[id]
	if !ok {
		return nil
	}
	return idx.ids(idx.nodes[i].parents)
}

// Children returns the ids of commits listing id as a parent, sorted.
func (idx *Index) Children(id string) []string {
	i, ok := idx.slot[id]
	if !ok {
		return nil
	}
	out := idx.ids(idx.nodes[i].children)
	slices.Sort(out)
	return out
}

func (idx *Index) RefsOf(id string) []Ref {
	i, ok := idx.slot[id]
	if !ok {
		return nil
	}
	return slices.Clone(idx.nodes[i].refs)
}

func (idx *Index) ids(slots []int) []string {
	out := make([]string, len(slots))
	for k, s := range slots {
		out[k] = idx.nodes[s].commit.ID
	}
	return out
}

func (idx *Index) id(slot int) string { return idx.nodes[slot].commit.ID }

func (idx *Index) compareID(a, b int) int { return cmp.Compare(idx.id(a), idx.id(b)) }

func (idx *Index) primaryRef(slot int) (Ref, bool) {
	refs := idx.nodes[slot].refs
	if len(refs) == 0 {
		return Ref{}, false
	}
	return refs[0], true
}

// newer orders by commit time, newest first, then by id.
func (idx *Index) newer(a, b int) bool {
	ta, tb := idx.nodes[a].commit.CommitTime, idx.nodes[b].commit.CommitTime
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return idx.id(a) < idx.id(b)
}

// ReachableFrom returns the commits reachable from heads by parent links,
// newest first. A positive limit keeps only the newest limit commits, so the
// scan never walks unbounded history. Boundary nodes are not included, and a
// commit seen twice is skipped, which also keeps corrupt cyclic input finite.
func (idx *Index) ReachableFrom(heads []string, limit int) []string {
	slots := idx.reachable(heads, limit)
	return idx.ids(slots)
}

func (idx *Index) reachable(heads []string, limit int) []int {
	visited := make(map[int]struct{}, len(heads))
	h := &slotHeap{less: idx.newer}
	for _, id := range heads {
		i, ok := idx.slot[id]
		if !ok || !idx.nodes[i].present {
			continue
		}
		if _, seen := visited[i]; seen {
			continue
		}
		visited[i] = struct{}{}
		heap.Push(h, i)
	}
	var out []int
	for h.Len() > 0 {
		if limit > 0 && len(out) >= limit {
			break
		}
		i := heap.Pop(h).(int)
		out = append(out, i)
		for _, p := range idx.nodes[i].parents {
			if !idx.nodes[p].present {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			heap.Push(h, p)
		}
	}
	return out
}

type slotHeap struct {
	items []int
	less  func(a, b int) bool
}

func (h *slotHeap) Len() int           { return len(h.items) }
func (h *slotHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *slotHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *slotHeap) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *slotHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
