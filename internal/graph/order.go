package graph

import (
	"container/heap"
	"log/slog"
)

// Order sorts ids topologically, children before parents. Among commits whose
// children are all placed, the newest commit time goes first and tb breaks
// equal times. Ids unknown to idx are ignored.
//
// Corrupt input with a parent cycle cannot stall the sort: once no commit is
// ready, the best remaining commit by the same priority is released.
func Order(idx *Index, ids []string, tb TieBreak) []string {
	slots := make([]int, 0, len(ids))
	for _, id := range ids {
		if i, ok := idx.slot[id]; ok && idx.nodes[i].present {
			slots = append(slots, i)
		}
	}
	return idx.ids(idx.order(slots, tb))
}

func (idx *Index) order(slots []int, tb TieBreak) []int {
	pending := make(map[int]int, len(slots))
	for _, s := range slots {
		pending[s] = 0
	}
	for _, s := range slots {
		for _, p := range idx.nodes[s].parents {
			if n, ok := pending[p]; ok {
				pending[p] = n + 1
			}
		}
	}
	less := idx.priority(tb)
	ready := &slotHeap{less: less}
	for _, s := range slots {
		if pending[s] == 0 {
			ready.items = append(ready.items, s)
		}
	}
	heap.Init(ready)

	out := make([]int, 0, len(pending))
	placed := make(map[int]struct{}, len(pending))
	for len(out) < len(pending) {
		if ready.Len() == 0 {
			s := idx.bestRemaining(slots, placed, less)
			slog.Warn("parent cycle in history, releasing commit early", slog.String("commit", idx.id(s)))
			pending[s] = 0
			heap.Push(ready, s)
		}
		s := heap.Pop(ready).(int)
		if _, dup := placed[s]; dup {
			continue
		}
		placed[s] = struct{}{}
		out = append(out, s)
		for _, p := range idx.nodes[s].parents {
			n, ok := pending[p]
			if !ok {
				continue
			}
			if _, done := placed[p]; done {
				continue
			}
			n--
			pending[p] = n
			if n == 0 {
				heap.Push(ready, p)
			}
		}
	}
	return out
}

func (idx *Index) bestRemaining(slots []int, placed map[int]struct{}, less func(a, b int) bool) int {
	best := -1
	for _, s := range slots {
		if _, done := placed[s]; done {
			continue
		}
		if best < 0 || less(s, best) {
			best = s
		}
	}
	return best
}

// priority returns the row order comparator: a sorts before b.
func (idx *Index) priority(tb TieBreak) func(a, b int) bool {
	return func(a, b int) bool {
		ta, tb2 := idx.nodes[a].commit.CommitTime, idx.nodes[b].commit.CommitTime
		if !ta.Equal(tb2) {
			return ta.After(tb2)
		}
		if tb == TieBreakRefName {
			ra, okA := idx.primaryRef(a)
			rb, okB := idx.primaryRef(b)
			if okA != okB {
				return okA
			}
			if okA && ra.Name != rb.Name {
				return ra.Name < rb.Name
			}
		}
		return idx.id(a) < idx.id(b)
	}
}
