package graph

import (
	"cmp"
	"errors"
	"iter"
	"log/slog"
	"slices"
)

// Store holds the known commits and refs. Commits are only ever replaced
// wholesale by id; refs are replaced as a set.
type Store struct {
	commits  map[string]Commit
	order    []string
	refs     map[string]Ref
	byTarget map[string][]Ref
	boundary map[string]struct{}

	// gcPending is set by SetRefs; Collect is a no-op until refs change again.
	gcPending bool
}

func NewStore() *Store {
	return &Store{
		commits:  map[string]Commit{},
		refs:     map[string]Ref{},
		byTarget: map[string][]Ref{},
		boundary: map[string]struct{}{},
	}
}

// Put inserts c or replaces the commit with the same id. It reports whether
// the store changed; re-inserting identical data is a no-op.
func (s *Store) Put(c Commit) bool {
	c.ParentIDs = slices.Clone(c.ParentIDs)
	c.Refs = nil
	if old, ok := s.commits[c.ID]; ok {
		if old.equal(c) {
			return false
		}
		s.commits[c.ID] = c
		return true
	}
	s.commits[c.ID] = c
	s.order = append(s.order, c.ID)
	delete(s.boundary, c.ID)
	return true
}

func (s *Store) Has(id string) bool {
	_, ok := s.commits[id]
	return ok
}

// Commit returns the commit with its current ref names attached.
func (s *Store) Commit(id string) (Commit, bool) {
	c, ok := s.commits[id]
	if !ok {
		return Commit{}, false
	}
	if refs := s.byTarget[id]; len(refs) > 0 {
		c.Refs = make([]string, len(refs))
		for i, r := range refs {
			c.Refs[i] = r.Name
		}
	}
	return c, true
}

func (s *Store) Len() int { return len(s.commits) }

// AllCommits yields every stored commit in insertion order. The sequence can
// be ranged over more than once.
func (s *Store) AllCommits() iter.Seq[Commit] {
	return func(yield func(Commit) bool) {
		for _, id := range s.order {
			c, ok := s.Commit(id)
			if !ok {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// SetRefs replaces the ref set. Refs pointing at unknown commits are dropped
// and returned. A later valid ref with the same name replaces an earlier
// one; a dropped ref never removes a valid one.
func (s *Store) SetRefs(refs []Ref) []Ref {
	var dropped []Ref
	next := make(map[string]Ref, len(refs))
	for _, r := range refs {
		if r.Name == "" {
			continue
		}
		if !s.Has(r.TargetID) {
			dropped = append(dropped, r)
			continue
		}
		next[r.Name] = r
	}
	s.refs = next
	s.byTarget = make(map[string][]Ref, len(next))
	for _, r := range next {
		s.byTarget[r.TargetID] = append(s.byTarget[r.TargetID], r)
	}
	for id := range s.byTarget {
		slices.SortFunc(s.byTarget[id], compareRefs)
	}
	s.gcPending = true
	for _, r := range dropped {
		slog.Debug("dropping unresolved ref",
			slog.String("ref", r.Name),
			slog.String("target", r.TargetID),
		)
	}
	return dropped
}

// Refs returns the current refs sorted by name.
func (s *Store) Refs() []Ref {
	out := make([]Ref, 0, len(s.refs))
	for _, r := range s.refs {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Ref) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (s *Store) Ref(name string) (Ref, bool) {
	r, ok := s.refs[name]
	return r, ok
}

// RefsOf returns the refs pointing at id, primary ref first.
func (s *Store) RefsOf(id string) []Ref {
	return slices.Clone(s.byTarget[id])
}

// MarkBoundary records ids whose commit data is known to be unavailable, such
// as the parents of a shallow clone's oldest commits.
func (s *Store) MarkBoundary(ids ...string) {
	for _, id := range ids {
		if id == "" || s.Has(id) {
			continue
		}
		s.boundary[id] = struct{}{}
	}
}

func (s *Store) IsBoundary(id string) bool {
	_, ok := s.boundary[id]
	return ok
}

// Verify reports parents that are neither stored nor marked as boundary. The
// result is informational; the indexer treats such parents as boundary nodes.
func (s *Store) Verify() error {
	var errs []error
	for _, id := range s.order {
		c, ok := s.commits[id]
		if !ok {
			continue
		}
		for _, p := range c.ParentIDs {
			if p == c.ID || s.Has(p) || s.IsBoundary(p) {
				continue
			}
			errs = append(errs, &UnknownParentError{Commit: c.ID, Parent: p})
		}
	}
	return errors.Join(errs...)
}

// Collect evicts commits that no current ref can reach and returns how many
// were removed. It only runs after SetRefs changed the ref set, and never
// with an empty ref set.
func (s *Store) Collect() int {
	if !s.gcPending {
		return 0
	}
	s.gcPending = false
	if len(s.refs) == 0 {
		return 0
	}
	reachable := make(map[string]struct{}, len(s.commits))
	stack := make([]string, 0, len(s.refs))
	for _, r := range s.refs {
		stack = append(stack, r.TargetID)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reachable[id]; seen {
			continue
		}
		c, ok := s.commits[id]
		if !ok {
			continue
		}
		reachable[id] = struct{}{}
		stack = append(stack, c.ParentIDs...)
	}
	if len(reachable) == len(s.commits) {
		return 0
	}
	kept := s.order[:0]
	evicted := 0
	for _, id := range s.order {
		if _, ok := reachable[id]; ok {
			kept = append(kept, id)
			continue
		}
		if _, ok := s.commits[id]; ok {
			delete(s.commits, id)
			evicted++
		}
	}
	s.order = kept
	slog.Debug("collected unreachable commits", slog.Int("evicted", evicted), slog.Int("kept", len(kept)))
	return evicted
}

func compareRefs(a, b Ref) int {
	switch {
	case refLess(a, b):
		return -1
	case refLess(b, a):
		return 1
	}
	return 0
}
