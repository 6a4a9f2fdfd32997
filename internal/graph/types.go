// Package graph turns raw commit and ref data into a stable "git log --graph"
// style layout: rows ordered newest first, a lane (column) per commit and one
// edge per parent.
//
// The pipeline is Store -> Index -> Order -> AssignLanes -> ComputeLayout, and
// Engine ties it together and applies incremental deltas on top of a previous
// layout.
//
// # Thread Safety
//
// Nothing in this package except RefColors is safe for concurrent use. Callers
// must serialize Engine.Build and Engine.Apply on a single Engine.
package graph

import (
	"fmt"
	"time"
)

type RefKind uint8

const (
	RefKindHead RefKind = iota
	RefKindBranch
	RefKindRemoteBranch
	RefKindTag
)

func (k RefKind) String() string {
	switch k {
	case RefKindHead:
		return "head"
	case RefKindBranch:
		return "branch"
	case RefKindRemoteBranch:
		return "remote"
	case RefKindTag:
		return "tag"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// Commit is an immutable history node as supplied by a Source.
type Commit struct {
	ID         string    `json:"id"`
	ParentIDs  []string  `json:"parents,omitempty"`
	AuthorTime time.Time `json:"author_time"`
	CommitTime time.Time `json:"commit_time"`
	Author     string    `json:"author,omitempty"`
	Summary    string    `json:"summary,omitempty"`

	// Refs is filled in by the store from the current ref set.
	Refs []string `json:"refs,omitempty"`
}

func (c Commit) IsMerge() bool { return len(c.ParentIDs) > 1 }

func (c Commit) IsRoot() bool { return len(c.ParentIDs) == 0 }

func (c Commit) equal(o Commit) bool {
	if c.ID != o.ID || c.Author != o.Author || c.Summary != o.Summary {
		return false
	}
	if !c.AuthorTime.Equal(o.AuthorTime) || !c.CommitTime.Equal(o.CommitTime) {
		return false
	}
	if len(c.ParentIDs) != len(o.ParentIDs) {
		return false
	}
	for i := range c.ParentIDs {
		if c.ParentIDs[i] != o.ParentIDs[i] {
			return false
		}
	}
	return true
}

type Ref struct {
	Name     string  `json:"name"`
	TargetID string  `json:"target"`
	Kind     RefKind `json:"kind"`
	Color    string  `json:"color,omitempty"`
}

// Label is the text a renderer shows next to the commit dot.
func (r Ref) Label() string {
	if r.Kind == RefKindTag {
		return "tag: " + r.Name
	}
	return r.Name
}

// refLess orders refs for primary-ref selection: HEAD, local branches, remote
// branches, then tags; names break ties.
func refLess(a, b Ref) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Name < b.Name
}

// Lane is one contiguous occupancy of a column, rows Start through End.
type Lane struct {
	Index    int    `json:"index"`
	ColorKey string `json:"color"`
	Start    int    `json:"start_row"`
	End      int    `json:"end_row"`
}

func (l Lane) Contains(row int) bool { return row >= l.Start && row <= l.End }

type EdgeKind uint8

const (
	// EdgeStraight stays in one column from child to parent.
	EdgeStraight EdgeKind = iota
	// EdgeConverge runs down the child's column and bends into the parent's
	// column at the parent row (branch point).
	EdgeConverge
	// EdgeMerge leaves a merge commit toward a non-first parent.
	EdgeMerge
	// EdgeBoundary points at a parent whose data is not available.
	EdgeBoundary
	// EdgeTruncated points at a parent that exists but is outside the window.
	EdgeTruncated
)

var edgeKindNames = [...]string{"straight", "converge", "merge", "boundary", "truncated"}

func (k EdgeKind) String() string {
	if int(k) < len(edgeKindNames) {
		return edgeKindNames[k]
	}
	return fmt.Sprintf("EdgeKind(%d)", uint8(k))
}

func (k EdgeKind) MarshalText() ([]byte, error) {
	if int(k) >= len(edgeKindNames) {
		return nil, fmt.Errorf("unknown edge kind %d", uint8(k))
	}
	return []byte(edgeKindNames[k]), nil
}

func (k *EdgeKind) UnmarshalText(b []byte) error {
	for i, name := range edgeKindNames {
		if name == string(b) {
			*k = EdgeKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown edge kind %q", b)
}

// Terminal reports whether the edge ends without a parent row.
func (k EdgeKind) Terminal() bool { return k == EdgeBoundary || k == EdgeTruncated }

type Edge struct {
	Parent    string   `json:"parent"`
	Kind      EdgeKind `json:"kind"`
	FromLane  int      `json:"from_lane"`
	ViaLane   int      `json:"via_lane"`
	ToLane    int      `json:"to_lane"`
	TargetRow int      `json:"target_row"`
}

type LayoutRow struct {
	Row      int    `json:"row"`
	CommitID string `json:"commit"`
	Lane     int    `json:"lane"`
	Color    string `json:"color"`
	Edges    []Edge `json:"edges,omitempty"`
}

// Span returns how many rows the edge covers, or 0 for terminal edges.
func (r LayoutRow) Span(e Edge) int {
	if e.Kind.Terminal() {
		return 0
	}
	return e.TargetRow - r.Row
}

// Shifted returns a copy of the row moved down by n rows.
func (r LayoutRow) Shifted(n int) LayoutRow {
	out := r
	out.Row += n
	if len(r.Edges) == 0 {
		return out
	}
	out.Edges = make([]Edge, len(r.Edges))
	for i, e := range r.Edges {
		if !e.Kind.Terminal() {
			e.TargetRow += n
		}
		out.Edges[i] = e
	}
	return out
}

func (r LayoutRow) equal(o LayoutRow) bool {
	if r.Row != o.Row || r.CommitID != o.CommitID || r.Lane != o.Lane || r.Color != o.Color {
		return false
	}
	if len(r.Edges) != len(o.Edges) {
		return false
	}
	for i := range r.Edges {
		if r.Edges[i] != o.Edges[i] {
			return false
		}
	}
	return true
}
