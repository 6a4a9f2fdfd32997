package graph

import (
	"cmp"
	"slices"
)

// Layout is the renderable result: one row per commit, newest first.
type Layout struct {
	// Generation identifies the layout a Delta must be based on.
	Generation uint64      `json:"generation"`
	Width      int         `json:"width"`
	Rows       []LayoutRow `json:"rows"`
	Lanes      []Lane      `json:"lanes"`

	rowOf map[string]int
}

// ComputeLayout turns an assignment into rows. The row order is the order the
// assignment was computed for. Parents without commit data produce boundary
// edges and parents left out of the order produce truncated edges.
func ComputeLayout(idx *Index, asg *Assignment) *Layout {
	rows := make([]LayoutRow, len(asg.order))
	locate := func(p int) (int, int, bool) {
		row, ok := asg.rowOf[p]
		if !ok {
			return 0, 0, false
		}
		return row, asg.lane[row], true
	}
	for r, n := range asg.order {
		color := asg.lanes[asg.seg[r]].ColorKey
		rows[r] = layoutRow(idx, r, n, asg.lane[r], color, asg.via[r], locate)
	}
	return newLayout(rows, asg.Lanes(), asg.width)
}

func newLayout(rows []LayoutRow, lanes []Lane, width int) *Layout {
	l := &Layout{Width: width, Rows: rows, Lanes: lanes}
	l.index()
	return l
}

func (l *Layout) index() {
	l.rowOf = make(map[string]int, len(l.Rows))
	for i, r := range l.Rows {
		l.rowOf[r.CommitID] = i
	}
}

func (l *Layout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Rows)
}

// RowOf returns the row index of id.
func (l *Layout) RowOf(id string) (int, bool) {
	if l == nil {
		return 0, false
	}
	if l.rowOf == nil {
		l.index()
	}
	i, ok := l.rowOf[id]
	return i, ok
}

func (l *Layout) Row(id string) (LayoutRow, bool) {
	i, ok := l.RowOf(id)
	if !ok {
		return LayoutRow{}, false
	}
	return l.Rows[i], true
}

// laneAt returns the lane instance of column lane covering row.
func (l *Layout) laneAt(lane, row int) (Lane, bool) {
	for _, ln := range l.Lanes {
		if ln.Index == lane && ln.Contains(row) {
			return ln, true
		}
	}
	return Lane{}, false
}

// layoutRow builds the row of commit n. locate resolves a parent to its row
// and dot lane when the parent is laid out.
func layoutRow(idx *Index, row, n, lane int, color string, via []int, locate func(int) (int, int, bool)) LayoutRow {
	out := LayoutRow{Row: row, CommitID: idx.id(n), Lane: lane, Color: color}
	parents := idx.nodes[n].parents
	if len(parents) == 0 {
		return out
	}
	out.Edges = make([]Edge, len(parents))
	for i, p := range parents {
		e := Edge{Parent: idx.id(p), FromLane: lane, ViaLane: lane, ToLane: lane, TargetRow: -1}
		prow, plane, ok := locate(p)
		switch {
		case ok:
			if i < len(via) && via[i] >= 0 {
				e.ViaLane = via[i]
			}
			e.ToLane = plane
			e.TargetRow = prow
			switch {
			case i > 0:
				e.Kind = EdgeMerge
			case e.ViaLane == plane:
				e.Kind = EdgeStraight
			default:
				e.Kind = EdgeConverge
			}
		case idx.nodes[p].present:
			e.Kind = EdgeTruncated
		default:
			e.Kind = EdgeBoundary
		}
		out.Edges[i] = e
	}
	return out
}

// deriveLanes rebuilds lane instances from row geometry. Within a column, the
// dot of a row and every line passing through it form one instance as long as
// they overlap. colorOf picks the color of an instance from its column and
// rows.
func deriveLanes(rows []LayoutRow, colorOf func(lane, start, end int) string) ([]Lane, int) {
	spans := map[int][][2]int{}
	add := func(lane, from, to int) {
		spans[lane] = append(spans[lane], [2]int{from, to})
	}
	for _, r := range rows {
		add(r.Lane, r.Row, r.Row)
		for _, e := range r.Edges {
			if e.Kind.Terminal() {
				add(e.FromLane, r.Row, r.Row)
				continue
			}
			add(e.ViaLane, r.Row, e.TargetRow)
		}
	}
	var lanes []Lane
	width := 0
	for lane, list := range spans {
		width = max(width, lane+1)
		slices.SortFunc(list, func(x, y [2]int) int { return cmp.Compare(x[0], y[0]) })
		cur := list[0]
		for _, s := range list[1:] {
			if s[0] <= cur[1] {
				cur[1] = max(cur[1], s[1])
				continue
			}
			lanes = append(lanes, Lane{Index: lane, Start: cur[0], End: cur[1]})
			cur = s
		}
		lanes = append(lanes, Lane{Index: lane, Start: cur[0], End: cur[1]})
	}
	for i := range lanes {
		lanes[i].ColorKey = colorOf(lanes[i].Index, lanes[i].Start, lanes[i].End)
	}
	return sortedLanes(lanes), width
}
