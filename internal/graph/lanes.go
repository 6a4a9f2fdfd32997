package graph

import (
	"cmp"
	"context"
	"slices"
)

// cancelCheckRows is how many rows are processed between context checks.
const cancelCheckRows = 256

// Assignment maps each ordered commit to the lane holding its dot and records,
// per parent, the lane the connecting line travels in.
type Assignment struct {
	idx   *Index
	order []int
	rowOf map[int]int

	lane []int
	seg  []int
	via  [][]int

	lanes []Lane
	width int
}

// AssignLanes walks order (newest first) and gives every commit a lane:
//
//   - a single-parent chain stays in its lane;
//   - a merge keeps its first parent in its own lane and routes every other
//     parent through the lane already expecting it, or a new one;
//   - when several lanes expect the same parent, the lane whose line was
//     opened first (its head child was processed first) continues and the
//     others end at the parent row as converge lines. The choice is by line
//     age, not by which child is the parent's nearest row or by the
//     children's ref names: a child that joined an older line wins over a
//     newer child that opened a line of its own;
//   - a lane freed on a row can be taken again from the next row on, lowest
//     index first, unless opts.LaneReuse is off.
//
// It only fails when ctx is done.
func AssignLanes(ctx context.Context, idx *Index, order []string, opts Options, colors *RefColors) (*Assignment, error) {
	slots := make([]int, 0, len(order))
	for _, id := range order {
		if i, ok := idx.slot[id]; ok && idx.nodes[i].present {
			slots = append(slots, i)
		}
	}
	return assign(ctx, idx, slots, opts, colors)
}

func assign(ctx context.Context, idx *Index, slots []int, opts Options, colors *RefColors) (*Assignment, error) {
	a := newAssigner(idx, slots, opts, colors)
	a.inWindow = func(p int) bool {
		_, ok := a.asg.rowOf[p]
		return ok
	}
	if err := a.run(ctx); err != nil {
		return nil, err
	}
	return a.asg, nil
}

// LaneOf returns the lane instance holding the dot of id.
func (a *Assignment) LaneOf(id string) (Lane, bool) {
	i, ok := a.idx.slot[id]
	if !ok {
		return Lane{}, false
	}
	row, ok := a.rowOf[i]
	if !ok {
		return Lane{}, false
	}
	return a.lanes[a.seg[row]], true
}

// Width is the number of columns the layout needs.
func (a *Assignment) Width() int { return a.width }

// Lanes returns every lane instance sorted by start row, then column.
func (a *Assignment) Lanes() []Lane {
	return sortedLanes(a.lanes)
}

func (a *Assignment) Len() int { return len(a.order) }

func sortedLanes(lanes []Lane) []Lane {
	out := slices.Clone(lanes)
	slices.SortFunc(out, func(x, y Lane) int {
		if c := cmp.Compare(x.Start, y.Start); c != 0 {
			return c
		}
		return cmp.Compare(x.Index, y.Index)
	})
	return out
}

// laneSlot is the state of one column while rows are assigned.
type laneSlot struct {
	busy    bool
	closing bool
	expect  int
	seg     int
}

// lanePicker chooses the column for a new lane instance whose line leads to
// expect. It returns a non-empty color to override the lane's own color.
type lanePicker interface {
	pick(a *assigner, expect int) (int, string)
}

type assigner struct {
	idx      *Index
	opts     Options
	colors   *RefColors
	inWindow func(int) bool
	picker   lanePicker

	slots []laneSlot
	asg   *Assignment
}

func newAssigner(idx *Index, slots []int, opts Options, colors *RefColors) *assigner {
	asg := &Assignment{
		idx:   idx,
		order: slots,
		rowOf: make(map[int]int, len(slots)),
		lane:  make([]int, 0, len(slots)),
		seg:   make([]int, 0, len(slots)),
		via:   make([][]int, 0, len(slots)),
	}
	for r, s := range slots {
		asg.rowOf[s] = r
	}
	return &assigner{idx: idx, opts: opts, colors: colors, asg: asg}
}

func (a *assigner) run(ctx context.Context) error {
	for r, n := range a.asg.order {
		if r%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		a.row(r, n)
	}
	return nil
}

func (a *assigner) row(r, n int) {
	lane := -1
	for l := range a.slots {
		s := &a.slots[l]
		if !s.busy || s.closing || s.expect != n {
			continue
		}
		if lane < 0 || s.seg < a.slots[lane].seg {
			lane = l
		}
	}
	for l := range a.slots {
		s := &a.slots[l]
		if l == lane || !s.busy || s.closing || s.expect != n {
			continue
		}
		a.close(l, r)
	}
	if lane < 0 {
		lane = a.open(r, n, n)
	}
	a.asg.lane = append(a.asg.lane, lane)
	a.asg.seg = append(a.asg.seg, a.slots[lane].seg)

	parents := a.idx.nodes[n].parents
	via := make([]int, len(parents))
	continued := false
	for i, p := range parents {
		switch {
		case !a.inWindow(p):
			via[i] = -1
		case i == 0:
			a.claim(lane, p)
			via[i] = lane
			continued = true
		default:
			m := a.expecting(p)
			if m < 0 {
				m = a.open(r, p, p)
				a.claim(m, p)
			}
			via[i] = m
		}
	}
	a.asg.via = append(a.asg.via, via)
	if !continued {
		a.close(lane, r)
	}
	a.endRow(r)
}

func (a *assigner) expecting(p int) int {
	for l := range a.slots {
		s := &a.slots[l]
		if s.busy && !s.closing && s.expect == p {
			return l
		}
	}
	return -1
}

// open starts a lane instance on row r for a line leading to expect. The
// instance takes the color of owner's primary ref, if any.
func (a *assigner) open(r, expect, owner int) int {
	var l int
	var color string
	if a.picker != nil {
		l, color = a.picker.pick(a, expect)
	} else {
		l = a.lowestFree()
	}
	for len(a.slots) <= l {
		a.slots = append(a.slots, laneSlot{expect: -1})
	}
	if color == "" {
		color = a.ownerColor(owner, l)
	}
	a.asg.lanes = append(a.asg.lanes, Lane{Index: l, ColorKey: color, Start: r, End: r})
	a.slots[l] = laneSlot{busy: true, expect: -1, seg: len(a.asg.lanes) - 1}
	a.asg.width = max(a.asg.width, l+1)
	return l
}

func (a *assigner) lowestFree() int {
	if a.opts.LaneReuse {
		for l := range a.slots {
			if !a.slots[l].busy {
				return l
			}
		}
	}
	return len(a.slots)
}

func (a *assigner) claim(l, p int) {
	a.slots[l].expect = p
}

func (a *assigner) close(l, r int) {
	s := &a.slots[l]
	a.asg.lanes[s.seg].End = r
	s.closing = true
	s.expect = -1
}

// endRow extends every open lane instance over row r and releases the lanes
// closed on it.
func (a *assigner) endRow(r int) {
	for l := range a.slots {
		s := &a.slots[l]
		if !s.busy {
			continue
		}
		if s.closing {
			*s = laneSlot{expect: -1}
			continue
		}
		a.asg.lanes[s.seg].End = r
	}
}

func (a *assigner) ownerColor(owner, lane int) string {
	ref, ok := a.idx.primaryRef(owner)
	switch {
	case !ok:
		return fallbackColor(lane)
	case a.colors != nil:
		return a.colors.Color(ref.Name)
	case ref.Color != "":
		return ref.Color
	default:
		return fallbackColor(lane)
	}
}
