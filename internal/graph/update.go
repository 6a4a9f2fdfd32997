package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// Delta is a batch of changes computed against the layout with generation
// Base.
type Delta struct {
	Base        uint64   `json:"base"`
	NewCommits  []Commit `json:"new_commits,omitempty"`
	NewRefs     []Ref    `json:"new_refs,omitempty"`
	RemovedRefs []string `json:"removed_refs,omitempty"`
	// Boundary lists parent ids newly known to be unavailable.
	Boundary []string `json:"boundary,omitempty"`
}

func (d Delta) Empty() bool {
	return len(d.NewCommits) == 0 && len(d.NewRefs) == 0 && len(d.RemovedRefs) == 0 && len(d.Boundary) == 0
}

type Result struct {
	// Changed holds the rows that differ from the previous layout shifted by
	// the number of new rows.
	Changed []LayoutRow
	Rows    []LayoutRow
	Layout  *Layout
	// Relayout is set when the whole window was laid out again.
	Relayout bool
	// Issues holds the data problems found while applying the delta.
	Issues []error
}

// Apply writes d into the store and patches the current layout. New commits
// go on top and every row already laid out keeps its lane and color; rows
// only move down by the number of new rows, or up when rows above them left
// the window. When a new commit is older than the newest laid out commit, or
// is a parent of a laid out commit, a *NonMonotonicUpdateError is reported in
// Result.Issues and the whole window is laid out again. Stored commits that
// enter the window without being new, as after a ref removal under MaxDepth,
// are laid out again without an issue.
//
// A delta whose Base is not the current generation fails with ErrForeignDelta.
// On error the previous layout is kept.
func (e *Engine) Apply(ctx context.Context, d Delta) (Result, error) {
	var base uint64
	if e.layout != nil {
		base = e.layout.Generation
	}
	if d.Base != base {
		return Result{}, fmt.Errorf("apply delta for generation %d (current %d): %w", d.Base, base, ErrForeignDelta)
	}
	known := issueSet(e.Issues())
	added, rewritten := e.applyStore(d)
	if e.layout == nil || e.stale || rewritten {
		return e.relayout(ctx, known, nil)
	}

	idx := e.idx
	idx.extend(e.store, added)
	e.assignColors()
	reach := idx.reachable(e.heads(idx), e.opts.MaxDepth)
	p, err := newPatch(e, idx, reach, added)
	if err != nil {
		var nonMonotonic *NonMonotonicUpdateError
		switch {
		case errors.As(err, &nonMonotonic):
			slog.Warn("new history is not above laid out rows, laying out again",
				slog.String("commit", nonMonotonic.Commit),
			)
			return e.relayout(ctx, known, []error{nonMonotonic})
		case errors.Is(err, errWindowRefilled):
			slog.Debug("older history entered the window, laying out again")
			return e.relayout(ctx, known, nil)
		default:
			e.stale = true
			return Result{}, err
		}
	}
	issues := newIssues(known, idx.Issues())
	logIssues(issues)
	if p.noop() {
		return Result{Rows: e.layout.Rows, Layout: e.layout, Issues: issues}, nil
	}
	layout, changed, err := p.run(ctx)
	if err != nil {
		e.stale = true
		return Result{}, fmt.Errorf("apply delta: %w", err)
	}
	e.commit(idx, layout)
	slog.Debug("applied delta",
		slog.Int("fresh", len(p.fresh)),
		slog.Int("kept", len(p.keptOld)),
		slog.Int("changed", len(changed)),
	)
	return Result{
		Changed: changed,
		Rows:    layout.Rows,
		Layout:  layout,
		Issues:  issues,
	}, nil
}

func (e *Engine) relayout(ctx context.Context, known map[string]struct{}, issues []error) (Result, error) {
	layout, err := e.Build(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Changed:  layout.Rows,
		Rows:     layout.Rows,
		Layout:   layout,
		Relayout: true,
		Issues:   append(issues, newIssues(known, e.idx.Issues())...),
	}, nil
}

func issueSet(issues []error) map[string]struct{} {
	out := make(map[string]struct{}, len(issues))
	for _, err := range issues {
		out[err.Error()] = struct{}{}
	}
	return out
}

func newIssues(known map[string]struct{}, issues []error) []error {
	var out []error
	for _, err := range issues {
		if _, ok := known[err.Error()]; ok {
			continue
		}
		out = append(out, err)
	}
	return out
}

// errWindowRefilled reports commits that were already stored but were not
// laid out, such as older history a removed ref no longer pushes out of a
// MaxDepth window. They sort below the kept rows, so the patch cannot place
// them.
var errWindowRefilled = errors.New("stored commits entered the window")

// patch lays out new commits above the kept rows of the previous layout.
type patch struct {
	e   *Engine
	idx *Index
	old *Layout

	fresh   []int
	isFresh map[int]bool
	// keptOld holds the previous row index of every kept row, top to bottom.
	keptOld []int
	// keptRow maps a kept commit to its new row.
	keptRow map[int]int
}

func newPatch(e *Engine, idx *Index, reach []int, added []Commit) (*patch, error) {
	p := &patch{
		e:       e,
		idx:     idx,
		old:     e.layout,
		isFresh: map[int]bool{},
		keptRow: map[int]int{},
	}
	inReach := make(map[int]struct{}, len(reach))
	for _, s := range reach {
		inReach[s] = struct{}{}
	}
	var kept []int
	for r, row := range p.old.Rows {
		s, ok := idx.slot[row.CommitID]
		if !ok {
			continue
		}
		if _, ok := inReach[s]; ok {
			p.keptOld = append(p.keptOld, r)
			kept = append(kept, s)
		}
	}
	isNew := make(map[string]bool, len(added))
	for _, c := range added {
		isNew[c.ID] = true
	}
	refilled := false
	for _, s := range reach {
		if _, ok := p.old.RowOf(idx.id(s)); ok {
			continue
		}
		if !isNew[idx.id(s)] {
			refilled = true
			continue
		}
		p.fresh = append(p.fresh, s)
		p.isFresh[s] = true
	}
	k := len(p.fresh)
	for i, s := range kept {
		p.keptRow[s] = k + i
	}
	if err := p.checkMonotonic(kept); err != nil {
		return nil, err
	}
	if refilled {
		return nil, errWindowRefilled
	}
	return p, nil
}

// checkMonotonic verifies that no fresh commit is older than the newest kept
// one or a parent of a kept commit. Equal commit times pass: commit times
// have second resolution and fresh rows go above the kept ones regardless of
// the tie-break.
func (p *patch) checkMonotonic(kept []int) error {
	if len(p.fresh) == 0 || len(kept) == 0 {
		return nil
	}
	newest := p.idx.nodes[kept[0]].commit.CommitTime
	for _, s := range kept[1:] {
		if t := p.idx.nodes[s].commit.CommitTime; t.After(newest) {
			newest = t
		}
	}
	for _, f := range p.fresh {
		when := p.idx.nodes[f].commit.CommitTime
		belowKept := slices.ContainsFunc(p.idx.nodes[f].children, func(c int) bool {
			_, ok := p.keptRow[c]
			return ok
		})
		if !when.Before(newest) && !belowKept {
			continue
		}
		return &NonMonotonicUpdateError{Commit: p.idx.id(f), Time: when, Newest: newest}
	}
	return nil
}

func (p *patch) noop() bool {
	return len(p.fresh) == 0 && len(p.keptOld) == len(p.old.Rows)
}

func (p *patch) run(ctx context.Context) (*Layout, []LayoutRow, error) {
	k := len(p.fresh)
	oldToNew := make(map[int]int, len(p.keptOld))
	for i, r := range p.keptOld {
		oldToNew[r] = k + i
	}
	kept := make([]LayoutRow, len(p.keptOld))
	for i, r := range p.keptOld {
		kept[i] = remapRow(p.old.Rows[r], k+i, oldToNew)
	}
	oldLanes := newLaneFinder(p.old.Lanes)
	keptLanes, _ := deriveLanes(kept, func(lane, start, _ int) string {
		if ln, ok := oldLanes.at(lane, p.keptOld[start-k]); ok {
			return ln.ColorKey
		}
		return fallbackColor(lane)
	})

	ordered := p.idx.order(p.fresh, p.e.opts.TieBreak)
	a := newAssigner(p.idx, ordered, p.e.opts, p.e.colors)
	a.inWindow = func(s int) bool {
		if _, ok := a.asg.rowOf[s]; ok {
			return true
		}
		_, ok := p.keptRow[s]
		return ok
	}
	a.picker = newPinnedPicker(p, kept, keptLanes)
	if err := a.run(ctx); err != nil {
		return nil, nil, err
	}

	locate := func(s int) (int, int, bool) {
		if r, ok := a.asg.rowOf[s]; ok {
			return r, a.asg.lane[r], true
		}
		if r, ok := p.keptRow[s]; ok {
			return r, kept[r-k].Lane, true
		}
		return 0, 0, false
	}
	rows := make([]LayoutRow, 0, k+len(kept))
	for r, n := range a.asg.order {
		color := a.asg.lanes[a.asg.seg[r]].ColorKey
		rows = append(rows, layoutRow(p.idx, r, n, a.asg.lane[r], color, a.asg.via[r], locate))
	}
	rows = append(rows, kept...)

	freshLanes := newLaneFinder(a.asg.lanes)
	keptFinder := newLaneFinder(keptLanes)
	lanes, width := deriveLanes(rows, func(lane, start, _ int) string {
		f := keptFinder
		if start < k {
			f = freshLanes
		}
		if ln, ok := f.at(lane, start); ok {
			return ln.ColorKey
		}
		return fallbackColor(lane)
	})

	changed := slices.Clone(rows[:k])
	for i, r := range p.keptOld {
		if !kept[i].equal(p.old.Rows[r].Shifted(k)) {
			changed = append(changed, kept[i])
		}
	}
	return newLayout(rows, lanes, width), changed, nil
}

// remapRow moves a kept row to row. Edges to rows that left the layout become
// truncated.
func remapRow(old LayoutRow, row int, oldToNew map[int]int) LayoutRow {
	out := old
	out.Row = row
	if len(old.Edges) == 0 {
		return out
	}
	out.Edges = make([]Edge, len(old.Edges))
	for i, e := range old.Edges {
		if !e.Kind.Terminal() {
			if t, ok := oldToNew[e.TargetRow]; ok {
				e.TargetRow = t
			} else {
				e.Kind = EdgeTruncated
				e.ViaLane = e.FromLane
				e.ToLane = e.FromLane
				e.TargetRow = -1
			}
		}
		out.Edges[i] = e
	}
	return out
}

// pinnedPicker places new lines around the kept rows: a line ending at a kept
// row q only takes a column that no kept row uses at or above q, or the
// column of the kept commit itself when that commit starts its lane.
type pinnedPicker struct {
	p        *patch
	kept     []LayoutRow
	lanes    laneFinder
	firstUse map[int]int
	oldWidth int
	memo     map[int]pinTarget
}

type pinTarget struct {
	row, lane int
	ok        bool
}

func newPinnedPicker(p *patch, kept []LayoutRow, keptLanes []Lane) *pinnedPicker {
	pp := &pinnedPicker{
		p:        p,
		kept:     kept,
		lanes:    newLaneFinder(keptLanes),
		firstUse: map[int]int{},
		memo:     map[int]pinTarget{},
	}
	for _, ln := range keptLanes {
		if cur, ok := pp.firstUse[ln.Index]; !ok || ln.Start < cur {
			pp.firstUse[ln.Index] = ln.Start
		}
		pp.oldWidth = max(pp.oldWidth, ln.Index+1)
	}
	return pp
}

// target follows first parents from s through fresh commits to the kept row
// the line would end on.
func (pp *pinnedPicker) target(s int) pinTarget {
	k := len(pp.p.fresh)
	var path []int
	var t pinTarget
	for cur := s; len(path) <= k; {
		if m, ok := pp.memo[cur]; ok {
			t = m
			break
		}
		if row, ok := pp.p.keptRow[cur]; ok {
			t = pinTarget{row: row, lane: pp.kept[row-k].Lane, ok: true}
			break
		}
		if !pp.p.isFresh[cur] {
			break
		}
		path = append(path, cur)
		parents := pp.p.idx.nodes[cur].parents
		if len(parents) == 0 {
			break
		}
		cur = parents[0]
	}
	for _, s := range path {
		pp.memo[s] = t
	}
	return t
}

func (pp *pinnedPicker) pick(a *assigner, expect int) (int, string) {
	free := func(l int) bool { return l >= len(a.slots) || !a.slots[l].busy }
	t := pp.target(expect)
	if t.ok && free(t.lane) && pp.firstUse[t.lane] == t.row {
		if ln, ok := pp.lanes.at(t.lane, t.row); ok {
			return t.lane, ln.ColorKey
		}
	}
	limit := max(len(a.slots), pp.oldWidth)
	if !a.opts.LaneReuse {
		return limit, ""
	}
	for l := 0; l < limit; l++ {
		if !free(l) {
			continue
		}
		if first, used := pp.firstUse[l]; t.ok && used && first <= t.row {
			continue
		}
		return l, ""
	}
	return limit, ""
}

// laneFinder looks up lane instances by column and row.
type laneFinder map[int][]Lane

func newLaneFinder(lanes []Lane) laneFinder {
	f := laneFinder{}
	for _, ln := range lanes {
		f[ln.Index] = append(f[ln.Index], ln)
	}
	for i := range f {
		slices.SortFunc(f[i], func(x, y Lane) int { return x.Start - y.Start })
	}
	return f
}

func (f laneFinder) at(lane, row int) (Lane, bool) {
	list := f[lane]
	i := sort.Search(len(list), func(i int) bool { return list[i].End >= row })
	if i < len(list) && list[i].Contains(row) {
		return list[i], true
	}
	return Lane{}, false
}
