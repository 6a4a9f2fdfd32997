package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Engine owns a Store and the layout computed from it. Build lays out the
// whole window; Apply patches the current layout with a Delta.
type Engine struct {
	store  *Store
	colors *RefColors
	opts   Options

	idx        *Index
	layout     *Layout
	generation uint64
	// stale is set when the store changed but no layout was produced for it.
	stale bool
}

// NewEngine returns an engine over store. A nil store or colors cache is
// replaced by an empty one.
func NewEngine(store *Store, colors *RefColors, opts Options) *Engine {
	if store == nil {
		store = NewStore()
	}
	if colors == nil {
		colors = NewRefColors()
	}
	return &Engine{store: store, colors: colors, opts: opts}
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Colors() *RefColors { return e.colors }

func (e *Engine) Options() Options { return e.opts }

// Layout returns the current layout, or nil before the first Build.
func (e *Engine) Layout() *Layout { return e.layout }

// Index returns the index the current layout was computed from.
func (e *Engine) Index() *Index { return e.idx }

// Issues returns the data problems of the current index.
func (e *Engine) Issues() []error {
	if e.idx == nil {
		return nil
	}
	return e.idx.Issues()
}

// Refs returns the current refs with their colors filled in.
func (e *Engine) Refs() []Ref {
	refs := e.store.Refs()
	for i := range refs {
		refs[i].Color = e.colors.Color(refs[i].Name)
	}
	return refs
}

// Build indexes the store and lays out every commit reachable from the refs,
// up to Options.MaxDepth commits. Commits no ref reaches are evicted first.
// On error the previous layout is kept.
func (e *Engine) Build(ctx context.Context) (*Layout, error) {
	evicted := e.store.Collect()
	idx := BuildIndex(e.store)
	layout, err := e.layoutAll(ctx, idx)
	if err != nil {
		e.stale = true
		return nil, fmt.Errorf("build layout: %w", err)
	}
	e.commit(idx, layout)
	logIssues(idx.Issues())
	slog.Debug("built layout",
		slog.Int("rows", len(layout.Rows)),
		slog.Int("width", layout.Width),
		slog.Int("evicted", evicted),
	)
	return layout, nil
}

func (e *Engine) layoutAll(ctx context.Context, idx *Index) (*Layout, error) {
	e.assignColors()
	slots := idx.reachable(e.heads(idx), e.opts.MaxDepth)
	ordered := idx.order(slots, e.opts.TieBreak)
	asg, err := assign(ctx, idx, ordered, e.opts, e.colors)
	if err != nil {
		return nil, err
	}
	return ComputeLayout(idx, asg), nil
}

func (e *Engine) commit(idx *Index, layout *Layout) {
	e.generation++
	layout.Generation = e.generation
	e.idx = idx
	e.layout = layout
	e.stale = false
}

// heads returns the ref targets, or every commit without children when no
// ref is set.
func (e *Engine) heads(idx *Index) []string {
	refs := e.store.Refs()
	if len(refs) > 0 {
		out := make([]string, len(refs))
		for i, r := range refs {
			out[i] = r.TargetID
		}
		return out
	}
	var out []string
	for _, n := range idx.nodes {
		if n.present && len(n.children) == 0 {
			out = append(out, n.commit.ID)
		}
	}
	return out
}

// assignColors hands out ref colors in name order so a color depends on the
// ref set, not on the row a ref is first met in.
func (e *Engine) assignColors() {
	for _, r := range e.store.Refs() {
		e.colors.Color(r.Name)
	}
}

// Diff compares a fresh listing with the store and returns the Delta that
// brings the current layout up to date with it. Refs whose target is neither
// stored nor listed, as happens past a scan limit, are left out; such a ref
// that the store still holds is removed.
func (e *Engine) Diff(commits []Commit, refs []Ref, boundary []string) Delta {
	d := Delta{}
	if e.layout != nil {
		d.Base = e.layout.Generation
	}
	listed := make(map[string]struct{}, len(commits))
	for _, c := range commits {
		listed[c.ID] = struct{}{}
		if old, ok := e.store.commits[c.ID]; ok && old.equal(c) {
			continue
		}
		d.NewCommits = append(d.NewCommits, c)
	}
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		seen[r.Name] = struct{}{}
		old, ok := e.store.Ref(r.Name)
		if _, inListing := listed[r.TargetID]; !inListing && !e.store.Has(r.TargetID) {
			if ok {
				d.RemovedRefs = append(d.RemovedRefs, r.Name)
			}
			continue
		}
		if ok && old.TargetID == r.TargetID && old.Kind == r.Kind {
			continue
		}
		d.NewRefs = append(d.NewRefs, r)
	}
	for _, r := range e.store.Refs() {
		if _, ok := seen[r.Name]; !ok {
			d.RemovedRefs = append(d.RemovedRefs, r.Name)
		}
	}
	for _, id := range boundary {
		if e.store.Has(id) || e.store.IsBoundary(id) {
			continue
		}
		d.Boundary = append(d.Boundary, id)
	}
	return d
}

// applyStore writes d into the store. It returns the commits that are new to
// the index and whether an indexed commit was rewritten.
func (e *Engine) applyStore(d Delta) ([]Commit, bool) {
	var added []Commit
	rewritten := false
	for _, c := range d.NewCommits {
		known := e.idx != nil && e.idx.Has(c.ID)
		if !e.store.Put(c) {
			continue
		}
		if known {
			rewritten = true
			continue
		}
		added = append(added, c)
	}
	e.store.MarkBoundary(d.Boundary...)
	if len(d.NewRefs) > 0 || len(d.RemovedRefs) > 0 {
		byName := map[string]Ref{}
		for _, r := range e.store.Refs() {
			byName[r.Name] = r
		}
		for _, name := range d.RemovedRefs {
			delete(byName, name)
		}
		for _, r := range d.NewRefs {
			byName[r.Name] = r
		}
		refs := make([]Ref, 0, len(byName))
		for _, r := range byName {
			refs = append(refs, r)
		}
		slices.SortFunc(refs, func(a, b Ref) int { return cmp.Compare(a.Name, b.Name) })
		e.store.SetRefs(refs)
	}
	return added, rewritten
}

// Stale reports whether a failed Apply left the layout behind the store. The
// next Apply lays out again, even for an empty Delta.
func (e *Engine) Stale() bool {
	return e.stale
}

func logIssues(issues []error) {
	for _, issue := range issues {
		slog.Warn("history issue", slog.String("issue", issue.Error()))
	}
}
