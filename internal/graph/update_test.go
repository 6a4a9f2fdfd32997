package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNewCommitOnTop(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(100), branchRef("main", "c100"))
	require.Len(t, before.Rows, 100)

	res, err := e.Apply(context.Background(), Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("c101", 200, "c100")},
		NewRefs:    []Ref{branchRef("main", "c101")},
	})
	require.NoError(t, err)
	assert.False(t, res.Relayout)
	require.Len(t, res.Rows, 101)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "c101", res.Changed[0].CommitID)
	for i, row := range before.Rows {
		assert.Equal(t, row.Shifted(1), res.Rows[i+1], "row %d", i)
	}
	assert.Equal(t, before.Rows[0].Color, res.Rows[0].Color)
	assert.Equal(t, Edge{Parent: "c100", Kind: EdgeStraight, TargetRow: 1}, res.Rows[0].Edges[0])
	assert.Same(t, res.Layout, e.Layout())
	assert.Greater(t, res.Layout.Generation, before.Generation)
	requireConsistent(t, res.Layout)
}

func TestApplyNewRootCommit(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(100), branchRef("main", "c100"))

	res, err := e.Apply(context.Background(), Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("orphan", 300)},
		NewRefs:    []Ref{branchRef("gh-pages", "orphan")},
	})
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "orphan", res.Changed[0].CommitID)
	assert.Empty(t, res.Rows[0].Edges)
	for i, row := range before.Rows {
		assert.Equal(t, row.Shifted(1), res.Rows[i+1])
	}
	requireConsistent(t, res.Layout)
}

func TestApplyMergedTopicAboveHistory(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(5), branchRef("main", "c005"))

	res, err := e.Apply(context.Background(), Delta{
		Base: before.Generation,
		NewCommits: []Commit{
			commitAt("f1", 10, "c003"),
			commitAt("f2", 11, "f1"),
			commitAt("m", 12, "c005", "f2"),
		},
		NewRefs: []Ref{branchRef("main", "m"), branchRef("feature", "f2")},
	})
	require.NoError(t, err)
	require.False(t, res.Relayout)
	requireConsistent(t, res.Layout)

	assert.Equal(t, []string{"m", "f2", "f1", "c005", "c004", "c003", "c002", "c001"}, rowIDs(res.Rows))
	assert.Len(t, res.Changed, 3)
	for i, row := range before.Rows {
		assert.Equal(t, row.Shifted(3), res.Rows[i+3])
	}
	m, _ := res.Layout.Row("m")
	f1, _ := res.Layout.Row("f1")
	assert.Equal(t, 0, m.Lane)
	assert.Equal(t, EdgeStraight, m.Edges[0].Kind)
	assert.Equal(t, EdgeMerge, m.Edges[1].Kind)
	assert.NotEqual(t, 0, f1.Lane, "the feature line may not cross main's lane")
	assert.Equal(t, EdgeConverge, f1.Edges[0].Kind)
}

func TestApplyRemovedRefDropsRows(t *testing.T) {
	t.Parallel()

	commits := append(chain(4), commitAt("t1", 10, "c002"), commitAt("t2", 11, "t1"))
	e, before := buildEngine(t, DefaultOptions(), commits, branchRef("main", "c004"), branchRef("topic", "t2"))
	require.Len(t, before.Rows, 6)

	res, err := e.Apply(context.Background(), Delta{Base: before.Generation, RemovedRefs: []string{"topic"}})
	require.NoError(t, err)
	assert.False(t, res.Relayout)
	assert.Equal(t, []string{"c004", "c003", "c002", "c001"}, rowIDs(res.Rows))
	requireConsistent(t, res.Layout)

	for _, row := range res.Rows {
		old, ok := before.Row(row.CommitID)
		require.True(t, ok)
		assert.Equal(t, old.Lane, row.Lane, row.CommitID)
		assert.Equal(t, old.Color, row.Color, row.CommitID)
	}
}

func TestApplyWindowTruncatesOldRows(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MaxDepth = 5
	e, before := buildEngine(t, opts, chain(5), branchRef("main", "c005"))

	res, err := e.Apply(context.Background(), Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("c006", 50, "c005")},
		NewRefs:    []Ref{branchRef("main", "c006")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c006", "c005", "c004", "c003", "c002"}, rowIDs(res.Rows))

	last := res.Rows[4]
	require.Len(t, last.Edges, 1)
	assert.Equal(t, EdgeTruncated, last.Edges[0].Kind)
	assert.Equal(t, []string{"c006", "c002"}, rowIDs(res.Changed))
}

func TestApplyNonMonotonicFallsBackToRelayout(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(5), branchRef("main", "c005"))

	res, err := e.Apply(context.Background(), Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("late", 1, "c001")},
		NewRefs:    []Ref{branchRef("backport", "late")},
	})
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	assert.Len(t, res.Rows, 6)
	require.NotEmpty(t, res.Issues)
	var nm *NonMonotonicUpdateError
	require.ErrorAs(t, res.Issues[0], &nm)
	assert.Equal(t, "late", nm.Commit)
	requireConsistent(t, res.Layout)
}

func TestApplyEqualTimeCommitStaysIncremental(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tb   TieBreak
		refs []Ref
	}{
		{name: "commit id", tb: TieBreakCommitID, refs: []Ref{branchRef("main", "c005")}},
		// a-release keeps c005 ahead of c006 in ref-name order.
		{name: "ref name", tb: TieBreakRefName, refs: []Ref{branchRef("main", "c005"), branchRef("a-release", "c005")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			opts.TieBreak = tt.tb
			e, before := buildEngine(t, opts, chain(5), tt.refs...)

			res, err := e.Apply(context.Background(), Delta{
				Base:       before.Generation,
				NewCommits: []Commit{commitAt("c006", 4, "c005")},
				NewRefs:    []Ref{branchRef("main", "c006")},
			})
			require.NoError(t, err)
			assert.False(t, res.Relayout)
			assert.Empty(t, res.Issues)
			assert.Equal(t, []string{"c006"}, rowIDs(res.Changed))
			for i, row := range before.Rows {
				assert.Equal(t, row.Shifted(1), res.Rows[i+1], "row %d", i)
			}
			requireConsistent(t, res.Layout)
		})
	}
}

func TestApplyOnlyOlderCommitIsNonMonotonic(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(5), branchRef("main", "c005"))

	// A new root with the newest row's time goes on top.
	res, err := e.Apply(context.Background(), Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("side", 4)},
		NewRefs:    []Ref{branchRef("side", "side")},
	})
	require.NoError(t, err)
	assert.False(t, res.Relayout)
	assert.Empty(t, res.Issues)
	assert.Equal(t, "side", res.Rows[0].CommitID)

	res, err = e.Apply(context.Background(), Delta{
		Base:       res.Layout.Generation,
		NewCommits: []Commit{commitAt("early", 3)},
		NewRefs:    []Ref{branchRef("early", "early")},
	})
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	require.Len(t, res.Issues, 1)
	var nm *NonMonotonicUpdateError
	require.ErrorAs(t, res.Issues[0], &nm)
	assert.Equal(t, "early", nm.Commit)
	assert.Equal(t, epoch.Add(4*time.Minute), nm.Newest)
	requireConsistent(t, res.Layout)
}

func TestApplyRemovedRefRefillsWindow(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.MaxDepth = 4
	commits := append(chain(6), commitAt("t1", 10, "c003"), commitAt("t2", 11, "t1"))
	e, before := buildEngine(t, opts, commits, branchRef("main", "c006"), branchRef("topic", "t2"))
	require.Equal(t, []string{"t2", "t1", "c006", "c005"}, rowIDs(before.Rows))

	res, err := e.Apply(context.Background(), Delta{Base: before.Generation, RemovedRefs: []string{"topic"}})
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	assert.Empty(t, res.Issues)
	assert.Equal(t, []string{"c006", "c005", "c004", "c003"}, rowIDs(res.Rows))
	requireConsistent(t, res.Layout)
}

func TestApplyFilledBoundaryRelayouts(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), []Commit{commitAt("b", 10, "a")}, branchRef("main", "b"))
	require.Len(t, e.Issues(), 1)

	res, err := e.Apply(context.Background(), Delta{Base: before.Generation, NewCommits: []Commit{commitAt("a", 0)}})
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	assert.Equal(t, []string{"b", "a"}, rowIDs(res.Rows))
	assert.Empty(t, e.Issues())
}

func TestApplyForeignDelta(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(3), branchRef("main", "c003"))

	_, err := e.Apply(context.Background(), Delta{Base: before.Generation + 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForeignDelta))
	assert.Same(t, before, e.Layout())
}

func TestApplyCancelledKeepsLayout(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(3), branchRef("main", "c003"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Apply(ctx, Delta{
		Base:       before.Generation,
		NewCommits: []Commit{commitAt("c004", 10, "c003")},
		NewRefs:    []Ref{branchRef("main", "c004")},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Same(t, before, e.Layout())
	assert.True(t, e.Stale())

	// The store already holds c004, so the next delta lays everything out.
	res, err := e.Apply(context.Background(), e.Diff(nil, e.Store().Refs(), nil))
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	assert.Equal(t, "c004", res.Rows[0].CommitID)
	assert.False(t, e.Stale())
}

func TestApplyEmptyDeltaIsNoop(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(3), branchRef("main", "c003"))
	res, err := e.Apply(context.Background(), Delta{Base: before.Generation})
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Same(t, before, res.Layout)
}

func TestApplyWithoutBuild(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, nil, DefaultOptions())
	res, err := e.Apply(context.Background(), Delta{
		NewCommits: chain(2),
		NewRefs:    []Ref{branchRef("main", "c002")},
	})
	require.NoError(t, err)
	assert.True(t, res.Relayout)
	assert.Equal(t, []string{"c002", "c001"}, rowIDs(res.Rows))
}

func TestEngineDiff(t *testing.T) {
	t.Parallel()

	e, before := buildEngine(t, DefaultOptions(), chain(3), branchRef("main", "c003"), branchRef("old", "c001"))
	commits := append(chain(3), commitAt("c004", 10, "c003"))

	d := e.Diff(commits, []Ref{branchRef("main", "c004")}, []string{"gone"})
	assert.Equal(t, before.Generation, d.Base)
	assert.Equal(t, []string{"c004"}, rowIDs(toRows(d.NewCommits)))
	assert.Equal(t, []Ref{branchRef("main", "c004")}, d.NewRefs)
	assert.Equal(t, []string{"old"}, d.RemovedRefs)
	assert.Equal(t, []string{"gone"}, d.Boundary)
	assert.False(t, d.Empty())

	assert.True(t, e.Diff(chain(3), e.Store().Refs(), nil).Empty())
}

func TestEngineDiffSkipsUnresolvableRefs(t *testing.T) {
	t.Parallel()

	e, _ := buildEngine(t, DefaultOptions(), chain(3), branchRef("main", "c003"), branchRef("topic", "c002"))

	// release points past the listing; it must not show up on every refresh.
	refs := append(e.Store().Refs(), branchRef("release", "beyond-limit"))
	assert.True(t, e.Diff(chain(3), refs, nil).Empty())

	d := e.Diff(chain(3), []Ref{branchRef("main", "c003"), branchRef("topic", "beyond-limit")}, nil)
	assert.Empty(t, d.NewRefs)
	assert.Equal(t, []string{"topic"}, d.RemovedRefs)

	d = e.Diff(append(chain(3), commitAt("c004", 10, "c003")), []Ref{branchRef("main", "c004"), branchRef("topic", "c002")}, nil)
	assert.Equal(t, []Ref{branchRef("main", "c004")}, d.NewRefs)
	assert.Empty(t, d.RemovedRefs)
}

func toRows(commits []Commit) []LayoutRow {
	out := make([]LayoutRow, len(commits))
	for i, c := range commits {
		out[i] = LayoutRow{CommitID: c.ID}
	}
	return out
}

// TestApplyKeepsLanesStable grows a random history in batches and checks that
// every batch leaves the rows laid out before it untouched.
func TestApplyKeepsLanesStable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tb   TieBreak
		// tied gives three commits the same commit time.
		tied bool
		refs bool
	}{
		{name: "distinct times", tb: TieBreakRefName},
		{name: "tied times by ref name", tb: TieBreakRefName, tied: true, refs: true},
		{name: "tied times by commit id", tb: TieBreakCommitID, tied: true, refs: true},
		{name: "tied times without refs", tb: TieBreakRefName, tied: true},
	}
	for _, tt := range tests {
		for seed := range uint64(10) {
			t.Run(fmt.Sprintf("%s/%d", tt.name, seed), func(t *testing.T) {
				t.Parallel()

				history := randomHistory(seed, 240, 8)
				if tt.tied {
					history = tieTimes(history, 3)
				}
				refsAt := func(end int) []Ref {
					if !tt.refs {
						return nil
					}
					return tipRefs(history[:end])
				}
				opts := DefaultOptions()
				opts.TieBreak = tt.tb
				e, layout := buildEngine(t, opts, history[:40], refsAt(40)...)
				for start := 40; start < len(history); start += 25 {
					end := min(start+25, len(history))
					d := e.Diff(history[:end], refsAt(end), nil)
					res, err := e.Apply(context.Background(), d)
					require.NoError(t, err)
					require.False(t, res.Relayout, "batch %d", start)
					require.Empty(t, res.Issues, "batch %d", start)
					requireConsistent(t, res.Layout)

					k := len(res.Rows) - len(layout.Rows)
					require.Equal(t, end-start, k)
					require.Len(t, res.Changed, k)
					for i, row := range layout.Rows {
						require.Equal(t, row.Shifted(k), res.Rows[i+k])
					}
					layout = res.Layout
				}
				require.Equal(t, len(history), layout.Len())
			})
		}
	}
}

// tieTimes gives every run of n consecutive commits the same commit time.
func tieTimes(commits []Commit, n int) []Commit {
	out := make([]Commit, len(commits))
	for i, c := range commits {
		ts := epoch.Add(time.Duration(i/n) * time.Minute)
		c.AuthorTime, c.CommitTime = ts, ts
		out[i] = c
	}
	return out
}

// tipRefs names the childless commits tip-00, tip-01... in id order and points
// main at the last commit, so the names move to other commits as history
// grows.
func tipRefs(commits []Commit) []Ref {
	hasChild := map[string]bool{}
	for _, c := range commits {
		for _, p := range c.ParentIDs {
			hasChild[p] = true
		}
	}
	var tips []string
	for _, c := range commits {
		if !hasChild[c.ID] {
			tips = append(tips, c.ID)
		}
	}
	slices.Sort(tips)
	refs := []Ref{branchRef("main", commits[len(commits)-1].ID)}
	for i, id := range tips {
		refs = append(refs, branchRef(fmt.Sprintf("tip-%02d", i), id))
	}
	return refs
}
