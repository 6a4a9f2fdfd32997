package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func commitAt(id string, minute int, parents ...string) Commit {
	ts := epoch.Add(time.Duration(minute) * time.Minute)
	return Commit{ID: id, ParentIDs: parents, AuthorTime: ts, CommitTime: ts, Author: "Alice", Summary: "commit " + id}
}

func branchRef(name, target string) Ref {
	return Ref{Name: name, TargetID: target, Kind: RefKindBranch}
}

// chain returns n commits c001..cNNN, each the parent of the next, one minute
// apart.
func chain(n int) []Commit {
	out := make([]Commit, n)
	for i := range n {
		id := fmt.Sprintf("c%03d", i+1)
		if i == 0 {
			out[i] = commitAt(id, i)
			continue
		}
		out[i] = commitAt(id, i, out[i-1].ID)
	}
	return out
}

func newStore(commits []Commit, refs ...Ref) *Store {
	s := NewStore()
	for _, c := range commits {
		s.Put(c)
	}
	if len(refs) > 0 {
		s.SetRefs(refs)
	}
	return s
}

func buildEngine(t *testing.T, opts Options, commits []Commit, refs ...Ref) (*Engine, *Layout) {
	t.Helper()
	e := NewEngine(newStore(commits, refs...), NewRefColors(), opts)
	layout, err := e.Build(context.Background())
	require.NoError(t, err)
	return e, layout
}

func rowIDs(rows []LayoutRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.CommitID
	}
	return out
}

// requireConsistent checks the structural properties every layout must have.
func requireConsistent(t *testing.T, l *Layout) {
	t.Helper()
	seen := map[string]bool{}
	for i, row := range l.Rows {
		require.Equal(t, i, row.Row)
		require.False(t, seen[row.CommitID], "duplicate row for %s", row.CommitID)
		seen[row.CommitID] = true
		require.GreaterOrEqual(t, row.Lane, 0)
		require.Less(t, row.Lane, l.Width)
		for _, e := range row.Edges {
			require.Equal(t, row.Lane, e.FromLane)
			if e.Kind.Terminal() {
				require.Equal(t, -1, e.TargetRow)
				continue
			}
			require.Greater(t, e.TargetRow, row.Row, "edge %s -> %s points up", row.CommitID, e.Parent)
			require.Equal(t, e.Parent, l.Rows[e.TargetRow].CommitID)
			require.Equal(t, l.Rows[e.TargetRow].Lane, e.ToLane)
			require.Less(t, e.ViaLane, l.Width)
		}
	}
	for _, ln := range l.Lanes {
		require.Less(t, ln.Index, l.Width)
		require.LessOrEqual(t, ln.Start, ln.End)
	}
}
