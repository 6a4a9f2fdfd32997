// Package git reads commits and refs out of a repository and hands them to the
// graph engine as graph.Commit and graph.Ref values.
//
// The default Source talks to the repository through go-git. Building with the
// gitcli tag swaps it for one that shells out to the git binary.
package git

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

// Source lists the history of one repository.
type Source interface {
	// ListCommits returns commits reachable from the refs, newest committer
	// time first. limit <= 0 means no limit.
	ListCommits(limit int) ([]graph.Commit, error)
	// ListRefs returns branches, remote branches, tags peeled to their
	// commit, and HEAD.
	ListRefs() ([]graph.Ref, error)
	// BoundaryIDs returns parents that the repository knows about but does
	// not store, such as the parents of shallow commits.
	BoundaryIDs() ([]string, error)
	RepoPath() string
}

// Snapshot is one consistent read of a Source.
type Snapshot struct {
	Commits  []graph.Commit
	Refs     []graph.Ref
	Boundary []string
}

// Read lists refs first so every ref target is part of the commit listing that
// follows, unless limit cuts it off.
func Read(src Source, limit int) (Snapshot, error) {
	var snap Snapshot
	refs, err := src.ListRefs()
	if err != nil {
		return snap, fmt.Errorf("list refs: %w", err)
	}
	commits, err := src.ListCommits(limit)
	if err != nil {
		return snap, fmt.Errorf("list commits: %w", err)
	}
	boundary, err := src.BoundaryIDs()
	if err != nil {
		return snap, fmt.Errorf("list boundary: %w", err)
	}
	snap.Refs = refs
	snap.Commits = commits
	snap.Boundary = boundary
	slog.Debug("read repository",
		slog.String("path", src.RepoPath()),
		slog.Int("commits", len(commits)),
		slog.Int("refs", len(refs)),
		slog.Int("boundary", len(boundary)),
	)
	return snap, nil
}

func summary(message string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(message, "\r\n"), "\n")
	return strings.TrimSpace(line)
}

func newCommit(id string, parents []string, author string, authorWhen, commitWhen time.Time, message string) graph.Commit {
	return graph.Commit{
		ID:         id,
		ParentIDs:  parents,
		AuthorTime: authorWhen,
		CommitTime: commitWhen,
		Author:     author,
		Summary:    summary(message),
	}
}

func sortRefs(refs []graph.Ref) {
	slices.SortFunc(refs, func(a, b graph.Ref) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

func newerFirst(a, b graph.Commit) int {
	if c := b.CommitTime.Compare(a.CommitTime); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
