package git

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

// DefaultCacheSize bounds the number of decoded commits kept between reads.
const DefaultCacheSize = 1 << 14

type nativeSource struct {
	repo  *gitlib.Repository
	path  string
	cache *lru.Cache[plumbing.Hash, graph.Commit]
}

// OpenNative opens the repository containing repoPath. RepoPath reports the
// worktree root when there is one.
func OpenNative(repoPath string) (Source, error) {
	repo, err := gitlib.PlainOpenWithOptions(repoPath, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if wt, err := repo.Worktree(); err == nil {
		repoPath = wt.Filesystem.Root()
	}
	return NewNative(repo, repoPath)
}

// NewNative wraps an already opened repository, which may use any go-git
// storage.
func NewNative(repo *gitlib.Repository, repoPath string) (Source, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	cache, err := lru.New[plumbing.Hash, graph.Commit](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("commit cache: %w", err)
	}
	return &nativeSource{repo: repo, path: repoPath, cache: cache}, nil
}

func (s *nativeSource) RepoPath() string { return s.path }

func (s *nativeSource) ListRefs() ([]graph.Ref, error) {
	iter, err := s.repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var refs []graph.Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		short := name.Short()
		var kind graph.RefKind
		switch {
		case name.IsBranch():
			kind = graph.RefKindBranch
		case name.IsRemote():
			if strings.HasSuffix(short, "/HEAD") {
				return nil
			}
			kind = graph.RefKindRemoteBranch
		case name.IsTag():
			kind = graph.RefKindTag
		default:
			return nil
		}
		hash, ok := s.peelCommitHash(ref.Hash())
		if !ok {
			slog.Debug("skip ref without commit", slog.String("ref", name.String()))
			return nil
		}
		refs = append(refs, graph.Ref{Name: short, TargetID: hash.String(), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, err
	}

	head, err := s.repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// unborn branch
	case err != nil:
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	default:
		refs = append(refs, graph.Ref{Name: "HEAD", TargetID: head.Hash().String(), Kind: graph.RefKindHead})
	}
	sortRefs(refs)
	return refs, nil
}

// peelCommitHash follows annotated tags down to the commit they point at.
func (s *nativeSource) peelCommitHash(hash plumbing.Hash) (plumbing.Hash, bool) {
	if hash == plumbing.ZeroHash {
		return plumbing.ZeroHash, false
	}
	if _, ok, err := s.commit(hash); err == nil && ok {
		return hash, true
	}
	cur := hash
	for range 8 {
		tag, err := s.repo.TagObject(cur)
		if err != nil {
			return plumbing.ZeroHash, false
		}
		switch tag.TargetType {
		case plumbing.CommitObject:
			return tag.Target, true
		case plumbing.TagObject:
			cur = tag.Target
		default:
			return plumbing.ZeroHash, false
		}
	}
	return plumbing.ZeroHash, false
}

// commit decodes one commit through the cache. ok is false when the object is
// not stored.
func (s *nativeSource) commit(hash plumbing.Hash) (graph.Commit, bool, error) {
	if c, ok := s.cache.Get(hash); ok {
		return c, true, nil
	}
	obj, err := s.repo.CommitObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return graph.Commit{}, false, nil
	}
	if err != nil {
		return graph.Commit{}, false, fmt.Errorf("read commit %s: %w", hash, err)
	}
	c := fromObject(obj)
	s.cache.Add(hash, c)
	return c, true, nil
}

func fromObject(obj *object.Commit) graph.Commit {
	var parents []string
	if len(obj.ParentHashes) > 0 {
		parents = make([]string, len(obj.ParentHashes))
		for i, p := range obj.ParentHashes {
			parents[i] = p.String()
		}
	}
	return newCommit(obj.Hash.String(), parents, obj.Author.Name, obj.Author.When, obj.Committer.When, obj.Message)
}

// ListCommits walks every ref at once by committer time, the way
// "git log --all --date-order" would without the topological constraint.
// Parents that are not stored are skipped; the graph reports them as
// boundary edges.
func (s *nativeSource) ListCommits(limit int) ([]graph.Commit, error) {
	refs, err := s.ListRefs()
	if err != nil {
		return nil, err
	}
	h := &commitHeap{}
	seen := map[string]struct{}{}
	push := func(id string) error {
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		c, ok, err := s.commit(plumbing.NewHash(id))
		if err != nil || !ok {
			return err
		}
		heap.Push(h, c)
		return nil
	}
	for _, ref := range refs {
		if err := push(ref.TargetID); err != nil {
			return nil, err
		}
	}

	var out []graph.Commit
	for h.Len() > 0 && (limit <= 0 || len(out) < limit) {
		c := heap.Pop(h).(graph.Commit)
		out = append(out, c)
		for _, p := range c.ParentIDs {
			if err := push(p); err != nil {
				return nil, err
			}
		}
	}
	slog.Debug("native commit walk", slog.Int("commits", len(out)), slog.Int("cached", s.cache.Len()))
	return out, nil
}

func (s *nativeSource) BoundaryIDs() ([]string, error) {
	shallow, err := s.repo.Storer.Shallow()
	if err != nil {
		return nil, fmt.Errorf("read shallow: %w", err)
	}
	var out []string
	for _, hash := range shallow {
		c, ok, err := s.commit(hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, p := range c.ParentIDs {
			_, stored, err := s.commit(plumbing.NewHash(p))
			if err != nil {
				return nil, err
			}
			if !stored {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

type commitHeap []graph.Commit

func (h commitHeap) Len() int           { return len(h) }
func (h commitHeap) Less(i, j int) bool { return newerFirst(h[i], h[j]) < 0 }
func (h commitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *commitHeap) Push(x any)        { *h = append(*h, x.(graph.Commit)) }
func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
