package git

import (
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testRepo struct {
	t    *testing.T
	st   *memory.Storage
	repo *gitlib.Repository
	tree plumbing.Hash
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	st := memory.NewStorage()
	repo, err := gitlib.Init(st, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r := &testRepo{t: t, st: st, repo: repo}
	r.tree = r.store(&object.Tree{})
	if err := st.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		t.Fatalf("set HEAD: %v", err)
	}
	return r
}

type encoder interface {
	Encode(plumbing.EncodedObject) error
}

func (r *testRepo) store(o encoder) plumbing.Hash {
	r.t.Helper()
	obj := r.st.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		r.t.Fatalf("encode: %v", err)
	}
	h, err := r.st.SetEncodedObject(obj)
	if err != nil {
		r.t.Fatalf("store object: %v", err)
	}
	return h
}

func (r *testRepo) commit(msg string, minute int, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	sig := object.Signature{Name: "Alice", Email: "alice@example.com", When: epoch.Add(time.Duration(minute) * time.Minute)}
	return r.store(&object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     r.tree,
		ParentHashes: parents,
	})
}

func (r *testRepo) ref(name plumbing.ReferenceName, h plumbing.Hash) {
	r.t.Helper()
	if err := r.st.SetReference(plumbing.NewHashReference(name, h)); err != nil {
		r.t.Fatalf("set %s: %v", name, err)
	}
}

func (r *testRepo) annotatedTag(name string, target plumbing.Hash) {
	r.t.Helper()
	h := r.store(&object.Tag{
		Name:       name,
		Tagger:     object.Signature{Name: "Alice", When: epoch},
		Message:    "release " + name,
		TargetType: plumbing.CommitObject,
		Target:     target,
	})
	r.ref(plumbing.NewTagReferenceName(name), h)
}

func (r *testRepo) source() Source {
	r.t.Helper()
	src, err := NewNative(r.repo, "memory")
	if err != nil {
		r.t.Fatalf("NewNative: %v", err)
	}
	return src
}

// history builds root <- a <- b on main and root <- f on feature.
func history(t *testing.T) (*testRepo, map[string]plumbing.Hash) {
	r := newTestRepo(t)
	h := map[string]plumbing.Hash{}
	h["root"] = r.commit("root commit\n", 0)
	h["a"] = r.commit("add a\n\nlonger body\n", 1, h["root"])
	h["f"] = r.commit("feature work\n", 2, h["root"])
	h["b"] = r.commit("merge feature\n", 3, h["a"], h["f"])
	r.ref(plumbing.NewBranchReferenceName("main"), h["b"])
	r.ref(plumbing.NewBranchReferenceName("feature"), h["f"])
	return r, h
}

func TestNativeListRefs(t *testing.T) {
	t.Parallel()

	r, h := history(t)
	r.ref(plumbing.NewRemoteReferenceName("origin", "main"), h["a"])
	r.ref(plumbing.NewRemoteReferenceName("origin", "HEAD"), h["a"])
	r.ref(plumbing.NewTagReferenceName("v0"), h["root"])
	r.annotatedTag("v1", h["a"])

	refs, err := r.source().ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	want := []graph.Ref{
		{Name: "HEAD", TargetID: h["b"].String(), Kind: graph.RefKindHead},
		{Name: "feature", TargetID: h["f"].String(), Kind: graph.RefKindBranch},
		{Name: "main", TargetID: h["b"].String(), Kind: graph.RefKindBranch},
		{Name: "origin/main", TargetID: h["a"].String(), Kind: graph.RefKindRemoteBranch},
		{Name: "v0", TargetID: h["root"].String(), Kind: graph.RefKindTag},
		{Name: "v1", TargetID: h["a"].String(), Kind: graph.RefKindTag},
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d: %+v", len(refs), len(want), refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Fatalf("ref %d: got %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestNativeListRefsUnbornHead(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	refs, err := r.source().ListRefs()
	if err != nil {
		t.Fatalf("ListRefs: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %+v", refs)
	}
}

func TestNativeListCommits(t *testing.T) {
	t.Parallel()

	r, h := history(t)
	src := r.source()
	commits, err := src.ListCommits(0)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	var got []string
	for _, c := range commits {
		got = append(got, c.ID)
	}
	want := []string{h["b"].String(), h["f"].String(), h["a"].String(), h["root"].String()}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commit %d: got %s, want %s", i, got[i], want[i])
		}
	}

	merge := commits[0]
	if !merge.IsMerge() || merge.ParentIDs[0] != h["a"].String() || merge.ParentIDs[1] != h["f"].String() {
		t.Fatalf("unexpected merge parents: %v", merge.ParentIDs)
	}
	if commits[2].Summary != "add a" {
		t.Fatalf("unexpected summary: %q", commits[2].Summary)
	}
	if commits[3].Author != "Alice" || !commits[3].CommitTime.Equal(epoch) {
		t.Fatalf("unexpected root commit: %+v", commits[3])
	}
	if !commits[3].IsRoot() {
		t.Fatalf("root commit has parents: %v", commits[3].ParentIDs)
	}

	limited, err := src.ListCommits(2)
	if err != nil {
		t.Fatalf("ListCommits(2): %v", err)
	}
	if len(limited) != 2 || limited[0].ID != want[0] || limited[1].ID != want[1] {
		t.Fatalf("unexpected limited listing: %+v", limited)
	}
}

func TestNativeShallowBoundary(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	missing := plumbing.NewHash("ffffffffffffffffffffffffffffffffffffffff")
	base := r.commit("shallow base\n", 0, missing)
	tip := r.commit("tip\n", 1, base)
	r.ref(plumbing.NewBranchReferenceName("main"), tip)
	if err := r.st.SetShallow([]plumbing.Hash{base}); err != nil {
		t.Fatalf("SetShallow: %v", err)
	}

	src := r.source()
	boundary, err := src.BoundaryIDs()
	if err != nil {
		t.Fatalf("BoundaryIDs: %v", err)
	}
	if len(boundary) != 1 || boundary[0] != missing.String() {
		t.Fatalf("unexpected boundary: %v", boundary)
	}

	commits, err := src.ListCommits(0)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected the missing parent to be skipped, got %+v", commits)
	}
}

func TestReadFeedsEngine(t *testing.T) {
	t.Parallel()

	r, h := history(t)
	snap, err := Read(r.source(), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	store := graph.NewStore()
	for _, c := range snap.Commits {
		store.Put(c)
	}
	store.SetRefs(snap.Refs)
	store.MarkBoundary(snap.Boundary...)
	layout, err := graph.NewEngine(store, nil, graph.DefaultOptions()).Build(t.Context())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if layout.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", layout.Len())
	}
	if layout.Rows[0].CommitID != h["b"].String() {
		t.Fatalf("expected merge on top, got %s", layout.Rows[0].CommitID)
	}
	if layout.Width != 2 {
		t.Fatalf("expected width 2, got %d", layout.Width)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "one line", want: "one line"},
		{in: "subject\n\nbody\n", want: "subject"},
		{in: "\n\n  padded  \r\nrest", want: "padded"},
	}
	for _, tt := range tests {
		if got := summary(tt.in); got != tt.want {
			t.Fatalf("summary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
