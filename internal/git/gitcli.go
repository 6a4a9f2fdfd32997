package git

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

// gitCLI reads the repository through the git executable.
type gitCLI struct {
	path string
}

func OpenCLI(repoPath string) (Source, error) {
	if err := ensureMinGitVersion(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	tmp := &gitCLI{path: abs}
	root, err := tmp.runGitCommand([]string{"rev-parse", "--show-toplevel"}, false, "git rev-parse")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("open repository: git rev-parse returned empty root")
	}
	return &gitCLI{path: root}, nil
}

func (g *gitCLI) RepoPath() string {
	if g == nil {
		return ""
	}
	return g.path
}

func (g *gitCLI) runGitCommand(args []string, allowExit1 bool, context string) (string, error) {
	if g == nil || g.path == "" {
		return "", fmt.Errorf("repository root not set")
	}
	cmdArgs := append([]string{"-C", g.path}, args...)
	cmd := exec.Command("git", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case allowExit1 && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stderr.Len() == 0:
		// show-ref and rev-parse -q signal "nothing found" with exit code 1
	case stderr.Len() > 0:
		return "", fmt.Errorf("%s: %v: %s", context, err, strings.TrimSpace(stderr.String()))
	default:
		return "", fmt.Errorf("%s: %w", context, err)
	}
	return stdout.String(), nil
}

func (g *gitCLI) ListRefs() ([]graph.Ref, error) {
	out, err := g.runGitCommand([]string{"--no-pager", "show-ref", "--dereference"}, true, "git show-ref")
	if err != nil {
		return nil, err
	}
	refs, err := parseRefsFromShowRef(out)
	if err != nil {
		return nil, err
	}
	head, err := g.headHash()
	if err != nil {
		return nil, err
	}
	if head != "" {
		refs = append(refs, graph.Ref{Name: "HEAD", TargetID: head, Kind: graph.RefKindHead})
	}
	sortRefs(refs)
	return refs, nil
}

// headHash is empty on an unborn branch.
func (g *gitCLI) headHash() (string, error) {
	out, err := g.runGitCommand([]string{"rev-parse", "-q", "--verify", "HEAD^{commit}"}, true, "git rev-parse")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *gitCLI) ListCommits(limit int) ([]graph.Commit, error) {
	shallow, err := g.shallowParents()
	if err != nil {
		return nil, err
	}
	head, err := g.headHash()
	if err != nil {
		return nil, err
	}
	stream, err := startGitLogStream(g.path, logArgs(limit, head != ""))
	if err != nil {
		return nil, err
	}
	var out []graph.Commit
	for {
		c, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = stream.Close()
			return nil, err
		}
		// git hides the parents of shallow commits; the raw object still
		// names them.
		if parents, ok := shallow[c.ID]; ok {
			c.ParentIDs = parents
		}
		out = append(out, c)
	}
	slog.Debug("git log stream done", slog.Int("commits", len(out)))
	return out, nil
}

func (g *gitCLI) BoundaryIDs() ([]string, error) {
	shallow, err := g.shallowParents()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, parents := range shallow {
		out = append(out, parents...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// shallowParents maps every shallow commit to the parents recorded in its raw
// object.
func (g *gitCLI) shallowParents() (map[string][]string, error) {
	out, err := g.runGitCommand([]string{"rev-parse", "--git-path", "shallow"}, false, "git rev-parse")
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(out)
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.path, path)
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shallow file: %w", err)
	}
	ids := parseShallowFile(string(raw))
	if len(ids) == 0 {
		return nil, nil
	}
	parents := make(map[string][]string, len(ids))
	for _, id := range ids {
		obj, err := g.runGitCommand([]string{"cat-file", "commit", id}, false, "git cat-file")
		if err != nil {
			return nil, err
		}
		parents[id] = parseRawParents(obj)
	}
	return parents, nil
}

func parseShallowFile(raw string) []string {
	var ids []string
	for _, line := range strings.Split(raw, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseRawParents reads the "parent" headers of a raw commit object.
func parseRawParents(raw string) []string {
	var parents []string
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			break
		}
		if id, ok := strings.CutPrefix(line, "parent "); ok {
			parents = append(parents, strings.TrimSpace(id))
		}
	}
	return parents
}

func parseRefsFromShowRef(out string) ([]graph.Ref, error) {
	type refEntry struct {
		hash string
		ref  string
	}

	peeledByTagRef := map[string]string{}
	var entries []refEntry

	for _, rawLine := range strings.Split(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		hash, refName := parts[0], parts[1]
		if base, ok := strings.CutSuffix(refName, "^{}"); ok {
			if base != "" {
				peeledByTagRef[base] = hash
			}
			continue
		}
		entries = append(entries, refEntry{hash: hash, ref: refName})
	}

	var refs []graph.Ref
	for _, entry := range entries {
		var (
			kind  graph.RefKind
			short string
			ok    bool
		)
		hash := entry.hash
		if short, ok = strings.CutPrefix(entry.ref, "refs/tags/"); ok {
			kind = graph.RefKindTag
			if peeled := peeledByTagRef[entry.ref]; peeled != "" {
				hash = peeled
			}
		} else if short, ok = strings.CutPrefix(entry.ref, "refs/heads/"); ok {
			kind = graph.RefKindBranch
		} else if short, ok = strings.CutPrefix(entry.ref, "refs/remotes/"); ok {
			if strings.HasSuffix(short, "/HEAD") {
				continue
			}
			kind = graph.RefKindRemoteBranch
		}
		if !ok || short == "" {
			continue
		}
		refs = append(refs, graph.Ref{Name: short, TargetID: hash, Kind: kind})
	}
	return refs, nil
}

func logArgs(limit int, withHead bool) []string {
	// NUL-delimited records; commit message cannot contain NUL.
	const format = "%H%n%P%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"
	args := []string{
		"log",
		"--no-color",
		"--no-decorate",
		"--date-order",
		"--no-patch",
		// Use tformat to avoid git log adding an extra newline after each record.
		"--pretty=tformat:" + format,
	}
	if limit > 0 {
		args = append(args, "--max-count="+strconv.Itoa(limit))
	}
	args = append(args, "--branches", "--remotes", "--tags")
	if withHead {
		args = append(args, "HEAD")
	}
	return append(args, "--")
}
