package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

type gitLogStream struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	r      *bufio.Reader

	waitOnce sync.Once
	waitErr  error
}

func startGitLogStream(repoPath string, logArgs []string) (*gitLogStream, error) {
	if repoPath == "" {
		return nil, fmt.Errorf("repository root not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	args := append([]string{"--no-pager", "-C", repoPath}, logArgs...)
	cmd := exec.CommandContext(ctx, "git", args...)
	var stream gitLogStream
	stream.cancel = cancel
	stream.cmd = cmd
	cmd.Stderr = &stream.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("git log stdout: %w", err)
	}
	stream.stdout = stdout
	stream.r = bufio.NewReader(stdout)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdout.Close()
		if stream.stderr.Len() > 0 {
			return nil, fmt.Errorf("git log start: %v: %s", err, strings.TrimSpace(stream.stderr.String()))
		}
		return nil, fmt.Errorf("git log start: %w", err)
	}
	return &stream, nil
}

func (s *gitLogStream) Next() (graph.Commit, error) {
	rec, err := s.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			if waitErr := s.wait(); waitErr != nil {
				return graph.Commit{}, waitErr
			}
			return graph.Commit{}, io.EOF
		}
		return graph.Commit{}, err
	}
	// Strip trailing NUL.
	rec = rec[:len(rec)-1]
	// git log prints a newline between commits even when the format ends with NUL,
	// so subsequent records can start with '\n'.
	rec = bytes.TrimLeft(rec, "\r\n")
	if len(rec) == 0 {
		return graph.Commit{}, fmt.Errorf("unexpected empty git log record")
	}
	return parseGitLogRecord(rec)
}

func (s *gitLogStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	return s.wait()
}

func (s *gitLogStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		s.cancel()
	})
	if s.waitErr == nil {
		return nil
	}
	if s.stderr.Len() > 0 {
		return fmt.Errorf("git log: %v: %s", s.waitErr, strings.TrimSpace(s.stderr.String()))
	}
	return fmt.Errorf("git log: %w", s.waitErr)
}

func parseGitLogRecord(rec []byte) (graph.Commit, error) {
	parts := strings.Split(string(rec), "\n")
	if len(parts) < 8 {
		return graph.Commit{}, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hash := strings.TrimSpace(parts[0])
	if hash == "" {
		return graph.Commit{}, fmt.Errorf("missing commit hash")
	}
	parents := strings.Fields(parts[1])
	if len(parents) == 0 {
		parents = nil
	}
	authorWhen, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[4]))
	if err != nil {
		return graph.Commit{}, fmt.Errorf("commit %s: author date: %w", hash, err)
	}
	commitWhen, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[7]))
	if err != nil {
		return graph.Commit{}, fmt.Errorf("commit %s: committer date: %w", hash, err)
	}
	message := ""
	if len(parts) > 8 {
		message = strings.Join(parts[8:], "\n")
	}
	return newCommit(hash, parents, parts[2], authorWhen, commitWhen, message), nil
}
