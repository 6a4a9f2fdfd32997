// Package session keeps one repository's layout current: Load builds it from
// a full listing and Refresh folds later listings in as deltas.
//
// Load and Refresh are serialized, so a watcher goroutine may call Refresh
// while the host reads Layout.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thiagokokada/gitgraph/internal/git"
	"github.com/thiagokokada/gitgraph/internal/graph"
)

var ErrNotLoaded = errors.New("session not loaded")

type Session struct {
	mu        sync.Mutex
	src       git.Source
	engine    *graph.Engine
	scanLimit int
	loaded    bool
}

// New wraps src. scanLimit bounds every listing; zero lists everything.
func New(src git.Source, colors *graph.RefColors, opts graph.Options, scanLimit int) *Session {
	return &Session{
		src:       src,
		engine:    graph.NewEngine(graph.NewStore(), colors, opts),
		scanLimit: scanLimit,
	}
}

func (s *Session) RepoPath() string { return s.src.RepoPath() }

// Load reads the whole listing into the store and lays it out from scratch.
func (s *Session) Load(ctx context.Context) (*graph.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := git.Read(s.src, s.scanLimit)
	if err != nil {
		return nil, err
	}
	store := s.engine.Store()
	for _, c := range snap.Commits {
		store.Put(c)
	}
	store.SetRefs(snap.Refs)
	store.MarkBoundary(snap.Boundary...)
	layout, err := s.engine.Build(ctx)
	if err != nil {
		return nil, err
	}
	s.loaded = true
	slog.Debug("session loaded", slog.String("path", s.src.RepoPath()), slog.Int("rows", layout.Len()))
	return layout, nil
}

// Refresh reads the listing again and applies what changed since the last
// layout.
func (s *Session) Refresh(ctx context.Context) (graph.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return graph.Result{}, ErrNotLoaded
	}
	snap, err := git.Read(s.src, s.scanLimit)
	if err != nil {
		return graph.Result{}, err
	}
	d := s.engine.Diff(snap.Commits, snap.Refs, snap.Boundary)
	if d.Empty() && !s.engine.Stale() {
		return graph.Result{Rows: s.engine.Layout().Rows, Layout: s.engine.Layout()}, nil
	}
	res, err := s.engine.Apply(ctx, d)
	if err != nil {
		return graph.Result{}, fmt.Errorf("refresh: %w", err)
	}
	slog.Debug("session refreshed",
		slog.Int("new_commits", len(d.NewCommits)),
		slog.Int("changed", len(res.Changed)),
		slog.Bool("relayout", res.Relayout),
	)
	return res, nil
}

func (s *Session) Layout() *graph.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Layout()
}

// Index returns the commit index of the current layout.
func (s *Session) Index() *graph.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Index()
}

// Refs returns the current refs with their colors.
func (s *Session) Refs() []graph.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Refs()
}

func (s *Session) Issues() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Issues()
}
