package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/thiagokokada/gitgraph/internal/render"
	"github.com/thiagokokada/gitgraph/internal/session"
	"github.com/thiagokokada/gitgraph/internal/watch"
)

// follower prints a diff of the uncolored preview after each refresh that
// changes it.
type follower struct {
	mu      sync.Mutex
	ctx     context.Context
	sess    *session.Session
	out     io.Writer
	plain   *render.Renderer
	preview []string
}

func newFollower(ctx context.Context, sess *session.Session, out io.Writer) *follower {
	plain := render.New(io.Discard, render.PaletteFor(render.ThemeLight))
	return &follower{
		ctx:     ctx,
		sess:    sess,
		out:     out,
		plain:   plain,
		preview: plain.Lines(sess.Layout(), sess.Index()),
	}
}

func (f *follower) refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ctx.Err() != nil {
		return
	}
	res, err := f.sess.Refresh(f.ctx)
	if err != nil {
		slog.Error("refresh layout", slog.Any("error", err))
		return
	}
	if len(res.Changed) > 0 {
		slog.Info("layout updated",
			slog.Int("changed", len(res.Changed)),
			slog.Int("rows", res.Layout.Len()),
			slog.Bool("relayout", res.Relayout),
		)
	}
	// Ref moves change labels without changing rows, so the preview is
	// compared either way.
	next := f.plain.Lines(res.Layout, f.sess.Index())
	diff, err := render.Diff(f.preview, next)
	if err != nil {
		slog.Error("diff preview", slog.Any("error", err))
		return
	}
	f.preview = next
	if diff == "" {
		return
	}
	if _, err := fmt.Fprint(f.out, diff); err != nil {
		slog.Error("write preview diff", slog.Any("error", err))
	}
}

// follow refreshes sess whenever the repository changes, until ctx is done.
func follow(ctx context.Context, sess *session.Session, out io.Writer) error {
	f := newFollower(ctx, sess, out)
	w, err := watch.New(sess.RepoPath(), watch.DefaultDelay, f.refresh)
	if err != nil {
		return err
	}
	slog.Info("watching repository", slog.String("path", sess.RepoPath()))
	<-ctx.Done()
	return w.Close()
}
