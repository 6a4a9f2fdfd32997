package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/thiagokokada/gitgraph/internal/buildinfo"
	"github.com/thiagokokada/gitgraph/internal/config"
	"github.com/thiagokokada/gitgraph/internal/git"
	"github.com/thiagokokada/gitgraph/internal/graph"
	"github.com/thiagokokada/gitgraph/internal/render"
	"github.com/thiagokokada/gitgraph/internal/session"
)

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	lookup, err := config.EnvLookup(".env")
	if err != nil {
		return err
	}
	cfg, err := config.Load(args, lookup, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.Version {
		_, err := fmt.Fprintf(stdout, "%s [%s]\n", buildinfo.Read(), git.Backend)
		return err
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	src, err := git.Open(cfg.RepoPath)
	if err != nil {
		return err
	}
	colors, err := loadColors(cfg.ColorsFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := saveColors(cfg.ColorsFile, colors); err != nil {
			slog.Error("save ref colors", slog.String("path", cfg.ColorsFile), slog.Any("error", err))
		}
	}()

	sess := session.New(src, colors, cfg.Graph, cfg.ScanLimit)
	layout, err := sess.Load(ctx)
	if err != nil {
		return err
	}
	palette := render.PaletteFor(render.ThemeFromString(cfg.Mode))
	if err := write(stdout, cfg.Format, sess, layout, palette); err != nil {
		return err
	}
	if !cfg.Watch {
		return nil
	}
	return follow(ctx, sess, stdout)
}

func write(w io.Writer, format config.Format, sess *session.Session, layout *graph.Layout, palette render.Palette) error {
	switch format {
	case config.FormatJSON:
		return render.JSON(w, layout, isTerminal(w), palette)
	case config.FormatRefs:
		return render.RefTable(w, sess.Refs(), layout)
	default:
		return render.New(w, palette).Text(w, layout, sess.Index())
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func loadColors(path string) (*graph.RefColors, error) {
	if path == "" {
		return graph.NewRefColors(), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return graph.NewRefColors(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ref colors: %w", err)
	}
	defer f.Close()
	colors, err := graph.LoadRefColors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return colors, nil
}

func saveColors(path string, colors *graph.RefColors) (err error) {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return colors.Save(f)
}
