// Package render turns a graph.Layout into terminal output: a colored graph
// preview, a ref table, JSON, and unified diffs between previews.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

// Glyphs for the graph preview.
const (
	GlyphCommit   = "●"
	GlyphMerge    = "◎"
	GlyphRoot     = "◆"
	GlyphVertical = "│"
	GlyphHoriz    = "─"
	GlyphForkR    = "╮"
	GlyphForkL    = "╭"
	GlyphJoinR    = "╯"
	GlyphJoinL    = "╰"
	GlyphBoundary = "┆"
)

// History is what the preview needs besides the layout. *graph.Index
// implements it.
type History interface {
	Commit(id string) (graph.Commit, bool)
	RefsOf(id string) []graph.Ref
}

type Renderer struct {
	style   *lipgloss.Renderer
	palette Palette
}

// New returns a renderer whose color profile follows w.
func New(w io.Writer, palette Palette) *Renderer {
	return &Renderer{style: lipgloss.NewRenderer(w), palette: palette}
}

func (r *Renderer) Palette() Palette { return r.palette }

func (r *Renderer) paint(text string, c lipgloss.Color) string {
	if text == "" || text == " " {
		return text
	}
	return r.style.NewStyle().Foreground(c).Render(text)
}

type cell struct {
	glyph string
	color string
	// rank decides which glyph wins when two edges meet in a cell.
	rank int
}

const (
	rankHoriz = iota + 1
	rankVertical
	rankCorner
	rankCommit
)

type grid [][]cell

func newGrid(rows, width int) grid {
	cols := max(2*width-1, 1)
	g := make(grid, rows)
	for i := range g {
		g[i] = make([]cell, cols)
	}
	return g
}

func (g grid) set(row, col int, glyph, color string, rank int) {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return
	}
	if g[row][col].rank >= rank {
		return
	}
	g[row][col] = cell{glyph: glyph, color: color, rank: rank}
}

// bend draws the horizontal part of an edge on row between lanes from and to,
// with corner at the to end.
func (g grid) bend(row, from, to int, corner, color string) {
	lo, hi := min(from, to), max(from, to)
	for col := 2*lo + 1; col < 2*hi; col++ {
		g.set(row, col, GlyphHoriz, color, rankHoriz)
	}
	g.set(row, 2*to, corner, color, rankCorner)
}

func commitGlyph(row graph.LayoutRow) string {
	merges := 0
	for _, e := range row.Edges {
		if e.Kind == graph.EdgeMerge {
			merges++
		}
	}
	switch {
	case merges > 0:
		return GlyphMerge
	case len(row.Edges) == 0:
		return GlyphRoot
	default:
		return GlyphCommit
	}
}

func (g grid) draw(l *graph.Layout) {
	for _, row := range l.Rows {
		g.set(row.Row, 2*row.Lane, commitGlyph(row), row.Color, rankCommit)
		for _, e := range row.Edges {
			color := row.Color
			if e.Kind == graph.EdgeMerge && e.TargetRow >= 0 && e.TargetRow < len(l.Rows) {
				color = l.Rows[e.TargetRow].Color
			}
			if e.Kind.Terminal() {
				g.set(row.Row+1, 2*e.ViaLane, GlyphBoundary, color, rankVertical)
				continue
			}
			if e.ViaLane != e.FromLane {
				corner := GlyphForkR
				if e.ViaLane < e.FromLane {
					corner = GlyphForkL
				}
				g.bend(row.Row, e.FromLane, e.ViaLane, corner, color)
			}
			for r := row.Row + 1; r < e.TargetRow; r++ {
				g.set(r, 2*e.ViaLane, GlyphVertical, color, rankVertical)
			}
			if e.ViaLane != e.ToLane {
				corner := GlyphJoinR
				if e.ViaLane < e.ToLane {
					corner = GlyphJoinL
				}
				g.bend(e.TargetRow, e.ToLane, e.ViaLane, corner, color)
			}
		}
	}
}

// Lines renders one line per layout row: graph cells, short id, ref labels
// and summary.
func (r *Renderer) Lines(l *graph.Layout, h History) []string {
	if l.Len() == 0 {
		return nil
	}
	g := newGrid(l.Len(), l.Width)
	g.draw(l)
	out := make([]string, l.Len())
	for i, row := range l.Rows {
		var b strings.Builder
		for _, c := range g[i] {
			if c.glyph == "" {
				b.WriteString(" ")
				continue
			}
			b.WriteString(r.paint(c.glyph, r.palette.Lane(c.color)))
		}
		b.WriteString("  ")
		b.WriteString(r.paint(shortID(row.CommitID), r.palette.Hash))
		if h != nil {
			if labels := refLabels(h.RefsOf(row.CommitID)); labels != "" {
				b.WriteString(" ")
				b.WriteString(r.paint(labels, r.palette.Ref))
			}
			if c, ok := h.Commit(row.CommitID); ok && c.Summary != "" {
				b.WriteString(" ")
				b.WriteString(c.Summary)
			}
		}
		out[i] = strings.TrimRight(b.String(), " ")
	}
	return out
}

// Text writes Lines to w.
func (r *Renderer) Text(w io.Writer, l *graph.Layout, h History) error {
	for _, line := range r.Lines(l, h) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func refLabels(refs []graph.Ref) string {
	if len(refs) == 0 {
		return ""
	}
	labels := make([]string, len(refs))
	for i, ref := range refs {
		labels[i] = ref.Label()
	}
	return "(" + strings.Join(labels, ", ") + ")"
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
