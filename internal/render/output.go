package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/olekukonko/tablewriter"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

// RefTable writes one table row per ref with the row and lane of its target.
func RefTable(w io.Writer, refs []graph.Ref, l *graph.Layout) error {
	table := tablewriter.NewWriter(w)
	table.Header("Ref", "Kind", "Commit", "Color", "Row", "Lane")
	for _, ref := range refs {
		row, lane := "-", "-"
		if r, ok := l.Row(ref.TargetID); ok {
			row = strconv.Itoa(r.Row)
			lane = strconv.Itoa(r.Lane)
		}
		if err := table.Append(ref.Name, ref.Kind.String(), shortID(ref.TargetID), ref.Color, row, lane); err != nil {
			return fmt.Errorf("ref table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("ref table: %w", err)
	}
	return nil
}

// JSON writes v indented. When highlight is set the output is colored with
// the palette's chroma style for a 256 color terminal.
func JSON(w io.Writer, v any, highlight bool, p Palette) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	raw = append(raw, '\n')
	if !highlight {
		_, err := w.Write(raw)
		return err
	}
	iterator, err := chroma.Coalesce(lexers.Get("json")).Tokenise(nil, string(raw))
	if err != nil {
		return fmt.Errorf("highlight json: %w", err)
	}
	return formatters.TTY256.Format(w, styleFor(p), iterator)
}

func styleFor(p Palette) *chroma.Style {
	if st := styles.Get(p.Chroma); st != nil {
		return st
	}
	return styles.Fallback
}

// Diff returns a unified diff between two previews, or "" when they match.
func Diff(before, after []string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        withNewlines(before),
		B:        withNewlines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("diff previews: %w", err)
	}
	return text, nil
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}
