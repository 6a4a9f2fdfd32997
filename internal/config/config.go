// Package config resolves gitgraph settings from a .env file, GITGRAPH_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/thiagokokada/gitgraph/internal/graph"
)

const envPrefix = "GITGRAPH_"

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatRefs Format = "refs"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatRefs:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or refs)", raw)
	}
}

type Config struct {
	RepoPath string
	Graph    graph.Options
	// ScanLimit bounds every repository listing; zero lists everything.
	ScanLimit  int
	Format     Format
	Mode       string
	Watch      bool
	ColorsFile string
	Verbose    bool
	Version    bool
}

// Lookup resolves one configuration key, like os.LookupEnv.
type Lookup func(key string) (string, bool)

// EnvLookup reads the process environment first and envFile second. A
// missing envFile is not an error.
func EnvLookup(envFile string) (Lookup, error) {
	fromFile, err := godotenv.Read(envFile)
	if errors.Is(err, fs.ErrNotExist) {
		fromFile = nil
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fromFile[key]
		return v, ok
	}, nil
}

// Load parses args on top of the values lookup provides. -h returns
// flag.ErrHelp.
func Load(args []string, lookup Lookup, usage io.Writer) (*Config, error) {
	env := envReader{lookup: lookup}
	defaults := graph.DefaultOptions()
	maxDepth := env.intVar("MAX_DEPTH", defaults.MaxDepth)
	laneReuse := env.boolVar("LANE_REUSE", defaults.LaneReuse)
	tieBreak := env.stringVar("TIEBREAK", defaults.TieBreak.String())
	scanLimit := env.intVar("SCAN_LIMIT", 0)
	format := env.stringVar("FORMAT", string(FormatText))
	mode := env.stringVar("MODE", "auto")
	watch := env.boolVar("WATCH", false)
	colorsFile := env.stringVar("COLORS_FILE", "")
	verbose := env.boolVar("VERBOSE", false)
	if env.err != nil {
		return nil, env.err
	}

	flags := flag.NewFlagSet("gitgraph", flag.ContinueOnError)
	if usage != nil {
		flags.SetOutput(usage)
	}
	flags.IntVar(&maxDepth, "limit", maxDepth, "maximum number of commits to lay out (0 for no limit)")
	flags.IntVar(&scanLimit, "scan", scanLimit, "maximum number of commits to read per listing (0 for no limit)")
	noLaneReuse := flags.Bool("nolanereuse", !laneReuse, "never reuse a freed column for another line")
	flags.StringVar(&tieBreak, "tiebreak", tieBreak, "order of commits with equal times: ref-name or commit-id")
	flags.StringVar(&format, "format", format, "output format: text, json, or refs")
	flags.StringVar(&mode, "mode", mode, "color mode: auto, light, or dark")
	flags.BoolVar(&watch, "watch", watch, "keep running and print layout changes when the repository changes")
	flags.StringVar(&colorsFile, "colors", colorsFile, "file that keeps ref colors across runs")
	flags.BoolVar(&verbose, "verbose", verbose, "enable verbose logging")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	tb, err := graph.ParseTieBreak(tieBreak)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if maxDepth < 0 || scanLimit < 0 {
		return nil, fmt.Errorf("limits must not be negative")
	}
	cfg := &Config{
		RepoPath:   ".",
		Graph:      graph.Options{MaxDepth: maxDepth, LaneReuse: !*noLaneReuse, TieBreak: tb},
		ScanLimit:  scanLimit,
		Format:     f,
		Mode:       mode,
		Watch:      watch,
		ColorsFile: colorsFile,
		Verbose:    verbose,
		Version:    *showVersion,
	}
	if rest := flags.Args(); len(rest) > 0 {
		cfg.RepoPath = rest[len(rest)-1]
	}
	return cfg, nil
}

// envReader records the first malformed variable and keeps the default for
// it.
type envReader struct {
	lookup Lookup
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) stringVar(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) intVar(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) boolVar(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s=%q: %w", envPrefix, key, value, err)
	}
}
