package graph

import (
	"fmt"
	"strings"
)

// DefaultMaxDepth bounds reachability scans when the caller does not.
const DefaultMaxDepth = 10000

type TieBreak uint8

const (
	// TieBreakRefName puts commits carrying refs first among equal commit
	// times, ordered by primary ref name, then by id.
	TieBreakRefName TieBreak = iota
	// TieBreakCommitID orders equal commit times by id only.
	TieBreakCommitID
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakCommitID:
		return "commit-id"
	default:
		return "ref-name"
	}
}

func ParseTieBreak(raw string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ref-name":
		return TieBreakRefName, nil
	case "commit-id":
		return TieBreakCommitID, nil
	default:
		return TieBreakRefName, fmt.Errorf("unknown tie-break %q (want ref-name or commit-id)", raw)
	}
}

type Options struct {
	// MaxDepth caps the number of commits laid out. Zero or less means no cap.
	MaxDepth int
	// LaneReuse lets a freed column be taken by a later line. Disable it to
	// inspect raw allocation.
	LaneReuse bool
	TieBreak  TieBreak
}

func DefaultOptions() Options {
	return Options{MaxDepth: DefaultMaxDepth, LaneReuse: true, TieBreak: TieBreakRefName}
}
