package graph

import (
	"errors"
	"fmt"
	"time"
)

// ErrForeignDelta is returned by Engine.Apply when the delta was computed
// against a layout other than the engine's current one.
var ErrForeignDelta = errors.New("delta was not derived from the current layout")

// UnknownParentError reports a parent id that was never supplied and is not
// marked as a boundary. The parent is handled as a boundary node.
type UnknownParentError struct {
	Commit string
	Parent string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("commit %s: unknown parent %s", e.Commit, e.Parent)
}

// CorruptHistoryError reports a commit that lists itself as a parent. The
// commit is handled as a root.
type CorruptHistoryError struct {
	Commit string
}

func (e *CorruptHistoryError) Error() string {
	return fmt.Sprintf("commit %s: lists itself as parent", e.Commit)
}

// NonMonotonicUpdateError reports a fresh commit older than the newest laid out
// commit, or a parent of a laid out commit. The updater falls back to a full
// relayout.
type NonMonotonicUpdateError struct {
	Commit string
	Time   time.Time
	Newest time.Time
}

func (e *NonMonotonicUpdateError) Error() string {
	return fmt.Sprintf(
		"commit %s (%s) does not fit above laid out history (newest %s)",
		e.Commit,
		e.Time.Format(time.RFC3339),
		e.Newest.Format(time.RFC3339),
	)
}
