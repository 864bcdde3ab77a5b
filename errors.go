package abfall

import "github.com/pkg/errors"

// Sentinel errors returned by this package's non-panicking fallible
// operations (spec.md §7). Engine invariant violations — double release of
// a root, borrowing a RefCell in conflicting modes, releasing a guard twice
// — are signaled by panicking instead, matching the original prototype's
// debug_assert! usage: they indicate a programming error in the embedder,
// not a recoverable runtime condition.
var (
	// ErrInvalidOptions is wrapped by Options.validate's specific messages.
	ErrInvalidOptions = errors.New("abfall: invalid options")
)
