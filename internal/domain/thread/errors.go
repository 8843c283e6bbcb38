package thread

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no thread exists for the requested scope
	// and the resolver lacks the inputs to create one.
	ErrNotFound = errors.New("thread not found")

	// ErrNoMatchingThread is returned when multiple threads match a scope but
	// none matches the counter-party key exactly. The resolver fails closed
	// rather than guessing among anomalous rows.
	ErrNoMatchingThread = errors.New("no matching thread")

	// ErrValidation is returned when required resolve inputs are missing.
	ErrValidation = errors.New("invalid thread input")

	// ErrDuplicateScope is returned by the repository when a thread insert
	// loses the race against another creator of the same scope.
	ErrDuplicateScope = errors.New("thread already exists for scope")
)

// PartialCreationError reports best-effort creation steps that failed after
// the thread row itself was written. The thread is usable; callers surface
// the failed steps as warnings.
type PartialCreationError struct {
	Steps []string
}

func (e *PartialCreationError) Error() string {
	return fmt.Sprintf("thread created with failed steps: %s", strings.Join(e.Steps, ", "))
}
