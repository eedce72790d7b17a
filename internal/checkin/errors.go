package checkin

import (
	"errors"
	"fmt"

	"github.com/petrijr/cadence/pkg/api"
)

// ErrPersistence marks a failure of the workflow store. It aborts the
// whole pass, unlike collaborator failures which are counted per run.
var ErrPersistence = errors.New("persistence unavailable")

func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func isPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// isLostRace reports whether err means another writer got to the run
// first, which callers count and move past.
func isLostRace(err error) bool {
	return errors.Is(err, api.ErrVersionConflict) ||
		errors.Is(err, api.ErrNotFoundOrExpired) ||
		errors.Is(err, api.ErrInvalidTransition)
}
