package campaign

import (
	"errors"
	"fmt"

	"github.com/andrewhowdencom/drip/internal/kv"
)

// Err* are returned synchronously to callers of the Manager.
var (
	// ErrValidation is returned for malformed input, before any state changes.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a campaign or subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when an account acts on a campaign it does not own.
	ErrForbidden = errors.New("forbidden")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate maps storage errors onto the package's error taxonomy.
func translate(err error, kind, id string) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s '%s'", ErrNotFound, kind, id)
	}
	return err
}
