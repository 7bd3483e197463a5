package synthesis

import (
	"errors"
	"fmt"
)

// ErrPersistence marks failures writing or reading synthesis results.
var ErrPersistence = errors.New("synthesis persistence failed")

// PersistenceError is returned when a result could not be stored.
type PersistenceError struct {
	Token string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s synthesis result for %q: %v", e.Op, e.Token, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
