package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested node or event does not exist.
var ErrNotFound = errors.New("not found")

// StorageError reports a failed persistence phase. The phase's writes have
// been rolled back when it is returned.
type StorageError struct {
	Phase string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing %s: %v", e.Phase, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Phase: phase, Err: err}
}
