package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item id has no record.
	ErrNotFound = errors.New("work item not found")
	// ErrNotClaimed is returned when completing an item that is not claimed.
	ErrNotClaimed = errors.New("work item is not claimed")
	// ErrUnsupportedLocation is returned for store locations no backend understands.
	ErrUnsupportedLocation = errors.New("unsupported store location")
)

// ErrorClassifier allows errors to declare their classification.
type ErrorClassifier interface {
	ErrorKind() string
}

// StorageError reports a failure of the underlying storage substrate. Lock
// contention is never a StorageError.
type StorageError struct {
	Op  string
	ID  int
	Err error
}

func storageErr(op string, id int, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, ID: id, Err: err}
}

func (e *StorageError) Error() string {
	if e.ID < 0 {
		return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("queue %s item %d: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind implements ErrorClassifier.
func (e *StorageError) ErrorKind() string { return "storage" }

// IsStorageError reports whether err was caused by the storage substrate.
func IsStorageError(err error) bool {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind() == "storage"
	}
	return false
}
