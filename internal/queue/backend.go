package queue

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the storage substrate behind a Queue: independently addressable
// item records plus a lock namespace keyed by item id.
type Backend interface {
	// Location returns the string other processes pass to Open to reach the
	// same store.
	Location() string
	// Init creates the store root and lock namespace. It is idempotent and
	// safe to call from several processes at once.
	Init(ctx context.Context) error
	// Put creates or replaces the record for item.ID.
	Put(ctx context.Context, item Item) error
	// Get reads one record. Missing records return ErrNotFound.
	Get(ctx context.Context, id int) (Item, error)
	// IDs lists every stored item id in ascending order.
	IDs(ctx context.Context) ([]int, error)
	// Lock atomically creates the lock for id. It reports false, without an
	// error, when the lock already exists.
	Lock(ctx context.Context, id int, owner string) (bool, error)
	// Unlock removes the lock for id. Removing a missing lock is not an error.
	Unlock(ctx context.Context, id int) error
	// Destroy deletes every record and lock. It is idempotent.
	Destroy(ctx context.Context) error
	Close() error
}

// batchPutter is implemented by backends that can seed many records at once.
type batchPutter interface {
	PutAll(ctx context.Context, items []Item) error
}

const (
	schemeFile   = "file://"
	schemeSQLite = "sqlite://"
	schemeRedis  = "redis://"
	schemeRediss = "rediss://"
)

// OpenBackend returns the backend addressed by location:
//
//	/path/to/dir or file:///path/to/dir    directory of JSON records
//	sqlite:///path/to/queue.db              SQLite database
//	redis://host:6379/0?namespace=name      Redis keys under "name:"
func OpenBackend(location string) (Backend, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, fmt.Errorf("%w: empty location", ErrUnsupportedLocation)
	case strings.HasPrefix(location, schemeFile):
		return NewFileBackend(strings.TrimPrefix(location, schemeFile))
	case strings.HasPrefix(location, schemeSQLite):
		return OpenSQLite(strings.TrimPrefix(location, schemeSQLite))
	case strings.HasPrefix(location, schemeRedis), strings.HasPrefix(location, schemeRediss):
		return OpenRedis(location)
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocation, location)
	default:
		return NewFileBackend(location)
	}
}

// FilesystemRoot returns the directory a location stores its data under, or
// "" when the backend does not live on the local filesystem.
func FilesystemRoot(location string) string {
	location = strings.TrimSpace(location)
	switch {
	case strings.HasPrefix(location, schemeFile):
		return strings.TrimPrefix(location, schemeFile)
	case strings.HasPrefix(location, schemeSQLite):
		path := strings.TrimPrefix(location, schemeSQLite)
		if idx := strings.LastIndexAny(path, `/\`); idx > 0 {
			return path[:idx]
		}
		return "."
	case strings.Contains(location, "://"):
		return ""
	default:
		return location
	}
}
