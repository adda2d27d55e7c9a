package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps items and locks in two tables of one SQLite database.
// A lock is a row in work_locks; INSERT OR IGNORE makes creation atomic across
// every process that opens the same file.
type SQLiteBackend struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite returns a backend for the database at path. The database is
// created by Init.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrUnsupportedLocation)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path %q: %w", path, err)
	}
	return &SQLiteBackend{path: abs}, nil
}

func (b *SQLiteBackend) Location() string { return schemeSQLite + b.path }

// Path returns the database file.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) handle() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := "file:" + b.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	b.db = db
	return db, nil
}

func (b *SQLiteBackend) Init(ctx context.Context) error {
	ctx = ensureContext(ctx)
	if _, err := b.handle(); err != nil {
		return err
	}
	return b.initSchema(ctx)
}

func (b *SQLiteBackend) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const upsertItemSQL = `INSERT INTO work_items (` + itemColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    payload = excluded.payload,
    status = excluded.status,
    worker_id = excluded.worker_id,
    created_at = excluded.created_at,
    claimed_at = excluded.claimed_at,
    completed_at = excluded.completed_at`

func itemArgs(item Item) []any {
	return []any{
		item.ID,
		item.Payload,
		string(item.Status),
		nullableString(item.WorkerID),
		formatTime(item.CreatedAt),
		nullableTime(item.ClaimedAt),
		nullableTime(item.CompletedAt),
	}
}

func (b *SQLiteBackend) Put(ctx context.Context, item Item) error {
	_, err := b.exec(ctx, upsertItemSQL, itemArgs(item)...)
	return err
}

// PutAll writes items in a single transaction.
func (b *SQLiteBackend) PutAll(ctx context.Context, items []Item) error {
	ctx = ensureContext(ctx)
	db, err := b.handle()
	if err != nil {
		return err
	}
	return retryOnBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		stmt, err := tx.PrepareContext(ctx, upsertItemSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, itemArgs(item)...); err != nil {
				return fmt.Errorf("insert item %d: %w", item.ID, err)
			}
		}
		return tx.Commit()
	})
}

func (b *SQLiteBackend) Get(ctx context.Context, id int) (Item, error) {
	ctx = ensureContext(ctx)
	db, err := b.handle()
	if err != nil {
		return Item{}, err
	}
	var item Item
	err = retryOnBusy(ctx, func() error {
		row := db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM work_items WHERE id = ?", id)
		var scanErr error
		item, scanErr = scanItem(row)
		return scanErr
	})
	if isNoRows(err) {
		return Item{}, ErrNotFound
	}
	return item, err
}

func (b *SQLiteBackend) IDs(ctx context.Context) ([]int, error) {
	ctx = ensureContext(ctx)
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	var ids []int
	err = retryOnBusy(ctx, func() error {
		ids = ids[:0]
		rows, err := db.QueryContext(ctx, "SELECT id FROM work_items ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

func (b *SQLiteBackend) Lock(ctx context.Context, id int, owner string) (bool, error) {
	res, err := b.exec(ctx,
		"INSERT OR IGNORE INTO work_locks (item_id, owner, locked_at) VALUES (?, ?, ?)",
		id, owner, formatTime(time.Now()))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (b *SQLiteBackend) Unlock(ctx context.Context, id int) error {
	_, err := b.exec(ctx, "DELETE FROM work_locks WHERE item_id = ?", id)
	return err
}

// Destroy closes the connection and removes the database with its WAL files.
func (b *SQLiteBackend) Destroy(context.Context) error {
	if err := b.Close(); err != nil {
		return err
	}
	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(b.path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
