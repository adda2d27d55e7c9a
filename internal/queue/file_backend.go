package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	itemFilePrefix = "work_"
	itemFileSuffix = ".json"
	lockDirName    = ".locks"
	lockFileSuffix = ".lock"
)

// FileBackend stores each item as root/work_<id>.json and each lock as
// root/.locks/work_<id>.json.lock. Locks are created with O_CREATE|O_EXCL, so
// the filesystem arbitrates between competing processes.
type FileBackend struct {
	root    string
	lockDir string
}

// NewFileBackend returns a backend rooted at dir. Nothing is created until Init.
func NewFileBackend(dir string) (*FileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrUnsupportedLocation)
	}
	root, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("resolve queue directory %q: %w", dir, err)
	}
	return &FileBackend{root: root, lockDir: filepath.Join(root, lockDirName)}, nil
}

func (b *FileBackend) Location() string { return b.root }

func (b *FileBackend) Init(context.Context) error {
	// MkdirAll tolerates concurrent creators and existing directories.
	if err := os.MkdirAll(b.lockDir, 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	return nil
}

func (b *FileBackend) itemName(id int) string {
	return itemFilePrefix + strconv.Itoa(id) + itemFileSuffix
}

func (b *FileBackend) itemPath(id int) string {
	return filepath.Join(b.root, b.itemName(id))
}

func (b *FileBackend) lockPath(id int) string {
	return filepath.Join(b.lockDir, b.itemName(id)+lockFileSuffix)
}

// Put rewrites the record through a temp file and rename so readers never
// observe a partially written record.
func (b *FileBackend) Put(_ context.Context, item Item) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	tmp, err := os.CreateTemp(b.root, "."+b.itemName(item.ID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, b.itemPath(item.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func (b *FileBackend) Get(_ context.Context, id int) (Item, error) {
	data, err := os.ReadFile(b.itemPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, fmt.Errorf("decode %s: %w", b.itemName(id), err)
	}
	return item, nil
}

func (b *FileBackend) IDs(context.Context) ([]int, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, itemFilePrefix) || !strings.HasSuffix(name, itemFileSuffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, itemFilePrefix), itemFileSuffix))
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (b *FileBackend) Lock(_ context.Context, id int, owner string) (bool, error) {
	path := b.lockPath(id)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := file.WriteString(owner); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("write lock owner: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("close lock: %w", err)
	}
	return true, nil
}

// LockOwner returns the worker recorded in the lock for id.
func (b *FileBackend) LockOwner(id int) (string, bool) {
	data, err := os.ReadFile(b.lockPath(id))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (b *FileBackend) Unlock(_ context.Context, id int) error {
	if err := os.Remove(b.lockPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) Destroy(context.Context) error {
	if err := os.RemoveAll(b.root); err != nil {
		return fmt.Errorf("remove queue directory: %w", err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
