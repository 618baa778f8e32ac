package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/renameio/v2"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps every document as a JSON file in one directory.
type FileStore struct {
	dir    string
	opts   LockOptions
	closed atomic.Bool
}

func NewFileStore(dir string, opts LockOptions) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: data directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	opts.setDefaults()
	return &FileStore{dir: dir, opts: opts}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(doc Document) string {
	return filepath.Join(s.dir, string(doc)+".json")
}

func (s *FileStore) Transaction(ctx context.Context, doc Document, fn func([]byte) ([]byte, error)) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	path := s.path(doc)

	l, err := lockFile(ctx, path, doc, s.opts)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := l.unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	current, err := readFile(path)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if !l.held() {
		return fmt.Errorf("%w: %s", ErrLockLost, doc)
	}

	if err := renameio.WriteFile(path, next, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", doc, err)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context, doc Document) (data []byte, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	path := s.path(doc)

	l, err := lockFile(ctx, path, doc, s.opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := l.unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return readFile(path)
}

func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
