package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileLock is a cross-process advisory lock on a single file. The lock itself is a
// directory next to the file: mkdir is atomic on local filesystems, and the directory's
// mtime doubles as the holder's heartbeat. An owner file inside the directory names the
// holder, so a holder whose lock was reclaimed never touches its successor's lock.
type fileLock struct {
	path  string
	token string
	opts  LockOptions

	acquired time.Time
	stop     chan struct{}
	done     sync.WaitGroup
}

func lockPath(file string) string { return file + ".lock" }

func ownerPath(lock string) string { return filepath.Join(lock, "owner") }

func lockFile(ctx context.Context, file string, doc Document, opts LockOptions) (*fileLock, error) {
	l := &fileLock{path: lockPath(file), token: uuid.NewString(), opts: opts}
	if err := acquire(ctx, opts, doc, l.tryLock); err != nil {
		return nil, err
	}

	l.acquired = time.Now()
	l.stop = make(chan struct{})
	l.done.Go(l.refresh)
	return l, nil
}

func (l *fileLock) tryLock() error {
	err := os.Mkdir(l.path, 0o755)
	if err == nil {
		return l.claim()
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}

	st, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Released between mkdir and stat; try again right away.
			return l.tryLock()
		}
		return fmt.Errorf("stat lock %s: %w", l.path, err)
	}
	if time.Since(st.ModTime()) < l.opts.Stale {
		return errBusy
	}

	// Abandoned by a dead or hung holder.
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("reclaim stale lock %s: %w", l.path, err)
	}
	if err := os.Mkdir(l.path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errBusy
		}
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	return l.claim()
}

func (l *fileLock) claim() error {
	if err := os.WriteFile(ownerPath(l.path), []byte(l.token), 0o644); err != nil {
		_ = os.RemoveAll(l.path)
		return fmt.Errorf("write lock owner %s: %w", l.path, err)
	}
	return nil
}

// held reports whether the lock directory still carries our token.
func (l *fileLock) held() bool {
	data, err := os.ReadFile(ownerPath(l.path))
	return err == nil && string(data) == l.token
}

// refresh keeps the lock's mtime fresh so a long transaction is not mistaken for a stale
// one. It gives up after MaxHold, or as soon as the lock belongs to someone else.
func (l *fileLock) refresh() {
	t := time.NewTicker(l.opts.Stale / 2)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			if time.Since(l.acquired) > l.opts.MaxHold || !l.held() {
				return
			}
			now := time.Now()
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

func (l *fileLock) unlock() error {
	close(l.stop)
	l.done.Wait()
	if !l.held() {
		return nil
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
