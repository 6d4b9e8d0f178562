package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

const component = "state"

// FileStore keeps the snapshot in a single JSON file. Writes go to a temp
// file that is synced and renamed over the target. The previous file is
// copied to a timestamped backup first.
type FileStore struct {
	mu      sync.Mutex
	path    string
	backups int
	now     func() time.Time
}

// NewFileStore creates a file store. backups is the number of previous
// snapshots to keep, 0 disables rotation.
func NewFileStore(path string, backups int) (*FileStore, error) {
	if path == "" {
		path = filepath.Join("state", "snapshot.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, boterrors.NewPersistenceError(component, "init", err)
	}
	return &FileStore{path: path, backups: backups, now: time.Now}, nil
}

// Path returns the snapshot file location
func (f *FileStore) Path() string {
	return f.path
}

// Save writes the snapshot atomically
func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("cannot save nil snapshot"))
	}
	if err := ctx.Err(); err != nil {
		return boterrors.NewPersistenceError(component, "save", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("marshal snapshot: %w", err))
	}

	if f.backups > 0 {
		if err := f.rotateLocked(); err != nil {
			return boterrors.NewPersistenceError(component, "backup", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return boterrors.NewPersistenceError(component, "save", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return boterrors.NewPersistenceError(component, "save", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return boterrors.NewPersistenceError(component, "save", fmt.Errorf("commit snapshot: %w", err))
	}
	return nil
}

// Load reads and validates the snapshot. ErrNoSnapshot when the file is missing.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", fmt.Errorf("decode snapshot: %w", err))
	}
	if err := snap.Validate(); err != nil {
		return nil, boterrors.NewPersistenceError(component, "load", err)
	}
	return &snap, nil
}

// Backups lists the rotated snapshot files, newest first
func (f *FileStore) Backups() ([]string, error) {
	matches, err := filepath.Glob(f.path + ".backup_*")
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

func (f *FileStore) rotateLocked() error {
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil
	}
	backupPath := fmt.Sprintf("%s.backup_%s", f.path, f.now().UTC().Format("20060102_150405.000000000"))
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read snapshot for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	backups, err := f.Backups()
	if err != nil {
		return err
	}
	for i := f.backups; i < len(backups); i++ {
		os.Remove(backups[i])
	}
	return nil
}
