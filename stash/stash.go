// Package stash captures workspace files by name for transfer
// between stages and branches. Snapshots live for the process by
// default; a Persister pushes them to an external blob store when
// they must survive restarts.
package stash

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/shuttle-ci/shuttle/log"
)

// ErrUnknown is an unstash of a name that was never stashed.
var ErrUnknown = errors.New("unknown stash")

// File is one captured workspace file. Data is the exact byte
// content; restores are byte-identical.
type File struct {
	Path string      `json:"path"` // relative to the workspace root
	Mode fs.FileMode `json:"mode"`
	Data []byte      `json:"data"`
}

type snapshot struct {
	Files []File `json:"files"`
}

// Persister is the optional external key-value blob store boundary.
type Persister interface {
	Put(ctx context.Context, name string, data []byte) error
	// Get returns ErrUnknown for names that were never put.
	Get(ctx context.Context, name string) ([]byte, error)
}

// Store holds named snapshots. Writes are linearized; concurrent
// branches may stash different names freely.
type Store struct {
	mu      sync.Mutex
	snaps   map[string]snapshot
	persist Persister
	l       *slog.Logger
}

func NewStore(ctx context.Context) *Store {
	return &Store{
		snaps: make(map[string]snapshot),
		l:     log.FromContext(ctx).With("component", "stash"),
	}
}

// WithPersister mirrors every snapshot into the external store and
// falls back to it on lookup misses.
func (s *Store) WithPersister(p Persister) *Store {
	s.persist = p
	return s
}

// Stash captures all files under root matching pattern. The pattern
// is matched against the root-relative path, then against the bare
// file name, so "*.txt" picks up nested files too. Returns the
// number of captured files.
func (s *Store) Stash(ctx context.Context, name, root, pattern string) (int, error) {
	var (
		files []File
		total uint64
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ok, err := filepath.Match(pattern, rel)
		if err != nil {
			return err
		}
		if !ok {
			ok, _ = filepath.Match(pattern, filepath.Base(rel))
		}
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Mode: info.Mode().Perm(), Data: data})
		total += uint64(len(data))
		return nil
	})
	if err != nil {
		return 0, err
	}

	snap := snapshot{Files: files}

	s.mu.Lock()
	s.snaps[name] = snap
	s.mu.Unlock()

	if s.persist != nil {
		blob, err := json.Marshal(snap)
		if err != nil {
			return 0, err
		}
		if err := s.persist.Put(ctx, name, blob); err != nil {
			return 0, err
		}
	}

	s.l.Debug("stashed", "name", name, "files", len(files), "size", humanize.Bytes(total))
	return len(files), nil
}

// Unstash restores the named snapshot under root, byte-exact.
func (s *Store) Unstash(ctx context.Context, name, root string) error {
	s.mu.Lock()
	snap, ok := s.snaps[name]
	s.mu.Unlock()

	if !ok {
		if s.persist == nil {
			return ErrUnknown
		}
		blob, err := s.persist.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(blob, &snap); err != nil {
			return err
		}
	}

	for _, f := range snap.Files {
		dest := filepath.Join(root, f.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, f.Data, f.Mode); err != nil {
			return err
		}
	}

	s.l.Debug("unstashed", "name", name, "files", len(snap.Files))
	return nil
}
