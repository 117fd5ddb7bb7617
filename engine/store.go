package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sightline/pointset"
)

// Loader returns the point set a snapshot is built from.
type Loader func(ctx context.Context) (pointset.PointSet, error)

// FileLoader returns a loader that reads a point set document from a file.
func FileLoader(path string) Loader {
	return func(ctx context.Context) (pointset.PointSet, error) {
		return pointset.ReadFile(path)
	}
}

// Store holds the snapshot that queries are served from. Readers always see
// a complete snapshot: a new one is only published once fully built.
type Store struct {
	Loader  Loader
	Options Options

	current     atomic.Pointer[Snapshot]
	reloadMutex sync.Mutex
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() (*Snapshot, error) {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil, errors.New("no snapshot has been built").
			WithType(ErrTypeNoSnapshot)
	}
	return snapshot, nil
}

// Ready reports whether a snapshot is available.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// Publish replaces the current snapshot and returns the previous one.
func (s *Store) Publish(snapshot *Snapshot) *Snapshot {
	return s.current.Swap(snapshot)
}

// Reload loads the point set, builds a snapshot from it and publishes it.
// Concurrent reloads are serialized. On failure, the current snapshot keeps
// being served.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	s.reloadMutex.Lock()
	defer s.reloadMutex.Unlock()

	if s.Loader == nil {
		return nil, errors.New("store has no loader")
	}

	ps, err := s.Loader(ctx)
	if err != nil {
		return nil, errors.New("loading point set failed").Wrap(err)
	}

	snapshot, err := Build(ctx, ps, s.Options)
	if err != nil {
		return nil, err
	}

	if prev := s.Publish(snapshot); prev != nil {
		logs.WithTag("snapshot_id", snapshot.ID).
			WithTag("previous_snapshot_id", prev.ID).
			Info("snapshot replaced")
	}
	return snapshot, nil
}
