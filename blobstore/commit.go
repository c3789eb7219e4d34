package blobstore

import (
	"context"
	"errors"
	"sync"
)

// ErrConflict is returned by CommitStore.Commit when another writer
// committed first.
var ErrConflict = errors.New("blobstore: concurrent commit")

// Commit names the snapshot that is current for a scene.
type Commit struct {
	Scene   string
	Version uint64
	Name    string
}

// CommitStore publishes the current snapshot of each scene with
// compare-and-swap semantics, which plain object stores lack.
type CommitStore interface {
	// Current returns the latest commit, or ErrNotFound.
	Current(ctx context.Context, scene string) (Commit, error)
	// Commit publishes name as version prev+1. It fails with ErrConflict
	// unless prev is the latest version (0 for the first commit).
	Commit(ctx context.Context, scene string, prev uint64, name string) (Commit, error)
}

// MemoryCommitStore is an in-process CommitStore.
type MemoryCommitStore struct {
	mu      sync.Mutex
	commits map[string]Commit
}

// NewMemoryCommitStore creates an empty MemoryCommitStore.
func NewMemoryCommitStore() *MemoryCommitStore {
	return &MemoryCommitStore{commits: make(map[string]Commit)}
}

func (s *MemoryCommitStore) Current(_ context.Context, scene string) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commits[scene]
	if !ok {
		return Commit{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryCommitStore) Commit(_ context.Context, scene string, prev uint64, name string) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commits[scene].Version != prev {
		return Commit{}, ErrConflict
	}
	c := Commit{Scene: scene, Version: prev + 1, Name: name}
	s.commits[scene] = c
	return c, nil
}
