package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is a map-backed Store for tests and ephemeral runs. It mirrors
// the sqlite driver's semantics exactly, including keeping the original
// CreatedAt on upsert.
type memoryStore struct {
	mu        sync.RWMutex
	mappings  map[mappingKey]Mapping
	snapshots map[string]Snapshot
}

type mappingKey struct {
	postID   string
	platform string
	account  string
}

func NewMemory() Store {
	return &memoryStore{
		mappings:  map[mappingKey]Mapping{},
		snapshots: map[string]Snapshot{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) UpsertMapping(ctx context.Context, m Mapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	key := mappingKey{m.PostID, m.Platform, m.Account}
	s.mu.Lock()
	if prev, ok := s.mappings[key]; ok {
		m.CreatedAt = prev.CreatedAt
	}
	s.mappings[key] = m
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) MappingsForPost(ctx context.Context, postID string) ([]Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mapping
	for k, m := range s.mappings {
		if k.postID == postID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) MissingAccounts(ctx context.Context, postID string, candidates []AccountRef) ([]AccountRef, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := s.MappingsForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return missingSet(candidates, rows), nil
}

func (s *memoryStore) TrackedPosts(ctx context.Context, maxAge time.Duration) ([]TrackedPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.RLock()
	defer s.mu.RUnlock()

	first := map[string]time.Time{}
	last := map[string]time.Time{}
	for k, m := range s.mappings {
		if f, ok := first[k.postID]; !ok || m.CreatedAt.Before(f) {
			first[k.postID] = m.CreatedAt
		}
		if l, ok := last[k.postID]; !ok || m.CreatedAt.After(l) {
			last[k.postID] = m.CreatedAt
		}
	}

	var out []TrackedPost
	for id, l := range last {
		if l.Before(cutoff) {
			continue
		}
		out = append(out, TrackedPost{PostID: id, FirstMappedAt: first[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstMappedAt.Equal(out[j].FirstMappedAt) {
			return out[i].FirstMappedAt.Before(out[j].FirstMappedAt)
		}
		return out[i].PostID < out[j].PostID
	})
	return out, nil
}

func (s *memoryStore) GetSnapshot(ctx context.Context, postID string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	s.mu.RLock()
	snap, ok := s.snapshots[postID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false, nil
	}
	// Copy the payload so callers can't mutate stored bytes.
	cp := snap
	cp.Data = append([]byte(nil), snap.Data...)
	return cp, true, nil
}

func (s *memoryStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.LastSyncedAt.IsZero() {
		snap.LastSyncedAt = time.Now()
	}
	snap.Data = append([]byte(nil), snap.Data...)
	s.mu.Lock()
	s.snapshots[snap.PostID] = snap
	s.mu.Unlock()
	return nil
}
