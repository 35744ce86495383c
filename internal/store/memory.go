package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/artifact-context/internal/artifact"
)

// MemoryStore is an in-process artifact store used when PostgreSQL is not
// configured and in tests.
type MemoryStore struct {
	users map[string]map[string]artifact.Record
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]map[string]artifact.Record)}
}

// SaveArtifact upserts a record.
func (m *MemoryStore) SaveArtifact(_ context.Context, r artifact.Record) error {
	if r.ProducedAt.IsZero() {
		r.ProducedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.users[r.UserID]
	if !ok {
		recs = make(map[string]artifact.Record)
		m.users[r.UserID] = recs
	}
	recs[r.ID] = r
	return nil
}

// DeleteArtifact removes one record.
func (m *MemoryStore) DeleteArtifact(_ context.Context, userID, artifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users[userID], artifactID)
	return nil
}

// ListArtifacts returns the user's records ordered by production time.
func (m *MemoryStore) ListArtifacts(_ context.Context, userID string) ([]artifact.Record, error) {
	m.mu.RLock()
	out := make([]artifact.Record, 0, len(m.users[userID]))
	for _, r := range m.users[userID] {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProducedAt.Equal(out[j].ProducedAt) {
			return out[i].ProducedAt.Before(out[j].ProducedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListArtifactIDs returns the ids of the user's records.
func (m *MemoryStore) ListArtifactIDs(ctx context.Context, userID string) ([]string, error) {
	recs, err := m.ListArtifacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return artifact.IDs(recs), nil
}
