package vector

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process index used in tests and single-node setups.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]Point // keyed by point id
}

// NewMemoryStore returns an empty index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

// Upsert stores or replaces the point.
func (m *MemoryStore) Upsert(_ context.Context, p Point) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = PointID(p.UserID, p.EpisodeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[p.ID.String()] = p
	return nil
}

// Search scans the user's points and returns the top matches by cosine
// similarity.
func (m *MemoryStore) Search(_ context.Context, userID string, query []float64, limit int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, p := range m.points {
		if p.UserID != userID {
			continue
		}
		matches = append(matches, Match{EpisodeID: p.EpisodeID, Score: Cosine(query, p.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteByEpisodes removes points belonging to the given episodes.
func (m *MemoryStore) DeleteByEpisodes(_ context.Context, episodeIDs []string) error {
	drop := make(map[string]bool, len(episodeIDs))
	for _, id := range episodeIDs {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.points {
		if drop[p.EpisodeID] {
			delete(m.points, key)
		}
	}
	return nil
}

// DeleteByUser removes all of a user's points.
func (m *MemoryStore) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.points {
		if p.UserID == userID {
			delete(m.points, key)
		}
	}
	return nil
}
