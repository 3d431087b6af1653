package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/semcache"
	"github.com/atlas-agent/atlas/pkg/vector"
)

// memoryGraph is the graph slice the explicit memory operations need.
type memoryGraph interface {
	PurgeUser(ctx context.Context, userID string) error
}

// factCorrector applies a user correction to the fact graph.
type factCorrector interface {
	Correct(ctx context.Context, userID, turnID, subject, predicateRaw, newObject string, cat *catalog.Catalog) (int64, error)
}

// MemoryService exposes the privileged memory operations of the HTTP API:
// explicit corrections and the full forget-me wipe.
type MemoryService struct {
	graph   memoryGraph
	engine  factCorrector
	vectors vector.Store
	cache   *semcache.Cache
	cat     *catalog.Catalog
}

// NewMemoryService builds the memory operations service.
func NewMemoryService(graph memoryGraph, engine factCorrector, vectors vector.Store, cache *semcache.Cache, cat *catalog.Catalog) *MemoryService {
	return &MemoryService{graph: graph, engine: engine, vectors: vectors, cache: cache, cat: cat}
}

// Correct retracts the matching facts and, when newObject is non-empty,
// writes the replacement at full confidence. Returns how many facts were
// retracted.
func (m *MemoryService) Correct(ctx context.Context, userID, subject, predicate, newObject string) (int64, error) {
	if strings.TrimSpace(subject) == "" {
		return 0, NewValidationError("subject", "özne gerekli")
	}
	if strings.TrimSpace(predicate) == "" {
		return 0, NewValidationError("predicate", "yüklem gerekli")
	}

	turnID := "correction:" + uuid.NewString()
	n, err := m.engine.Correct(ctx, userID, turnID, subject, predicate, newObject, m.cat)
	if err != nil {
		return 0, err
	}
	if err := m.cache.PurgeUser(ctx, userID); err != nil {
		slog.Warn("Failed to purge semantic cache after correction", "user_id", userID, "error", err)
	}
	return n, nil
}

// ForgetAll erases every trace of the user: graph rows, vector points, and
// cached answers. Irreversible.
func (m *MemoryService) ForgetAll(ctx context.Context, userID string) error {
	if err := m.graph.PurgeUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to purge user graph: %w", err)
	}
	if m.vectors != nil {
		if err := m.vectors.DeleteByUser(ctx, userID); err != nil {
			slog.Warn("Failed to delete vector points", "user_id", userID, "error", err)
		}
	}
	if err := m.cache.PurgeUser(ctx, userID); err != nil {
		slog.Warn("Failed to purge semantic cache", "user_id", userID, "error", err)
	}
	slog.Info("User data erased", "user_id", userID)
	return nil
}
