// Package vector indexes episode embeddings and serves nearest-neighbor
// lookups for semantic recall.
package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Point is one stored embedding, keyed deterministically so re-upserts of the
// same episode overwrite rather than duplicate.
type Point struct {
	ID        uuid.UUID
	UserID    string
	EpisodeID string
	Embedding []float64
}

// Match is a search hit.
type Match struct {
	EpisodeID string
	Score     float64
}

// Store indexes points per user.
type Store interface {
	Upsert(ctx context.Context, p Point) error
	// Search returns up to limit matches for the user, best first.
	Search(ctx context.Context, userID string, query []float64, limit int) ([]Match, error)
	DeleteByEpisodes(ctx context.Context, episodeIDs []string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// PointID derives the stable point id for an episode. Name-based UUIDs make
// retried upserts idempotent.
func PointID(userID, episodeID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(userID+":"+episodeID))
}

// Cosine returns the cosine similarity of two equal-length vectors, 0 for
// degenerate input.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func validatePoint(p Point) error {
	if p.UserID == "" || p.EpisodeID == "" {
		return fmt.Errorf("point requires user and episode ids")
	}
	if len(p.Embedding) == 0 {
		return fmt.Errorf("point requires a non-empty embedding")
	}
	return nil
}
