// Package semcache is the Redis-backed semantic answer cache. Identical
// questions hit by key; paraphrases hit by embedding similarity over the
// user's cached entries. Any memory write for a user purges their slice of
// the cache, so stale answers never outlive the facts they were built from.
package semcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlas-agent/atlas/pkg/vector"
)

const keyPrefix = "cache:"

// Entry is one cached answer.
type Entry struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache wraps the Redis client. A nil Cache is a valid no-op.
type Cache struct {
	rdb       *redis.Client
	ttl       time.Duration
	threshold float64
}

// New builds the cache. threshold is the minimum cosine similarity for a
// paraphrase hit.
func New(rdb *redis.Client, ttl time.Duration, threshold float64) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, threshold: threshold}
}

// Get looks up an answer for the query. The exact key is tried first; when
// an embedding is given, the user's entries are scanned for a similar
// question. Redis errors degrade to a miss.
func (c *Cache) Get(ctx context.Context, userID, query string, embedding []float64) (*Entry, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, c.key(userID, query)).Result()
	if err == nil {
		var entry Entry
		if json.Unmarshal([]byte(raw), &entry) == nil {
			return &entry, true
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("Semantic cache lookup failed, treating as miss", "error", err)
		return nil, false
	}

	if len(embedding) == 0 {
		return nil, false
	}
	return c.scanSimilar(ctx, userID, embedding)
}

// scanSimilar walks the user's cache entries and returns the best entry at
// or above the similarity threshold.
func (c *Cache) scanSimilar(ctx context.Context, userID string, embedding []float64) (*Entry, bool) {
	var (
		best      *Entry
		bestScore float64
	)
	iter := c.rdb.Scan(ctx, 0, keyPrefix+userID+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := c.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var entry Entry
		if json.Unmarshal([]byte(raw), &entry) != nil || len(entry.Embedding) == 0 {
			continue
		}
		if score := vector.Cosine(embedding, entry.Embedding); score >= c.threshold && score > bestScore {
			bestScore = score
			e := entry
			best = &e
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Semantic cache scan failed", "error", err)
		return nil, false
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Set stores an answer under the normalized query key. Errors are logged and
// swallowed; caching is best effort.
func (c *Cache) Set(ctx context.Context, userID, query, answer string, embedding []float64) {
	if c == nil || c.rdb == nil {
		return
	}
	entry := Entry{Query: query, Answer: answer, Embedding: embedding, CreatedAt: time.Now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(userID, query), raw, c.ttl).Err(); err != nil {
		slog.Warn("Semantic cache write failed", "error", err)
	}
}

// PurgeUser removes every cached answer of a user. Called after any memory
// write so answers cannot contradict fresh facts.
func (c *Cache) PurgeUser(ctx context.Context, userID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, keyPrefix+userID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}

func (c *Cache) key(userID, query string) string {
	sum := md5.Sum([]byte(Normalize(query)))
	return keyPrefix + userID + ":" + hex.EncodeToString(sum[:])
}

// Normalize folds a question to its cache identity: lowercased, whitespace
// collapsed, trailing punctuation stripped.
func Normalize(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.Join(strings.Fields(q), " ")
	return strings.TrimRight(q, "?!. ")
}
