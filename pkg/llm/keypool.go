package llm

import (
	"fmt"
	"sync"
	"time"
)

// KeyPool rotates API keys per provider, tracking per-key cooldowns after
// rate limits and per-(model, key) quota exhaustion until the day rolls
// over. All methods are safe for concurrent use.
type KeyPool struct {
	mu   sync.Mutex
	keys map[string][]string // provider -> rotation list
	next map[string]int      // provider -> round-robin cursor

	cooldownUntil map[string]time.Time // provider:key
	quotaDay      map[string]string    // provider:model:key -> day it was exhausted
	usage         map[string]int       // provider:key:day -> successful calls

	clock func() time.Time
}

// NewKeyPool builds a pool from per-provider key lists.
func NewKeyPool(keys map[string][]string) *KeyPool {
	return &KeyPool{
		keys:          keys,
		next:          make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
		quotaDay:      make(map[string]string),
		usage:         make(map[string]int),
		clock:         time.Now,
	}
}

// Acquire returns the next usable key for a provider and model, skipping
// keys cooling down or quota-exhausted today. Returns ErrNoKeys when every
// key is parked.
func (p *KeyPool) Acquire(provider, model string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.keys[provider]
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %s has no configured keys", ErrNoKeys, provider)
	}

	now := p.clock()
	day := now.Format("2006-01-02")
	start := p.next[provider]
	for i := 0; i < len(keys); i++ {
		idx := (start + i) % len(keys)
		key := keys[idx]
		if until, ok := p.cooldownUntil[provider+":"+key]; ok && now.Before(until) {
			continue
		}
		if p.quotaDay[provider+":"+model+":"+key] == day {
			continue
		}
		p.next[provider] = (idx + 1) % len(keys)
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoKeys, provider)
}

// ReportRateLimit parks the key for the cooldown duration.
func (p *KeyPool) ReportRateLimit(provider, key string, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldownUntil[provider+":"+key] = p.clock().Add(cooldown)
}

// ReportQuotaExhausted parks the (model, key) pair until the next day
// boundary. Other models keep using the key.
func (p *KeyPool) ReportQuotaExhausted(provider, model, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotaDay[provider+":"+model+":"+key] = p.clock().Format("2006-01-02")
}

// ReportSuccess bumps the key's daily counter and clears any cooldown.
func (p *KeyPool) ReportSuccess(provider, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cooldownUntil, provider+":"+key)
	p.usage[provider+":"+key+":"+p.clock().Format("2006-01-02")]++
}

// KeyCount returns the number of configured keys for a provider.
func (p *KeyPool) KeyCount(provider string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys[provider])
}

// Usage returns today's successful call count for a key.
func (p *KeyPool) Usage(provider, key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage[provider+":"+key+":"+p.clock().Format("2006-01-02")]
}
