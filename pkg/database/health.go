package database

import (
	"context"
	"time"
)

// HealthCheck verifies the pool can reach the database within a short
// deadline. Used by the readiness endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.DB.PingContext(ctx)
}

// Stats exposes pool counters for the health endpoint.
func (c *Client) Stats() map[string]any {
	s := c.DB.Stats()
	return map[string]any{
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"idle":             s.Idle,
		"wait_count":       s.WaitCount,
	}
}
