package database

import (
	"context"
	"time"
)

// HealthStatus describes database reachability for health endpoints.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports reachability plus round-trip time.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.pool.Ping(ctx)
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
