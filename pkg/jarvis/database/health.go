package database

import (
	"context"
	"time"
)

// HealthStatus represents the health state of the database backend.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Dialect Dialect       `json:"dialect"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *DB) HealthStatus {
	status := HealthStatus{Dialect: db.Dialect}

	start := time.Now()
	err := db.PingContext(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true

	query := "SELECT sqlite_version()"
	if db.Dialect == DialectPostgres {
		query = "SELECT version()"
	}
	if err := db.QueryRowContext(ctx, query).Scan(&status.Version); err != nil {
		status.Version = "unknown"
	}

	stats := db.Stats()
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	return status
}
