package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/database"
)

// DefaultHeartbeatSchedule runs the heartbeat every five minutes.
const DefaultHeartbeatSchedule = "@every 5m"

// heartbeatTimeout bounds one tick.
const heartbeatTimeout = 10 * time.Second

// HealthFunc reports backend health for a heartbeat tick.
type HealthFunc func(ctx context.Context) database.HealthStatus

// SnapshotFunc returns the current session state.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Heartbeat periodically pings the database and logs session stats.
type Heartbeat struct {
	schedule string
	health   HealthFunc
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	ticks int
	last  database.HealthStatus
}

// NewHeartbeat creates a heartbeat. An empty schedule uses
// DefaultHeartbeatSchedule; snapshot may be nil.
func NewHeartbeat(schedule string, health HealthFunc, snapshot SnapshotFunc, logger *slog.Logger) *Heartbeat {
	if schedule == "" {
		schedule = DefaultHeartbeatSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		schedule: schedule,
		health:   health,
		snapshot: snapshot,
		logger:   logger.With("component", "heartbeat"),
	}
}

// Start registers the job and starts the cron runner. Ticks use ctx.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cron != nil {
		return fmt.Errorf("heartbeat already started")
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(h.schedule, func() { h.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", h.schedule, err)
	}
	c.Start()
	h.cron = c

	h.logger.Info("heartbeat started", "schedule", h.schedule)
	return nil
}

// Stop stops the cron runner and waits for a running tick.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	c := h.cron
	h.cron = nil
	h.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-time.After(heartbeatTimeout):
		h.logger.Warn("heartbeat stop timed out")
	}
	h.logger.Info("heartbeat stopped")
}

// Tick runs one heartbeat check.
func (h *Heartbeat) Tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	status := h.health(tickCtx)

	h.mu.Lock()
	h.ticks++
	h.last = status
	h.mu.Unlock()

	attrs := []any{
		"db_healthy", status.Healthy,
		"db_latency_ms", status.Latency.Milliseconds(),
		"db_open_conns", status.OpenConnections,
	}

	if h.snapshot != nil {
		snap, err := h.snapshot(tickCtx)
		if err != nil {
			// A long turn holds the session; skip the stats this time.
			h.logger.Debug("heartbeat: session busy", "error", err)
		} else {
			attrs = append(attrs,
				"transcript_len", len(snap.Transcript),
				"profile_id", snap.Profile.ID,
			)
		}
	}

	if !status.Healthy {
		h.logger.Error("heartbeat: database unhealthy", append(attrs, "error", status.Error)...)
		return
	}
	h.logger.Info("heartbeat", attrs...)
}

// Last returns the most recent health status and the number of ticks run.
func (h *Heartbeat) Last() (database.HealthStatus, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.ticks
}
