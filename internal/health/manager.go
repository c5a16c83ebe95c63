// Package health runs periodic checks on the running server: stale socket
// sweeps, host resource pressure, and the status heartbeat.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/lobby"
	"github.com/serpent-project/serpent/internal/network"
	"github.com/serpent-project/serpent/internal/util"
)

// StatsSource reports lobby counters.
type StatsSource interface {
	Stats() lobby.Stats
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	lobby    StatsSource
	registry *network.ConnectionRegistry

	// sample is replaced in tests.
	sample func() util.ResourceUsage
}

// NewManager creates a health check manager.
func NewManager(cfg config.HealthConfig, eventBus *events.EventBus, lb StatsSource, registry *network.ConnectionRegistry) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		lobby:    lb,
		registry: registry,
		sample:   util.GetResourceUsage,
	}
}

// Start launches every enabled check and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"general_health", m.cfg.GeneralIntervalSec, m.checkGeneralHealth},
		{"resources", m.cfg.ResourceIntervalSec, m.checkResources},
		{"heartbeat", m.cfg.HeartbeatIntervalSec, m.heartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkGeneralHealth closes sockets that have gone silent for longer than
// the stale timeout. Sessions normally catch this through their heartbeat
// deadline first.
func (m *Manager) checkGeneralHealth(context.Context) {
	if m.registry == nil || m.cfg.StaleConnectionSec <= 0 {
		return
	}
	if cleaned := m.registry.CleanStale(m.cfg.StaleConnection()); cleaned > 0 {
		log.Info().Int("cleaned", cleaned).Msg("cleaned stale connections")
	}
}

// checkResources warns when host CPU or memory is above the thresholds.
func (m *Manager) checkResources(context.Context) {
	m.evaluateResources(m.sample())
}

// evaluateResources returns the warning level it logged, "" when usage is
// normal.
func (m *Manager) evaluateResources(usage util.ResourceUsage) string {
	log.Debug().
		Float64("cpu_percent", usage.CPUPercent).
		Float64("memory_percent", usage.MemoryPercent).
		Uint64("process_rss_mb", usage.ProcessRSSMB).
		Int("goroutines", usage.Goroutines).
		Msg("resource usage")

	var level string
	switch {
	case usage.CPUPercent >= m.cfg.CPUWarnPercent && usage.MemoryPercent >= m.cfg.MemoryWarnPercent:
		level = "critical"
	case usage.CPUPercent >= m.cfg.CPUWarnPercent:
		level = "cpu"
	case usage.MemoryPercent >= m.cfg.MemoryWarnPercent:
		level = "memory"
	default:
		return ""
	}

	log.Warn().
		Str("level", level).
		Float64("cpu_percent", usage.CPUPercent).
		Float64("memory_percent", usage.MemoryPercent).
		Msg("host under resource pressure, room ticks may lag")
	return level
}

// heartbeat emits the status summary that telemetry publishes.
func (m *Manager) heartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.NewEvent(events.EventHeartbeat, "health", m.buildHeartbeat()))
}

func (m *Manager) buildHeartbeat() events.HeartbeatPayload {
	st := m.lobby.Stats()
	usage := m.sample()

	hb := events.HeartbeatPayload{
		Players:       st.Players,
		Queued:        st.Queued,
		Rooms:         st.Rooms,
		Spectators:    st.Spectators,
		CPUPercent:    usage.CPUPercent,
		MemoryPercent: usage.MemoryPercent,
		Goroutines:    usage.Goroutines,
		UptimeSeconds: int64(st.Uptime / time.Second),
	}
	if m.registry != nil {
		hb.Connections = m.registry.Count()
	}
	return hb
}
