// Package scheduler runs the daily background tasks: log pruning and the
// lobby activity summary.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/lobby"
	"github.com/serpent-project/serpent/internal/util"
)

// StatsSource reports lobby counters.
type StatsSource interface {
	Stats() lobby.Stats
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	logging config.LoggingConfig
	lobby   StatsSource

	// last daily counters, for the per-day delta
	lastStarted  uint64
	lastFinished uint64
}

// NewScheduler creates a new task scheduler.
func NewScheduler(logging config.LoggingConfig, lb StatsSource) *Scheduler {
	return &Scheduler{
		logging: logging,
		lobby:   lb,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runDaily(ctx, "log_cleaner", s.logging.CleanupTime, s.runLogCleaner)
	go s.runDaily(ctx, "daily_stats", "00:00", s.collectStats)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runDaily runs fn every day at the HH:MM clock time at.
func (s *Scheduler) runDaily(ctx context.Context, name, at string, fn func()) {
	for {
		nextRun := nextRunTime(at, time.Now())
		log.Debug().
			Str("task", name).
			Time("next_run", nextRun).
			Msg("task scheduled")

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn()
		}
	}
}

func (s *Scheduler) runLogCleaner() {
	log.Info().
		Str("directory", s.logging.Directory).
		Int("max_backups", s.logging.MaxBackups).
		Msg("running log cleaner")

	removed := util.CleanOldLogs(s.logging.Directory, s.logging.MaxBackups)

	log.Info().Int("deleted_files", removed).Msg("log cleaner completed")
}

// collectStats logs the rooms played since the previous run.
func (s *Scheduler) collectStats() {
	st := s.lobby.Stats()

	started := st.RoomsStarted - s.lastStarted
	finished := st.RoomsFinished - s.lastFinished
	s.lastStarted, s.lastFinished = st.RoomsStarted, st.RoomsFinished

	log.Info().
		Uint64("rooms_started", started).
		Uint64("rooms_finished", finished).
		Int("players", st.Players).
		Str("uptime", formatUptime(st.Uptime)).
		Msg("daily stats collected")
}

// nextRunTime returns the first time after now at the HH:MM clock time at.
// An unparsable value falls back to 04:00.
func nextRunTime(at string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(at, ":")
	if len(parts) >= 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// formatUptime formats a duration as days, hours and minutes.
func formatUptime(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
