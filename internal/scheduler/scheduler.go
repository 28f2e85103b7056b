// Package scheduler runs the bridge's periodic background tasks: the stats
// report, event history pruning and log file cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

const logCleanInterval = 24 * time.Hour

// StatsSource is the radio side of the stats report.
type StatsSource interface {
	Stats() connector.ConnectorStats
	Session() *protocol.Session
}

// QueueSource reports Discord delivery counters.
type QueueSource interface {
	Stats() connector.DiscordStats
}

// Pruner deletes history older than a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	timers    config.TimerConfig
	retention time.Duration
	logging   config.LoggingConfig

	radio    StatsSource
	notifier QueueSource
	pruner   Pruner

	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, radio StatsSource) *Scheduler {
	return &Scheduler{
		timers:    cfg.GetTimers(),
		retention: time.Duration(cfg.GetHistory().RetentionDays) * 24 * time.Hour,
		logging:   cfg.GetLogging(),
		radio:     radio,
		logger:    log.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// SetDependencies injects the optional sources. Either may be nil.
func (s *Scheduler) SetDependencies(notifier QueueSource, pruner Pruner) {
	s.notifier = notifier
	s.pruner = pruner
}

// Start runs all scheduled tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	if d := seconds(s.timers.StatsReportInterval); d > 0 {
		go runEvery(ctx, d, func() { s.ReportStats() })
	}
	if d := seconds(s.timers.HistoryPruneInterval); d > 0 && s.pruner != nil && s.retention > 0 {
		go runEvery(ctx, d, func() { s.PruneHistory() })
	}
	if s.logging.Directory != "" && s.logging.MaxBackups > 0 {
		go runEvery(ctx, logCleanInterval, func() {
			if n := util.CleanOldLogs(s.logging.Directory, s.logging.MaxBackups); n > 0 {
				s.logger.Info().Int("removed", n).Msg("old log files removed")
			}
		})
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// StatsReport is one periodic snapshot of bridge activity.
type StatsReport struct {
	Radio   connector.ConnectorStats
	Decoder protocol.Stats
	Discord *connector.DiscordStats
}

// ReportStats logs a snapshot of the radio, decoder and Discord counters.
func (s *Scheduler) ReportStats() StatsReport {
	report := StatsReport{
		Radio:   s.radio.Stats(),
		Decoder: s.radio.Session().Stats(),
	}

	ev := s.logger.Info().
		Str("state", report.Radio.State).
		Uint64("reconnects", report.Radio.Reconnects).
		Uint64("frames", report.Decoder.Frames).
		Uint64("messages", report.Decoder.Messages).
		Uint64("mesh_packets", report.Decoder.MeshPackets).
		Uint64("adverts", report.Decoder.Adverts).
		Int("contacts", report.Decoder.Contacts)

	if s.notifier != nil {
		d := s.notifier.Stats()
		report.Discord = &d
		ev = ev.
			Uint64("discord_sent", d.MessagesSent).
			Uint64("discord_errors", d.Errors).
			Int("message_queue", d.MessageQueueSize).
			Int("info_queue", d.InfoQueueSize)
	}

	ev.Msg("bridge stats")
	return report
}

// PruneHistory deletes events older than the retention window.
func (s *Scheduler) PruneHistory() int64 {
	if s.pruner == nil || s.retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.Prune(cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history prune failed")
		return 0
	}
	s.logger.Debug().Int64("deleted", n).Time("cutoff", cutoff).Msg("history prune completed")
	return n
}
