// Package health runs periodic checks on the radio link, the disk holding
// the history database and the Discord delivery backlog.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

// Check levels.
const (
	LevelOK       = "ok"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// Queue warning threshold as a share of the per-target cap.
const backlogWarnRatio = 0.8

// Radio is the part of the connector the link watchdog needs.
type Radio interface {
	IsConnected() bool
	LastFrameAt() time.Time
	ForceReconnect() error
}

// QueueSource reports Discord queue sizes.
type QueueSource interface {
	Stats() connector.DiscordStats
}

// CheckResult is the latest outcome of one named check.
type CheckResult struct {
	Name      string    `json:"name"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs periodic health checks.
type Manager struct {
	cfg    *config.Config
	radio  Radio
	queue  QueueSource
	logger zerolog.Logger

	mu      sync.RWMutex
	results map[string]CheckResult

	now       func() time.Time
	diskUsage func(path string) (*util.DiskUsage, error)
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, radio Radio) *Manager {
	return &Manager{
		cfg:       cfg,
		radio:     radio,
		logger:    util.ComponentLogger("health"),
		results:   make(map[string]CheckResult),
		now:       time.Now,
		diskUsage: util.GetDiskUsage,
	}
}

// SetDependencies injects the Discord notifier. It may be nil.
func (m *Manager) SetDependencies(queue QueueSource) {
	m.queue = queue
}

type check struct {
	name string
	fn   func(context.Context) CheckResult
}

func (m *Manager) checks() []check {
	checks := []check{
		{"radio_link", m.checkRadioLink},
	}
	if m.cfg.GetHistory().Enabled {
		checks = append(checks, check{"disk_utilization", m.checkDiskUtilization})
	}
	if m.queue != nil {
		checks = append(checks, check{"discord_backlog", m.checkDiscordBacklog})
	}
	return checks
}

// Start launches every check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.GetTimers().HealthCheckInterval) * time.Second
	if interval <= 0 {
		m.logger.Info().Msg("health checks disabled")
		return
	}

	checks := m.checks()
	var wg sync.WaitGroup
	for _, c := range checks {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", c.name).Msg("running initial health check")
			m.run(ctx, c)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.run(ctx, c)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", len(checks)).Dur("interval", interval).Msg("health check manager started")
	wg.Wait()
	m.logger.Info().Msg("health check manager stopped")
}

// RunOnce runs every check a single time and returns the results.
func (m *Manager) RunOnce(ctx context.Context) []CheckResult {
	for _, c := range m.checks() {
		m.run(ctx, c)
	}
	return m.Snapshot()
}

func (m *Manager) run(ctx context.Context, c check) {
	res := c.fn(ctx)
	res.Name = c.name
	res.CheckedAt = m.now()

	m.mu.Lock()
	prev, seen := m.results[c.name]
	m.results[c.name] = res
	m.mu.Unlock()

	if seen && prev.Level != LevelOK && res.Level == LevelOK {
		m.logger.Info().Str("check", c.name).Msg("check recovered")
	}
}

// Snapshot returns the latest result of every check, sorted by name.
func (m *Manager) Snapshot() []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CheckResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// checkRadioLink drops a connection that has gone silent for longer than
// the link timeout. The connection manager then redials.
func (m *Manager) checkRadioLink(_ context.Context) CheckResult {
	if !m.radio.IsConnected() {
		return CheckResult{Level: LevelWarning, Message: "radio not connected"}
	}

	timeout := time.Duration(m.cfg.GetTimers().LinkTimeout) * time.Second
	silent := m.now().Sub(m.radio.LastFrameAt())
	if timeout <= 0 || silent <= timeout {
		return CheckResult{Level: LevelOK, Message: fmt.Sprintf("last frame %s ago", silent.Truncate(time.Second))}
	}

	m.logger.Warn().
		Dur("silent", silent).
		Dur("timeout", timeout).
		Msg("radio link silent, forcing reconnect")

	if err := m.radio.ForceReconnect(); err != nil && err != connector.ErrNotConnected {
		m.logger.Error().Err(err).Msg("forced reconnect failed")
		return CheckResult{Level: LevelError, Message: fmt.Sprintf("forced reconnect failed: %v", err)}
	}
	return CheckResult{Level: LevelError, Message: fmt.Sprintf("no frames for %s, reconnecting", silent.Truncate(time.Second))}
}

// checkDiskUtilization monitors space on the volume holding the history
// database.
func (m *Manager) checkDiskUtilization(_ context.Context) CheckResult {
	path := filepath.Dir(m.cfg.GetHistory().Path)
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return CheckResult{Level: LevelWarning, Message: err.Error()}
	}

	message := fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)

	// Alert thresholds: 80%, 90%, 95%, 100%
	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = LevelCritical
	case usage.UsedPercent >= 95:
		level = LevelError
	case usage.UsedPercent >= 90:
		level = LevelWarning
	case usage.UsedPercent >= 80:
		level = LevelInfo
	default:
		return CheckResult{Level: LevelOK, Message: message}
	}

	m.logger.Warn().Str("level", level).Msg(message)
	return CheckResult{Level: level, Message: message}
}

func (m *Manager) checkDiscordBacklog(_ context.Context) CheckResult {
	stats := m.queue.Stats()

	worst, size := "", 0
	for name, n := range stats.Queues {
		if n > size || (n == size && name < worst) {
			worst, size = name, n
		}
	}

	limit := connector.MaxQueueSize
	if float64(size) < backlogWarnRatio*float64(limit) {
		return CheckResult{Level: LevelOK, Message: fmt.Sprintf("%d dropped", stats.Dropped)}
	}

	message := fmt.Sprintf("target %q has %d of %d queued embeds", worst, size, limit)
	m.logger.Warn().Str("target", worst).Int("queued", size).Msg("discord backlog near capacity")
	return CheckResult{Level: LevelWarning, Message: message}
}
