package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

type fakeRadio struct {
	connected bool
	last      time.Time
	forced    atomic.Int32
}

func (r *fakeRadio) IsConnected() bool      { return r.connected }
func (r *fakeRadio) LastFrameAt() time.Time { return r.last }
func (r *fakeRadio) ForceReconnect() error {
	r.forced.Add(1)
	return nil
}

type fakeQueue struct{ stats connector.DiscordStats }

func (q fakeQueue) Stats() connector.DiscordStats { return q.stats }

func newTestManager(radio Radio) (*Manager, time.Time) {
	cfg := config.DefaultConfig()
	cfg.Timers.LinkTimeout = 60
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	m := NewManager(cfg, radio)
	m.now = func() time.Time { return now }
	m.diskUsage = func(string) (*util.DiskUsage, error) {
		return &util.DiskUsage{Total: 100, Free: 50, UsedPercent: 50}, nil
	}
	return m, now
}

func resultFor(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result for %s in %+v", name, results)
	return CheckResult{}
}

func TestRadioLinkWatchdog(t *testing.T) {
	testlog.Start(t)
	radio := &fakeRadio{connected: true}
	m, now := newTestManager(radio)

	radio.last = now.Add(-10 * time.Second)
	res := resultFor(t, m.RunOnce(context.Background()), "radio_link")
	if res.Level != LevelOK || radio.forced.Load() != 0 {
		t.Fatalf("fresh link = %+v, forced %d", res, radio.forced.Load())
	}

	radio.last = now.Add(-2 * time.Minute)
	res = resultFor(t, m.RunOnce(context.Background()), "radio_link")
	if res.Level != LevelError || radio.forced.Load() != 1 {
		t.Fatalf("silent link = %+v, forced %d", res, radio.forced.Load())
	}

	radio.connected = false
	res = resultFor(t, m.RunOnce(context.Background()), "radio_link")
	if res.Level != LevelWarning || radio.forced.Load() != 1 {
		t.Fatalf("disconnected = %+v", res)
	}
}

func TestDiskUtilizationThresholds(t *testing.T) {
	testlog.Start(t)
	m, _ := newTestManager(&fakeRadio{connected: true})

	tests := []struct {
		used float64
		want string
	}{
		{50, LevelOK},
		{82, LevelInfo},
		{91, LevelWarning},
		{96, LevelError},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		used := tt.used
		m.diskUsage = func(string) (*util.DiskUsage, error) {
			return &util.DiskUsage{Total: 100, Free: 1, UsedPercent: used}, nil
		}
		if got := m.checkDiskUtilization(context.Background()); got.Level != tt.want {
			t.Fatalf("used %.0f%% = %s, want %s", tt.used, got.Level, tt.want)
		}
	}

	m.diskUsage = func(string) (*util.DiskUsage, error) { return nil, errors.New("no such volume") }
	if got := m.checkDiskUtilization(context.Background()); got.Level != LevelWarning {
		t.Fatalf("error result = %+v", got)
	}
}

func TestDiscordBacklog(t *testing.T) {
	testlog.Start(t)
	m, _ := newTestManager(&fakeRadio{connected: true})

	m.SetDependencies(fakeQueue{connector.DiscordStats{Queues: map[string]int{"messages": 10, "info": 2}}})
	if res := resultFor(t, m.RunOnce(context.Background()), "discord_backlog"); res.Level != LevelOK {
		t.Fatalf("small backlog = %+v", res)
	}

	m.SetDependencies(fakeQueue{connector.DiscordStats{Queues: map[string]int{"messages": 10, "info": connector.MaxQueueSize}}})
	res := resultFor(t, m.RunOnce(context.Background()), "discord_backlog")
	if res.Level != LevelWarning || res.Message != `target "info" has 500 of 500 queued embeds` {
		t.Fatalf("full backlog = %+v", res)
	}
}

func TestChecksFollowConfig(t *testing.T) {
	testlog.Start(t)
	radio := &fakeRadio{connected: true}
	m, now := newTestManager(radio)
	radio.last = now
	m.cfg.History.Enabled = false

	results := m.RunOnce(context.Background())
	if len(results) != 1 || results[0].Name != "radio_link" {
		t.Fatalf("results = %+v", results)
	}
}

func TestStartDisabledReturns(t *testing.T) {
	testlog.Start(t)
	m, _ := newTestManager(&fakeRadio{})
	m.cfg.Timers.HealthCheckInterval = 0

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disabled manager did not return")
	}
}
