package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/metrics"
)

const (
	// Discord message flag SUPPRESS_NOTIFICATIONS.
	flagSilent = 1 << 12

	// MaxQueueSize caps each target queue; the oldest embeds are dropped.
	MaxQueueSize     = 500
	rateLimitBackoff = 5 * time.Second
)

// Target names.
const (
	TargetMessages = "messages"
	TargetDM       = "dm"
	TargetInfo     = "info"
)

var errRateLimited = errors.New("rate limited by Discord")

// DiscordNotifier formats mesh events as embeds and posts them to Discord
// in batches. Each channel target is either a channel ID, posted through the
// bot API, or a webhook URL.
type DiscordNotifier struct {
	mu sync.Mutex

	cfg    config.DiscordConfig
	client *http.Client
	logger zerolog.Logger

	queues map[string][]Embed

	eventsReceived atomic.Uint64
	messagesSent   atomic.Uint64
	errorCount     atomic.Uint64
	dropped        atomic.Uint64

	backoff time.Duration
}

// NewDiscordNotifier creates a notifier for the configured channel targets.
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = config.DefaultMaxBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = config.DefaultBatchInterval
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://discord.com/api/v10"
	}
	return &DiscordNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.With().Str("component", "discord").Logger(),
		queues:  make(map[string][]Embed),
		backoff: rateLimitBackoff,
	}
}

// Subscribe registers the notifier on the bus for every event type.
func (n *DiscordNotifier) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("discord.notify", n.HandleEvent)
}

// Route picks the target name for an event. Channel messages prefer a
// per-channel target, direct messages prefer "dm", and both fall back to
// "messages". Everything else goes to "info".
func (n *DiscordNotifier) Route(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case events.ChannelMessage:
		if name := fmt.Sprintf("channel_%d", p.Channel); n.hasTarget(name) {
			return name
		}
		return TargetMessages
	case events.DirectMessage:
		if n.hasTarget(TargetDM) {
			return TargetDM
		}
		return TargetMessages
	default:
		return TargetInfo
	}
}

func (n *DiscordNotifier) hasTarget(name string) bool {
	v, ok := n.cfg.Channels[name]
	return ok && strings.TrimSpace(v) != ""
}

// HandleEvent formats and queues one event. It never blocks on the network.
func (n *DiscordNotifier) HandleEvent(_ context.Context, ev events.Event) error {
	n.eventsReceived.Add(1)

	embed, ok := FormatEvent(ev)
	if !ok {
		return nil
	}

	target := n.Route(ev)
	if !n.hasTarget(target) {
		n.logger.Debug().
			Str("event", string(ev.Type)).
			Str("target", target).
			Msg("no channel configured for event, skipping")
		return nil
	}

	n.mu.Lock()
	size := n.setQueue(target, append(n.queues[target], embed))
	n.mu.Unlock()

	n.logger.Debug().
		Str("event", string(ev.Type)).
		Str("target", target).
		Int("queue", size).
		Msg("event queued")
	return nil
}

// setQueue stores q for target, dropping the oldest embeds beyond
// MaxQueueSize. The caller holds n.mu.
func (n *DiscordNotifier) setQueue(target string, q []Embed) int {
	if len(q) > MaxQueueSize {
		n.dropped.Add(uint64(len(q) - MaxQueueSize))
		q = q[len(q)-MaxQueueSize:]
	}
	n.queues[target] = q
	return len(q)
}

// Run sends queued embeds every batch interval until ctx is cancelled.
func (n *DiscordNotifier) Run(ctx context.Context) {
	interval := n.cfg.BatchIntervalDuration()
	n.logger.Info().Dur("interval", interval).Msg("batch sender started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info().Msg("batch sender stopped")
			return
		case <-ticker.C:
			n.Flush(ctx)
		}
	}
}

// Flush sends at most one batch per target.
func (n *DiscordNotifier) Flush(ctx context.Context) {
	n.mu.Lock()
	targets := make([]string, 0, len(n.queues))
	for name, q := range n.queues {
		if len(q) > 0 {
			targets = append(targets, name)
		}
	}
	n.mu.Unlock()
	sort.Strings(targets)

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		n.sendBatch(ctx, target)
	}
}

func (n *DiscordNotifier) sendBatch(ctx context.Context, target string) {
	n.mu.Lock()
	q := n.queues[target]
	count := batchLen(q, n.cfg.MaxBatchSize)
	batch := make([]Embed, count)
	copy(batch, q[:count])
	n.queues[target] = q[count:]
	n.mu.Unlock()

	if count == 0 {
		return
	}

	err := n.post(ctx, target, batch)
	switch {
	case err == nil:
		n.messagesSent.Add(uint64(count))
		n.logger.Debug().Str("target", target).Int("embeds", count).Msg("batch sent")

	case errors.Is(err, errRateLimited):
		n.errorCount.Add(1)
		n.logger.Warn().Str("target", target).Msg("rate limited, re-queuing batch")
		n.mu.Lock()
		n.setQueue(target, append(batch, n.queues[target]...))
		n.mu.Unlock()
		sleepCtx(ctx, n.backoff)

	default:
		n.errorCount.Add(1)
		n.logger.Error().Err(err).Str("target", target).Int("embeds", count).Msg("failed to send batch")
	}
}

// batchLen returns how many embeds from the head of q fit in one message.
// The head embed is always taken so an oversized one cannot stall the queue.
func batchLen(q []Embed, maxEmbeds int) int {
	count, chars := 0, 0
	for _, e := range q {
		if count == maxEmbeds {
			break
		}
		chars += e.chars()
		if count > 0 && chars > MaxMessageEmbedChars {
			break
		}
		count++
	}
	return count
}

type messagePayload struct {
	Embeds          []Embed         `json:"embeds"`
	Flags           int             `json:"flags"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// post delivers one batch as a single silent message.
func (n *DiscordNotifier) post(ctx context.Context, target string, batch []Embed) error {
	dest := n.cfg.Channels[target]

	jsonData, err := json.Marshal(messagePayload{
		Embeds:          batch,
		Flags:           flagSilent,
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	url := dest
	if !config.IsWebhookTarget(dest) {
		url = fmt.Sprintf("%s/channels/%s/messages", strings.TrimRight(n.cfg.APIBaseURL, "/"), dest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !config.IsWebhookTarget(dest) {
		req.Header.Set("Authorization", "Bot "+n.cfg.Token)
	}

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		metrics.RecordDiscordRequest(target, 0, time.Since(start))
		return fmt.Errorf("Discord request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordDiscordRequest(target, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return errRateLimited
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("Discord returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// DiscordStats is a snapshot of notifier counters.
type DiscordStats struct {
	EventsReceived   uint64         `json:"events_received"`
	MessagesSent     uint64         `json:"messages_sent"`
	Errors           uint64         `json:"errors"`
	Dropped          uint64         `json:"dropped"`
	MessageQueueSize int            `json:"message_queue_size"`
	InfoQueueSize    int            `json:"info_queue_size"`
	Queues           map[string]int `json:"queues"`
}

// Stats returns notifier counters and queue sizes.
func (n *DiscordNotifier) Stats() DiscordStats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := DiscordStats{
		EventsReceived: n.eventsReceived.Load(),
		MessagesSent:   n.messagesSent.Load(),
		Errors:         n.errorCount.Load(),
		Dropped:        n.dropped.Load(),
		Queues:         make(map[string]int, len(n.queues)),
	}
	for name, q := range n.queues {
		s.Queues[name] = len(q)
		if name == TargetInfo {
			s.InfoQueueSize += len(q)
		} else {
			s.MessageQueueSize += len(q)
		}
	}
	return s
}

// Targets returns the configured target names, sorted.
func (n *DiscordNotifier) Targets() []string {
	names := make([]string, 0, len(n.cfg.Channels))
	for name := range n.cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
