package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
)

type capturedRequest struct {
	Path    string
	Auth    string
	Payload messagePayload
}

type fakeDiscord struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   []int // consumed per request; 204 once exhausted
	inFlight func()
}

func (f *fakeDiscord) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p messagePayload
	json.NewDecoder(r.Body).Decode(&p)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Payload: p})
	status := http.StatusNoContent
	if len(f.status) > 0 {
		status = f.status[0]
		f.status = f.status[1:]
	}
	hook := f.inFlight
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	w.WriteHeader(status)
}

func (f *fakeDiscord) snapshot() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

func newTestNotifier(t *testing.T, channels map[string]string) (*DiscordNotifier, *fakeDiscord, *httptest.Server) {
	t.Helper()
	fake := &fakeDiscord{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	for k, v := range channels {
		if v == "webhook" {
			channels[k] = srv.URL + "/api/webhooks/1/token"
		}
	}
	n := NewDiscordNotifier(config.DiscordConfig{
		Token:         "secret",
		Channels:      channels,
		BatchInterval: 0.01,
		MaxBatchSize:  2,
		APIBaseURL:    srv.URL + "/api/v10",
	})
	n.backoff = time.Millisecond
	return n, fake, srv
}

func TestDiscordRouting(t *testing.T) {
	testlog.Start(t)
	n, _, _ := newTestNotifier(t, map[string]string{
		"messages":  "100000000000000001",
		"dm":        "100000000000000002",
		"channel_1": "100000000000000003",
	})

	tests := []struct {
		payload events.Payload
		want    string
	}{
		{events.ChannelMessage{Channel: 1}, "channel_1"},
		{events.ChannelMessage{Channel: 0}, TargetMessages},
		{events.DirectMessage{}, TargetDM},
		{events.Ack{}, TargetInfo},
		{events.ContactSummary{}, TargetInfo},
	}
	for _, tt := range tests {
		if got := n.Route(events.New(tt.payload, nil)); got != tt.want {
			t.Fatalf("route %T = %s, want %s", tt.payload, got, tt.want)
		}
	}

	noDM, _, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	if got := noDM.Route(events.New(events.DirectMessage{}, nil)); got != TargetMessages {
		t.Fatalf("dm fallback = %s", got)
	}
}

func TestDiscordBatchesBotAndWebhook(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{
		"messages": "100000000000000001",
		"info":     "webhook",
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n.HandleEvent(ctx, events.New(events.ChannelMessage{Sender: "a", Message: "hi"}, nil))
	}
	n.HandleEvent(ctx, events.New(events.Ack{Code: "01020304", RTTMs: 12}, nil))
	// skipped: no node name
	n.HandleEvent(ctx, events.New(events.MeshPacket{Length: 3}, nil))

	n.Flush(ctx)
	reqs := fake.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}

	var bot, hook capturedRequest
	for _, r := range reqs {
		if strings.Contains(r.Path, "/channels/") {
			bot = r
		} else {
			hook = r
		}
	}
	if bot.Path != "/api/v10/channels/100000000000000001/messages" || bot.Auth != "Bot secret" {
		t.Fatalf("bot request = %+v", bot)
	}
	if len(bot.Payload.Embeds) != 2 || bot.Payload.Flags != flagSilent {
		t.Fatalf("bot payload = %+v", bot.Payload)
	}
	if bot.Payload.AllowedMentions.Parse == nil || len(bot.Payload.AllowedMentions.Parse) != 0 {
		t.Fatalf("allowed mentions = %+v", bot.Payload.AllowedMentions)
	}
	if hook.Path != "/api/webhooks/1/token" || hook.Auth != "" || len(hook.Payload.Embeds) != 1 {
		t.Fatalf("webhook request = %+v", hook)
	}

	s := n.Stats()
	if s.EventsReceived != 5 || s.MessagesSent != 3 || s.MessageQueueSize != 1 || s.InfoQueueSize != 0 {
		t.Fatalf("stats = %+v", s)
	}

	n.Flush(ctx)
	if s := n.Stats(); s.MessageQueueSize != 0 || s.MessagesSent != 4 {
		t.Fatalf("stats after second flush = %+v", s)
	}
}

func TestDiscordRateLimitRequeues(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	fake.status = []int{http.StatusTooManyRequests}
	ctx := context.Background()

	n.HandleEvent(ctx, events.New(events.ChannelMessage{Message: "first"}, nil))
	n.HandleEvent(ctx, events.New(events.ChannelMessage{Message: "second"}, nil))
	n.HandleEvent(ctx, events.New(events.ChannelMessage{Message: "third"}, nil))

	n.Flush(ctx)
	if s := n.Stats(); s.MessageQueueSize != 3 || s.Errors != 1 || s.MessagesSent != 0 {
		t.Fatalf("stats after 429 = %+v", s)
	}

	n.Flush(ctx)
	reqs := fake.snapshot()
	last := reqs[len(reqs)-1].Payload.Embeds
	if len(last) != 2 || last[0].Description != "first" || last[1].Description != "second" {
		t.Fatalf("requeued order = %+v", last)
	}
}

func TestDiscordRequeueRespectsQueueCap(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	ctx := context.Background()
	msg := func(text string) events.Event {
		return events.New(events.ChannelMessage{Message: text}, nil)
	}

	n.HandleEvent(ctx, msg("oldest"))
	n.HandleEvent(ctx, msg("older"))

	fake.mu.Lock()
	fake.status = []int{http.StatusTooManyRequests}
	fake.inFlight = func() {
		// the queue refills while the rate-limited batch is out
		for i := 0; i < MaxQueueSize; i++ {
			n.HandleEvent(ctx, msg("fresh"))
		}
	}
	fake.mu.Unlock()

	n.Flush(ctx)

	s := n.Stats()
	if s.MessageQueueSize != MaxQueueSize || s.Dropped != 2 {
		t.Fatalf("stats after requeue = %+v", s)
	}
	n.mu.Lock()
	head := n.queues["messages"][0].Description
	n.mu.Unlock()
	if head != "fresh" {
		t.Fatalf("queue head = %q, oldest embeds kept", head)
	}
}

func TestDiscordBatchRespectsMessageSize(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	ctx := context.Background()
	long := strings.Repeat("x", 5000)

	n.HandleEvent(ctx, events.New(events.ChannelMessage{Message: long}, nil))
	n.HandleEvent(ctx, events.New(events.ChannelMessage{Message: long}, nil))

	n.Flush(ctx)
	n.Flush(ctx)
	reqs := fake.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want one per oversized embed", len(reqs))
	}
	for i, r := range reqs {
		if len(r.Payload.Embeds) != 1 || r.Payload.Embeds[0].chars() > MaxMessageEmbedChars {
			t.Fatalf("request %d embeds = %d", i, len(r.Payload.Embeds))
		}
	}
}

func TestDiscordServerErrorDropsBatch(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"info": "webhook"})
	fake.status = []int{http.StatusBadRequest}

	n.HandleEvent(context.Background(), events.New(events.Ack{}, nil))
	n.Flush(context.Background())
	if s := n.Stats(); s.Errors != 1 || s.InfoQueueSize != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestDiscordUnconfiguredTargetSkipped(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	n.HandleEvent(context.Background(), events.New(events.Ack{}, nil))
	n.Flush(context.Background())
	if len(fake.snapshot()) != 0 {
		t.Fatal("info event sent without an info target")
	}
}

func TestDiscordRunFlushesOnInterval(t *testing.T) {
	testlog.Start(t)
	n, fake, _ := newTestNotifier(t, map[string]string{"messages": "100000000000000001"})
	bus := events.NewBus()
	n.Subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()

	bus.Consume(ctx, events.New(events.DirectMessage{Sender: "x", Message: "y"}, nil))

	deadline := time.Now().Add(2 * time.Second)
	for len(fake.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if len(fake.snapshot()) != 1 {
		t.Fatalf("requests = %d", len(fake.snapshot()))
	}
}
