package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/testutil/testlog"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	testlog.Start(t)
	hs, err := NewHistoryStore(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	t.Cleanup(func() { hs.Close() })
	return hs
}

func eventAt(p events.Payload, raw []byte, ts time.Time) events.Event {
	ev := events.New(p, raw)
	ev.Time = ts
	return ev
}

func TestRecordAndRecent(t *testing.T) {
	hs := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	bus := events.NewBus()
	hs.Subscribe(bus)
	bus.Consume(ctx, eventAt(events.ChannelMessage{Sender: "Alice", Message: "one"}, []byte{0x08, 0x01}, base))
	bus.Consume(ctx, eventAt(events.Ack{Code: "0a0b0c0d", RTTMs: 40}, nil, base.Add(time.Second)))
	bus.Consume(ctx, eventAt(events.ChannelMessage{Sender: "Bob", Message: "two"}, nil, base.Add(2*time.Second)))

	all, err := hs.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].Type != "channel_message" || all[1].Type != "ack" {
		t.Fatalf("recent = %+v", all)
	}
	if !all[2].Time.Equal(base) || all[2].RawHex != "0801" {
		t.Fatalf("oldest = %+v", all[2])
	}

	var msg events.ChannelMessage
	if err := json.Unmarshal(all[0].Payload, &msg); err != nil || msg.Message != "two" {
		t.Fatalf("payload = %s (%v)", all[0].Payload, err)
	}

	msgs, _ := hs.Recent("channel_message", 1)
	if len(msgs) != 1 || msgs[0].ID != all[0].ID {
		t.Fatalf("filtered = %+v", msgs)
	}

	counts, err := hs.CountByType()
	if err != nil || counts["channel_message"] != 2 || counts["ack"] != 1 {
		t.Fatalf("counts = %v (%v)", counts, err)
	}
}

func TestNodesUpsert(t *testing.T) {
	hs := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	hs.Record(ctx, eventAt(events.ContactSummary{
		Total:    2,
		ByType:   map[string]int{"CHAT": 1, "REPEATER": 1},
		Contacts: []events.Contact{{PubKey: "aa", Name: "Alice", NodeType: "CHAT"}, {PubKey: "bb", Name: "Hill", NodeType: "REPEATER"}},
	}, nil, t0))
	// advert renames without a type; node_type must survive
	hs.Record(ctx, eventAt(events.Advertisement{PubKey: "aa", Name: "Alice2"}, nil, t0.Add(time.Minute)))
	// nameless mesh packets do not create nodes
	hs.Record(ctx, eventAt(events.MeshPacket{PubKey: "cc"}, nil, t0.Add(2*time.Minute)))

	nodes, err := hs.Nodes()
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %+v", nodes)
	}
	a := nodes[0]
	if a.PubKey != "aa" || a.Name != "Alice2" || a.NodeType != "CHAT" || a.Source != "advert" {
		t.Fatalf("node = %+v", a)
	}
	if !a.FirstSeen.Equal(t0) || !a.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Fatalf("seen = %v / %v", a.FirstSeen, a.LastSeen)
	}
}

func TestPrune(t *testing.T) {
	hs := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	hs.Record(ctx, eventAt(events.Ack{}, nil, now.Add(-48*time.Hour)))
	hs.Record(ctx, eventAt(events.Ack{}, nil, now.Add(-time.Hour)))
	hs.Record(ctx, eventAt(events.Contact{PubKey: "aa", Name: "A"}, nil, now.Add(-72*time.Hour)))

	n, err := hs.Prune(now.Add(-24 * time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	left, _ := hs.Recent("", 0)
	if len(left) != 1 {
		t.Fatalf("left = %+v", left)
	}
	if nodes, _ := hs.Nodes(); len(nodes) != 1 {
		t.Fatal("prune removed nodes")
	}
}
