package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

func TestEventHandlerCountsByType(t *testing.T) {
	h := EventHandler()
	before := testutil.ToFloat64(eventsDecoded.WithLabelValues(string(events.EventAck)))

	ev := events.New(events.Ack{Code: "01020304"}, nil)
	if err := h(context.Background(), ev); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := h(context.Background(), ev); err != nil {
		t.Fatalf("handler: %v", err)
	}

	after := testutil.ToFloat64(eventsDecoded.WithLabelValues(string(events.EventAck)))
	if after-before != 2 {
		t.Fatalf("ack counter moved by %v, want 2", after-before)
	}

	if err := h(context.Background(), events.Event{}); err == nil {
		t.Fatal("untyped event accepted")
	}
}

func TestRecorders(t *testing.T) {
	SetConnected(true)
	if v := testutil.ToFloat64(radioConnected); v != 1 {
		t.Fatalf("connected gauge = %v", v)
	}
	SetConnected(false)
	if v := testutil.ToFloat64(radioConnected); v != 0 {
		t.Fatalf("connected gauge = %v", v)
	}

	before := testutil.ToFloat64(reconnects)
	RecordReconnect()
	if testutil.ToFloat64(reconnects)-before != 1 {
		t.Fatal("reconnect not counted")
	}

	RecordDiscordRequest("info", 204, 30*time.Millisecond)
	if v := testutil.ToFloat64(discordRequests.WithLabelValues("info", "204")); v < 1 {
		t.Fatalf("discord requests = %v", v)
	}

	RecordFrame("ACK")
	if v := testutil.ToFloat64(framesReceived.WithLabelValues("ACK")); v < 1 {
		t.Fatalf("frames = %v", v)
	}
}

func ackSamples(t *testing.T) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	if err := ackRTT.Write(&m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func TestSubscribeRoutesPerType(t *testing.T) {
	bus := events.NewBus()
	Subscribe(bus)
	ctx := context.Background()

	ackBefore := testutil.ToFloat64(eventsDecoded.WithLabelValues(string(events.EventAck)))
	countBefore, sumBefore := ackSamples(t)

	bus.Consume(ctx, events.New(events.RawSignal{SNR: -7.25, RSSI: -101}, nil))
	bus.Consume(ctx, events.New(events.Ack{Code: "0a0b0c0d", RTTMs: 1500}, nil))

	if v := testutil.ToFloat64(signalSNR); v != -7.25 {
		t.Fatalf("snr gauge = %v", v)
	}
	if v := testutil.ToFloat64(signalRSSI); v != -101 {
		t.Fatalf("rssi gauge = %v", v)
	}
	if v := testutil.ToFloat64(eventsDecoded.WithLabelValues(string(events.EventAck))); v-ackBefore != 1 {
		t.Fatalf("ack counted %v times", v-ackBefore)
	}
	count, sum := ackSamples(t)
	if count-countBefore != 1 || sum-sumBefore != 1.5 {
		t.Fatalf("rtt histogram moved by %d samples, %v seconds", count-countBefore, sum-sumBefore)
	}

	// a trace must not reach the signal recorder
	bus.Consume(ctx, events.New(events.Trace{Tag: 1}, nil))
	if v := testutil.ToFloat64(signalSNR); v != -7.25 {
		t.Fatalf("snr gauge moved on trace: %v", v)
	}
}

func TestTypedHandlersRejectWrongPayload(t *testing.T) {
	ev := events.New(events.Trace{}, nil)
	if err := SignalHandler()(context.Background(), ev); err == nil {
		t.Fatal("signal handler accepted a trace")
	}
	if err := AckHandler()(context.Background(), ev); err == nil {
		t.Fatal("ack handler accepted a trace")
	}
}
