// Package metrics exposes prometheus counters for the bridge.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshbridge-project/meshbridge/internal/events"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "frames_total",
			Help:      "Inbound frames by code name.",
		},
		[]string{"code"},
	)
	eventsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "decoder",
			Name:      "events_total",
			Help:      "Decoded mesh events by type.",
		},
		[]string{"type"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "reconnects_total",
			Help:      "Radio reconnect attempts.",
		},
	)
	radioConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "connected",
			Help:      "1 while the radio TCP session is up.",
		},
	)
	discordRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "discord",
			Name:      "requests_total",
			Help:      "Discord delivery requests by target and status.",
		},
		[]string{"target", "status"},
	)
	discordDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meshbridge",
			Subsystem: "discord",
			Name:      "request_duration_seconds",
			Help:      "Discord delivery request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)
	signalSNR = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "last_snr_db",
			Help:      "SNR of the most recent raw data frame.",
		},
	)
	signalRSSI = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meshbridge",
			Subsystem: "radio",
			Name:      "last_rssi_dbm",
			Help:      "RSSI of the most recent raw data frame.",
		},
	)
	ackRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meshbridge",
			Subsystem: "mesh",
			Name:      "ack_rtt_seconds",
			Help:      "Round trip time reported by ACK frames.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meshbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Status API requests.",
		},
		[]string{"method", "path", "status"},
	)
)

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived,
			eventsDecoded,
			reconnects,
			radioConnected,
			discordRequests,
			discordDuration,
			signalSNR,
			signalRSSI,
			ackRTT,
			httpRequests,
		)
	})
}

// RecordFrame counts one inbound frame.
func RecordFrame(codeName string) {
	Register()
	framesReceived.WithLabelValues(codeName).Inc()
}

// RecordEvent counts one decoded event.
func RecordEvent(t events.EventType) {
	Register()
	eventsDecoded.WithLabelValues(string(t)).Inc()
}

// RecordReconnect counts one reconnect attempt.
func RecordReconnect() {
	Register()
	reconnects.Inc()
}

// SetConnected flips the radio connection gauge.
func SetConnected(up bool) {
	Register()
	if up {
		radioConnected.Set(1)
	} else {
		radioConnected.Set(0)
	}
}

// RecordDiscordRequest counts one Discord delivery attempt.
func RecordDiscordRequest(target string, status int, duration time.Duration) {
	Register()
	discordRequests.WithLabelValues(target, strconv.Itoa(status)).Inc()
	discordDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one status API request.
func RecordHTTPRequest(method, path string, status int) {
	Register()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// EventHandler returns a bus handler that counts every event.
func EventHandler() events.HandlerFunc {
	return func(_ context.Context, ev events.Event) error {
		if ev.Type == "" {
			return fmt.Errorf("event without type")
		}
		RecordEvent(ev.Type)
		return nil
	}
}

// SignalHandler records the signal quality carried by raw data events.
func SignalHandler() events.HandlerFunc {
	return func(_ context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.RawSignal)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Type)
		}
		Register()
		signalSNR.Set(p.SNR)
		signalRSSI.Set(float64(p.RSSI))
		return nil
	}
}

// AckHandler observes the round trip time of ACK events.
func AckHandler() events.HandlerFunc {
	return func(_ context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.Ack)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Type)
		}
		Register()
		ackRTT.Observe(float64(p.RTTMs) / 1000)
		return nil
	}
}

// Subscribe registers the event counter for every type and the signal and
// ACK recorders for their own types.
func Subscribe(bus *events.Bus) {
	bus.SubscribeAll("metrics.count", EventHandler())
	bus.Subscribe(events.EventRawData, "metrics.signal", SignalHandler())
	bus.Subscribe(events.EventAck, "metrics.ack_rtt", AckHandler())
}
