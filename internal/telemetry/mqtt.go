// Package telemetry republishes mesh events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

const (
	qos            = 1
	disconnectWait = 5000 // ms
)

// Topic suffixes outside the event types.
const (
	TopicStatus = "bridge/status"
)

// MQTTHandler publishes every bus event as JSON to <prefix>/<event type>.
type MQTTHandler struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTHandler creates a new MQTT publisher. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:    cfg,
		logger: log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"arch":        sysInfo.Architecture,
			"app_version": util.Version,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerAddress(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("meshbridge-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

// BrokerAddress returns the broker URL for cfg. A BrokerURL that already
// carries a scheme is used as is.
func BrokerAddress(cfg config.MQTTConfig) string {
	if strings.Contains(cfg.BrokerURL, "://") {
		return cfg.BrokerURL
	}
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Subscribe registers the publisher on the bus for every event type.
func (h *MQTTHandler) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("mqtt.publish", h.onEvent)
}

// Start connects to the broker and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", BrokerAddress(h.cfg)).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}

	h.publish(h.Topic(TopicStatus), map[string]interface{}{"event": "startup"})

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(disconnectWait)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Topic joins the configured prefix and suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	prefix := strings.TrimRight(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func (h *MQTTHandler) onEvent(_ context.Context, ev events.Event) error {
	h.publish(h.Topic(string(ev.Type)), h.eventBody(ev))
	return nil
}

func (h *MQTTHandler) eventBody(ev events.Event) map[string]interface{} {
	body := map[string]interface{}{
		"event":      ev.Type,
		"event_time": ev.Time.UTC().Format(time.RFC3339Nano),
		"data":       ev.Payload,
	}
	if len(ev.Raw) > 0 {
		body["raw"] = ev.RawHex()
	}
	return body
}

// publish sends a JSON message to an MQTT topic. It never blocks on the
// broker.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, qos, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
			h.failed.Add(1)
			return
		}
		h.published.Add(1)
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicStatus), map[string]interface{}{"event": "shutdown"})
}

// Stats returns the number of acknowledged and failed publishes.
func (h *MQTTHandler) Stats() (published, failed uint64) {
	return h.published.Load(), h.failed.Load()
}
