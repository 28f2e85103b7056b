package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/metrics"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
)

const (
	meshConnectTimeout = 10 * time.Second
	meshReadTimeout    = 1 * time.Second
	meshWriteTimeout   = 5 * time.Second
	meshReadSize       = 4096
	initSyncAttempts   = 5
)

// ErrNotConnected is returned by writes while no radio session is up.
var ErrNotConnected = errors.New("not connected to radio")

// ConnectionState describes the radio session lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateInitializing
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MeshCoreConnector manages the persistent TCP connection to a MeshCore
// companion radio. It replays the init handshake on every connect, keeps the
// message queue drained with periodic sync requests, and feeds every inbound
// frame through the decoder to the sink in wire order.
type MeshCoreConnector struct {
	mu sync.Mutex // guards conn, connected and all writes

	cfg     config.MeshCoreConfig
	decoder *protocol.Decoder
	reader  *protocol.FrameReader
	sink    events.Sink
	logger  zerolog.Logger

	conn       net.Conn
	connected  bool
	state      atomic.Int32
	reconnects atomic.Uint64
	framesSent atomic.Uint64
	lastFrame  atomic.Int64 // unix nanos of the last inbound frame or connect

	// handshake pacing; the radio answers asynchronously
	stepDelay     time.Duration
	contactsDelay time.Duration
	syncInterval  time.Duration
}

// NewMeshCoreConnector creates a connector that decodes with decoder and
// delivers events to sink.
func NewMeshCoreConnector(cfg config.MeshCoreConfig, decoder *protocol.Decoder, sink events.Sink) *MeshCoreConnector {
	syncInterval := time.Duration(cfg.SyncInterval) * time.Second
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	if cfg.AppName == "" {
		cfg.AppName = config.DefaultAppName
	}
	return &MeshCoreConnector{
		cfg:           cfg,
		decoder:       decoder,
		reader:        protocol.NewFrameReader(),
		sink:          sink,
		logger:        log.With().Str("component", "meshcore").Logger(),
		stepDelay:     300 * time.Millisecond,
		contactsDelay: time.Second,
		syncInterval:  syncInterval,
	}
}

// ManageConnection maintains the radio session until ctx is cancelled. With
// auto-reconnect disabled the first connection failure is returned.
func (c *MeshCoreConnector) ManageConnection(ctx context.Context) error {
	c.logger.Info().Str("addr", c.cfg.Address()).Msg("starting radio connection manager")

	for {
		if ctx.Err() != nil {
			c.disconnect()
			return nil
		}

		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("radio connection failed")
			if !c.cfg.AutoReconnect {
				return err
			}
			if !c.waitReconnect(ctx) {
				return nil
			}
			continue
		}

		// Blocks until disconnected or cancelled
		err := c.readLoop(ctx)
		c.disconnect()

		if ctx.Err() != nil {
			return nil
		}
		if !c.cfg.AutoReconnect {
			return fmt.Errorf("radio connection lost: %w", err)
		}
		c.logger.Warn().Err(err).Msg("disconnected from radio, reconnecting")
		if !c.waitReconnect(ctx) {
			return nil
		}
	}
}

func (c *MeshCoreConnector) waitReconnect(ctx context.Context) bool {
	delay := c.cfg.ReconnectDelayDuration()
	c.reconnects.Add(1)
	metrics.RecordReconnect()
	c.logger.Info().Dur("delay", delay).Msg("attempting reconnection")

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// connect dials the radio, resets per-connection state and runs the
// init handshake.
func (c *MeshCoreConnector) connect(ctx context.Context) error {
	addr := c.cfg.Address()
	c.setState(StateConnecting)
	c.logger.Info().Str("addr", addr).Msg("connecting to radio")

	dialer := net.Dialer{Timeout: meshConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to radio at %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.lastFrame.Store(time.Now().UnixNano())

	// The wire is no longer contiguous with whatever was buffered before.
	c.reader.Reset()
	c.decoder.Session().Reset()
	metrics.SetConnected(true)

	c.logger.Info().Str("addr", addr).Msg("connected to radio")

	c.setState(StateInitializing)
	if err := c.initialize(ctx); err != nil {
		c.disconnect()
		return fmt.Errorf("radio init failed: %w", err)
	}
	c.setState(StateConnected)
	return nil
}

// initialize sends the startup command sequence. Replies are read by the
// read loop once it starts.
func (c *MeshCoreConnector) initialize(ctx context.Context) error {
	c.logger.Info().Msg("initializing companion radio")

	steps := []struct {
		name  string
		frame []byte
		delay time.Duration
	}{
		{"device query", protocol.BuildDeviceQuery(protocol.ProtocolVersion), c.stepDelay},
		{"app start", protocol.BuildAppStart(c.cfg.AppName), c.stepDelay},
		{"get contacts", protocol.BuildGetContacts(), c.contactsDelay},
	}
	for i := 0; i < initSyncAttempts; i++ {
		steps = append(steps, struct {
			name  string
			frame []byte
			delay time.Duration
		}{"sync next message", protocol.BuildSyncNextMessage(), c.stepDelay})
	}

	for _, step := range steps {
		if err := c.writeFrame(step.frame); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		c.logger.Debug().Str("step", step.name).Msg("init command sent")
		if !sleepCtx(ctx, step.delay) {
			return ctx.Err()
		}
	}

	c.logger.Info().Msg("radio initialization complete")
	return nil
}

// readLoop reads until the connection fails or ctx is cancelled. Decoding
// happens synchronously here so events leave in wire order.
func (c *MeshCoreConnector) readLoop(ctx context.Context) error {
	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	go c.periodicSync(syncCtx)

	buf := make([]byte, meshReadSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		conn := c.conn
		connected := c.connected
		c.mu.Unlock()

		if !connected || conn == nil {
			return ErrNotConnected
		}

		// Short deadline so cancellation and the sync task stay responsive
		conn.SetReadDeadline(time.Now().Add(meshReadTimeout))

		n, err := conn.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n], func(f protocol.Frame) { c.handleFrame(ctx, f) })
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info().Msg("radio closed connection")
			} else {
				c.logger.Error().Err(err).Msg("error reading from radio")
			}
			return err
		}
	}
}

// handleFrame decodes one frame and hands any event to the sink. A
// message-waiting push triggers an immediate sync request.
func (c *MeshCoreConnector) handleFrame(ctx context.Context, f protocol.Frame) {
	code := f.Code()
	c.lastFrame.Store(time.Now().UnixNano())
	c.logger.Debug().
		Str("code", fmt.Sprintf("0x%02X", code)).
		Int("len", len(f)).
		Msg("frame rx")
	metrics.RecordFrame(protocol.CodeName(code))

	if len(f) > 0 && code == protocol.PushMsgWaiting {
		c.logger.Info().Msg("message waiting, requesting sync")
		if err := c.writeFrame(protocol.BuildSyncNextMessage()); err != nil {
			c.logger.Warn().Err(err).Msg("failed to request sync")
		}
	}

	ev, ok := c.decoder.Decode(f)
	if !ok || c.sink == nil {
		return
	}
	c.deliver(ctx, *ev)
}

func (c *MeshCoreConnector) deliver(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("event", string(ev.Type)).
				Msg("event sink panicked")
		}
	}()
	c.sink.Consume(ctx, ev)
}

// periodicSync asks the radio for queued messages on a fixed interval.
func (c *MeshCoreConnector) periodicSync(ctx context.Context) {
	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			c.logger.Debug().Msg("periodic sync")
			if err := c.writeFrame(protocol.BuildSyncNextMessage()); err != nil {
				c.logger.Warn().Err(err).Msg("periodic sync failed")
				return
			}
		}
	}
}

// RequestSync asks the radio for the next queued message.
func (c *MeshCoreConnector) RequestSync() error {
	return c.writeFrame(protocol.BuildSyncNextMessage())
}

// ForceReconnect drops the current connection. The connection manager
// redials if auto-reconnect is enabled.
func (c *MeshCoreConnector) ForceReconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	c.logger.Warn().Msg("dropping radio connection on request")
	return c.conn.Close()
}

// LastFrameAt returns when the last inbound frame arrived, or when the
// current connection was made if nothing has arrived since.
func (c *MeshCoreConnector) LastFrameAt() time.Time {
	ns := c.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// writeFrame is the single outbound path; whole frames never interleave.
func (c *MeshCoreConnector) writeFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(meshWriteTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	c.framesSent.Add(1)
	return nil
}

// disconnect closes the radio connection.
func (c *MeshCoreConnector) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.connected {
		c.logger.Info().Msg("disconnected from radio")
	}
	c.connected = false
	c.setState(StateDisconnected)
	metrics.SetConnected(false)
}

func (c *MeshCoreConnector) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// State returns the current connection state.
func (c *MeshCoreConnector) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected returns whether the radio session is up.
func (c *MeshCoreConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ConnectorStats is a snapshot of connection counters.
type ConnectorStats struct {
	State      string `json:"state"`
	Address    string `json:"address"`
	Reconnects uint64 `json:"reconnects"`
	FramesSent uint64 `json:"frames_sent"`
}

// Stats returns connection counters.
func (c *MeshCoreConnector) Stats() ConnectorStats {
	return ConnectorStats{
		State:      c.State().String(),
		Address:    c.cfg.Address(),
		Reconnects: c.reconnects.Load(),
		FramesSent: c.framesSent.Load(),
	}
}

// Session exposes the decoder session for read-only consumers.
func (c *MeshCoreConnector) Session() *protocol.Session {
	return c.decoder.Session()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
