package connection

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/internal/subscription"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// Default timing for the ack/probe liveness loop.
const (
	DefaultAckTimeout   = 15 * time.Second
	DefaultProbeTimeout = 15 * time.Second
	DefaultScanInterval = 5 * time.Second
)

// Dispatcher routes one inbound frame to its handler and returns the
// response frame to write back. The connection manager never knows
// about handlers, auth, or rate limiting; it only owns the stream.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, frame *Frame) *Frame
}

// Config configures the connection manager's queueing and liveness
// behavior.
type Config struct {
	QueueCapacity int
	AckTimeout    time.Duration
	ProbeTimeout  time.Duration
	ScanInterval  time.Duration
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// pendingAck tracks one outstanding acknowledgement: either the
// original critical push or, once that has timed out, the detection
// probe sent in its place.
type pendingAck struct {
	connID  string
	sentMs  int64
	isProbe bool
}

// Manager owns every live connection, implements subscription.Pusher
// to deliver batched change events, and dispatches inbound frames
// through the Dispatcher it was built with.
type Manager struct {
	cfg        Config
	conns      *cmap.Map[string, *Connection]
	pending    *cmap.Map[string, *pendingAck]
	dispatcher Dispatcher
	reg        *registry.Registry
	subs       *subscription.Engine

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a connection manager. reg and subs are used only for
// teardown: expiring ephemeral instances and purging subscriptions
// owned by a connection that goes DOWN.
func New(dispatcher Dispatcher, reg *registry.Registry, subs *subscription.Engine, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:        cfg,
		conns:      cmap.New[string, *Connection](),
		pending:    cmap.New[string, *pendingAck](),
		dispatcher: dispatcher,
		reg:        reg,
		subs:       subs,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the background ack/probe liveness scan.
func (m *Manager) Start() {
	go m.loop()
}

// Stop halts the liveness scan and waits for it to exit. Live
// connections themselves are not closed; callers own stream shutdown.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Open registers a new connection and returns it. cancel is invoked by
// the manager when the connection is torn down (DOWN), so the stream
// handler's context cancels and its read loop unwinds.
func (m *Manager) Open(clientIP string, clientPort int, labels map[string]string, cancel func()) *Connection {
	now := time.Now()
	id := domain.NewConnectionID(now.UnixMilli(), clientIP, clientPort)
	meta := domain.ConnectionMeta{ClientIP: clientIP, ClientPort: clientPort, Labels: labels}

	if cancel == nil {
		cancel = func() {}
	}
	conn := newConnection(id, meta, cancel, m.cfg.QueueCapacity)
	m.conns.Set(id, conn)
	m.cfg.Logger.Info("connection opened", "connection_id", id, "client_ip", clientIP)
	return conn
}

// Get returns the connection for an id, if still live.
func (m *Manager) Get(id string) (*Connection, bool) {
	return m.conns.Get(id)
}

// HandleFrame routes one inbound frame. PushAck frames are consumed
// here to clear liveness tracking and never reach the dispatcher.
func (m *Manager) HandleFrame(ctx context.Context, connID string, frame *Frame) *Frame {
	conn, ok := m.conns.Get(connID)
	if !ok {
		return nil
	}
	conn.touch()

	if frame.TypeURL == TypePushAck {
		m.pending.Delete(frame.CorrelationID)
		return nil
	}

	if m.dispatcher == nil {
		return NewErrorResponse(frame, 500, "BN-REQ-5000", "dispatcher not configured")
	}
	return m.dispatcher.Dispatch(ctx, connID, frame)
}

// Push implements subscription.Pusher: it serializes batch as either a
// NotifySubscriber (service change) or ConfigChangeNotify (config
// change) push and enqueues it, marking it critical so backpressure
// never silently drops a change notification without a refresh hint.
func (m *Manager) Push(connectionID string, batch *subscription.Batch) {
	conn, ok := m.conns.Get(connectionID)
	if !ok {
		return
	}
	for _, event := range batch.Events {
		frame := eventFrame(event)
		frame.CorrelationID = newCorrelationID()
		conn.queue.enqueue(frame, true)
		m.pending.Set(frame.CorrelationID, &pendingAck{connID: connectionID, sentMs: time.Now().UnixMilli()})
	}
}

func eventFrame(event *domain.ChangeEvent) *Frame {
	typeURL := TypeNotifySubscriber
	if event.Kind == domain.ChangeConfig {
		typeURL = TypeConfigChangeNotify
	}
	body, _ := jsonCodec{}.Marshal(event)
	return &Frame{TypeURL: typeURL, Body: body}
}

// DrainPending returns every frame queued for delivery on conn,
// clearing the queue. The stream write pump calls this after being
// woken by conn's notify channel.
func (conn *Connection) DrainPending() []*Frame {
	return conn.queue.drain()
}

// Notify exposes the queue's wake channel so the write pump can block
// until there is something to send.
func (conn *Connection) Notify() <-chan struct{} {
	return conn.queue.notify
}

// Close tears a connection down: cancels its stream context, expires
// its ephemeral instances, purges its subscriptions, and forgets its
// liveness state.
func (m *Manager) Close(connID string, reason string) {
	conn, ok := m.conns.Pop(connID)
	if !ok {
		return
	}
	conn.setState(domain.ConnectionDown)
	conn.cancel()

	for _, oi := range conn.ownedInstances() {
		if err := m.reg.ApplyDeregister(oi.Key, oi.InstanceID); err != nil {
			m.cfg.Logger.Warn("teardown deregister failed", "connection_id", connID, "instance_id", oi.InstanceID, "error", err)
		}
	}
	if m.subs != nil {
		m.subs.PurgeConnection(connID)
	}

	m.cfg.Logger.Info("connection closed", "connection_id", connID, "reason", reason)
}

func (m *Manager) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scanLiveness()
		case <-m.stopCh:
			return
		}
	}
}

// scanLiveness walks outstanding acks: a push unacknowledged past
// AckTimeout gets a ClientDetection probe in its place; a probe
// unacknowledged past ProbeTimeout marks the connection DOWN.
func (m *Manager) scanLiveness() {
	now := time.Now().UnixMilli()

	var timedOut []string
	m.pending.Range(func(correlationID string, p *pendingAck) bool {
		deadline := m.cfg.AckTimeout.Milliseconds()
		if p.isProbe {
			deadline = m.cfg.ProbeTimeout.Milliseconds()
		}
		if now-p.sentMs >= deadline {
			timedOut = append(timedOut, correlationID)
		}
		return true
	})

	for _, correlationID := range timedOut {
		p, ok := m.pending.Pop(correlationID)
		if !ok {
			continue
		}
		if p.isProbe {
			m.Close(p.connID, "client detection probe unacknowledged")
			continue
		}

		conn, ok := m.conns.Get(p.connID)
		if !ok {
			continue
		}
		conn.setState(domain.ConnectionProbing)
		probeID := newCorrelationID()
		conn.queue.enqueue(&Frame{TypeURL: TypeClientDetection, CorrelationID: probeID}, true)
		m.pending.Set(probeID, &pendingAck{connID: p.connID, sentMs: now, isProbe: true})
	}
}

func newCorrelationID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return time.Now().Format(time.RFC3339Nano)
	}
	return id.String()
}
