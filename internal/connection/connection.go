package connection

import (
	"context"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

// ownedInstance identifies an ephemeral instance registered over this
// connection, so teardown can expire it when the connection goes DOWN.
type ownedInstance struct {
	Key        domain.ServiceKey
	InstanceID string
}

// Connection is one live client stream: a push queue plus the
// bookkeeping teardown needs (ephemeral instances registered over it,
// its current liveness state).
type Connection struct {
	id     string
	queue  *pushQueue
	cancel context.CancelFunc

	// sendSem is a 1-buffered channel acting as the outbound stream's
	// send permit: the read loop and writePump both acquire it before
	// calling stream.Send, since Connect's BidiStream.Send is not safe
	// for concurrent use.
	sendSem chan struct{}

	mu    sync.Mutex
	meta  domain.ConnectionMeta
	owned []ownedInstance
}

func newConnection(id string, meta domain.ConnectionMeta, cancel context.CancelFunc, queueCap int) *Connection {
	meta.ConnectionID = id
	meta.State = domain.ConnectionActive
	meta.LastActiveMs = time.Now().UnixMilli()
	sendSem := make(chan struct{}, 1)
	sendSem <- struct{}{}
	return &Connection{
		id:      id,
		queue:   newPushQueue(queueCap),
		cancel:  cancel,
		sendSem: sendSem,
		meta:    meta,
	}
}

// AcquireSend acquires the connection's outbound send permit, blocking
// until it is free or ctx is canceled. Callers must release with the
// returned func, typically via defer, before calling stream.Send.
func (c *Connection) AcquireSend(ctx context.Context) (func(), error) {
	select {
	case <-c.sendSem:
		return func() { c.sendSem <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ID returns the connection's assigned identifier.
func (c *Connection) ID() string { return c.id }

// Meta returns a snapshot of the connection's metadata.
func (c *Connection) Meta() domain.ConnectionMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.meta.LastActiveMs = time.Now().UnixMilli()
	c.mu.Unlock()
}

func (c *Connection) setState(s domain.ConnectionState) {
	c.mu.Lock()
	c.meta.State = s
	c.mu.Unlock()
}

func (c *Connection) state() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta.State
}

// TrackEphemeralInstance records that this connection owns an
// ephemeral instance, so it is deregistered automatically when the
// connection goes DOWN. Handlers call this after a successful
// ephemeral InstanceRegister.
func (c *Connection) TrackEphemeralInstance(key domain.ServiceKey, instanceID string) {
	c.mu.Lock()
	c.owned = append(c.owned, ownedInstance{Key: key, InstanceID: instanceID})
	c.mu.Unlock()
}

// SetLabels records client-supplied labels from ConnectionSetup
// (e.g. app name, client version), used later for auth/rate-limit
// scoping and diagnostics.
func (c *Connection) SetLabels(labels map[string]string) {
	c.mu.Lock()
	c.meta.Labels = labels
	c.mu.Unlock()
}

func (c *Connection) ownedInstances() []ownedInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ownedInstance, len(c.owned))
	copy(out, c.owned)
	return out
}
