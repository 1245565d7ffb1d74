package subscription

import (
	"path"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// DefaultCoalesceWindow is the default per-connection batching window.
const DefaultCoalesceWindow = 50 * time.Millisecond

// Pusher delivers a batched push to one connection. The connection
// manager implements this; the engine never talks to a transport
// directly, per the no-back-pointer-cycle design (§9).
type Pusher interface {
	Push(connectionID string, batch *Batch)
}

// Batch is the coalesced set of changes delivered to a connection in
// one push, preserving the order changes were observed.
type Batch struct {
	Events []*domain.ChangeEvent
}

type fuzzyEntry struct {
	pattern string
	conns   map[string]struct{}
	mu      sync.Mutex
}

// Engine maintains the exact-match and fuzzy-watch membership indexes
// and batches fan-out per connection.
type Engine struct {
	exact *cmap.Map[string, *connSet] // fingerprint -> connections

	fuzzyMu sync.RWMutex
	fuzzy   []*fuzzyEntry

	pusher Pusher
	window time.Duration

	pending *cmap.Map[string, *pendingBatch]
}

type connSet struct {
	mu    sync.Mutex
	conns map[string]struct{}
}

func newConnSet() *connSet { return &connSet{conns: make(map[string]struct{})} }

type pendingBatch struct {
	mu     sync.Mutex
	events []*domain.ChangeEvent
	timer  *time.Timer
}

// New creates a subscription engine that pushes through pusher, using
// the default 50ms coalescing window.
func New(pusher Pusher) *Engine {
	return &Engine{
		exact:   cmap.New[string, *connSet](),
		pusher:  pusher,
		window:  DefaultCoalesceWindow,
		pending: cmap.New[string, *pendingBatch](),
	}
}

// Subscribe adds an exact-match subscription for a connection.
func (e *Engine) Subscribe(connID, fingerprint string) {
	set, _ := e.exact.GetOrSet(fingerprint, newConnSet())
	set.mu.Lock()
	set.conns[connID] = struct{}{}
	set.mu.Unlock()
}

// Unsubscribe removes an exact-match subscription for a connection.
func (e *Engine) Unsubscribe(connID, fingerprint string) {
	set, ok := e.exact.Get(fingerprint)
	if !ok {
		return
	}
	set.mu.Lock()
	delete(set.conns, connID)
	set.mu.Unlock()
}

// SubscribeFuzzy registers a fuzzy-watch glob pattern (shell-style,
// e.g. "billing.*/DEFAULT_GROUP/public") for a connection.
func (e *Engine) SubscribeFuzzy(connID, pattern string) {
	e.fuzzyMu.Lock()
	defer e.fuzzyMu.Unlock()

	for _, fe := range e.fuzzy {
		if fe.pattern == pattern {
			fe.mu.Lock()
			fe.conns[connID] = struct{}{}
			fe.mu.Unlock()
			return
		}
	}

	fe := &fuzzyEntry{pattern: pattern, conns: map[string]struct{}{connID: {}}}
	e.fuzzy = append(e.fuzzy, fe)
}

// UnsubscribeFuzzy removes a fuzzy-watch pattern for a connection.
func (e *Engine) UnsubscribeFuzzy(connID, pattern string) {
	e.fuzzyMu.RLock()
	defer e.fuzzyMu.RUnlock()

	for _, fe := range e.fuzzy {
		if fe.pattern == pattern {
			fe.mu.Lock()
			delete(fe.conns, connID)
			fe.mu.Unlock()
			return
		}
	}
}

// PurgeConnection removes every subscription (exact and fuzzy) owned
// by a connection. Called by the connection manager on teardown.
func (e *Engine) PurgeConnection(connID string) {
	e.exact.Range(func(_ string, set *connSet) bool {
		set.mu.Lock()
		delete(set.conns, connID)
		set.mu.Unlock()
		return true
	})

	e.fuzzyMu.RLock()
	defer e.fuzzyMu.RUnlock()
	for _, fe := range e.fuzzy {
		fe.mu.Lock()
		delete(fe.conns, connID)
		fe.mu.Unlock()
	}
}

// Notify implements registry.ChangeNotifier and configstore.ChangeNotifier.
// It resolves every connection whose exact or fuzzy subscription
// matches the event and enqueues a coalesced push for each.
func (e *Engine) Notify(event *domain.ChangeEvent) {
	matched := make(map[string]struct{})

	if set, ok := e.exact.Get(event.Fingerprint); ok {
		set.mu.Lock()
		for id := range set.conns {
			matched[id] = struct{}{}
		}
		set.mu.Unlock()
	}

	if event.FuzzyKey != "" {
		e.fuzzyMu.RLock()
		for _, fe := range e.fuzzy {
			if ok, _ := path.Match(fe.pattern, event.FuzzyKey); !ok {
				continue
			}
			fe.mu.Lock()
			for id := range fe.conns {
				matched[id] = struct{}{}
			}
			fe.mu.Unlock()
		}
		e.fuzzyMu.RUnlock()
	}

	for connID := range matched {
		e.enqueue(connID, event)
	}
}

func (e *Engine) enqueue(connID string, event *domain.ChangeEvent) {
	pb, _ := e.pending.GetOrSet(connID, &pendingBatch{})
	pb.mu.Lock()
	pb.events = append(pb.events, event)
	if pb.timer == nil {
		pb.timer = time.AfterFunc(e.window, func() { e.flush(connID) })
	}
	pb.mu.Unlock()
}

func (e *Engine) flush(connID string) {
	pb, ok := e.pending.Pop(connID)
	if !ok {
		return
	}
	pb.mu.Lock()
	events := pb.events
	pb.mu.Unlock()

	if len(events) == 0 || e.pusher == nil {
		return
	}
	e.pusher.Push(connID, &Batch{Events: events})
}
