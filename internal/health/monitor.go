package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
	"github.com/beaconmesh/beacon/pkg/cmap"
)

// Default consecutive-observation thresholds. Tunable via Config.
const (
	DefaultPassingThreshold  = 1
	DefaultCriticalThreshold = 1
	DefaultScanInterval      = time.Second
)

// Config configures the monitor's scan cadence and transition
// sensitivity.
type Config struct {
	// ScanInterval is how often the monitor walks the catalog looking
	// for instances due for a probe.
	ScanInterval time.Duration

	// PassingThreshold is the number of consecutive successful
	// observations required to move Critical -> Passing.
	PassingThreshold int

	// CriticalThreshold is the number of consecutive failed
	// observations required to move Passing -> Critical.
	CriticalThreshold int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ScanInterval == 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.PassingThreshold == 0 {
		c.PassingThreshold = DefaultPassingThreshold
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = DefaultCriticalThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// instanceState tracks the Passing/Warning/Critical state machine for
// one instance plus when it is next due for a probe.
type instanceState struct {
	mu              sync.Mutex
	state           State
	consecutivePass int
	consecutiveFail int
	nextDueMs       int64
}

// State is the health state machine's current value.
type State int

const (
	StatePassing State = iota
	StateWarning
	StateCritical
)

// Monitor schedules a check for every instance according to its
// cluster's health-check policy (a TTL check does no outbound work),
// and drives the Passing/Critical transitions into the registry.
type Monitor struct {
	cfg   Config
	reg   *registry.Registry
	state *cmap.Map[string, *instanceState]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a health monitor bound to a registry.
func NewMonitor(reg *registry.Registry, cfg Config) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:    cfg,
		reg:    reg,
		state:  cmap.New[string, *instanceState](),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the scan loop until Stop is called.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop halts the scan loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scan()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) scan() {
	now := time.Now().UnixMilli()

	m.reg.ForEachService(func(snap *registry.Snapshot) {
		for id, in := range snap.Instances {
			cluster, ok := snap.Clusters[in.Cluster]
			if !ok {
				cluster = domain.NewCluster(in.Cluster)
			}
			policy := cluster.HealthCheck
			if policy.Type == domain.CheckNone && in.Ephemeral {
				// An ephemeral instance on a cluster whose policy is
				// NONE is supervised by TTL. A cluster created with
				// domain.NewCluster has the TCP policy, so this branch
				// applies only where NONE was set explicitly.
				policy.Type = domain.CheckTTL
				if policy.TTL == 0 {
					policy.TTL = policy.Interval
				}
			}

			st, _ := m.state.GetOrSet(id, &instanceState{state: StatePassing})

			st.mu.Lock()
			due := st.nextDueMs
			st.mu.Unlock()
			if due > now {
				continue
			}

			m.probeOne(snap.Key, id, in, policy, now, st)
		}
	})
}

func (m *Monitor) probeOne(key domain.ServiceKey, instanceID string, in *domain.Instance, policy domain.HealthCheckPolicy, now int64, st *instanceState) {
	checker, ok := Lookup(policy.Type)
	if !ok {
		checker, _ = Lookup(domain.CheckNone)
	}

	port := in.Port
	if policy.PortOverride > 0 {
		port = policy.PortOverride
	}
	timeout := time.Duration(policy.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	target := Target{
		IP:              in.IP,
		Port:            port,
		HTTPPath:        policy.HTTPPath,
		ExpectedStatus:  policy.ExpectedStatus,
		Timeout:         timeout,
		LastHeartbeatMs: in.LastHeartbeatMs,
		TTLMs:           policy.TTL,
		NowMs:           now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	obs, err := checker.Probe(ctx, target)
	cancel()
	if err != nil {
		m.cfg.Logger.Warn("health probe errored", "instance", instanceID, "kind", policy.Type, "error", err)
		obs = Observation{Passing: false, Message: err.Error()}
	}

	interval := time.Duration(policy.Interval) * time.Millisecond
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	st.mu.Lock()
	st.nextDueMs = now + interval.Milliseconds()
	prevState := st.state

	if obs.Passing {
		st.consecutivePass++
		st.consecutiveFail = 0
		if prevState != StatePassing && st.consecutivePass >= m.cfg.PassingThreshold {
			st.state = StatePassing
		}
	} else {
		st.consecutiveFail++
		st.consecutivePass = 0
		if prevState != StateCritical && st.consecutiveFail >= m.cfg.CriticalThreshold {
			st.state = StateCritical
		}
	}
	newState := st.state
	st.mu.Unlock()

	if newState != prevState {
		_ = m.reg.SetHealthy(key, instanceID, newState == StatePassing)
	}
}

// Forget drops tracked state for an instance, called when it is
// deregistered so stale probe schedules don't accumulate.
func (m *Monitor) Forget(instanceID string) {
	m.state.Delete(instanceID)
}
