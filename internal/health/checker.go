package health

import (
	"context"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

// Target is the probe target derived from an instance and its
// cluster's health-check policy.
type Target struct {
	IP             string
	Port           int
	HTTPPath       string
	ExpectedStatus int
	Timeout        time.Duration

	// TTL-specific: the instance's last heartbeat and the configured TTL.
	LastHeartbeatMs int64
	TTLMs           int64
	NowMs           int64
}

// Observation is the outcome of a single probe.
type Observation struct {
	Passing bool
	Message string
	Took    time.Duration
}

// Checker is the capability every health-check kind implements. The
// monitor looks one up by Kind() via a table, never a type switch.
type Checker interface {
	Kind() domain.CheckType
	Probe(ctx context.Context, target Target) (Observation, error)
}

// checkers is the table of built-in checkers, keyed by kind. A fifth,
// custom checker registers itself here via Register during init.
var checkers = map[domain.CheckType]Checker{}

// Register installs a checker under its own Kind(). Built-in checkers
// register themselves in their source file's init(); a custom checker
// built outside this package can call Register from its own init too.
func Register(c Checker) {
	checkers[c.Kind()] = c
}

// Lookup returns the checker for a check kind, if one is registered.
func Lookup(kind domain.CheckType) (Checker, bool) {
	c, ok := checkers[kind]
	return c, ok
}

func init() {
	Register(tcpChecker{})
	Register(httpChecker{})
	Register(ttlChecker{})
	Register(noneChecker{})
}
