package health

import (
	"context"

	"github.com/beaconmesh/beacon/internal/domain"
)

// ttlChecker does no outbound work: the instance must be refreshed via
// heartbeat within its TTL, or it is considered critical. The monitor
// still calls Probe once per cycle so the TTL kind fits the same
// table-dispatch path as every other checker.
type ttlChecker struct{}

func (ttlChecker) Kind() domain.CheckType { return domain.CheckTTL }

func (ttlChecker) Probe(_ context.Context, target Target) (Observation, error) {
	age := target.NowMs - target.LastHeartbeatMs
	if target.TTLMs > 0 && age > target.TTLMs {
		return Observation{Passing: false, Message: "ttl expired"}, nil
	}
	return Observation{Passing: true, Message: "heartbeat within ttl"}, nil
}

type noneChecker struct{}

func (noneChecker) Kind() domain.CheckType { return domain.CheckNone }

func (noneChecker) Probe(context.Context, Target) (Observation, error) {
	return Observation{Passing: true, Message: "no check configured"}, nil
}
