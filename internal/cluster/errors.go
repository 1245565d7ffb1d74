package cluster

import "github.com/beaconmesh/beacon/internal/domain"

// leaderError builds the not-leader error the dispatcher/HTTP gateway
// use to redirect a client at the current leader, per SPEC_FULL §7.
func leaderError(leaderAddr string) error {
	err := domain.ErrNotLeader
	if leaderAddr != "" {
		return err.WithLeaderHint(leaderAddr)
	}
	return err
}

func proposeTimeoutError() error {
	return domain.ErrProposeTimeout
}

func unavailableError(cause error) error {
	return domain.ErrClusterUnavail.WithCause(cause)
}

func internalError(cause error) error {
	return domain.ErrInternal.WithCause(cause)
}
