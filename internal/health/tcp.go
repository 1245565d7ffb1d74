package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

type tcpChecker struct{}

func (tcpChecker) Kind() domain.CheckType { return domain.CheckTCP }

func (tcpChecker) Probe(ctx context.Context, target Target) (Observation, error) {
	start := time.Now()
	dialer := &net.Dialer{Timeout: target.Timeout}

	addr := fmt.Sprintf("%s:%d", target.IP, target.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Observation{Passing: false, Message: err.Error(), Took: time.Since(start)}, nil
	}
	conn.Close()

	return Observation{Passing: true, Message: "tcp connect ok", Took: time.Since(start)}, nil
}
