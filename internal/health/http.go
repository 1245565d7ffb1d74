package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beaconmesh/beacon/internal/domain"
)

type httpChecker struct{}

func (httpChecker) Kind() domain.CheckType { return domain.CheckHTTP }

// httpClient follows at most one redirect per the monitor's spec.
var httpClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 2 {
			return http.ErrUseLastResponse
		}
		return nil
	},
}

func (httpChecker) Probe(ctx context.Context, target Target) (Observation, error) {
	start := time.Now()

	path := target.HTTPPath
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s:%d%s", target.IP, target.Port, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Observation{}, err
	}

	client := httpClient
	if target.Timeout > 0 {
		c := *httpClient
		c.Timeout = target.Timeout
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		return Observation{Passing: false, Message: err.Error(), Took: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	expected := target.ExpectedStatus
	var passing bool
	if expected > 0 {
		passing = resp.StatusCode == expected
	} else {
		passing = resp.StatusCode >= 200 && resp.StatusCode < 300
	}

	return Observation{
		Passing: passing,
		Message: fmt.Sprintf("http %d", resp.StatusCode),
		Took:    time.Since(start),
	}, nil
}
