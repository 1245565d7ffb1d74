// Package shutdown provides graceful shutdown for Beacon.
//
// This package handles process termination signals:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - A shutdown deadline, passed to every hook through its context
//   - Cleanup callback registration (hooks run in reverse order)
//   - Shutdown coordination
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return srv.Shutdown(ctx) })
//	err := h.Wait() // blocks until SIGINT/SIGTERM, then runs the hooks
//
// @design DS-0501
package shutdown
