// Package shutdown provides graceful process shutdown.
//
// A Handler waits for SIGINT/SIGTERM, then runs every registered teardown
// hook in reverse registration order (so the last thing started is the
// first thing torn down), bounded by a single timeout shared across all
// hooks.
//
// Usage:
//
//	h := shutdown.NewHandler(15 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return server.Shutdown() })
//	h.OnShutdown(func(ctx context.Context) error { return engine.Close() })
//	h.Wait() // blocks until a signal arrives and every hook has run
//
// @design DS-0501
package shutdown
