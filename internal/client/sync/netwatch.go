package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/api"
	"github.com/dmitrijs2005/carekeeper/internal/logging"
)

// Oracle reports whether outbound requests are currently likely to succeed.
// The signal is advisory: a push may still fail even when Online returns true.
type Oracle interface {
	// Online returns the last observed reachability state without probing.
	Online() bool

	// Check probes the server now, updates the cached state and returns it.
	Check(ctx context.Context) bool
}

// Watcher is a ping-based Oracle. A periodic probe keeps the cached state
// fresh; the engine re-probes explicitly before a retry fires so a sleep that
// outlived the connection does not burn an attempt against a dead network.
type Watcher struct {
	api    api.Client
	log    logging.Logger
	online atomic.Bool
}

func NewWatcher(apiClient api.Client, log logging.Logger) *Watcher {
	return &Watcher{api: apiClient, log: log}
}

func (w *Watcher) Online() bool {
	return w.online.Load()
}

func (w *Watcher) Check(ctx context.Context) bool {
	err := w.api.Ping(ctx)
	was := w.online.Swap(err == nil)

	if err != nil && was {
		w.log.Info(ctx, "switched to offline mode", "reason", err.Error())
	}
	if err == nil && !was {
		w.log.Info(ctx, "switched to online mode")
	}
	return err == nil
}

// Run probes reachability on a fixed interval until ctx is canceled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			w.Check(probeCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
