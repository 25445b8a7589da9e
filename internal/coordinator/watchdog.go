package coordinator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Watchdog periodically marks dead every running session whose process has
// been silent for longer than the ready timeout
type Watchdog struct {
	orch *Orchestrator
	cron *cron.Cron
}

// NewWatchdog schedules sweeps of orch. It returns nil when the orchestrator
// has no ready timeout configured.
func NewWatchdog(orch *Orchestrator, schedule string) (*Watchdog, error) {
	if orch.opts.ReadyTimeout <= 0 {
		return nil, nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(schedule, func() { orch.SweepStale(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid watchdog schedule %q: %w", schedule, err)
	}
	return &Watchdog{orch: orch, cron: c}, nil
}

// Start begins running sweeps in the background
func (w *Watchdog) Start() {
	w.cron.Start()
}

// Stop halts future sweeps and waits for a running one to finish
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}

// SweepStale marks dead every running session that has had no frame and no
// dispatch for longer than the ready timeout. It returns the ids it killed.
func (o *Orchestrator) SweepStale(ctx context.Context) []int {
	if o.opts.ReadyTimeout <= 0 {
		return nil
	}

	o.mu.RLock()
	entries := make(map[int]*sessionEntry, len(o.entries))
	for id, e := range o.entries {
		entries[id] = e
	}
	o.mu.RUnlock()

	now := o.opts.Now()
	var stale []int
	for id, e := range entries {
		e.mu.Lock()
		if e.dispatching || e.removed || now.Sub(e.lastActivity) < o.opts.ReadyTimeout {
			e.mu.Unlock()
			continue
		}
		session, err := o.store.GetSession(ctx, id)
		if err != nil || session.Status != SessionStatusRunning {
			e.mu.Unlock()
			continue
		}
		o.markDeadLocked(ctx, id, e, "no ready signal")
		e.mu.Unlock()

		o.logger.Warn("Ready signal overdue", "session_id", id, "timeout", o.opts.ReadyTimeout)
		o.killQuietly(ctx, id, e.handle)
		stale = append(stale, id)
	}
	return stale
}
