// Package envreaper periodically retires ephemeral review environments
// that have gone idle or outlived their dormant grace period. The
// original design left environment lifecycle management as an open
// question; this package resolves it with a background tick modeled on
// the same poll-and-transition shape as the build scheduler.
package envreaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/metrics"
	"github.com/centrixci/centrix-ci/internal/store"
)

// tickInterval is how often the reaper scans for environments to retire.
const tickInterval = time.Minute

// Reaper moves running environments to dormant after IdleTimeout of
// inactivity, and dormant environments to destroyed after DormantTTL.
type Reaper struct {
	store       *store.Store
	tenantID    string
	idleTimeout time.Duration
	dormantTTL  time.Duration
	log         *zap.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a Reaper for tenantID.
func New(st *store.Store, tenantID string, idleTimeout, dormantTTL time.Duration, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{store: st, tenantID: tenantID, idleTimeout: idleTimeout, dormantTTL: dormantTTL, log: log}
}

// Start begins polling on a fixed interval until ctx is cancelled or
// Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})

	go func() {
		defer close(r.stopped)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.runOnce(ctx, now)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.stopped != nil {
		<-r.stopped
	}
}

func (r *Reaper) runOnce(ctx context.Context, now time.Time) {
	running, err := r.store.ListEnvironmentsByStatus(ctx, r.tenantID, store.EnvRunning)
	if err != nil {
		r.log.Error("envreaper: list running environments failed", zap.Error(err))
		return
	}
	for _, env := range running {
		if now.Sub(env.LastActivityAt) >= r.idleTimeout {
			if err := r.store.TransitionEnvironment(ctx, env.ID, store.EnvDormant); err != nil {
				r.log.Error("envreaper: transition to dormant failed",
					zap.String("environment_id", env.ID), zap.Error(err))
			}
		}
	}

	dormant, err := r.store.ListEnvironmentsByStatus(ctx, r.tenantID, store.EnvDormant)
	if err != nil {
		r.log.Error("envreaper: list dormant environments failed", zap.Error(err))
		return
	}
	destroyed := 0
	for _, env := range dormant {
		if now.Sub(env.LastActivityAt) >= r.dormantTTL {
			if err := r.store.TransitionEnvironment(ctx, env.ID, store.EnvDestroyed); err != nil {
				r.log.Error("envreaper: transition to destroyed failed",
					zap.String("environment_id", env.ID), zap.Error(err))
				continue
			}
			destroyed++
		}
	}

	active, err := r.activeCount(ctx)
	if err != nil {
		r.log.Error("envreaper: count active environments failed", zap.Error(err))
		return
	}
	metrics.SetActiveEnvironments(active)
}

func (r *Reaper) activeCount(ctx context.Context) (int, error) {
	count := 0
	for _, status := range []string{store.EnvRequested, store.EnvCreating, store.EnvRunning, store.EnvDormant} {
		envs, err := r.store.ListEnvironmentsByStatus(ctx, r.tenantID, status)
		if err != nil {
			return 0, err
		}
		count += len(envs)
	}
	return count, nil
}
