// Package janitor periodically deletes expired ephemeral tokens.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/evogenom/ephemeral-auth/internal/config"
	"github.com/evogenom/ephemeral-auth/internal/logger"
	"github.com/evogenom/ephemeral-auth/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Janitor removes expired rows so tokens that are never redeemed do not
// accumulate. Consumption never depends on it.
type Janitor struct {
	store    store.Store
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st store.Store, interval time.Duration) *Janitor {
	return &Janitor{store: st, interval: interval, now: time.Now}
}

// Sweep deletes every token that expired before now.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.store.DeleteExpired(ctx, j.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("Removed expired ephemeral tokens", zap.Int64("count", n))
	}
	return n, nil
}

// Start runs Sweep every interval until Stop. It is a no-op when the
// interval is not positive.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("Expired token sweep failed", zap.Error(err))
				}
			}
		}
	}()
	logger.Info("Started expired token janitor", zap.Duration("interval", j.interval))
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

// Module runs the janitor for the lifetime of the application when
// tokens.sweep_interval is positive.
var Module = fx.Module("janitor",
	fx.Provide(func(st store.Store, cfg *config.TokenConfig) *Janitor {
		return New(st, cfg.SweepInterval)
	}),
	fx.Invoke(func(lc fx.Lifecycle, j *Janitor) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				j.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				j.Stop()
				return nil
			},
		})
	}),
)
