package wallet

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"raketpay/pkg/config"
)

// Scheduler enqueues the maturity sweep on a fixed interval.
type Scheduler struct {
	task     *Task
	interval time.Duration
}

func NewScheduler(task *Task, cfg *config.Config) *Scheduler {
	interval := cfg.Payments.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{task: task, interval: interval}
}

// StartScheduler is invoked by FX on service start.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started maturity sweep scheduler",
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := s.task.EnqueueMatureEarnings(ctx, now); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue maturity sweep", zap.Error(err))
				continue
			}
			zap.L().Info("[Scheduler] enqueued maturity sweep", zap.Time("as_of", now))
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}
