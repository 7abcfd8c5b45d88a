package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeMatureEarnings = "wallet:mature_earnings"

type MatureEarningsPayload struct {
	Now time.Time `json:"now"`
}

var TaskModule = fx.Module("task.wallet",
	fx.Provide(NewTask),
)

// Task owns the async side of the ledger: the periodic maturity sweep.
type Task struct {
	service *Service
	asynq   *asynq.Client
}

type TaskParams struct {
	fx.In

	Service *Service
	Asynq   *asynq.Client `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	return &Task{
		service: p.Service,
		asynq:   p.Asynq,
	}
}

// EnqueueMatureEarnings queues one sweep run stamped with the current time.
func (t *Task) EnqueueMatureEarnings(ctx context.Context, now time.Time) error {
	payload, err := json.Marshal(MatureEarningsPayload{Now: now})
	if err != nil {
		return err
	}

	_, err = t.asynq.EnqueueContext(ctx, asynq.NewTask(TypeMatureEarnings, payload), asynq.Queue("default"))
	return err
}

func (t *Task) HandleMatureEarningsTask(ctx context.Context, task *asynq.Task) error {
	var payload MatureEarningsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	now := payload.Now
	if now.IsZero() {
		now = time.Now()
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.Time("as_of", now),
	)
	zapLog.Info("start maturity sweep")

	count, err := t.service.MaturePendingEarnings(ctx, now)
	if err != nil {
		zapLog.Error("maturity sweep failed", zap.Error(err), zap.Int("matured", count))
		return err
	}

	zapLog.Info("maturity sweep finished", zap.Int("matured", count))
	return nil
}
