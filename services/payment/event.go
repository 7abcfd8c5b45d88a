package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypePaymentReleased = "payment:released"

// ReleasedPayload is the hand-off to the notification side once a final
// payment has been released into the worker's pending earnings.
type ReleasedPayload struct {
	JobID   string `json:"job_id"`
	PayeeID string `json:"payee_id"`
	Amount  string `json:"amount"`
}

var TaskModule = fx.Module("task.payment",
	fx.Provide(NewTask),
)

type Task struct {
	asynq *asynq.Client
}

type TaskParams struct {
	fx.In

	Asynq *asynq.Client `optional:"true"`
}

func NewTask(p TaskParams) *Task {
	return &Task{asynq: p.Asynq}
}

func (t *Task) EnqueueReleased(ctx context.Context, row *JobPayment) error {
	if t.asynq == nil {
		return nil
	}

	payload, err := json.Marshal(ReleasedPayload{
		JobID:   row.JobID,
		PayeeID: row.PayeeID,
		Amount:  row.Amount.StringFixed(2),
	})
	if err != nil {
		return err
	}

	_, err = t.asynq.EnqueueContext(ctx, asynq.NewTask(TypePaymentReleased, payload), asynq.Queue("default"))
	return err
}

// HandleReleasedTask is where notification fan-out hooks in; for now it only
// records the release on the worker side.
func (t *Task) HandleReleasedTask(ctx context.Context, task *asynq.Task) error {
	var payload ReleasedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zap.L().Info("payment released",
		zap.String("task_type", task.Type()),
		zap.String("job_id", payload.JobID),
		zap.String("payee_id", payload.PayeeID),
		zap.String("amount", payload.Amount),
	)
	return nil
}
