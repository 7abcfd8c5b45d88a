package timeline

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/db/option"
	"raketpay/pkg/repository"
)

// Recorder appends and reads per-job payment timeline events.
type Recorder struct {
	db   *gorm.DB
	node *snowflake.Node

	events repository.Repository[Event]
}

type RecorderParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewRecorder(p RecorderParams) *Recorder {
	return &Recorder{
		db:     p.DB,
		node:   p.Node,
		events: repository.ProvideStore[Event](p.DB),
	}
}

// Append writes one event inside the caller's transaction. Callers append
// exactly one event per state transition.
func (r *Recorder) Append(ctx context.Context, tx *gorm.DB, jobID string, eventType EventType, amount *decimal.Decimal, description string) error {
	event := &Event{
		ID:          r.node.Generate(),
		JobID:       jobID,
		EventType:   eventType,
		Description: description,
	}
	if amount != nil {
		event.Amount = decimal.NewNullDecimal(*amount)
	}

	return r.events.WithTrx(tx).Create(ctx, event)
}

// List returns a job's timeline in append order.
func (r *Recorder) List(ctx context.Context, jobID string) ([]*Event, error) {
	return r.events.Find(ctx, &Event{JobID: jobID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// Count returns how many events of a type a job has; confirm handlers use it
// in tests to assert exactly-once appends.
func (r *Recorder) Count(ctx context.Context, jobID string, eventType EventType) (int64, error) {
	return r.events.Count(ctx, &Event{JobID: jobID, EventType: eventType})
}
