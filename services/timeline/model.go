package timeline

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// EventType enumerates the payment lifecycle moments recorded per job.
type EventType string

const (
	EventEscrowCreated       EventType = "escrow_created"
	EventEscrowPaid          EventType = "escrow_paid"
	EventJobStarted          EventType = "job_started"
	EventJobCompleted        EventType = "job_completed"
	EventFinalPaymentCreated EventType = "final_payment_created"
	EventFinalPaymentPaid    EventType = "final_payment_paid"
	EventPaymentReleased     EventType = "payment_released"
	EventPaymentFailed       EventType = "payment_failed"
	EventPaymentRefunded     EventType = "payment_refunded"
)

// Event is one write-once row in a job's payment timeline. Rows are only
// ever appended, never updated; together they are the audit trail for every
// state transition the payment machinery performs.
type Event struct {
	ID          snowflake.ID        `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	JobID       string              `gorm:"column:job_id;index;not null" json:"job_id"`
	EventType   EventType           `gorm:"column:event_type;not null" json:"event_type"`
	Amount      decimal.NullDecimal `gorm:"column:amount;type:numeric(18,2)" json:"amount,omitempty"`
	Description string              `gorm:"column:description" json:"description,omitempty"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Event) TableName() string { return "payment_timeline_events" }
