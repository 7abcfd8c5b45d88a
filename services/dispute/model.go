package dispute

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Outcome is the admin decision closing a backjob dispute.
type Outcome string

const (
	OutcomeRelease      Outcome = "RELEASE"
	OutcomeRefundClient Outcome = "REFUND_CLIENT"
)

// Dispute is the audit record of a backjob claim. The monetary effect lives
// in the wallet ledger; this row records who decided what and when.
type Dispute struct {
	ID         snowflake.ID `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	JobID      string       `gorm:"column:job_id;index;not null" json:"job_id"`
	Status     Status       `gorm:"column:status;not null" json:"status"`
	Outcome    Outcome      `gorm:"column:outcome" json:"outcome,omitempty"`
	ResolvedBy string       `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	OpenedAt   time.Time    `gorm:"column:opened_at;autoCreateTime" json:"opened_at"`
	ResolvedAt *time.Time   `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Dispute) TableName() string { return "disputes" }
