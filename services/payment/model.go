package payment

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Leg distinguishes the two halves of a job's payment.
type Leg string

const (
	LegEscrow Leg = "escrow"
	LegFinal  Leg = "final"
)

// Method is how the payer funds a leg.
type Method string

const (
	MethodWallet  Method = "wallet"
	MethodCash    Method = "cash"
	MethodGateway Method = "gateway"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// JobPayment is one leg of a job's payment. The unique (job_id, leg) index is
// the hard guard against double-charging a job; a failed row is reset in
// place on retry rather than inserted again.
type JobPayment struct {
	ID            snowflake.ID    `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	JobID         string          `gorm:"column:job_id;uniqueIndex:idx_job_leg;not null" json:"job_id"`
	Leg           Leg             `gorm:"column:leg;uniqueIndex:idx_job_leg;not null" json:"leg"`
	PayerID       string          `gorm:"column:payer_id;not null" json:"payer_id"`
	PayeeID       string          `gorm:"column:payee_id;not null" json:"payee_id"`
	Budget        decimal.Decimal `gorm:"column:budget;type:numeric(18,2);not null" json:"budget"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null" json:"amount"`
	WorkerShare   decimal.Decimal `gorm:"column:worker_share;type:numeric(18,2);not null" json:"worker_share"`
	PlatformFee   decimal.Decimal `gorm:"column:platform_fee;type:numeric(18,2);not null" json:"platform_fee"`
	Method        Method          `gorm:"column:method;not null" json:"method"`
	Status        Status          `gorm:"column:status;not null" json:"status"`
	InvoiceID     string          `gorm:"column:invoice_id;index" json:"invoice_id,omitempty"`
	FailureReason string          `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	PaidAt        *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	ReleasedAt    *time.Time      `gorm:"column:released_at" json:"released_at,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (JobPayment) TableName() string { return "job_payments" }

// State is where a job sits in the payment lifecycle.
type State string

const (
	StateEscrowPending State = "escrow_pending"
	StateEscrowPaid    State = "escrow_paid"
	StateInProgress    State = "in_progress"
	StateCompleted     State = "completed"
	StateFinalPending  State = "final_pending"
	StateFinalPaid     State = "final_paid"
	StateReleased      State = "released"
	StateRefunded      State = "refunded"
)

type JobState struct {
	JobID     string    `gorm:"column:job_id;primaryKey" json:"job_id"`
	State     State     `gorm:"column:state;not null" json:"state"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (JobState) TableName() string { return "job_states" }

// JobPaymentStatus is the per-job read projection.
type JobPaymentStatus struct {
	JobID            string     `json:"job_id"`
	Status           string     `json:"status"`
	EscrowPaid       bool       `json:"escrow_paid"`
	EscrowAmount     string     `json:"escrow_amount,omitempty"`
	EscrowDate       *time.Time `json:"escrow_date,omitempty"`
	FinalPaid        bool       `json:"final_paid"`
	FinalAmount      string     `json:"final_amount,omitempty"`
	FinalDate        *time.Time `json:"final_date,omitempty"`
	ReleasedToWorker bool       `json:"released_to_worker"`
	ReleaseDate      *time.Time `json:"release_date,omitempty"`
}

const (
	ProjectionNoPayment    = "no_payment"
	ProjectionEscrowOnly   = "escrow_only"
	ProjectionFinalPending = "final_pending"
	ProjectionCompleted    = "completed"
)
