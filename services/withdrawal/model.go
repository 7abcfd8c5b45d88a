package withdrawal

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Method is the external rail the funds leave on.
type Method string

const (
	MethodGcash  Method = "GCASH"
	MethodBank   Method = "BANK"
	MethodPaypal Method = "PAYPAL"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// WithdrawalRequest tracks one cash-out from request to settlement. The
// requested amount sits in the wallet's reserved bucket while the row is
// PENDING; approval debits it for good, rejection returns it.
type WithdrawalRequest struct {
	ID               snowflake.ID    `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	TransactionID    snowflake.ID    `gorm:"column:transaction_id;not null" json:"transaction_id"`
	Code             string          `gorm:"column:code;uniqueIndex" json:"code"`
	UserID           string          `gorm:"column:user_id;index;not null" json:"user_id"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null" json:"amount"`
	Method           Method          `gorm:"column:method;not null" json:"method"`
	RecipientName    string          `gorm:"column:recipient_name" json:"recipient_name"`
	RecipientAccount string          `gorm:"column:recipient_account" json:"recipient_account"`
	Status           Status          `gorm:"column:status;not null" json:"status"`
	DisbursementID   string          `gorm:"column:disbursement_id" json:"disbursement_id,omitempty"`
	RejectReason     string          `gorm:"column:reject_reason" json:"reject_reason,omitempty"`
	ReviewedBy       string          `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }
