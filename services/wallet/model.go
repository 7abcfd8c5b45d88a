package wallet

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Bucket selects which balance of a wallet an operation touches.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketReserved  Bucket = "reserved"
)

// HeldReason states why a pending earning has not matured yet.
type HeldReason string

const (
	HoldBufferPeriod   HeldReason = "BUFFER_PERIOD"
	HoldBackjobPending HeldReason = "BACKJOB_PENDING"
)

type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypePayment    TransactionType = "payment"
	TypeRefund     TransactionType = "refund"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
)

// Wallet is the per-account balance record. Created on the first monetary
// event for an account and never deleted. Available and reserved are always
// non-negative; pending amounts live in PendingEarning rows.
type Wallet struct {
	AccountID string          `gorm:"column:account_id;primaryKey"`
	Available decimal.Decimal `gorm:"column:available;type:numeric(18,2);not null"`
	Reserved  decimal.Decimal `gorm:"column:reserved;type:numeric(18,2);not null"`
	Currency  string          `gorm:"column:currency;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

// PendingEarning is a worker's released-but-not-yet-withdrawable amount.
// ReleaseDate is nil while a backjob dispute holds the entry. One entry per
// job final leg, enforced by the unique index.
type PendingEarning struct {
	ID          snowflake.ID    `gorm:"column:id;primaryKey;autoIncrement:false"`
	AccountID   string          `gorm:"column:account_id;index;not null"`
	JobID       string          `gorm:"column:job_id;uniqueIndex;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	HeldReason  HeldReason      `gorm:"column:held_reason;not null"`
	ReleaseDate *time.Time      `gorm:"column:release_date"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (PendingEarning) TableName() string { return "pending_earnings" }

// Transaction is one append-only row in the account's money log. A pending
// row may transition once to completed or failed; completed and failed rows
// are immutable. ReferenceID is the idempotency key for retried callbacks.
type Transaction struct {
	ID            snowflake.ID      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Code          string            `gorm:"column:code;uniqueIndex" json:"code"`
	AccountID     string            `gorm:"column:account_id;index;not null" json:"account_id"`
	ReferenceID   string            `gorm:"column:reference_id;uniqueIndex;not null" json:"reference_id"`
	Amount        decimal.Decimal   `gorm:"column:amount;type:numeric(18,2);not null" json:"amount"`
	Type          TransactionType   `gorm:"column:type;not null" json:"type"`
	Status        TransactionStatus `gorm:"column:status;not null" json:"status"`
	PaymentMethod string            `gorm:"column:payment_method" json:"payment_method,omitempty"`
	Metadata      datatypes.JSON    `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// WalletData is the read projection handed to UI/query layers. Amounts are
// rounded to 2 places; internal fixed-point values never leak.
type WalletData struct {
	AccountID    string             `json:"account_id"`
	Available    string             `json:"available"`
	Reserved     string             `json:"reserved"`
	PendingTotal string             `json:"pending_total"`
	Currency     string             `json:"currency"`
	Pending      []PendingEarningVM `json:"pending_earnings"`
}

type PendingEarningVM struct {
	JobID       string     `json:"job_id"`
	Amount      string     `json:"amount"`
	HeldReason  HeldReason `json:"held_reason"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
