package withdrawal

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"raketpay/pkg/db/option"
	"raketpay/pkg/money"
	"raketpay/pkg/repository"
	"raketpay/pkg/sequence"
	"raketpay/services/wallet"
)

var (
	// ErrInvalidState is returned when the request is no longer PENDING;
	// double-approving or rejecting after approval lands here.
	ErrInvalidState = errors.New("withdrawal request already reviewed")
	// ErrRequestNotFound is returned for an unknown request id.
	ErrRequestNotFound = errors.New("withdrawal request not found")
	// ErrUnknownMethod is returned for a rail outside GCASH/BANK/PAYPAL.
	ErrUnknownMethod = errors.New("unknown withdrawal method")
)

// Service runs the cash-out workflow. The ledger only records settlement;
// real funds move on the external rail named by Method.
type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	wallet *wallet.Service
	codes  sequence.Generator

	requests repository.Repository[WithdrawalRequest]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Wallet *wallet.Service
	Codes  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		wallet: p.Wallet,
		codes:  p.Codes,

		requests: repository.ProvideStore[WithdrawalRequest](p.DB),
	}
}

func validMethod(method Method) bool {
	switch method {
	case MethodGcash, MethodBank, MethodPaypal:
		return true
	}
	return false
}

// Request earmarks the amount and opens a PENDING request. The move from
// available to reserved and the pending transaction commit together; an
// underfunded wallet fails the whole thing with ErrInsufficientFunds.
func (s *Service) Request(ctx context.Context, userID string, amount decimal.Decimal, method Method, recipientName, recipientAccount string) (*WithdrawalRequest, error) {
	if !validMethod(method) {
		return nil, ErrUnknownMethod
	}
	if err := money.Validate(amount); err != nil {
		return nil, err
	}

	row := &WithdrawalRequest{
		ID:               s.node.Generate(),
		Code:             s.nextCode(ctx),
		UserID:           userID,
		Amount:           money.Round2(amount),
		Method:           method,
		RecipientName:    recipientName,
		RecipientAccount: recipientAccount,
		Status:           StatusPending,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.wallet.Reserve(ctx, tx, userID, row.Amount); err != nil {
			return err
		}

		txn := s.wallet.NewTransaction(ctx, userID, fmt.Sprintf("withdrawal:%s", row.ID),
			row.Amount, wallet.TypeWithdrawal, wallet.TxnPending, string(method))
		meta, _ := json.Marshal(map[string]string{
			"code":              row.Code,
			"recipient_name":    recipientName,
			"recipient_account": recipientAccount,
		})
		txn.Metadata = datatypes.JSON(meta)
		if err := s.wallet.RecordTransaction(ctx, tx, txn); err != nil {
			return err
		}
		row.TransactionID = txn.ID

		return s.requests.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Approve settles a PENDING request: reserved funds leave the ledger and the
// withdrawal transaction completes. A disbursement id is generated when the
// rail did not supply one.
func (s *Service) Approve(ctx context.Context, requestID snowflake.ID, adminID, disbursementID string) (*WithdrawalRequest, error) {
	if disbursementID == "" {
		disbursementID = uuid.NewString()
	}

	var row *WithdrawalRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.pendingForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if err := s.wallet.Debit(ctx, tx, row.UserID, row.Amount, wallet.BucketReserved); err != nil {
			return err
		}
		if err := s.wallet.MarkTransactionStatus(ctx, tx, fmt.Sprintf("withdrawal:%s", row.ID), wallet.TxnCompleted); err != nil {
			return err
		}

		row.Status = StatusCompleted
		row.DisbursementID = disbursementID
		row.ReviewedBy = adminID
		return tx.WithContext(ctx).Model(&WithdrawalRequest{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":          StatusCompleted,
				"disbursement_id": disbursementID,
				"reviewed_by":     adminID,
				"updated_at":      time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Reject returns the reserved funds and fails the withdrawal transaction.
func (s *Service) Reject(ctx context.Context, requestID snowflake.ID, adminID, reason string) (*WithdrawalRequest, error) {
	var row *WithdrawalRequest
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.pendingForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}

		if err := s.wallet.ReleaseReserved(ctx, tx, row.UserID, row.Amount); err != nil {
			return err
		}
		if err := s.wallet.MarkTransactionStatus(ctx, tx, fmt.Sprintf("withdrawal:%s", row.ID), wallet.TxnFailed); err != nil {
			return err
		}

		row.Status = StatusFailed
		row.RejectReason = reason
		row.ReviewedBy = adminID
		return tx.WithContext(ctx).Model(&WithdrawalRequest{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":        StatusFailed,
				"reject_reason": reason,
				"reviewed_by":   adminID,
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) pendingForUpdate(ctx context.Context, tx *gorm.DB, requestID snowflake.ID) (*WithdrawalRequest, error) {
	row, err := s.requests.WithTrx(tx).FindOne(ctx, &WithdrawalRequest{ID: requestID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrRequestNotFound
	}
	if row.Status != StatusPending {
		return nil, ErrInvalidState
	}
	return row, nil
}

// List filters by user and status; zero values mean no filter.
func (s *Service) List(ctx context.Context, userID string, status Status) ([]*WithdrawalRequest, error) {
	return s.requests.Find(ctx, &WithdrawalRequest{UserID: userID, Status: status}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// Get returns one request by id.
func (s *Service) Get(ctx context.Context, requestID snowflake.ID) (*WithdrawalRequest, error) {
	row, err := s.requests.FindOne(ctx, &WithdrawalRequest{ID: requestID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrRequestNotFound
	}
	return row, nil
}

func (s *Service) nextCode(ctx context.Context) string {
	if s.codes != nil {
		if code, err := s.codes.NextWithdrawalCode(ctx); err == nil {
			return code
		}
	}

	datePart := time.Now().Format("20060102")
	r := make([]byte, 3)
	_, _ = rand.Read(r)
	return fmt.Sprintf("WDR-%s-%s", datePart, strings.ToUpper(fmt.Sprintf("%x", r)))
}
