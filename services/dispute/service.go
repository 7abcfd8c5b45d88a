package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/db/option"
	"raketpay/pkg/repository"
	"raketpay/services/payment"
	"raketpay/services/timeline"
	"raketpay/services/wallet"
)

var (
	// ErrNoOpenDispute is returned by Resolve when the job has nothing to
	// resolve.
	ErrNoOpenDispute = errors.New("no open dispute for job")
	// ErrUnknownOutcome is returned for an outcome outside
	// RELEASE/REFUND_CLIENT.
	ErrUnknownOutcome = errors.New("unknown dispute outcome")
)

// Service freezes and settles backjob claims against a job's pending
// earnings. It races the maturity sweep by design; both sides re-validate
// the entry under its row lock, so whichever commits first wins cleanly.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	wallet   *wallet.Service
	recorder *timeline.Recorder

	disputes repository.Repository[Dispute]
	payments repository.Repository[payment.JobPayment]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Wallet   *wallet.Service
	Recorder *timeline.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		wallet:   p.Wallet,
		recorder: p.Recorder,

		disputes: repository.ProvideStore[Dispute](p.DB),
		payments: repository.ProvideStore[payment.JobPayment](p.DB),
	}
}

// Open freezes the job's pending earning and records the claim. Opening an
// already-open dispute is a no-op so the claim webhook can be retried.
func (s *Service) Open(ctx context.Context, jobID string) (*Dispute, error) {
	var row *Dispute
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.wallet.FreezePendingEarning(ctx, tx, jobID); err != nil {
			return err
		}

		existing, err := s.disputes.WithTrx(tx).FindOne(ctx, &Dispute{JobID: jobID, Status: StatusOpen}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing != nil {
			row = existing
			return nil
		}

		row = &Dispute{
			ID:     s.node.Generate(),
			JobID:  jobID,
			Status: StatusOpen,
		}
		return s.disputes.WithTrx(tx).Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Resolve closes the dispute. RELEASE puts the entry back on the buffer path
// with an immediate release date, so the next sweep matures it. REFUND_CLIENT
// claws the entry back and returns the final leg amount to the payer.
func (s *Service) Resolve(ctx context.Context, jobID string, outcome Outcome, resolvedBy string) error {
	if outcome != OutcomeRelease && outcome != OutcomeRefundClient {
		return ErrUnknownOutcome
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.disputes.WithTrx(tx).FindOne(ctx, &Dispute{JobID: jobID, Status: StatusOpen}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNoOpenDispute
		}

		switch outcome {
		case OutcomeRelease:
			if err := s.wallet.UnfreezePendingEarning(ctx, tx, jobID, time.Now()); err != nil {
				return err
			}
		case OutcomeRefundClient:
			if err := s.refundClient(ctx, tx, jobID); err != nil {
				return err
			}
		}

		now := time.Now()
		return tx.WithContext(ctx).Model(&Dispute{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":      StatusResolved,
				"outcome":     outcome,
				"resolved_by": resolvedBy,
				"resolved_at": now,
			}).Error
	})
}

// refundClient removes the worker's pending entry and refunds the payer the
// full final leg amount.
func (s *Service) refundClient(ctx context.Context, tx *gorm.DB, jobID string) error {
	if _, err := s.wallet.TakePendingEarning(ctx, tx, jobID); err != nil {
		return err
	}

	final, err := s.payments.WithTrx(tx).FindOne(ctx, &payment.JobPayment{JobID: jobID, Leg: payment.LegFinal}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if final == nil {
		return payment.ErrPaymentNotFound
	}

	if err := s.wallet.Credit(ctx, tx, final.PayerID, final.Amount, wallet.BucketAvailable); err != nil {
		return err
	}
	txn := s.wallet.NewTransaction(ctx, final.PayerID, fmt.Sprintf("dispute:refund:%s", jobID),
		final.Amount, wallet.TypeRefund, wallet.TxnCompleted, string(final.Method))
	if err := s.wallet.RecordTransaction(ctx, tx, txn); err != nil {
		return err
	}

	if err := tx.WithContext(ctx).Model(&payment.JobPayment{}).
		Where("id = ?", final.ID).
		Update("status", payment.StatusRefunded).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Model(&payment.JobState{}).
		Where("job_id = ?", jobID).
		Update("state", payment.StateRefunded).Error; err != nil {
		return err
	}

	return s.recorder.Append(ctx, tx, jobID, timeline.EventPaymentRefunded, &final.Amount, "backjob refund")
}

// List returns a job's dispute history, newest first.
func (s *Service) List(ctx context.Context, jobID string) ([]*Dispute, error) {
	return s.disputes.Find(ctx, &Dispute{JobID: jobID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "opened_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"opened_at": true},
	}))
}
