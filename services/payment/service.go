package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"raketpay/pkg/config"
	"raketpay/pkg/db/option"
	"raketpay/pkg/money"
	"raketpay/pkg/repository"
	"raketpay/services/timeline"
	"raketpay/services/wallet"
)

var (
	// ErrDuplicateEscrow is returned when a job already has a live escrow leg.
	ErrDuplicateEscrow = errors.New("escrow payment already exists for job")
	// ErrDuplicateFinalPayment is returned when a job already has a live
	// final leg; concurrent double-submits lose here.
	ErrDuplicateFinalPayment = errors.New("final payment already exists for job")
	// ErrInvalidState is returned when an operation does not apply to the
	// job's current state (reject a paid leg, start before escrow, ...).
	ErrInvalidState = errors.New("operation not valid in current payment state")
	// ErrPaymentNotFound is returned when the referenced leg does not exist.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrUnknownMethod is returned for a payment method outside
	// wallet/cash/gateway.
	ErrUnknownMethod = errors.New("unknown payment method")
)

// Service drives the per-job payment state machine. Every transition runs in
// one transaction with the leg row locked, appends exactly one timeline event
// per transition, and moves money through the wallet ledger in the same
// transaction.
type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	wallet       *wallet.Service
	recorder     *timeline.Recorder
	gateway      Gateway
	events       *Task
	bufferPeriod time.Duration

	payments repository.Repository[JobPayment]
	states   repository.Repository[JobState]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Wallet   *wallet.Service
	Recorder *timeline.Recorder
	Gateway  Gateway `optional:"true"`
	Events   *Task   `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	gateway := p.Gateway
	if gateway == nil {
		gateway = NewNoopGateway()
	}

	bufferPeriod := 168 * time.Hour
	if p.Config != nil && p.Config.Payments.BufferPeriod > 0 {
		bufferPeriod = p.Config.Payments.BufferPeriod
	}

	return &Service{
		db:           p.DB,
		node:         p.Node,
		wallet:       p.Wallet,
		recorder:     p.Recorder,
		gateway:      gateway,
		events:       p.Events,
		bufferPeriod: bufferPeriod,

		payments: repository.ProvideStore[JobPayment](p.DB),
		states:   repository.ProvideStore[JobState](p.DB),
	}
}

func validMethod(method Method) bool {
	switch method {
	case MethodWallet, MethodCash, MethodGateway:
		return true
	}
	return false
}

// CreateEscrowPayment opens the escrow leg for a job. Wallet-funded escrows
// charge and confirm synchronously; cash and gateway escrows create an
// invoice and wait for the provider webhook. A failed leg is reset in place
// so the client can retry; a pending or paid leg fails ErrDuplicateEscrow.
func (s *Service) CreateEscrowPayment(ctx context.Context, jobID, payerID, payeeID string, budget decimal.Decimal, method Method) (*JobPayment, error) {
	if !validMethod(method) {
		return nil, ErrUnknownMethod
	}

	split, err := money.SplitEscrow(budget)
	if err != nil {
		return nil, err
	}

	var row *JobPayment
	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: LegEscrow}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != StatusFailed {
			return ErrDuplicateEscrow
		}

		row, err = s.openLeg(ctx, tx, existing, jobID, payerID, payeeID, LegEscrow, budget, split, method)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CreateFinalPayment opens the final leg once the job is completed. Payer,
// payee and budget carry over from the escrow leg; the split formula is the
// same on both legs.
func (s *Service) CreateFinalPayment(ctx context.Context, jobID string, method Method) (*JobPayment, error) {
	if !validMethod(method) {
		return nil, ErrUnknownMethod
	}

	var row *JobPayment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// the duplicate check comes first: a second submit on a job whose
		// final leg is already live must read as a duplicate, not as a bad
		// state, regardless of how far the state machine has advanced
		existing, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: LegFinal}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != StatusFailed {
			return ErrDuplicateFinalPayment
		}

		state, err := s.states.WithTrx(tx).FindOne(ctx, &JobState{JobID: jobID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if state == nil || state.State != StateCompleted {
			return ErrInvalidState
		}

		escrow, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: LegEscrow})
		if err != nil {
			return err
		}
		if escrow == nil || escrow.Status != StatusPaid {
			return ErrInvalidState
		}

		split, err := money.SplitEscrow(escrow.Budget)
		if err != nil {
			return err
		}

		row, err = s.openLeg(ctx, tx, existing, jobID, escrow.PayerID, escrow.PayeeID, LegFinal, escrow.Budget, split, method)
		return err
	})
	if err != nil {
		return nil, err
	}

	if row.ReleasedAt != nil {
		s.notifyReleased(ctx, row)
	}
	return row, nil
}

// openLeg builds (or resets) a leg row, charges it when wallet-funded, and
// appends the created/paid timeline events. Runs inside the caller's
// transaction with the leg row already locked.
func (s *Service) openLeg(ctx context.Context, tx *gorm.DB, existing *JobPayment, jobID, payerID, payeeID string, leg Leg, budget decimal.Decimal, split money.EscrowSplit, method Method) (*JobPayment, error) {
	now := time.Now()

	row := existing
	if row == nil {
		row = &JobPayment{ID: s.node.Generate(), JobID: jobID, Leg: leg}
	}
	row.PayerID = payerID
	row.PayeeID = payeeID
	row.Budget = budget
	row.Amount = split.Total
	row.WorkerShare = split.WorkerShare
	row.PlatformFee = split.PlatformFee
	row.Method = method
	row.Status = StatusPending
	row.InvoiceID = ""
	row.FailureReason = ""
	row.PaidAt = nil
	row.ReleasedAt = nil

	createdEvent, paidEvent := timeline.EventEscrowCreated, timeline.EventEscrowPaid
	pendingState, paidState := StateEscrowPending, StateEscrowPaid
	if leg == LegFinal {
		createdEvent, paidEvent = timeline.EventFinalPaymentCreated, timeline.EventFinalPaymentPaid
		pendingState, paidState = StateFinalPending, StateFinalPaid
	}

	state := pendingState
	switch method {
	case MethodWallet:
		if err := s.wallet.Debit(ctx, tx, payerID, row.Amount, wallet.BucketAvailable); err != nil {
			return nil, err
		}
		txn := s.wallet.NewTransaction(ctx, payerID, fmt.Sprintf("%s:%s", leg, jobID),
			row.Amount, wallet.TypePayment, wallet.TxnCompleted, string(method))
		if err := s.wallet.RecordTransaction(ctx, tx, txn); err != nil {
			return nil, err
		}
		row.Status = StatusPaid
		row.PaidAt = &now
		state = paidState
	case MethodCash, MethodGateway:
		invoiceID, _, err := s.gateway.CreateInvoice(ctx, jobID, row.Amount)
		if err != nil {
			return nil, err
		}
		row.InvoiceID = invoiceID
	}

	if existing == nil {
		if err := s.payments.WithTrx(tx).Create(ctx, row); err != nil {
			// two creates raced past the pre-check; the unique (job_id, leg)
			// index decides, and the loser reports a duplicate
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				if leg == LegFinal {
					return nil, ErrDuplicateFinalPayment
				}
				return nil, ErrDuplicateEscrow
			}
			return nil, err
		}
	} else if err := tx.WithContext(ctx).Save(row).Error; err != nil {
		return nil, err
	}

	if err := s.recorder.Append(ctx, tx, jobID, createdEvent, &row.Amount, string(method)); err != nil {
		return nil, err
	}

	if row.Status == StatusPaid {
		if err := s.recorder.Append(ctx, tx, jobID, paidEvent, &row.Amount, string(method)); err != nil {
			return nil, err
		}
		if leg == LegFinal {
			if err := s.release(ctx, tx, row); err != nil {
				return nil, err
			}
			if err := tx.WithContext(ctx).Save(row).Error; err != nil {
				return nil, err
			}
			state = StateReleased
		}
	}

	if err := s.setState(ctx, tx, jobID, state); err != nil {
		return nil, err
	}
	return row, nil
}

// ConfirmEscrow marks the escrow leg paid from a provider callback. Safe to
// deliver repeatedly: an already-paid leg no-ops.
func (s *Service) ConfirmEscrow(ctx context.Context, jobID, providerRef string) error {
	return s.confirm(ctx, jobID, LegEscrow, providerRef)
}

// ConfirmFinalPayment marks the final leg paid and releases the worker's
// share into pending earnings.
func (s *Service) ConfirmFinalPayment(ctx context.Context, jobID, providerRef string) error {
	return s.confirm(ctx, jobID, LegFinal, providerRef)
}

func (s *Service) confirm(ctx context.Context, jobID string, leg Leg, providerRef string) error {
	var released *JobPayment

	err := s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: leg}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return ErrPaymentNotFound
		}
		if row.Status == StatusPaid {
			return nil
		}
		if row.Status != StatusPending {
			return ErrInvalidState
		}

		ref := providerRef
		if ref == "" {
			ref = fmt.Sprintf("%s:%s", leg, jobID)
		}
		txn := s.wallet.NewTransaction(ctx, row.PayerID, ref,
			row.Amount, wallet.TypePayment, wallet.TxnCompleted, string(row.Method))
		if err := s.wallet.RecordTransaction(ctx, tx, txn); err != nil {
			return err
		}

		now := time.Now()
		row.Status = StatusPaid
		row.PaidAt = &now

		paidEvent, paidState := timeline.EventEscrowPaid, StateEscrowPaid
		if leg == LegFinal {
			paidEvent, paidState = timeline.EventFinalPaymentPaid, StateFinalPaid
		}
		if err := s.recorder.Append(ctx, tx, jobID, paidEvent, &row.Amount, string(row.Method)); err != nil {
			return err
		}

		state := paidState
		if leg == LegFinal {
			if err := s.release(ctx, tx, row); err != nil {
				return err
			}
			state = StateReleased
			released = row
		}

		if err := tx.WithContext(ctx).Save(row).Error; err != nil {
			return err
		}
		return s.setState(ctx, tx, jobID, state)
	})
	if err != nil {
		return err
	}

	if released != nil {
		s.notifyReleased(ctx, released)
	}
	return nil
}

// RejectEscrow fails a pending escrow leg; the job reads as unpaid again and
// the leg may be retried. Rejecting a paid leg fails ErrInvalidState.
func (s *Service) RejectEscrow(ctx context.Context, jobID, reason string) error {
	return s.reject(ctx, jobID, LegEscrow, reason)
}

func (s *Service) RejectFinalPayment(ctx context.Context, jobID, reason string) error {
	return s.reject(ctx, jobID, LegFinal, reason)
}

func (s *Service) reject(ctx context.Context, jobID string, leg Leg, reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: leg}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return ErrPaymentNotFound
		}
		if row.Status == StatusFailed {
			return nil
		}
		if row.Status != StatusPending {
			return ErrInvalidState
		}

		row.Status = StatusFailed
		row.FailureReason = reason
		if err := tx.WithContext(ctx).Save(row).Error; err != nil {
			return err
		}

		if err := s.recorder.Append(ctx, tx, jobID, timeline.EventPaymentFailed, &row.Amount, reason); err != nil {
			return err
		}

		// the job falls back to the state before this leg opened
		state := StateEscrowPending
		if leg == LegFinal {
			state = StateCompleted
		}
		return s.setState(ctx, tx, jobID, state)
	})
}

// StartJob moves an escrow-paid job into progress.
func (s *Service) StartJob(ctx context.Context, jobID string) error {
	return s.transitionState(ctx, jobID, StateEscrowPaid, StateInProgress, timeline.EventJobStarted)
}

// CompleteJob marks work done; the final leg can open afterwards.
func (s *Service) CompleteJob(ctx context.Context, jobID string) error {
	return s.transitionState(ctx, jobID, StateInProgress, StateCompleted, timeline.EventJobCompleted)
}

func (s *Service) transitionState(ctx context.Context, jobID string, from, to State, event timeline.EventType) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		state, err := s.states.WithTrx(tx).FindOne(ctx, &JobState{JobID: jobID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if state == nil || state.State != from {
			return ErrInvalidState
		}

		if err := tx.WithContext(ctx).Model(&JobState{}).
			Where("job_id = ?", jobID).
			Update("state", to).Error; err != nil {
			return err
		}
		return s.recorder.Append(ctx, tx, jobID, event, nil, "")
	})
}

// Refund reverses a paid leg on admin order: the payer gets the full leg
// amount back into available funds. Terminal for the leg.
func (s *Service) Refund(ctx context.Context, jobID string, leg Leg) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.payments.WithTrx(tx).FindOne(ctx, &JobPayment{JobID: jobID, Leg: leg}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return ErrPaymentNotFound
		}
		if row.Status != StatusPaid {
			return ErrInvalidState
		}

		if err := s.wallet.Credit(ctx, tx, row.PayerID, row.Amount, wallet.BucketAvailable); err != nil {
			return err
		}
		txn := s.wallet.NewTransaction(ctx, row.PayerID, fmt.Sprintf("refund:%s:%s", leg, jobID),
			row.Amount, wallet.TypeRefund, wallet.TxnCompleted, string(row.Method))
		if err := s.wallet.RecordTransaction(ctx, tx, txn); err != nil {
			return err
		}

		row.Status = StatusRefunded
		if err := tx.WithContext(ctx).Save(row).Error; err != nil {
			return err
		}

		if err := s.recorder.Append(ctx, tx, jobID, timeline.EventPaymentRefunded, &row.Amount, string(leg)); err != nil {
			return err
		}
		return s.setState(ctx, tx, jobID, StateRefunded)
	})
}

// release credits the worker's pending earnings with the payout net of the
// settlement fee. Runs inside the confirm transaction.
func (s *Service) release(ctx context.Context, tx *gorm.DB, row *JobPayment) error {
	payout, err := money.SplitPayout(row.Amount)
	if err != nil {
		return err
	}

	now := time.Now()
	releaseDate := now.Add(s.bufferPeriod)
	if err := s.wallet.AddPendingEarning(ctx, tx, row.PayeeID, row.JobID, payout.Net, releaseDate); err != nil {
		return err
	}

	row.ReleasedAt = &now
	return s.recorder.Append(ctx, tx, row.JobID, timeline.EventPaymentReleased, &payout.Net,
		fmt.Sprintf("release to %s, settlement fee %s", row.PayeeID, payout.PlatformFee.StringFixed(2)))
}

func (s *Service) notifyReleased(ctx context.Context, row *JobPayment) {
	if s.events == nil {
		return
	}
	if err := s.events.EnqueueReleased(ctx, row); err != nil {
		zap.L().Error("failed to enqueue payment released event",
			zap.String("job_id", row.JobID),
			zap.Error(err),
		)
	}
}

// OnInvoiceSucceeded routes a provider invoice callback to the right leg.
func (s *Service) OnInvoiceSucceeded(ctx context.Context, invoiceID, providerRef string) error {
	row, err := s.findByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	return s.confirm(ctx, row.JobID, row.Leg, providerRef)
}

func (s *Service) OnInvoiceFailed(ctx context.Context, invoiceID, reason string) error {
	row, err := s.findByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	return s.rejectFromProvider(ctx, row.JobID, row.Leg, reason)
}

// OnProofApproved confirms a cash leg after an admin approves the uploaded
// payment proof.
func (s *Service) OnProofApproved(ctx context.Context, jobID string, leg Leg, providerRef string) error {
	return s.confirm(ctx, jobID, leg, providerRef)
}

func (s *Service) OnProofRejected(ctx context.Context, jobID string, leg Leg, reason string) error {
	return s.rejectFromProvider(ctx, jobID, leg, reason)
}

// rejectFromProvider tolerates out-of-order delivery: a failure callback
// landing after the leg was confirmed is dropped so the provider stops
// retrying. Admin-driven rejects keep the strict ErrInvalidState.
func (s *Service) rejectFromProvider(ctx context.Context, jobID string, leg Leg, reason string) error {
	err := s.reject(ctx, jobID, leg, reason)
	if errors.Is(err, ErrInvalidState) {
		zap.L().Warn("ignoring failure callback for settled leg",
			zap.String("job_id", jobID),
			zap.String("leg", string(leg)),
			zap.String("reason", reason),
		)
		return nil
	}
	return err
}

func (s *Service) findByInvoice(ctx context.Context, invoiceID string) (*JobPayment, error) {
	if invoiceID == "" {
		return nil, ErrPaymentNotFound
	}
	row, err := s.payments.FindOne(ctx, &JobPayment{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrPaymentNotFound
	}
	return row, nil
}

// Status assembles the per-job payment projection.
func (s *Service) Status(ctx context.Context, jobID string) (*JobPaymentStatus, error) {
	escrow, err := s.payments.FindOne(ctx, &JobPayment{JobID: jobID, Leg: LegEscrow})
	if err != nil {
		return nil, err
	}
	final, err := s.payments.FindOne(ctx, &JobPayment{JobID: jobID, Leg: LegFinal})
	if err != nil {
		return nil, err
	}

	status := &JobPaymentStatus{JobID: jobID, Status: ProjectionNoPayment}

	if escrow != nil && escrow.Status == StatusPaid {
		status.EscrowPaid = true
		status.EscrowAmount = escrow.Amount.StringFixed(2)
		status.EscrowDate = escrow.PaidAt
		status.Status = ProjectionEscrowOnly
	}

	if final != nil {
		switch final.Status {
		case StatusPending:
			status.Status = ProjectionFinalPending
		case StatusPaid:
			status.FinalPaid = true
			status.FinalAmount = final.Amount.StringFixed(2)
			status.FinalDate = final.PaidAt
			status.Status = ProjectionCompleted
			if final.ReleasedAt != nil {
				status.ReleasedToWorker = true
				status.ReleaseDate = final.ReleasedAt
			}
		}
	}

	return status, nil
}

func (s *Service) setState(ctx context.Context, tx *gorm.DB, jobID string, state State) error {
	existing, err := s.states.WithTrx(tx).FindOne(ctx, &JobState{JobID: jobID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if existing == nil {
		return s.states.WithTrx(tx).Create(ctx, &JobState{JobID: jobID, State: state})
	}
	return tx.WithContext(ctx).Model(&JobState{}).
		Where("job_id = ?", jobID).
		Update("state", state).Error
}
