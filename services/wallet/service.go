package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"raketpay/pkg/config"
	"raketpay/pkg/db/option"
	"raketpay/pkg/money"
	"raketpay/pkg/repository"
	"raketpay/pkg/sequence"
)

var (
	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. The ledger is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateTransaction is returned when a transaction with the same
	// reference already exists; retried callbacks hit this guard.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrNoActivePendingEntry is returned by hold operations when the job
	// has no pending earning to act on.
	ErrNoActivePendingEntry = errors.New("no active pending entry")
	// ErrDuplicatePendingEarning is returned when a job's final leg would be
	// credited twice.
	ErrDuplicatePendingEarning = errors.New("pending earning already exists for job")
	// ErrTransactionFinal is returned when a completed or failed transaction
	// would be mutated.
	ErrTransactionFinal = errors.New("transaction already finalized")
	// ErrUnknownBucket is returned for a bucket outside available/reserved.
	ErrUnknownBucket = errors.New("unknown balance bucket")

	errTransactionNotFound = errors.New("transaction not found")
)

// Service is the account ledger store. Every mutating method that takes a tx
// runs inside the caller's transaction so composite operations (payment legs,
// withdrawals, dispute refunds) stay atomic per account. Methods lock the
// rows they read-then-write; per-account serialization comes from the wallet
// row lock.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	currency string
	codes    sequence.Generator

	wallets  repository.Repository[Wallet]
	earnings repository.Repository[PendingEarning]
	txns     repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Codes  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	currency := "PHP"
	if p.Config != nil && p.Config.Payments.Currency != "" {
		currency = p.Config.Payments.Currency
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		currency: currency,
		codes:    p.Codes,

		wallets:  repository.ProvideStore[Wallet](p.DB),
		earnings: repository.ProvideStore[PendingEarning](p.DB),
		txns:     repository.ProvideStore[Transaction](p.DB),
	}
}

// DB exposes the underlying handle so collaborating services open their
// transactions on the same connection.
func (s *Service) DB() *gorm.DB { return s.db }

// getForUpdate locks the wallet row, creating it on the account's first
// monetary event.
func (s *Service) getForUpdate(ctx context.Context, tx *gorm.DB, accountID string) (*Wallet, error) {
	w, err := s.wallets.WithTrx(tx).FindOne(ctx, &Wallet{AccountID: accountID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if w != nil {
		return w, nil
	}

	w = &Wallet{
		AccountID: accountID,
		Available: decimal.Zero,
		Reserved:  decimal.Zero,
		Currency:  s.currency,
	}
	if err := s.wallets.WithTrx(tx).Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) saveBalances(ctx context.Context, tx *gorm.DB, w *Wallet) error {
	return tx.WithContext(ctx).Model(&Wallet{}).
		Where("account_id = ?", w.AccountID).
		Updates(map[string]any{
			"available":  w.Available,
			"reserved":   w.Reserved,
			"updated_at": time.Now(),
		}).Error
}

// Credit adds amount to the given bucket.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, bucket Bucket) error {
	if err := money.Validate(amount); err != nil {
		return err
	}

	w, err := s.getForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	switch bucket {
	case BucketAvailable:
		w.Available = w.Available.Add(amount)
	case BucketReserved:
		w.Reserved = w.Reserved.Add(amount)
	default:
		return ErrUnknownBucket
	}

	return s.saveBalances(ctx, tx, w)
}

// Debit removes amount from the given bucket, failing with
// ErrInsufficientFunds before any mutation when the balance is short.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, bucket Bucket) error {
	if err := money.Validate(amount); err != nil {
		return err
	}

	w, err := s.getForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	switch bucket {
	case BucketAvailable:
		if w.Available.LessThan(amount) {
			return ErrInsufficientFunds
		}
		w.Available = w.Available.Sub(amount)
	case BucketReserved:
		if w.Reserved.LessThan(amount) {
			return ErrInsufficientFunds
		}
		w.Reserved = w.Reserved.Sub(amount)
	default:
		return ErrUnknownBucket
	}

	return s.saveBalances(ctx, tx, w)
}

// Reserve moves amount from available to reserved under one wallet lock;
// withdrawal requests earmark funds through here.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := money.Validate(amount); err != nil {
		return err
	}

	w, err := s.getForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Available = w.Available.Sub(amount)
	w.Reserved = w.Reserved.Add(amount)
	return s.saveBalances(ctx, tx, w)
}

// ReleaseReserved returns earmarked funds to available (withdrawal reject).
func (s *Service) ReleaseReserved(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal) error {
	if err := money.Validate(amount); err != nil {
		return err
	}

	w, err := s.getForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if w.Reserved.LessThan(amount) {
		return ErrInsufficientFunds
	}

	w.Reserved = w.Reserved.Sub(amount)
	w.Available = w.Available.Add(amount)
	return s.saveBalances(ctx, tx, w)
}

// NewTransaction builds an unsaved transaction row with a generated id and
// reference code.
func (s *Service) NewTransaction(ctx context.Context, accountID, referenceID string, amount decimal.Decimal, typ TransactionType, status TransactionStatus, method string) *Transaction {
	return &Transaction{
		ID:            s.node.Generate(),
		Code:          s.nextCode(ctx),
		AccountID:     accountID,
		ReferenceID:   referenceID,
		Amount:        money.Round2(amount),
		Type:          typ,
		Status:        status,
		PaymentMethod: method,
	}
}

// RecordTransaction appends to the money log. The reference pre-check plus
// the unique index make retried callbacks safe.
func (s *Service) RecordTransaction(ctx context.Context, tx *gorm.DB, txn *Transaction) error {
	if err := money.Validate(txn.Amount); err != nil {
		return err
	}

	existing, err := s.txns.WithTrx(tx).FindOne(ctx, &Transaction{ReferenceID: txn.ReferenceID})
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateTransaction
	}

	if err := s.txns.WithTrx(tx).Create(ctx, txn); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// HasTransaction reports whether a reference has already been recorded.
func (s *Service) HasTransaction(ctx context.Context, tx *gorm.DB, referenceID string) (bool, error) {
	existing, err := s.txns.WithTrx(tx).FindOne(ctx, &Transaction{ReferenceID: referenceID})
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// MarkTransactionStatus transitions a pending transaction once. Completed and
// failed rows are immutable.
func (s *Service) MarkTransactionStatus(ctx context.Context, tx *gorm.DB, referenceID string, status TransactionStatus) error {
	existing, err := s.txns.WithTrx(tx).FindOne(ctx, &Transaction{ReferenceID: referenceID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if existing == nil {
		return errTransactionNotFound
	}
	if existing.Status != TxnPending {
		return ErrTransactionFinal
	}

	return tx.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", existing.ID).
		Update("status", status).Error
}

// AddPendingEarning credits a worker's held earnings for a job final leg.
func (s *Service) AddPendingEarning(ctx context.Context, tx *gorm.DB, accountID, jobID string, amount decimal.Decimal, releaseDate time.Time) error {
	if err := money.Validate(amount); err != nil {
		return err
	}

	// wallet row must exist (and is the serialization point for the account)
	if _, err := s.getForUpdate(ctx, tx, accountID); err != nil {
		return err
	}

	existing, err := s.earnings.WithTrx(tx).FindOne(ctx, &PendingEarning{JobID: jobID})
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicatePendingEarning
	}

	entry := &PendingEarning{
		ID:          s.node.Generate(),
		AccountID:   accountID,
		JobID:       jobID,
		Amount:      money.Round2(amount),
		HeldReason:  HoldBufferPeriod,
		ReleaseDate: &releaseDate,
	}
	if err := s.earnings.WithTrx(tx).Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePendingEarning
		}
		return err
	}
	return nil
}

// FreezePendingEarning suspends maturity for a job's entry: held reason
// becomes BACKJOB_PENDING and the release date is cleared. Freezing an
// already-frozen entry is a no-op so dispute webhooks can be retried.
func (s *Service) FreezePendingEarning(ctx context.Context, tx *gorm.DB, jobID string) error {
	entry, err := s.earnings.WithTrx(tx).FindOne(ctx, &PendingEarning{JobID: jobID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNoActivePendingEntry
	}
	if entry.HeldReason == HoldBackjobPending {
		return nil
	}

	return tx.WithContext(ctx).Model(&PendingEarning{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"held_reason":  HoldBackjobPending,
			"release_date": nil,
		}).Error
}

// UnfreezePendingEarning puts a frozen entry back on the buffer-period path
// with the given release date.
func (s *Service) UnfreezePendingEarning(ctx context.Context, tx *gorm.DB, jobID string, releaseDate time.Time) error {
	entry, err := s.earnings.WithTrx(tx).FindOne(ctx, &PendingEarning{JobID: jobID}, option.WithLockingUpdate())
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNoActivePendingEntry
	}

	return tx.WithContext(ctx).Model(&PendingEarning{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"held_reason":  HoldBufferPeriod,
			"release_date": releaseDate,
		}).Error
}

// TakePendingEarning removes and returns a job's entry (dispute refund path).
func (s *Service) TakePendingEarning(ctx context.Context, tx *gorm.DB, jobID string) (*PendingEarning, error) {
	entry, err := s.earnings.WithTrx(tx).FindOne(ctx, &PendingEarning{JobID: jobID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNoActivePendingEntry
	}

	if err := tx.WithContext(ctx).Delete(&PendingEarning{}, "id = ?", entry.ID).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// MaturePendingEarnings moves every due buffer-period entry into the
// available balance. The sweep is idempotent: each entry is re-validated
// under lock before the credit, so concurrent sweeps or a dispute racing the
// sweep cannot double-apply or thaw a frozen entry.
func (s *Service) MaturePendingEarnings(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.earnings.Find(ctx, &PendingEarning{HeldReason: HoldBufferPeriod},
		option.ApplyOperator(option.Condition{Field: "release_date", Operator: option.LTE, Value: now}),
	)
	if err != nil {
		return 0, err
	}

	var matured atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, candidate := range candidates {
		id := candidate.ID
		g.Go(func() error {
			ok, err := s.matureOne(gctx, id, now)
			if err != nil {
				return err
			}
			if ok {
				matured.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(matured.Load()), err
	}

	if n := matured.Load(); n > 0 {
		zap.L().Info("matured pending earnings", zap.Int64("count", n))
	}
	return int(matured.Load()), nil
}

func (s *Service) matureOne(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	var applied bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry, err := s.earnings.WithTrx(tx).FindOne(ctx, &PendingEarning{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		// gone (another sweep won) or no longer eligible (dispute won)
		if entry == nil || entry.HeldReason != HoldBufferPeriod || entry.ReleaseDate == nil || entry.ReleaseDate.After(now) {
			return nil
		}

		w, err := s.getForUpdate(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Delete(&PendingEarning{}, "id = ?", entry.ID).Error; err != nil {
			return err
		}

		w.Available = w.Available.Add(entry.Amount)
		if err := s.saveBalances(ctx, tx, w); err != nil {
			return err
		}

		txn := s.NewTransaction(ctx, entry.AccountID, fmt.Sprintf("maturity:%s", entry.ID),
			entry.Amount, TypeDeposit, TxnCompleted, "")
		if err := s.RecordTransaction(ctx, tx, txn); err != nil {
			// reference already recorded means a concurrent sweep applied it
			if errors.Is(err, ErrDuplicateTransaction) {
				return nil
			}
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

// Data returns the read projection for an account. Accounts without a wallet
// yet read as zero balances.
func (s *Service) Data(ctx context.Context, accountID string) (*WalletData, error) {
	w, err := s.wallets.FindOne(ctx, &Wallet{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = &Wallet{AccountID: accountID, Available: decimal.Zero, Reserved: decimal.Zero, Currency: s.currency}
	}

	entries, err := s.earnings.Find(ctx, &PendingEarning{AccountID: accountID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
	if err != nil {
		return nil, err
	}

	data := &WalletData{
		AccountID: accountID,
		Available: money.Round2(w.Available).StringFixed(2),
		Reserved:  money.Round2(w.Reserved).StringFixed(2),
		Currency:  w.Currency,
		Pending:   make([]PendingEarningVM, 0, len(entries)),
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
		data.Pending = append(data.Pending, PendingEarningVM{
			JobID:       e.JobID,
			Amount:      e.Amount.StringFixed(2),
			HeldReason:  e.HeldReason,
			ReleaseDate: e.ReleaseDate,
			CreatedAt:   e.CreatedAt,
		})
	}
	data.PendingTotal = money.Round2(total).StringFixed(2)

	return data, nil
}

// Transactions lists an account's money log, newest first.
func (s *Service) Transactions(ctx context.Context, accountID string) ([]*Transaction, error) {
	return s.txns.Find(ctx, &Transaction{AccountID: accountID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

func (s *Service) nextCode(ctx context.Context) string {
	if s.codes != nil {
		if code, err := s.codes.NextTransactionCode(ctx); err == nil {
			return code
		}
	}
	return localTransactionCode()
}

// localTransactionCode is the fallback when no sequence generator is wired
// (tests, single-node deployments without redis).
func localTransactionCode() string {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3)
	_, _ = rand.Read(r)
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("TXN-%s-%s", datePart, randomPart)
}
