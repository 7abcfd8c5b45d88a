package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"raketpay/pkg/config"
	"raketpay/services/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Wallet{}, &PendingEarning{}, &Transaction{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Config: &config.Config{},
	})
}

func inTx(t *testing.T, s *Service, fn func(tx *gorm.DB) error) error {
	t.Helper()
	return s.DB().Transaction(fn)
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.Credit(ctx, tx, "worker-1", d("1000"), BucketAvailable)
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.Reserve(ctx, tx, "worker-1", d("700"))
	})
	require.NoError(t, err)

	data, err := s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "300.00", data.Available)
	require.Equal(t, "700.00", data.Reserved)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.ReleaseReserved(ctx, tx, "worker-1", d("700"))
	})
	require.NoError(t, err)

	data, err = s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "1000.00", data.Available)
	require.Equal(t, "0.00", data.Reserved)
}

func TestReserveInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.Credit(ctx, tx, "worker-1", d("100"), BucketAvailable)
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.Reserve(ctx, tx, "worker-1", d("100.01"))
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// balance untouched after the failed reserve
	data, err := s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "100.00", data.Available)
	require.Equal(t, "0.00", data.Reserved)
}

func TestDebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.Debit(ctx, tx, "client-1", d("50"), BucketAvailable)
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	data, err := s.Data(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, "0.00", data.Available)
}

func TestRecordTransactionDuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		txn := s.NewTransaction(ctx, "worker-1", "inv-001", d("500"), TypeDeposit, TxnCompleted, "GCASH")
		return s.RecordTransaction(ctx, tx, txn)
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		txn := s.NewTransaction(ctx, "worker-1", "inv-001", d("500"), TypeDeposit, TxnCompleted, "GCASH")
		return s.RecordTransaction(ctx, tx, txn)
	})
	require.ErrorIs(t, err, ErrDuplicateTransaction)

	txns, err := s.Transactions(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestMarkTransactionStatusTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		txn := s.NewTransaction(ctx, "worker-1", "wd-001", d("250"), TypeWithdrawal, TxnPending, "GCASH")
		return s.RecordTransaction(ctx, tx, txn)
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.MarkTransactionStatus(ctx, tx, "wd-001", TxnCompleted)
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.MarkTransactionStatus(ctx, tx, "wd-001", TxnFailed)
	})
	require.ErrorIs(t, err, ErrTransactionFinal)
}

func TestMaturePendingEarnings(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	release := time.Now().Add(-time.Hour)
	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-1", d("5225"), release)
	})
	require.NoError(t, err)

	count, err := s.MaturePendingEarnings(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	data, err := s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "5225.00", data.Available)
	require.Empty(t, data.Pending)

	txns, err := s.Transactions(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, TypeDeposit, txns[0].Type)
	require.Equal(t, TxnCompleted, txns[0].Status)

	// second sweep finds nothing to apply
	count, err = s.MaturePendingEarnings(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, count)

	data, err = s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "5225.00", data.Available)
}

func TestMaturitySkipsFutureAndFrozenEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		if err := s.AddPendingEarning(ctx, tx, "worker-1", "job-due", d("100"), time.Now().Add(-time.Minute)); err != nil {
			return err
		}
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-future", d("200"), time.Now().Add(24*time.Hour))
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.FreezePendingEarning(ctx, tx, "job-due")
	})
	require.NoError(t, err)

	count, err := s.MaturePendingEarnings(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, count)

	data, err := s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "0.00", data.Available)
	require.Len(t, data.Pending, 2)

	// releasing the hold with an immediate date makes the entry eligible again
	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.UnfreezePendingEarning(ctx, tx, "job-due", time.Now())
	})
	require.NoError(t, err)

	count, err = s.MaturePendingEarnings(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	data, err = s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "100.00", data.Available)
	require.Len(t, data.Pending, 1)
	require.Equal(t, "job-future", data.Pending[0].JobID)
}

func TestFreezeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-1", d("100"), time.Now().Add(time.Hour))
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = inTx(t, s, func(tx *gorm.DB) error {
			return s.FreezePendingEarning(ctx, tx, "job-1")
		})
		require.NoError(t, err)
	}

	data, err := s.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, data.Pending, 1)
	require.Equal(t, HoldBackjobPending, data.Pending[0].HeldReason)
	require.Nil(t, data.Pending[0].ReleaseDate)
}

func TestFreezeWithoutEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.FreezePendingEarning(ctx, tx, "job-missing")
	})
	require.ErrorIs(t, err, ErrNoActivePendingEntry)
}

func TestAddPendingEarningDuplicateJob(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-1", d("100"), time.Now())
	})
	require.NoError(t, err)

	err = inTx(t, s, func(tx *gorm.DB) error {
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-1", d("100"), time.Now())
	})
	require.ErrorIs(t, err, ErrDuplicatePendingEarning)
}

func TestTakePendingEarning(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	err := inTx(t, s, func(tx *gorm.DB) error {
		return s.AddPendingEarning(ctx, tx, "worker-1", "job-1", d("321.50"), time.Now())
	})
	require.NoError(t, err)

	var taken *PendingEarning
	err = inTx(t, s, func(tx *gorm.DB) error {
		var err error
		taken, err = s.TakePendingEarning(ctx, tx, "job-1")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "worker-1", taken.AccountID)
	require.True(t, taken.Amount.Equal(d("321.50")))

	err = inTx(t, s, func(tx *gorm.DB) error {
		_, err := s.TakePendingEarning(ctx, tx, "job-1")
		return err
	})
	require.ErrorIs(t, err, ErrNoActivePendingEntry)
}

func TestDataUnknownAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	data, err := s.Data(ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, "0.00", data.Available)
	require.Equal(t, "0.00", data.Reserved)
	require.Equal(t, "0.00", data.PendingTotal)
	require.Equal(t, "PHP", data.Currency)
	require.Empty(t, data.Pending)
}
