package payment

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
	"raketpay/services/timeline"
	"raketpay/services/wallet"
)

type testEnv struct {
	db       *gorm.DB
	wallet   *wallet.Service
	recorder *timeline.Recorder
	payments *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&wallet.Wallet{}, &wallet.PendingEarning{}, &wallet.Transaction{},
		&timeline.Event{}, &JobPayment{}, &JobState{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	walletSvc := wallet.NewService(wallet.ServiceParams{DB: db, Node: node, Config: cfg})
	recorder := timeline.NewRecorder(timeline.RecorderParams{DB: db, Node: node})
	paymentSvc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Wallet:   walletSvc,
		Recorder: recorder,
	})

	return &testEnv{db: db, wallet: walletSvc, recorder: recorder, payments: paymentSvc}
}

func (e *testEnv) fund(t *testing.T, accountID string, amount string) {
	t.Helper()
	err := e.db.Transaction(func(tx *gorm.DB) error {
		return e.wallet.Credit(context.Background(), tx, accountID, decimal.RequireFromString(amount), wallet.BucketAvailable)
	})
	require.NoError(t, err)
}

func (e *testEnv) available(t *testing.T, accountID string) string {
	t.Helper()
	data, err := e.wallet.Data(context.Background(), accountID)
	require.NoError(t, err)
	return data.Available
}

func TestCreateEscrowPaymentWallet(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.fund(t, "client-1", "10000")

	row, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodWallet)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, row.Status)
	require.Equal(t, "5000.00", row.WorkerShare.StringFixed(2))
	require.Equal(t, "500.00", row.PlatformFee.StringFixed(2))
	require.Equal(t, "5500.00", row.Amount.StringFixed(2))
	require.NotNil(t, row.PaidAt)

	require.Equal(t, "4500.00", e.available(t, "client-1"))

	created, err := e.recorder.Count(ctx, "job-1", timeline.EventEscrowCreated)
	require.NoError(t, err)
	require.EqualValues(t, 1, created)
	paid, err := e.recorder.Count(ctx, "job-1", timeline.EventEscrowPaid)
	require.NoError(t, err)
	require.EqualValues(t, 1, paid)

	status, err := e.payments.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, ProjectionEscrowOnly, status.Status)
	require.True(t, status.EscrowPaid)
	require.Equal(t, "5500.00", status.EscrowAmount)
}

func TestCreateEscrowPaymentInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.fund(t, "client-1", "100")

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodWallet)
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// nothing was written
	require.Equal(t, "100.00", e.available(t, "client-1"))
	status, err := e.payments.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, ProjectionNoPayment, status.Status)
}

func TestDuplicateEscrowRejectedFailedRetryable(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	row, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.Equal(t, StatusPending, row.Status)
	require.NotEmpty(t, row.InvoiceID)

	_, err = e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.ErrorIs(t, err, ErrDuplicateEscrow)

	require.NoError(t, e.payments.RejectEscrow(ctx, "job-1", "invoice expired"))

	retried, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.Equal(t, StatusPending, retried.Status)
	require.Equal(t, row.ID, retried.ID)
	require.Empty(t, retried.FailureReason)
}

func TestConfirmEscrowIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)

	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "prov-ref-1"))
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "prov-ref-1"))

	paid, err := e.recorder.Count(ctx, "job-1", timeline.EventEscrowPaid)
	require.NoError(t, err)
	require.EqualValues(t, 1, paid)

	txns, err := e.wallet.Transactions(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, "prov-ref-1", txns[0].ReferenceID)
}

func TestRejectPaidEscrow(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "prov-ref-1"))

	err = e.payments.RejectEscrow(ctx, "job-1", "too late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFullLifecycleWithRelease(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.fund(t, "client-1", "20000")

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodWallet)
	require.NoError(t, err)

	require.NoError(t, e.payments.StartJob(ctx, "job-1"))
	require.NoError(t, e.payments.CompleteJob(ctx, "job-1"))

	row, err := e.payments.CreateFinalPayment(ctx, "job-1", MethodWallet)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, row.Status)
	require.Equal(t, "5500.00", row.Amount.StringFixed(2))
	require.NotNil(t, row.ReleasedAt)

	// two wallet-funded legs of 5500 each
	require.Equal(t, "9000.00", e.available(t, "client-1"))

	data, err := e.wallet.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, data.Pending, 1)
	require.Equal(t, "5225.00", data.Pending[0].Amount)
	require.Equal(t, wallet.HoldBufferPeriod, data.Pending[0].HeldReason)
	require.NotNil(t, data.Pending[0].ReleaseDate)
	require.WithinDuration(t, time.Now().Add(168*time.Hour), *data.Pending[0].ReleaseDate, time.Minute)

	released, err := e.recorder.Count(ctx, "job-1", timeline.EventPaymentReleased)
	require.NoError(t, err)
	require.EqualValues(t, 1, released)

	status, err := e.payments.Status(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, ProjectionCompleted, status.Status)
	require.True(t, status.FinalPaid)
	require.True(t, status.ReleasedToWorker)
}

func TestConfirmFinalPaymentReleases(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "escrow-ref"))
	require.NoError(t, e.payments.StartJob(ctx, "job-1"))
	require.NoError(t, e.payments.CompleteJob(ctx, "job-1"))

	final, err := e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.NoError(t, err)
	require.Equal(t, StatusPending, final.Status)

	require.NoError(t, e.payments.ConfirmFinalPayment(ctx, "job-1", "final-ref"))
	// replayed webhook changes nothing
	require.NoError(t, e.payments.ConfirmFinalPayment(ctx, "job-1", "final-ref"))

	data, err := e.wallet.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, data.Pending, 1)
	require.Equal(t, "5225.00", data.Pending[0].Amount)

	released, err := e.recorder.Count(ctx, "job-1", timeline.EventPaymentReleased)
	require.NoError(t, err)
	require.EqualValues(t, 1, released)
}

func TestCreateFinalPaymentRequiresCompletedJob(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "escrow-ref"))

	_, err = e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDuplicateFinalPayment(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "escrow-ref"))
	require.NoError(t, e.payments.StartJob(ctx, "job-1"))
	require.NoError(t, e.payments.CompleteJob(ctx, "job-1"))

	_, err = e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.NoError(t, err)

	_, err = e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.ErrorIs(t, err, ErrDuplicateFinalPayment)
}

func TestDuplicateFinalPaymentAfterRelease(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmEscrow(ctx, "job-1", "escrow-ref"))
	require.NoError(t, e.payments.StartJob(ctx, "job-1"))
	require.NoError(t, e.payments.CompleteJob(ctx, "job-1"))

	_, err = e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.ConfirmFinalPayment(ctx, "job-1", "final-ref"))

	// with the leg paid and the job state advanced past completed, a second
	// submit still reads as a duplicate rather than a state error
	_, err = e.payments.CreateFinalPayment(ctx, "job-1", MethodGateway)
	require.ErrorIs(t, err, ErrDuplicateFinalPayment)

	// the worker was credited exactly once
	data, err := e.wallet.Data(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, data.Pending, 1)
}

func TestLateFailureWebhookIgnored(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	row, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)
	require.NoError(t, e.payments.OnInvoiceSucceeded(ctx, row.InvoiceID, "prov-ref-1"))

	// the provider's failure callback arrives after the success; it is
	// dropped so the provider stops retrying
	require.NoError(t, e.payments.OnInvoiceFailed(ctx, row.InvoiceID, "expired"))
	require.NoError(t, e.payments.OnProofRejected(ctx, "job-1", LegEscrow, "smudged"))

	status, err := e.payments.Status(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, status.EscrowPaid)

	paid, err := e.recorder.Count(ctx, "job-1", timeline.EventEscrowPaid)
	require.NoError(t, err)
	require.EqualValues(t, 1, paid)
	failed, err := e.recorder.Count(ctx, "job-1", timeline.EventPaymentFailed)
	require.NoError(t, err)
	require.Zero(t, failed)
}

func TestStartJobRequiresPaidEscrow(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)

	require.ErrorIs(t, e.payments.StartJob(ctx, "job-1"), ErrInvalidState)
}

func TestRefundPaidEscrow(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.fund(t, "client-1", "10000")

	_, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodWallet)
	require.NoError(t, err)
	require.Equal(t, "4500.00", e.available(t, "client-1"))

	require.NoError(t, e.payments.Refund(ctx, "job-1", LegEscrow))
	require.Equal(t, "10000.00", e.available(t, "client-1"))

	refunded, err := e.recorder.Count(ctx, "job-1", timeline.EventPaymentRefunded)
	require.NoError(t, err)
	require.EqualValues(t, 1, refunded)

	// refund is terminal for the leg
	require.ErrorIs(t, e.payments.Refund(ctx, "job-1", LegEscrow), ErrInvalidState)
}

func TestInvoiceWebhookRouting(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	row, err := e.payments.CreateEscrowPayment(ctx, "job-1", "client-1", "worker-1", decimal.RequireFromString("10000"), MethodGateway)
	require.NoError(t, err)

	require.NoError(t, e.payments.OnInvoiceSucceeded(ctx, row.InvoiceID, "prov-ref-9"))

	status, err := e.payments.Status(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, status.EscrowPaid)

	require.ErrorIs(t, e.payments.OnInvoiceSucceeded(ctx, "inv_unknown", "x"), ErrPaymentNotFound)
}
