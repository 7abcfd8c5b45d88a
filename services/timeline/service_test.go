package timeline

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"raketpay/services/testutil"
)

func newTestRecorder(t *testing.T) (*Recorder, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewRecorder(RecorderParams{DB: db, Node: node}), db
}

func TestAppendAndListInOrder(t *testing.T) {
	ctx := context.Background()
	r, db := newTestRecorder(t)

	amount := decimal.RequireFromString("5500")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := r.Append(ctx, tx, "job-1", EventEscrowCreated, &amount, "gateway"); err != nil {
			return err
		}
		if err := r.Append(ctx, tx, "job-1", EventEscrowPaid, &amount, "gateway"); err != nil {
			return err
		}
		return r.Append(ctx, tx, "job-1", EventJobStarted, nil, "")
	})
	require.NoError(t, err)

	// another job's events stay out of the listing
	err = db.Transaction(func(tx *gorm.DB) error {
		return r.Append(ctx, tx, "job-2", EventEscrowCreated, &amount, "wallet")
	})
	require.NoError(t, err)

	events, err := r.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, EventEscrowCreated, events[0].EventType)
	require.Equal(t, EventEscrowPaid, events[1].EventType)
	require.Equal(t, EventJobStarted, events[2].EventType)

	require.True(t, events[0].Amount.Valid)
	require.Equal(t, "5500.00", events[0].Amount.Decimal.StringFixed(2))
	require.False(t, events[2].Amount.Valid)
}

func TestCountByType(t *testing.T) {
	ctx := context.Background()
	r, db := newTestRecorder(t)

	amount := decimal.RequireFromString("100")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := r.Append(ctx, tx, "job-1", EventEscrowPaid, &amount, ""); err != nil {
			return err
		}
		return r.Append(ctx, tx, "job-1", EventPaymentFailed, nil, "declined")
	})
	require.NoError(t, err)

	paid, err := r.Count(ctx, "job-1", EventEscrowPaid)
	require.NoError(t, err)
	require.EqualValues(t, 1, paid)

	released, err := r.Count(ctx, "job-1", EventPaymentReleased)
	require.NoError(t, err)
	require.Zero(t, released)
}
