package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSplitEscrow(t *testing.T) {
	split, err := SplitEscrow(decimal.NewFromInt(10000))
	require.NoError(t, err)

	require.True(t, split.WorkerShare.Equal(decimal.NewFromInt(5000)), "worker share = %s", split.WorkerShare)
	require.True(t, split.PlatformFee.Equal(decimal.NewFromInt(500)), "platform fee = %s", split.PlatformFee)
	require.True(t, split.Total.Equal(decimal.NewFromInt(5500)), "total = %s", split.Total)
}

func TestSplitEscrowSameFormulaBothLegs(t *testing.T) {
	budget := decimal.NewFromFloat(12345.67)

	escrowLeg, err := SplitEscrow(budget)
	require.NoError(t, err)
	finalLeg, err := SplitEscrow(budget)
	require.NoError(t, err)

	require.True(t, escrowLeg.Total.Equal(finalLeg.Total))
}

func TestSplitEscrowOddBudgetRounding(t *testing.T) {
	split, err := SplitEscrow(decimal.NewFromFloat(333.33))
	require.NoError(t, err)

	// 333.33 * 0.5 = 166.665 -> 166.67 half-up, fee = 16.67 (16.667 rounded)
	require.Equal(t, "166.67", split.WorkerShare.StringFixed(2))
	require.Equal(t, "16.67", split.PlatformFee.StringFixed(2))
	require.Equal(t, "183.34", split.Total.StringFixed(2))
}

func TestSplitEscrowInvalid(t *testing.T) {
	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-100)} {
		_, err := SplitEscrow(amount)
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestSplitPayout(t *testing.T) {
	split, err := SplitPayout(decimal.NewFromInt(5500))
	require.NoError(t, err)

	require.Equal(t, "275.00", split.PlatformFee.StringFixed(2))
	require.Equal(t, "5225.00", split.Net.StringFixed(2))
}

func TestSplitPayoutExact(t *testing.T) {
	// net + fee must reconstruct gross with no drift, however often recomputed
	gross := decimal.NewFromFloat(1234.56)
	for i := 0; i < 100; i++ {
		split, err := SplitPayout(gross)
		require.NoError(t, err)
		require.True(t, split.Net.Add(split.PlatformFee).Equal(gross))
	}
}

func TestSplitPayoutInvalid(t *testing.T) {
	_, err := SplitPayout(decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFeeRatesAreDistinct(t *testing.T) {
	// the escrow fee is 10% of a half-budget leg, the payout fee a flat 5%
	// of gross; they are different constants on different bases
	require.False(t, EscrowFeeRate.Equal(PayoutFeeRate))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(decimal.NewFromFloat(0.01)))
	require.ErrorIs(t, Validate(decimal.Zero), ErrInvalidAmount)
	require.ErrorIs(t, Validate(decimal.NewFromInt(-5)), ErrInvalidAmount)
}
