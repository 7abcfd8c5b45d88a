// Package money holds the fixed-point fee arithmetic for both payment legs.
// All intermediate math stays in decimal form; rounding to 2 places happens
// once, at the output of a computation, half-up.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an input amount is zero or negative.
var ErrInvalidAmount = errors.New("invalid amount")

// The client-facing escrow fee (10% of the half-budget leg) and the worker
// payout fee (flat 5% of gross earnings) are structurally different formulas
// on different bases. They are kept as separate constants on purpose.
var (
	WorkerShareRate = decimal.NewFromFloat(0.5)
	EscrowFeeRate   = decimal.NewFromFloat(0.10)
	PayoutFeeRate   = decimal.NewFromFloat(0.05)
)

// EscrowSplit is the breakdown of a single payment leg: the worker's half of
// the job budget plus the platform fee the client pays on top of it.
type EscrowSplit struct {
	WorkerShare decimal.Decimal `json:"worker_share"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Total       decimal.Decimal `json:"total"`
}

// PayoutSplit is the breakdown of a worker payout: platform fee deducted from
// gross earnings and the net amount credited to pending earnings.
type PayoutSplit struct {
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Net         decimal.Decimal `json:"net"`
}

// SplitEscrow computes the amount a client pays for one leg of a job: half
// the budget to the worker plus a 10% fee on that half. The same formula
// covers the escrow leg and the final leg.
func SplitEscrow(budget decimal.Decimal) (EscrowSplit, error) {
	if !budget.IsPositive() {
		return EscrowSplit{}, ErrInvalidAmount
	}

	workerShare := Round2(budget.Mul(WorkerShareRate))
	platformFee := Round2(workerShare.Mul(EscrowFeeRate))

	return EscrowSplit{
		WorkerShare: workerShare,
		PlatformFee: platformFee,
		Total:       workerShare.Add(platformFee),
	}, nil
}

// SplitPayout computes the worker-side split of gross earnings: a flat 5%
// platform fee, net derived by subtraction so net + fee == gross exactly.
func SplitPayout(gross decimal.Decimal) (PayoutSplit, error) {
	if !gross.IsPositive() {
		return PayoutSplit{}, ErrInvalidAmount
	}

	platformFee := Round2(gross.Mul(PayoutFeeRate))

	return PayoutSplit{
		PlatformFee: platformFee,
		Net:         gross.Sub(platformFee),
	}, nil
}

// Round2 rounds to 2 decimal places, half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Validate rejects non-positive amounts before any ledger mutation.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
