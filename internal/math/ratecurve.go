package math

import (
	"fmt"
	"math/big"
)

// Protocol rate constants, in basis points unless noted.
const (
	// BaseRateBps is the borrow APR floor applied above the kink.
	BaseRateBps int64 = 0

	// BonusLiquidityBps is the lender incentive margin applied by the
	// outer protocol when quoting effective supply yield.
	BonusLiquidityBps int64 = 500

	// TermAdjustmentScale is the per-mille scale of the duration
	// multiplier table (1000 == 1.0x).
	TermAdjustmentScale int64 = 1000
)

// RiskFactorLabelBps maps a risk-factor index (0..3) to its labelled
// exponent, bps-scaled: 0.5x, 1.0x, 1.5x, 2.0x.
var RiskFactorLabelBps = [4]int64{5_000, 10_000, 15_000, 20_000}

// DurationYearBps maps a duration index (0..3) to the loan term in
// bps-scaled years: 0.25y, 0.5y, 1y, 2y.
var DurationYearBps = [4]int64{2_500, 5_000, 10_000, 20_000}

// TermAdjustmentBps scales the upfront interest reserve per duration
// index, per-mille. Index 4 is the legacy extended-term entry kept for
// table compatibility with deployed parameter sets.
var TermAdjustmentBps = [5]int64{800, 900, 1000, 1100, 1200}

// ExponentMode selects how the risk factor is applied as the exponent
// of the above-kink excess term.
type ExponentMode int

const (
	// ExponentModeIndex raises the excess ratio to the raw risk-factor
	// index (0..3). Index 0 flattens the excess term to 1.
	ExponentModeIndex ExponentMode = iota

	// ExponentModeLabel raises the excess ratio to the labelled
	// multiplier (0.5, 1.0, 1.5, 2.0).
	ExponentModeLabel
)

// BorrowAPR evaluates the piecewise utilization curve and returns the
// borrow APR in bps.
//
// Below the kink the rate climbs linearly from zero to slopeBeforeKink.
// At and above the kink the excess utilization ratio, normalized to
// [0, Bps], is raised to the risk-factor exponent and scaled by
// slopeAfterKink. Both branches agree exactly at the kink, with one
// exception: in index mode riskFactor 0 flattens the excess term to 1
// (x^0), so the rate jumps by slopeAfterKink at the kink for that tier.
// All division is floor division; a zero denominator contributes zero.
func BorrowAPR(utilizationBps, slopeBeforeKink, slopeAfterKink, kinkUtilization int64, riskFactor uint8, mode ExponentMode) int64 {
	if utilizationBps < 0 {
		utilizationBps = 0
	}
	if utilizationBps > Bps {
		utilizationBps = Bps
	}

	if utilizationBps < kinkUtilization {
		return MulDiv(slopeBeforeKink, utilizationBps, kinkUtilization)
	}

	// excess = (u - kink) / (Bps - kink), bps-scaled
	excess := MulDiv(utilizationBps-kinkUtilization, Bps, Bps-kinkUtilization)
	term := MulDiv(slopeAfterKink, powExcess(excess, riskFactor, mode), Bps)

	return BaseRateBps + slopeBeforeKink + term
}

// powExcess raises a bps-scaled ratio in [0, Bps] to the risk-factor
// exponent, returning a bps-scaled result.
func powExcess(excessBps int64, riskFactor uint8, mode ExponentMode) int64 {
	if excessBps < 0 {
		excessBps = 0
	}
	if excessBps > Bps {
		excessBps = Bps
	}

	switch mode {
	case ExponentModeLabel:
		expBps := RiskFactorLabelBps[int(riskFactor)%len(RiskFactorLabelBps)]
		result := Bps
		for i := int64(0); i < expBps/Bps; i++ {
			result = MulDiv(result, excessBps, Bps)
		}
		if expBps%Bps != 0 {
			// Half-power step: ratio^0.5 at bps scale is sqrt(ratio * Bps).
			result = MulDiv(result, Sqrt(excessBps*Bps), Bps)
		}
		return result

	default: // ExponentModeIndex
		k := int64(riskFactor)
		if k == 0 {
			return Bps
		}
		num := getInt()
		num.SetInt64(excessBps)
		for i := int64(1); i < k; i++ {
			num.Mul(num, big.NewInt(excessBps))
			num.Quo(num, big.NewInt(Bps))
		}
		result := num.Int64()
		putInt(num)
		return result
	}
}

// InterestReserve computes the upfront interest escrow taken at borrow
// time: amount x APR x term-years x duration multiplier, floored once.
func InterestReserve(amount, aprBps int64, durationIdx uint8) (int64, error) {
	if int(durationIdx) >= len(DurationYearBps) {
		return 0, fmt.Errorf("unknown duration index: %d", durationIdx)
	}

	num := getInt()
	num.Mul(big.NewInt(amount), big.NewInt(aprBps))
	num.Mul(num, big.NewInt(DurationYearBps[durationIdx]))
	num.Mul(num, big.NewInt(TermAdjustmentBps[durationIdx]))

	den := getInt()
	den.Mul(big.NewInt(Bps), big.NewInt(Bps))
	den.Mul(den, big.NewInt(TermAdjustmentScale))

	num.Quo(num, den)
	result := num.Int64()
	putInt(num)
	putInt(den)

	return result, nil
}

// DurationSeconds converts a duration index to the loan term in seconds.
func DurationSeconds(durationIdx uint8) (int64, error) {
	if int(durationIdx) >= len(DurationYearBps) {
		return 0, fmt.Errorf("unknown duration index: %d", durationIdx)
	}
	return MulDiv(DurationYearBps[durationIdx], SecondsPerYear, Bps), nil
}
