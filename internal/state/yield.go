package state

import (
	"fmt"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// YieldResult is the realized outcome of a yield claim.
type YieldResult struct {
	YieldA       int64
	YieldB       int64
	RewardAssets int32
}

// PendingYield computes a slot's claimable fees from the delta between
// the position's global fee-growth accumulators and the slot's
// snapshots. Non-negative by construction: the globals are monotone and
// the snapshots are only ever set to past values of them.
func PendingYield(p *LoanPosition, share, feeGrowthDebtA, feeGrowthDebtB int64) (feeA, feeB int64) {
	if share == 0 {
		return 0, 0
	}
	feeA = fpmath.MulDiv(share, p.FeeGrowthGlobalA-feeGrowthDebtA, fpmath.FeeGrowthScale)
	feeB = fpmath.MulDiv(share, p.FeeGrowthGlobalB-feeGrowthDebtB, fpmath.FeeGrowthScale)
	return feeA, feeB
}

// ClaimDepositYield pays out a lender slot's pending yield and resets
// its snapshots. The reset is the idempotence boundary: a second claim
// with no intervening fee growth yields zero.
func (p *LoanPosition) ClaimDepositYield(slot *DepositSlot, nowTs int64) (YieldResult, error) {
	var result YieldResult

	if !slot.Active || slot.Share == 0 {
		return result, fmt.Errorf("%w: deposit slot for lender %s is closed", ErrSlotInactive, slot.Lender)
	}
	requireAccrued(p, nowTs)

	result.YieldA, result.YieldB = PendingYield(p, slot.Share, slot.FeeGrowthDebtA, slot.FeeGrowthDebtB)

	slot.FeeGrowthDebtA = p.FeeGrowthGlobalA
	slot.FeeGrowthDebtB = p.FeeGrowthGlobalB
	slot.Version++

	p.LastUpdateTs = nowTs

	result.RewardAssets = countRewardAssets(result.YieldA, result.YieldB)
	return result, nil
}

// PendingLoanYield computes a loan slot's claimable fees without
// mutating it. The loan's bps share of the pool is converted to
// ledger-share units before applying the per-share accumulators.
func (p *LoanPosition) PendingLoanYield(loan *LoanSlot) (feeA, feeB int64) {
	shareUnits := fpmath.MulDiv(loan.Share, p.TotalShare, fpmath.Bps)
	return PendingYield(p, shareUnits, loan.FeeGrowthDebtA, loan.FeeGrowthDebtB)
}

// ClaimLoanYield pays out the pool fees earned by a loan slot's
// deployed liquidity.
func (p *LoanPosition) ClaimLoanYield(loan *LoanSlot, nowTs int64) (YieldResult, error) {
	var result YieldResult

	if !loan.Active {
		return result, fmt.Errorf("%w: loan slot %s already repaid", ErrSlotInactive, loan.ID)
	}
	requireAccrued(p, nowTs)

	result.YieldA, result.YieldB = p.PendingLoanYield(loan)

	loan.FeeGrowthDebtA = p.FeeGrowthGlobalA
	loan.FeeGrowthDebtB = p.FeeGrowthGlobalB
	loan.YieldEarnedA += result.YieldA
	loan.YieldEarnedB += result.YieldB
	loan.Version++

	p.LastUpdateTs = nowTs

	result.RewardAssets = countRewardAssets(result.YieldA, result.YieldB)
	return result, nil
}

func countRewardAssets(feeA, feeB int64) int32 {
	var n int32
	if feeA > 0 {
		n++
	}
	if feeB > 0 {
		n++
	}
	return n
}
