package state

import (
	"fmt"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// AccrualResult describes one lazy accrual step.
type AccrualResult struct {
	OldIndex int64
	NewIndex int64
	AprBps   int64
	Elapsed  int64
	Interest int64
}

// Changed reports whether the index moved.
func (r AccrualResult) Changed() bool {
	return r.NewIndex != r.OldIndex
}

// Accrue brings the position's debt index up to nowTs. Called at the
// top of every mutating operation, before the operation's own effect
// on utilization:
//
//  1. growth = apr(utilization before this call) * elapsed / year
//  2. index *= (1 + growth), floor at IndexScale
//  3. fee growth advances by accrued interest per share
//  4. lastAccrualTs = now, even when growth is zero
//
// With nothing borrowed the APR term is zero, so only timestamps move.
func Accrue(pos *LoanPosition, nowTs int64, mode fpmath.ExponentMode) AccrualResult {
	if nowTs < pos.LastAccrualTs {
		panic(fmt.Sprintf("FATAL: accrual time went backwards for position %s: last=%d now=%d",
			pos.ID, pos.LastAccrualTs, nowTs))
	}

	result := AccrualResult{
		OldIndex: pos.DebtIndex,
		NewIndex: pos.DebtIndex,
		Elapsed:  nowTs - pos.LastAccrualTs,
	}

	if result.Elapsed == 0 {
		return result
	}

	result.AprBps = pos.BorrowAPR(mode)

	// growth at index scale, floored once:
	// apr/Bps * elapsed/year, expressed in IndexScale units.
	growth := fpmath.MulDiv3(result.AprBps, result.Elapsed, fpmath.IndexScale,
		fpmath.Bps*fpmath.SecondsPerYear)

	if growth > 0 && pos.TotalBorrowed > 0 {
		result.NewIndex = fpmath.MulDiv(pos.DebtIndex, fpmath.IndexScale+growth, fpmath.IndexScale)

		// Interest accrued this step, in base units of the borrow asset.
		result.Interest = fpmath.MulDiv(pos.TotalBorrowed, result.NewIndex-result.OldIndex, result.OldIndex)

		pos.DebtIndex = result.NewIndex
		pos.TotalInterestEarned += result.Interest

		// Distribute to lenders through the per-share accumulator.
		// Loans are denominated in the fee-A asset, so accrued interest
		// only ever advances the A accumulator; the B accumulator exists
		// for external fee ingestion (AMM swap fees), which has no
		// source inside the accounting core.
		if pos.TotalShare > 0 && result.Interest > 0 {
			pos.FeeGrowthGlobalA += fpmath.MulDiv(result.Interest, fpmath.FeeGrowthScale, pos.TotalShare)
		}

		pos.Version++
	}

	pos.LastAccrualTs = nowTs
	pos.LastUpdateTs = nowTs

	return result
}

// requireAccrued asserts that the caller ran Accrue for this timestamp
// before mutating the share ledger. Skipping accrual pairs a stale debt
// index with a fresh utilization, which corrupts every later interest
// computation, so this is treated as a programming error rather than a
// recoverable one.
func requireAccrued(pos *LoanPosition, nowTs int64) {
	if pos.LastAccrualTs != nowTs {
		panic(fmt.Sprintf("FATAL: stale accrual on position %s: lastAccrualTs=%d op ts=%d",
			pos.ID, pos.LastAccrualTs, nowTs))
	}
}
