package state

import (
	"fmt"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// Share ledger mutators. Every operation here requires that Accrue ran
// for the same timestamp in the same unit of work; requireAccrued
// enforces it. All operations are all-or-nothing: a returned error
// means no field was touched.

// DepositResult is the realized outcome of a liquidity deposit.
type DepositResult struct {
	ShareMinted int64
	// Yield settled for the slot before its share changed. The snapshot
	// reset at deposit time would otherwise forfeit it.
	SettledYieldA int64
	SettledYieldB int64
}

// BorrowResult is the realized outcome of a borrow.
type BorrowResult struct {
	Borrowed          int64
	Reserve           int64
	AprBps            int64
	NewUtilization    int64
	AvailableBorrow   int64
	DebtIndexAtBorrow int64
}

// RepayResult is the realized outcome of a repayment.
type RepayResult struct {
	InterestPortion    int64
	PrincipalPortion   int64
	RemainingPrincipal int64
	RemainingDebt      int64
	ReserveReleased    int64
	FullyRepaid        bool
}

// WithdrawResult is the realized outcome of a deposit withdrawal.
type WithdrawResult struct {
	Amount        int64
	ShareBurned   int64
	SettledYieldA int64
	SettledYieldB int64
	SlotClosed    bool
	Drained       bool
}

// DepositLiquidity converts an absolute amount into shares and books it
// against the lender's slot. Bootstrap deposits mint 1:1; later
// deposits mint floor pro-rata so existing lenders are never diluted.
func (p *LoanPosition) DepositLiquidity(slot *DepositSlot, amount, nowTs int64) (DepositResult, error) {
	var result DepositResult

	if amount <= 0 {
		return result, fmt.Errorf("%w: deposit amount must be > 0, got %d", ErrInvalidArgument, amount)
	}
	if !p.IsActive() {
		return result, fmt.Errorf("%w: position %s is %s", ErrPositionInactive, p.ID, p.State)
	}
	requireAccrued(p, nowTs)

	var share int64
	if p.TotalShare == 0 {
		share = amount
	} else {
		share = fpmath.MulDiv(amount, p.TotalShare, p.Liquidity)
	}
	if share == 0 {
		return result, fmt.Errorf("%w: deposit of %d mints zero shares", ErrInvalidArgument, amount)
	}

	// Settle yield accrued on the slot's existing share before the
	// snapshot reset below.
	if slot.Share > 0 {
		result.SettledYieldA, result.SettledYieldB = PendingYield(p, slot.Share, slot.FeeGrowthDebtA, slot.FeeGrowthDebtB)
	}

	if slot.AccumulatedDeposits == 0 {
		slot.OriginalPrincipal = amount
		slot.CreatedAtTs = nowTs
	}
	slot.Share += share
	slot.AccumulatedDeposits += amount
	slot.FeeGrowthDebtA = p.FeeGrowthGlobalA
	slot.FeeGrowthDebtB = p.FeeGrowthGlobalB
	slot.Active = true
	slot.LastDepositTs = nowTs
	slot.Version++

	p.Liquidity += amount
	p.TotalShare += share
	p.LastUpdateTs = nowTs
	p.Version++

	result.ShareMinted = share
	return result, nil
}

// BorrowLiquidity draws sharePctBps of current liquidity for the given
// duration, escrows the upfront interest reserve, and fills in the loan
// slot. Utilization is capped at 100%: a borrow that would exceed free
// liquidity is rejected with no effect.
func (p *LoanPosition) BorrowLiquidity(loan *LoanSlot, sharePctBps int64, durationIdx uint8, nowTs int64, mode fpmath.ExponentMode) (BorrowResult, error) {
	var result BorrowResult

	if sharePctBps <= 0 || sharePctBps > fpmath.Bps {
		return result, fmt.Errorf("%w: share_pct must be in (0, %d], got %d", ErrInvalidArgument, fpmath.Bps, sharePctBps)
	}
	if int(durationIdx) >= len(fpmath.DurationYearBps) {
		return result, fmt.Errorf("%w: unknown duration index %d", ErrInvalidArgument, durationIdx)
	}
	if !p.IsActive() {
		return result, fmt.Errorf("%w: position %s is %s", ErrPositionInactive, p.ID, p.State)
	}
	requireAccrued(p, nowTs)

	borrowed := fpmath.MulDiv(p.Liquidity, sharePctBps, fpmath.Bps)
	if borrowed == 0 {
		return result, fmt.Errorf("%w: borrow of %d bps of %d liquidity is zero", ErrInvalidArgument, sharePctBps, p.Liquidity)
	}
	if p.TotalBorrowed+borrowed > p.Liquidity {
		return result, fmt.Errorf("%w: borrow %d exceeds available %d", ErrInsufficientLiquidity, borrowed, p.AvailableBorrow())
	}

	// Quote the reserve at the utilization this borrow creates.
	newUtilization := fpmath.MulDiv(p.TotalBorrowed+borrowed, fpmath.Bps, p.Liquidity)
	aprBps := fpmath.BorrowAPR(
		newUtilization,
		p.Parameters.SlopeBeforeKink,
		p.Parameters.SlopeAfterKink,
		p.Parameters.KinkUtilization,
		uint8(p.Parameters.RiskFactor),
		mode,
	)
	reserve, err := fpmath.InterestReserve(borrowed, aprBps, durationIdx)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	p.TotalBorrowed += borrowed
	p.ActiveLoans++
	p.LastUpdateTs = nowTs
	p.Version++

	loan.Principal = borrowed
	loan.OriginalPrincipal = borrowed
	loan.Share = sharePctBps
	loan.Reserve = reserve
	loan.DurationIdx = durationIdx
	loan.DebtIndexAtBorrow = p.DebtIndex
	loan.FeeGrowthDebtA = p.FeeGrowthGlobalA
	loan.FeeGrowthDebtB = p.FeeGrowthGlobalB
	loan.Active = true
	loan.CreatedAtTs = nowTs
	loan.LastPaymentTs = nowTs
	loan.Version++

	result.Borrowed = borrowed
	result.Reserve = reserve
	result.AprBps = aprBps
	result.NewUtilization = newUtilization
	result.AvailableBorrow = p.AvailableBorrow()
	result.DebtIndexAtBorrow = loan.DebtIndexAtBorrow
	return result, nil
}

// RepayLoan splits a payment interest-first, then principal. Payments
// above the current debt are rejected unless repayRemaining is set, in
// which case the amount is clamped to the debt. Full repayment closes
// the slot and releases the reserve escrow.
func (p *LoanPosition) RepayLoan(loan *LoanSlot, amount int64, repayRemaining bool, nowTs int64) (RepayResult, error) {
	var result RepayResult

	if !loan.Active {
		return result, fmt.Errorf("%w: loan slot %s already repaid", ErrSlotInactive, loan.ID)
	}
	if amount <= 0 && !repayRemaining {
		return result, fmt.Errorf("%w: repay amount must be > 0, got %d", ErrInvalidArgument, amount)
	}
	requireAccrued(p, nowTs)

	debt := loan.CurrentDebt(p.DebtIndex)
	if repayRemaining {
		amount = debt
	} else if amount > debt {
		return result, fmt.Errorf("%w: repay %d exceeds debt %d", ErrInvalidRepayAmount, amount, debt)
	}

	interestOwed := debt - loan.Principal
	result.InterestPortion = amount
	if result.InterestPortion > interestOwed {
		result.InterestPortion = interestOwed
	}
	result.PrincipalPortion = amount - result.InterestPortion

	newPrincipal := loan.Principal - result.PrincipalPortion
	newDebt := debt - amount

	loan.Principal = newPrincipal
	if newDebt > 0 {
		// Re-baseline the snapshot so principal * index / snapshot
		// reproduces the remaining debt. When the interest was fully
		// paid this lands exactly on the current index.
		loan.DebtIndexAtBorrow = fpmath.MulDiv(newPrincipal, p.DebtIndex, newDebt)
	} else {
		loan.DebtIndexAtBorrow = p.DebtIndex
	}
	loan.LastPaymentTs = nowTs
	loan.Version++

	p.TotalBorrowed -= result.PrincipalPortion
	p.LastUpdateTs = nowTs
	p.Version++

	if newDebt == 0 {
		loan.Active = false
		result.ReserveReleased = loan.Reserve
		loan.Reserve = 0
		p.ActiveLoans--
		result.FullyRepaid = true
	}

	result.RemainingPrincipal = loan.Principal
	result.RemainingDebt = newDebt
	return result, nil
}

// WithdrawDeposit removes liquidity from a lender's slot. Only the
// non-borrowed portion of the pool is withdrawable; the cap is the
// smaller of the slot's current value and the pool's free liquidity.
// Allowed while Active and while WindingDown.
func (p *LoanPosition) WithdrawDeposit(slot *DepositSlot, amount, nowTs int64) (WithdrawResult, error) {
	var result WithdrawResult

	if amount <= 0 {
		return result, fmt.Errorf("%w: withdraw amount must be > 0, got %d", ErrInvalidArgument, amount)
	}
	if !slot.Active || slot.Share == 0 {
		return result, fmt.Errorf("%w: deposit slot for lender %s is closed", ErrSlotInactive, slot.Lender)
	}
	if p.State == PositionStateDrained {
		return result, fmt.Errorf("%w: position %s is drained", ErrPositionInactive, p.ID)
	}
	requireAccrued(p, nowTs)

	slotValue := fpmath.MulDiv(slot.Share, p.Liquidity, p.TotalShare)
	maxWithdraw := slotValue
	if free := p.AvailableBorrow(); free < maxWithdraw {
		maxWithdraw = free
	}
	if amount > maxWithdraw {
		return result, fmt.Errorf("%w: withdraw %d exceeds withdrawable %d", ErrInsufficientLiquidity, amount, maxWithdraw)
	}

	// Settle pending yield before the share changes.
	result.SettledYieldA, result.SettledYieldB = PendingYield(p, slot.Share, slot.FeeGrowthDebtA, slot.FeeGrowthDebtB)

	var shareBurned int64
	if amount == slotValue {
		// Exact close-out burns the whole share, leaving no dust.
		shareBurned = slot.Share
	} else {
		// Round up so the pool never gives out more than the burned
		// share is worth.
		shareBurned = fpmath.MulDivRound(amount, p.TotalShare, p.Liquidity, fpmath.RoundUp)
		if shareBurned > slot.Share {
			shareBurned = slot.Share
		}
	}

	slot.Share -= shareBurned
	slot.FeeGrowthDebtA = p.FeeGrowthGlobalA
	slot.FeeGrowthDebtB = p.FeeGrowthGlobalB
	slot.LastWithdrawTs = nowTs
	slot.Version++
	if slot.Share == 0 {
		slot.Active = false
		result.SlotClosed = true
	}

	p.Liquidity -= amount
	p.TotalShare -= shareBurned
	p.LastUpdateTs = nowTs
	p.Version++

	result.Amount = amount
	result.ShareBurned = shareBurned
	result.Drained = p.MaybeDrain()
	return result, nil
}
