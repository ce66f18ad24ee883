package event

import "github.com/google/uuid"

// Typed realized results returned by the core and published outbound.
// Monetary and ratio fields serialize as base-10 integer strings so no
// precision is lost across the wire.

// PositionCreatedResult confirms position creation.
type PositionCreatedResult struct {
	Position        uuid.UUID `json:"position"`
	FeeTier         uint8     `json:"fee_tier"`
	TickLower       int32     `json:"tick_lower"`
	TickUpper       int32     `json:"tick_upper"`
	SlopeBeforeKink int64     `json:"slope_before_kink,string"`
	SlopeAfterKink  int64     `json:"slope_after_kink,string"`
	KinkUtilization int64     `json:"kink_utilization,string"`
	RiskFactor      uint8     `json:"risk_factor"`
	FeeTokenA       string    `json:"fee_token_a"`
	FeeTokenB       string    `json:"fee_token_b"`
	Ts              int64     `json:"ts"`
}

// DepositedResult is the realized outcome of a liquidity deposit.
type DepositedResult struct {
	Position      uuid.UUID `json:"position"`
	Lender        uuid.UUID `json:"lender"`
	Amount        int64     `json:"amount,string"`
	ShareMinted   int64     `json:"share_minted,string"`
	Liquidity     int64     `json:"liquidity,string"`
	TotalShare    int64     `json:"total_share,string"`
	SettledYieldA int64     `json:"settled_yield_a,string"`
	SettledYieldB int64     `json:"settled_yield_b,string"`
	Ts            int64     `json:"ts"`
}

// BorrowedResult is the realized outcome of a borrow.
type BorrowedResult struct {
	Position        uuid.UUID `json:"position"`
	Borrower        uuid.UUID `json:"borrower"`
	LoanSlot        uuid.UUID `json:"loan_slot"`
	Amount          int64     `json:"amount,string"`
	Reserve         int64     `json:"reserve,string"`
	DurationIdx     uint8     `json:"duration_idx"`
	DebtIdxAtBorrow int64     `json:"debt_idx_at_borrow,string"`
	AprBps          int64     `json:"apr_bps,string"`
	NewUtilization  int64     `json:"new_utilization,string"`
	TotalBorrowed   int64     `json:"total_borrowed,string"`
	AvailableBorrow int64     `json:"available_borrow,string"`
	Ts              int64     `json:"ts"`
}

// RepaidResult is the realized outcome of a repayment.
type RepaidResult struct {
	Position           uuid.UUID `json:"position"`
	Borrower           uuid.UUID `json:"borrower"`
	LoanSlot           uuid.UUID `json:"loan_slot"`
	PrincipalPortion   int64     `json:"principal_portion,string"`
	InterestPortion    int64     `json:"interest_portion,string"`
	RemainingPrincipal int64     `json:"remaining_principal,string"`
	ReserveReleased    int64     `json:"reserve_released,string"`
	LoanFullyRepaid    bool      `json:"loan_fully_repaid"`
	Ts                 int64     `json:"ts"`
}

// YieldClaimedResult is the realized outcome of a yield claim.
type YieldClaimedResult struct {
	Position          uuid.UUID  `json:"position"`
	Owner             uuid.UUID  `json:"owner"`
	LoanSlot          *uuid.UUID `json:"loan_slot,omitempty"`
	YieldAmount       int64      `json:"yield_amount,string"`
	FeeAssetAAmount   int64      `json:"fee_asset_a_amount,string"`
	FeeAssetBAmount   int64      `json:"fee_asset_b_amount,string"`
	TotalRewardAssets int32      `json:"total_reward_assets"`
	Ts                int64      `json:"ts"`
}

// YieldClaimedAndRepaidResult is the realized outcome of the combined
// borrower operation: claim loan yield, then repay in the same unit of
// work.
type YieldClaimedAndRepaidResult struct {
	Yield  YieldClaimedResult `json:"yield"`
	Repaid RepaidResult       `json:"repaid"`
}

// WithdrawnResult is the realized outcome of a deposit withdrawal.
type WithdrawnResult struct {
	Position    uuid.UUID `json:"position"`
	Lender      uuid.UUID `json:"lender"`
	Amount      int64     `json:"amount,string"`
	ShareBurned int64     `json:"share_burned,string"`
	Liquidity   int64     `json:"liquidity,string"`
	TotalShare  int64     `json:"total_share,string"`
	SlotClosed  bool      `json:"slot_closed"`
	Drained     bool      `json:"drained"`
	Ts          int64     `json:"ts"`
}

// DebtIndexUpdatedResult records one lazy accrual step.
type DebtIndexUpdatedResult struct {
	Position        uuid.UUID `json:"position"`
	OldDebtIdx      int64     `json:"old_debt_idx,string"`
	NewDebtIdx      int64     `json:"new_debt_idx,string"`
	AprBps          int64     `json:"apr_bps,string"`
	TimeElapsed     int64     `json:"time_elapsed"`
	InterestAccrued int64     `json:"interest_accrued,string"`
	Ts              int64     `json:"ts"`
}

// PositionDeactivatedResult confirms the wind-down transition.
type PositionDeactivatedResult struct {
	Position      uuid.UUID `json:"position"`
	Liquidity     int64     `json:"liquidity,string"`
	TotalBorrowed int64     `json:"total_borrowed,string"`
	Ts            int64     `json:"ts"`
}
