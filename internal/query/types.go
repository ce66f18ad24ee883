package query

import "github.com/google/uuid"

// Monetary fields in query responses are decimal strings: the read
// model stores int64 base units as TEXT and API consumers must not
// round them through floats.

// PositionResponse represents a loan position for API queries.
type PositionResponse struct {
	PositionID          uuid.UUID `json:"position_id"`
	FeeTier             uint8     `json:"fee_tier"`
	TickLower           int32     `json:"tick_lower"`
	TickUpper           int32     `json:"tick_upper"`
	SlopeBeforeKink     int64     `json:"slope_before_kink"`
	SlopeAfterKink      int64     `json:"slope_after_kink"`
	KinkUtilization     int64     `json:"kink_utilization"`
	RiskFactor          uint8     `json:"risk_factor"`
	FeeTokenA           string    `json:"fee_token_a"`
	FeeTokenB           string    `json:"fee_token_b"`
	Liquidity           string    `json:"liquidity"`
	TotalShare          string    `json:"total_share"`
	TotalBorrowed       string    `json:"total_borrowed"`
	DebtIndex           string    `json:"debt_index"`
	UtilizationBps      int64     `json:"utilization_bps"`
	AprBps              int64     `json:"apr_bps"`
	ActiveLoans         int64     `json:"active_loans"`
	TotalInterestEarned string    `json:"total_interest_earned"`
	State               string    `json:"state"`
	CreatedAtTs         int64     `json:"created_at_ts"`
	LastUpdateTs        int64     `json:"last_update_ts"`
	LastAccrualTs       int64     `json:"last_accrual_ts"`
	Version             int64     `json:"version"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// DepositSlotResponse represents a lender's slot for API queries.
type DepositSlotResponse struct {
	Lender              uuid.UUID `json:"lender"`
	PositionID          uuid.UUID `json:"position_id"`
	OriginalPrincipal   string    `json:"original_principal"`
	Share               string    `json:"share"`
	AccumulatedDeposits string    `json:"accumulated_deposits"`
	PendingYieldA       string    `json:"pending_yield_a"`
	PendingYieldB       string    `json:"pending_yield_b"`
	Active              bool      `json:"active"`
	CreatedAtTs         int64     `json:"created_at_ts"`
	LastDepositTs       int64     `json:"last_deposit_ts"`
	LastWithdrawTs      int64     `json:"last_withdraw_ts"`
	Version             int64     `json:"version"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// LoanSlotResponse represents a borrower's slot for API queries.
type LoanSlotResponse struct {
	LoanID            uuid.UUID `json:"loan_id"`
	Borrower          uuid.UUID `json:"borrower"`
	PositionID        uuid.UUID `json:"position_id"`
	Principal         string    `json:"principal"`
	OriginalPrincipal string    `json:"original_principal"`
	Reserve           string    `json:"reserve"`
	DurationIdx       uint8     `json:"duration_idx"`
	DebtIndexAtBorrow string    `json:"debt_index_at_borrow"`
	CurrentDebt       string    `json:"current_debt"`
	Active            bool      `json:"active"`
	CreatedAtTs       int64     `json:"created_at_ts"`
	LastPaymentTs     int64     `json:"last_payment_ts"`
	Version           int64     `json:"version"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount,string"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// AccrualHistoryResponse represents one debt-index advance.
type AccrualHistoryResponse struct {
	Sequence        int64     `json:"sequence"`
	PositionID      uuid.UUID `json:"position_id"`
	OldDebtIndex    string    `json:"old_debt_index"`
	NewDebtIndex    string    `json:"new_debt_index"`
	InterestAccrued string    `json:"interest_accrued"`
	UtilizationBps  int64     `json:"utilization_bps"`
	AprBps          int64     `json:"apr_bps"`
	Timestamp       int64     `json:"timestamp"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// YieldHistoryResponse represents one yield payout.
type YieldHistoryResponse struct {
	Sequence     int64     `json:"sequence"`
	PositionID   uuid.UUID `json:"position_id"`
	Claimer      uuid.UUID `json:"claimer"`
	AmountA      string    `json:"amount_a"`
	AmountB      string    `json:"amount_b"`
	Kind         string    `json:"kind"`
	Timestamp    int64     `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset whose global balance sum is not
// zero across all accounts.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
