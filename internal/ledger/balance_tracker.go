package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetUserWalletBalance returns a user's in-system wallet balance. Negative
// means the user is a net contributor (deposits exceed payouts), which is
// the normal state for an active lender.
func (bt *BalanceTracker) GetUserWalletBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeWallet, assetID))
}

// GetPoolLiquidity returns the undeployed liquidity held by a position
func (bt *BalanceTracker) GetPoolLiquidity(positionID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPositionAccountKey(positionID, SubTypePoolLiquidity, assetID))
}

// GetPoolReserve returns the escrowed borrower reserves held by a position
func (bt *BalanceTracker) GetPoolReserve(positionID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPositionAccountKey(positionID, SubTypePoolReserve, assetID))
}

// GetPoolFees returns the claimable yield pool held by a position
func (bt *BalanceTracker) GetPoolFees(positionID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewPositionAccountKey(positionID, SubTypePoolFees, assetID))
}

// === Invariant Checks ===

// ValidateSufficientLiquidity checks the pool can cover an outflow
func (bt *BalanceTracker) ValidateSufficientLiquidity(positionID uuid.UUID, assetID AssetID, required int64) error {
	liquidity := bt.GetPoolLiquidity(positionID, assetID)
	if liquidity < required {
		return fmt.Errorf("insufficient pool liquidity: have=%d, need=%d", liquidity, required)
	}
	return nil
}

// ValidateSufficientReserve checks escrowed reserve covers a release
func (bt *BalanceTracker) ValidateSufficientReserve(positionID uuid.UUID, assetID AssetID, required int64) error {
	reserve := bt.GetPoolReserve(positionID, assetID)
	if reserve < required {
		return fmt.Errorf("insufficient escrowed reserve: have=%d, need=%d", reserve, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
