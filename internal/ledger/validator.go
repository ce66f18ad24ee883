package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePoolAccountsNonNegative checks a position's liquidity, reserve
// and fee pools never go negative. Liquidity can only go negative if a
// borrow or withdraw overdrew the pool, reserve if a release exceeded
// escrow, fees if a claim exceeded accrued interest.
func (v *InvariantValidator) ValidatePoolAccountsNonNegative(positionID uuid.UUID, assetID AssetID) error {
	for _, subType := range []AccountSubType{SubTypePoolLiquidity, SubTypePoolReserve, SubTypePoolFees} {
		if err := v.tracker.ValidateNonNegative(NewPositionAccountKey(positionID, subType, assetID)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
