package state

import (
	"errors"
	"testing"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

func TestPendingYield(t *testing.T) {
	pos := newTestPosition(t, 1_000)
	pos.FeeGrowthGlobalA = 7_800_000_000
	pos.FeeGrowthGlobalB = 1_000_000

	feeA, feeB := PendingYield(pos, 1_000_000, 0, 0)
	if feeA != 7_800 {
		t.Errorf("feeA = %d, want 7800", feeA)
	}
	if feeB != 1 {
		t.Errorf("feeB = %d, want 1", feeB)
	}

	// A snapshot equal to the global means nothing is pending.
	feeA, feeB = PendingYield(pos, 1_000_000, 7_800_000_000, 1_000_000)
	if feeA != 0 || feeB != 0 {
		t.Errorf("settled slot pending = (%d, %d), want (0, 0)", feeA, feeB)
	}

	if a, b := PendingYield(pos, 0, 0, 0); a != 0 || b != 0 {
		t.Errorf("zero share pending = (%d, %d), want (0, 0)", a, b)
	}
}

func TestClaimDepositYield_Idempotent(t *testing.T) {
	pos, _ := borrowedPosition(t)
	slot := newDepositSlot(pos)

	// Give the claiming lender half the pool alongside the bootstrap
	// lender, then accrue a year of interest.
	Accrue(pos, 2_000, fpmath.ExponentModeIndex)
	if _, err := pos.DepositLiquidity(slot, 1_000_000, 2_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	oneYear := int64(2_000) + fpmath.SecondsPerYear
	Accrue(pos, oneYear, fpmath.ExponentModeIndex)

	first, err := pos.ClaimDepositYield(slot, oneYear)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.YieldA <= 0 {
		t.Fatalf("first claim yield = %d, want > 0", first.YieldA)
	}

	// The snapshot reset makes an immediate second claim a no-op.
	second, err := pos.ClaimDepositYield(slot, oneYear)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.YieldA != 0 || second.YieldB != 0 {
		t.Errorf("second claim = (%d, %d), want (0, 0)", second.YieldA, second.YieldB)
	}
}

func TestClaimDepositYield_ClosedSlot(t *testing.T) {
	pos := newTestPosition(t, 1_000)
	slot := newDepositSlot(pos)

	if _, err := pos.ClaimDepositYield(slot, 1_000); !errors.Is(err, ErrSlotInactive) {
		t.Errorf("claim on closed slot: got %v, want ErrSlotInactive", err)
	}
}

func TestClaimLoanYield_ConvertsShareUnits(t *testing.T) {
	pos, loan := borrowedPosition(t)

	oneYear := int64(1_000) + fpmath.SecondsPerYear
	Accrue(pos, oneYear, fpmath.ExponentModeIndex)

	result, err := pos.ClaimLoanYield(loan, oneYear)
	if err != nil {
		t.Fatalf("claim loan yield: %v", err)
	}

	// The loan holds 2500 bps of the pool: a quarter of the 7_800
	// distributed, via the bps -> share-unit conversion.
	if result.YieldA != 1_950 {
		t.Errorf("loan yield = %d, want 1950", result.YieldA)
	}
	if loan.YieldEarnedA != 1_950 {
		t.Errorf("yield earned accumulator = %d, want 1950", loan.YieldEarnedA)
	}

	// Snapshot reset applies to loan slots too.
	again, err := pos.ClaimLoanYield(loan, oneYear)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again.YieldA != 0 {
		t.Errorf("second loan claim = %d, want 0", again.YieldA)
	}
}

func TestPendingLoanYield_DoesNotMutate(t *testing.T) {
	pos, loan := borrowedPosition(t)

	oneYear := int64(1_000) + fpmath.SecondsPerYear
	Accrue(pos, oneYear, fpmath.ExponentModeIndex)

	pendingA, pendingB := pos.PendingLoanYield(loan)
	if pendingA != 1_950 || pendingB != 0 {
		t.Fatalf("pending = (%d, %d), want (1950, 0)", pendingA, pendingB)
	}

	// Reading pending yield must leave the slot untouched.
	if loan.FeeGrowthDebtA != 0 || loan.YieldEarnedA != 0 {
		t.Errorf("slot mutated: feeGrowthDebtA=%d yieldEarnedA=%d", loan.FeeGrowthDebtA, loan.YieldEarnedA)
	}

	// The actual claim pays exactly what was quoted.
	result, err := pos.ClaimLoanYield(loan, oneYear)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.YieldA != pendingA {
		t.Errorf("claimed %d, quoted %d", result.YieldA, pendingA)
	}
}

func TestCountRewardAssets(t *testing.T) {
	if n := countRewardAssets(0, 0); n != 0 {
		t.Errorf("count(0,0) = %d, want 0", n)
	}
	if n := countRewardAssets(5, 0); n != 1 {
		t.Errorf("count(5,0) = %d, want 1", n)
	}
	if n := countRewardAssets(5, 7); n != 2 {
		t.Errorf("count(5,7) = %d, want 2", n)
	}
}
