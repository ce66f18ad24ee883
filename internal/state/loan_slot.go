package state

import (
	"github.com/google/uuid"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// LoanSlot is a per-borrow record: one per borrow per position, created
// on borrow, mutated by repay/claim, marked inactive when fully repaid.
type LoanSlot struct {
	ID       uuid.UUID
	Borrower uuid.UUID
	Position uuid.UUID

	// Principal is the outstanding absolute amount owed; decreases only
	// via repay. OriginalPrincipal is immutable.
	Principal         int64
	OriginalPrincipal int64

	// Share is the fraction of pool liquidity consumed at borrow time,
	// bps-scaled.
	Share int64

	// Reserve is the interest buffer escrowed at borrow time.
	Reserve int64

	// DurationIdx fixes the term multiplier: 0=0.25y 1=0.5y 2=1y 3=2y.
	// Immutable after creation.
	DurationIdx uint8

	// DebtIndexAtBorrow snapshots the position's debt index at borrow
	// time. Current debt = principal * currentIndex / this.
	DebtIndexAtBorrow int64

	FeeGrowthDebtA int64
	FeeGrowthDebtB int64
	YieldEarnedA   int64
	YieldEarnedB   int64

	WithdrawnAmount   int64
	AvailableWithdraw int64

	Active bool

	CreatedAtTs   int64
	LastPaymentTs int64

	// ArrearsStartTs is zero unless a scheduled payment was missed.
	ArrearsStartTs int64

	Version int64
}

// NewLoanSlot constructs an empty slot to be filled by BorrowLiquidity.
func NewLoanSlot(id, borrower, position uuid.UUID) *LoanSlot {
	return &LoanSlot{
		ID:       id,
		Borrower: borrower,
		Position: position,
	}
}

// CurrentDebt converts the snapshot-relative principal into the amount
// currently owed under the given debt index. Never less than principal
// while unpaid (the index is monotone).
func (l *LoanSlot) CurrentDebt(currentIndex int64) int64 {
	if l.Principal == 0 {
		return 0
	}
	return fpmath.MulDiv(l.Principal, currentIndex, l.DebtIndexAtBorrow)
}

// CanonicalBytes returns deterministic serialization for hashing
func (l *LoanSlot) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = append(buf, l.ID[:]...)
	buf = append(buf, l.Borrower[:]...)
	buf = append(buf, l.Position[:]...)

	buf = appendInt64LE(buf, l.Principal)
	buf = appendInt64LE(buf, l.OriginalPrincipal)
	buf = appendInt64LE(buf, l.Share)
	buf = appendInt64LE(buf, l.Reserve)
	buf = append(buf, l.DurationIdx)
	buf = appendInt64LE(buf, l.DebtIndexAtBorrow)
	buf = appendInt64LE(buf, l.FeeGrowthDebtA)
	buf = appendInt64LE(buf, l.FeeGrowthDebtB)

	if l.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}
