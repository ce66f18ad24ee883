package state

import (
	"github.com/google/uuid"
)

// DepositSlot is a per-lender record anchored to a position: one per
// lender per position, created on first deposit, mutated by subsequent
// deposits and claims, logically closed when share reaches zero.
type DepositSlot struct {
	Lender   uuid.UUID
	Position uuid.UUID

	OriginalPrincipal   int64
	Share               int64
	AccumulatedDeposits int64

	// Fee-growth snapshots at the last claim/deposit. Pending yield is
	// share * (global - debt) / FeeGrowthScale.
	FeeGrowthDebtA int64
	FeeGrowthDebtB int64

	Active bool

	CreatedAtTs     int64
	LastDepositTs   int64
	LastWithdrawTs  int64

	Version int64
}

// DepositSlotKey identifies a lender's slot within one position.
type DepositSlotKey struct {
	Lender   uuid.UUID
	Position uuid.UUID
}

// CanonicalBytes returns deterministic serialization for hashing
func (s *DepositSlot) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	buf = append(buf, s.Lender[:]...)
	buf = append(buf, s.Position[:]...)

	buf = appendInt64LE(buf, s.OriginalPrincipal)
	buf = appendInt64LE(buf, s.Share)
	buf = appendInt64LE(buf, s.AccumulatedDeposits)
	buf = appendInt64LE(buf, s.FeeGrowthDebtA)
	buf = appendInt64LE(buf, s.FeeGrowthDebtB)

	if s.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}
