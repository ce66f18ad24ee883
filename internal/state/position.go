package state

import (
	"github.com/google/uuid"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// PositionState tracks the lifecycle of a loan position.
type PositionState int32

const (
	// PositionStateActive accepts deposits and borrows.
	PositionStateActive PositionState = iota

	// PositionStateWindingDown rejects deposits and borrows; repay,
	// claim, and withdraw remain allowed.
	PositionStateWindingDown

	// PositionStateDrained is terminal: liquidity and totalBorrowed are
	// both zero. The record is retained for history.
	PositionStateDrained
)

func (ps PositionState) String() string {
	switch ps {
	case PositionStateActive:
		return "Active"
	case PositionStateWindingDown:
		return "WindingDown"
	case PositionStateDrained:
		return "Drained"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (ps PositionState) CanTransitionTo(next PositionState) bool {
	validTransitions := map[PositionState][]PositionState{
		PositionStateActive: {
			PositionStateWindingDown,
		},
		PositionStateWindingDown: {
			PositionStateDrained,
		},
		PositionStateDrained: {},
	}

	allowed, ok := validTransitions[ps]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// LoanPosition is the top-level aggregate: one per pool, tick range,
// fee tier, and parameter combination. Created once, mutated by every
// deposit/borrow/repay/claim, never deleted.
type LoanPosition struct {
	ID         uuid.UUID
	Parameters Parameters

	// Share ledger aggregates. Absolute base units.
	Liquidity     int64
	TotalShare    int64
	TotalBorrowed int64

	// DebtIndex is monotone non-decreasing, IndexScale-based, starts at
	// exactly 1.0 (IndexScale).
	DebtIndex int64

	// Per-share fee growth accumulators, FeeGrowthScale-based. Monotone
	// non-decreasing; advance only on fee-generating events.
	FeeGrowthGlobalA int64
	FeeGrowthGlobalB int64

	// Monitoring counters.
	ActiveLoans         int64
	TotalInterestEarned int64

	State PositionState

	// Unix seconds. CreatedAtTs is immutable; the other two advance
	// monotonically.
	CreatedAtTs   int64
	LastUpdateTs  int64
	LastAccrualTs int64

	Version int64
}

// NewLoanPosition creates an active position with a unit debt index.
func NewLoanPosition(id uuid.UUID, params Parameters, createdAtTs int64) *LoanPosition {
	return &LoanPosition{
		ID:            id,
		Parameters:    params,
		DebtIndex:     fpmath.IndexScale,
		State:         PositionStateActive,
		CreatedAtTs:   createdAtTs,
		LastUpdateTs:  createdAtTs,
		LastAccrualTs: createdAtTs,
	}
}

// Utilization returns totalBorrowed * Bps / liquidity, or 0 when the
// position holds no liquidity.
func (p *LoanPosition) Utilization() int64 {
	if p.Liquidity == 0 {
		return 0
	}
	return fpmath.MulDiv(p.TotalBorrowed, fpmath.Bps, p.Liquidity)
}

// AvailableBorrow returns the liquidity not currently lent out.
func (p *LoanPosition) AvailableBorrow() int64 {
	return p.Liquidity - p.TotalBorrowed
}

// IsActive reports whether deposits and borrows are accepted.
func (p *LoanPosition) IsActive() bool {
	return p.State == PositionStateActive
}

// BorrowAPR evaluates the rate curve at the position's current
// utilization.
func (p *LoanPosition) BorrowAPR(mode fpmath.ExponentMode) int64 {
	return fpmath.BorrowAPR(
		p.Utilization(),
		p.Parameters.SlopeBeforeKink,
		p.Parameters.SlopeAfterKink,
		p.Parameters.KinkUtilization,
		uint8(p.Parameters.RiskFactor),
		mode,
	)
}

// MaybeDrain transitions WindingDown -> Drained once the last unit of
// liquidity has left and all loans are repaid.
func (p *LoanPosition) MaybeDrain() bool {
	if p.State != PositionStateWindingDown {
		return false
	}
	if p.Liquidity != 0 || p.TotalBorrowed != 0 {
		return false
	}
	p.State = PositionStateDrained
	p.Version++
	return true
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *LoanPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// id (16 bytes UUID binary)
	buf = append(buf, p.ID[:]...)

	// share ledger aggregates (8 bytes LE each)
	buf = appendInt64LE(buf, p.Liquidity)
	buf = appendInt64LE(buf, p.TotalShare)
	buf = appendInt64LE(buf, p.TotalBorrowed)

	// debt index and fee growth
	buf = appendInt64LE(buf, p.DebtIndex)
	buf = appendInt64LE(buf, p.FeeGrowthGlobalA)
	buf = appendInt64LE(buf, p.FeeGrowthGlobalB)

	// counters
	buf = appendInt64LE(buf, p.ActiveLoans)
	buf = appendInt64LE(buf, p.TotalInterestEarned)

	// state (1 byte)
	buf = append(buf, byte(p.State))

	// last accrual timestamp
	buf = appendInt64LE(buf, p.LastAccrualTs)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
