package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PositionManager is the in-memory registry of positions and their
// child slots. Not thread-safe — only accessed from the single-threaded
// deterministic core.
type PositionManager struct {
	positions    map[uuid.UUID]*LoanPosition
	depositSlots map[DepositSlotKey]*DepositSlot
	loanSlots    map[uuid.UUID]*LoanSlot
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions:    make(map[uuid.UUID]*LoanPosition),
		depositSlots: make(map[DepositSlotKey]*DepositSlot),
		loanSlots:    make(map[uuid.UUID]*LoanSlot),
	}
}

// CreatePosition registers a new active position.
func (pm *PositionManager) CreatePosition(id uuid.UUID, params Parameters, createdAtTs int64) (*LoanPosition, error) {
	if err := ValidateParameters(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if _, exists := pm.positions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, id)
	}

	pos := NewLoanPosition(id, params, createdAtTs)
	pm.positions[id] = pos
	return pos, nil
}

// GetPosition returns the position or ErrPositionNotFound.
func (pm *PositionManager) GetPosition(id uuid.UUID) (*LoanPosition, error) {
	pos, ok := pm.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return pos, nil
}

// GetOrCreateDepositSlot returns the lender's slot for a position,
// creating an empty one on first use.
func (pm *PositionManager) GetOrCreateDepositSlot(lender, position uuid.UUID) *DepositSlot {
	key := DepositSlotKey{Lender: lender, Position: position}
	slot := pm.depositSlots[key]

	if slot == nil {
		slot = &DepositSlot{
			Lender:   lender,
			Position: position,
		}
		pm.depositSlots[key] = slot
	}

	return slot
}

// GetDepositSlot returns an existing slot or ErrSlotNotFound.
func (pm *PositionManager) GetDepositSlot(lender, position uuid.UUID) (*DepositSlot, error) {
	slot, ok := pm.depositSlots[DepositSlotKey{Lender: lender, Position: position}]
	if !ok {
		return nil, fmt.Errorf("%w: no deposit slot for lender %s in position %s", ErrSlotNotFound, lender, position)
	}
	return slot, nil
}

// RegisterLoanSlot adds a filled loan slot to the registry. Callers
// register only after BorrowLiquidity succeeds, so a rejected borrow
// leaves no trace behind.
func (pm *PositionManager) RegisterLoanSlot(slot *LoanSlot) {
	pm.loanSlots[slot.ID] = slot
}

// GetLoanSlot returns an existing loan slot or ErrSlotNotFound.
func (pm *PositionManager) GetLoanSlot(id uuid.UUID) (*LoanSlot, error) {
	slot, ok := pm.loanSlots[id]
	if !ok {
		return nil, fmt.Errorf("%w: loan slot %s", ErrSlotNotFound, id)
	}
	return slot, nil
}

// SumDepositShares returns the sum of all slot shares for a position.
// Used by invariant checks: the sum must equal the position's
// totalShare at all times.
func (pm *PositionManager) SumDepositShares(position uuid.UUID) int64 {
	var sum int64
	for key, slot := range pm.depositSlots {
		if key.Position == position {
			sum += slot.Share
		}
	}
	return sum
}

// GetAllPositions returns all positions in deterministic id order.
func (pm *PositionManager) GetAllPositions() []*LoanPosition {
	result := make([]*LoanPosition, 0, len(pm.positions))
	for _, pos := range pm.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

// GetPositionDepositSlots returns a position's deposit slots in
// deterministic lender order.
func (pm *PositionManager) GetPositionDepositSlots(position uuid.UUID) []*DepositSlot {
	result := make([]*DepositSlot, 0)
	for key, slot := range pm.depositSlots {
		if key.Position == position {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Lender[:], result[j].Lender[:]) < 0
	})
	return result
}

// GetLenderDepositSlots returns all slots owned by a lender.
func (pm *PositionManager) GetLenderDepositSlots(lender uuid.UUID) []*DepositSlot {
	result := make([]*DepositSlot, 0)
	for key, slot := range pm.depositSlots {
		if key.Lender == lender {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Position[:], result[j].Position[:]) < 0
	})
	return result
}

// GetBorrowerLoanSlots returns all loan slots owned by a borrower.
func (pm *PositionManager) GetBorrowerLoanSlots(borrower uuid.UUID) []*LoanSlot {
	result := make([]*LoanSlot, 0)
	for _, slot := range pm.loanSlots {
		if slot.Borrower == borrower {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

// GetAllDepositSlots returns every deposit slot (for snapshot creation).
func (pm *PositionManager) GetAllDepositSlots() []*DepositSlot {
	result := make([]*DepositSlot, 0, len(pm.depositSlots))
	for _, slot := range pm.depositSlots {
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool {
		if c := bytes.Compare(result[i].Position[:], result[j].Position[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(result[i].Lender[:], result[j].Lender[:]) < 0
	})
	return result
}

// GetAllLoanSlots returns every loan slot (for snapshot creation).
func (pm *PositionManager) GetAllLoanSlots() []*LoanSlot {
	result := make([]*LoanSlot, 0, len(pm.loanSlots))
	for _, slot := range pm.loanSlots {
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) < 0
	})
	return result
}

// SetPosition directly sets a position (used for snapshot restore)
func (pm *PositionManager) SetPosition(pos *LoanPosition) {
	pm.positions[pos.ID] = pos
}

// SetDepositSlot directly sets a deposit slot (used for snapshot restore)
func (pm *PositionManager) SetDepositSlot(slot *DepositSlot) {
	pm.depositSlots[DepositSlotKey{Lender: slot.Lender, Position: slot.Position}] = slot
}

// SetLoanSlot directly sets a loan slot (used for snapshot restore)
func (pm *PositionManager) SetLoanSlot(slot *LoanSlot) {
	pm.loanSlots[slot.ID] = slot
}
