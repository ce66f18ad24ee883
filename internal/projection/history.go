package projection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/event"
)

const historyDefaultCap = 10_000

// AccrualEntry records one debt-index advance.
type AccrualEntry struct {
	Sequence        int64
	Position        uuid.UUID
	OldDebtIndex    int64
	NewDebtIndex    int64
	InterestAccrued int64
	AprBps          int64
	Timestamp       int64
}

// YieldEntry records one yield payout.
type YieldEntry struct {
	Sequence  int64
	Position  uuid.UUID
	Claimer   uuid.UUID
	AmountA   int64
	AmountB   int64
	LoanYield bool
	Timestamp int64
}

// History keeps a bounded in-memory view of recent accruals and yield
// payouts so the query service can answer without a DB round trip.
// Older entries live in projections.accrual_history / yield_history.
type History struct {
	mu       sync.RWMutex
	cap      int
	accruals []AccrualEntry
	yields   []YieldEntry
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = historyDefaultCap
	}
	return &History{
		cap:      capacity,
		accruals: make([]AccrualEntry, 0, 256),
		yields:   make([]YieldEntry, 0, 256),
	}
}

// AddAccrual appends an accrual record, evicting the oldest half when
// the buffer is full.
func (h *History) AddAccrual(entry AccrualEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.accruals) >= h.cap {
		h.accruals = append(h.accruals[:0], h.accruals[h.cap/2:]...)
	}
	h.accruals = append(h.accruals, entry)
}

// AddYield appends a yield payout record.
func (h *History) AddYield(entry YieldEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.yields) >= h.cap {
		h.yields = append(h.yields[:0], h.yields[h.cap/2:]...)
	}
	h.yields = append(h.yields, entry)
}

// AccrualsByPosition returns the most recent accruals for a position,
// newest first.
func (h *History) AccrualsByPosition(positionID uuid.UUID, limit int) []AccrualEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]AccrualEntry, 0, limit)
	for i := len(h.accruals) - 1; i >= 0 && len(result) < limit; i-- {
		if h.accruals[i].Position == positionID {
			result = append(result, h.accruals[i])
		}
	}
	return result
}

// YieldsByClaimer returns the most recent yield payouts for a claimer,
// newest first.
func (h *History) YieldsByClaimer(claimer uuid.UUID, limit int) []YieldEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]YieldEntry, 0, limit)
	for i := len(h.yields) - 1; i >= 0 && len(result) < limit; i-- {
		if h.yields[i].Claimer == claimer {
			result = append(result, h.yields[i])
		}
	}
	return result
}

func yieldEntryFromResult(seq int64, r *event.YieldClaimedResult) YieldEntry {
	return YieldEntry{
		Sequence:  seq,
		Position:  r.Position,
		Claimer:   r.Owner,
		AmountA:   r.FeeAssetAAmount,
		AmountB:   r.FeeAssetBAmount,
		LoanYield: r.LoanSlot != nil,
		Timestamp: r.Ts,
	}
}
