package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/core"
	"github.com/firyx-protocol/lendcore/internal/ledger"
	"github.com/firyx-protocol/lendcore/internal/state"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot captures balances, positions, deposit and loan
// slots, sequence counters, recent idempotency keys, and the state hash
// at the snapshot sequence. Warm restart loads the latest verified
// snapshot and replays events from snapshot.sequence+1.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of the full in-memory
// state at a point in time. Monetary fields use ,string tags so the
// stored JSON never loses int64 precision to a float parser.
type SnapshotData struct {
	Sequence        int64                 `json:"sequence"`
	StateHash       []byte                `json:"state_hash"`
	Balances        []BalanceSnapshot     `json:"balances"`
	Positions       []PositionSnapshot    `json:"positions"`
	DepositSlots    []DepositSlotSnapshot `json:"deposit_slots"`
	LoanSlots       []LoanSlotSnapshot    `json:"loan_slots"`
	SequenceState   map[string]int64      `json:"sequence_state"`  // partition -> next expected seq
	IdempotencyKeys []string              `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time             `json:"created_at"`
}

// BalanceSnapshot stores one account balance in structured form so the
// account key round-trips without path parsing. Asset is stored as the
// symbol because numeric IDs are assigned in registration order and may
// differ across restarts.
type BalanceSnapshot struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id,omitempty"` // UUID, empty for external accounts
	SubType  uint8  `json:"sub_type"`
	Asset    string `json:"asset"`
	Balance  int64  `json:"balance,string"`
}

// PositionSnapshot is a serializable loan position.
type PositionSnapshot struct {
	ID                  string `json:"id"`
	FeeTier             uint8  `json:"fee_tier"`
	TickLower           int32  `json:"tick_lower"`
	TickUpper           int32  `json:"tick_upper"`
	SlopeBeforeKink     int64  `json:"slope_before_kink"`
	SlopeAfterKink      int64  `json:"slope_after_kink"`
	KinkUtilization     int64  `json:"kink_utilization"`
	RiskFactor          uint8  `json:"risk_factor"`
	FeeTokenA           string `json:"fee_token_a"`
	FeeTokenB           string `json:"fee_token_b"`
	Liquidity           int64  `json:"liquidity,string"`
	TotalShare          int64  `json:"total_share,string"`
	TotalBorrowed       int64  `json:"total_borrowed,string"`
	DebtIndex           int64  `json:"debt_index,string"`
	FeeGrowthGlobalA    int64  `json:"fee_growth_global_a,string"`
	FeeGrowthGlobalB    int64  `json:"fee_growth_global_b,string"`
	ActiveLoans         int64  `json:"active_loans"`
	TotalInterestEarned int64  `json:"total_interest_earned,string"`
	State               int32  `json:"state"`
	CreatedAtTs         int64  `json:"created_at_ts"`
	LastUpdateTs        int64  `json:"last_update_ts"`
	LastAccrualTs       int64  `json:"last_accrual_ts"`
	Version             int64  `json:"version"`
}

// DepositSlotSnapshot is a serializable lender slot.
type DepositSlotSnapshot struct {
	Lender              string `json:"lender"`
	Position            string `json:"position"`
	OriginalPrincipal   int64  `json:"original_principal,string"`
	Share               int64  `json:"share,string"`
	AccumulatedDeposits int64  `json:"accumulated_deposits,string"`
	FeeGrowthDebtA      int64  `json:"fee_growth_debt_a,string"`
	FeeGrowthDebtB      int64  `json:"fee_growth_debt_b,string"`
	Active              bool   `json:"active"`
	CreatedAtTs         int64  `json:"created_at_ts"`
	LastDepositTs       int64  `json:"last_deposit_ts"`
	LastWithdrawTs      int64  `json:"last_withdraw_ts"`
	Version             int64  `json:"version"`
}

// LoanSlotSnapshot is a serializable borrower slot.
type LoanSlotSnapshot struct {
	ID                string `json:"id"`
	Borrower          string `json:"borrower"`
	Position          string `json:"position"`
	Principal         int64  `json:"principal,string"`
	OriginalPrincipal int64  `json:"original_principal,string"`
	Share             int64  `json:"share"`
	Reserve           int64  `json:"reserve,string"`
	DurationIdx       uint8  `json:"duration_idx"`
	DebtIndexAtBorrow int64  `json:"debt_index_at_borrow,string"`
	FeeGrowthDebtA    int64  `json:"fee_growth_debt_a,string"`
	FeeGrowthDebtB    int64  `json:"fee_growth_debt_b,string"`
	YieldEarnedA      int64  `json:"yield_earned_a,string"`
	YieldEarnedB      int64  `json:"yield_earned_b,string"`
	WithdrawnAmount   int64  `json:"withdrawn_amount,string"`
	AvailableWithdraw int64  `json:"available_withdraw,string"`
	Active            bool   `json:"active"`
	CreatedAtTs       int64  `json:"created_at_ts"`
	LastPaymentTs     int64  `json:"last_payment_ts"`
	ArrearsStartTs    int64  `json:"arrears_start_ts"`
	Version           int64  `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromCore converts the core's typed state into its storable form.
func SnapshotFromCore(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	snap := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make([]BalanceSnapshot, 0, len(s.Balances)),
		Positions:       make([]PositionSnapshot, 0, len(s.Positions)),
		DepositSlots:    make([]DepositSlotSnapshot, 0, len(s.DepositSlots)),
		LoanSlots:       make([]LoanSlotSnapshot, 0, len(s.LoanSlots)),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}

	for key, balance := range s.Balances {
		asset, _ := ledger.GetAssetName(key.AssetID)
		row := BalanceSnapshot{
			Scope:   uint8(key.Scope),
			SubType: uint8(key.SubType),
			Asset:   asset,
			Balance: balance,
		}
		if key.Scope != ledger.AccountScopeExternal {
			row.EntityID = uuid.UUID(key.EntityID).String()
		}
		snap.Balances = append(snap.Balances, row)
	}

	for _, p := range s.Positions {
		snap.Positions = append(snap.Positions, PositionSnapshot{
			ID:                  p.ID.String(),
			FeeTier:             p.Parameters.FeeTier,
			TickLower:           p.Parameters.TickLower,
			TickUpper:           p.Parameters.TickUpper,
			SlopeBeforeKink:     p.Parameters.SlopeBeforeKink,
			SlopeAfterKink:      p.Parameters.SlopeAfterKink,
			KinkUtilization:     p.Parameters.KinkUtilization,
			RiskFactor:          uint8(p.Parameters.RiskFactor),
			FeeTokenA:           p.Parameters.FeeTokenA,
			FeeTokenB:           p.Parameters.FeeTokenB,
			Liquidity:           p.Liquidity,
			TotalShare:          p.TotalShare,
			TotalBorrowed:       p.TotalBorrowed,
			DebtIndex:           p.DebtIndex,
			FeeGrowthGlobalA:    p.FeeGrowthGlobalA,
			FeeGrowthGlobalB:    p.FeeGrowthGlobalB,
			ActiveLoans:         p.ActiveLoans,
			TotalInterestEarned: p.TotalInterestEarned,
			State:               int32(p.State),
			CreatedAtTs:         p.CreatedAtTs,
			LastUpdateTs:        p.LastUpdateTs,
			LastAccrualTs:       p.LastAccrualTs,
			Version:             p.Version,
		})
	}

	for _, slot := range s.DepositSlots {
		snap.DepositSlots = append(snap.DepositSlots, DepositSlotSnapshot{
			Lender:              slot.Lender.String(),
			Position:            slot.Position.String(),
			OriginalPrincipal:   slot.OriginalPrincipal,
			Share:               slot.Share,
			AccumulatedDeposits: slot.AccumulatedDeposits,
			FeeGrowthDebtA:      slot.FeeGrowthDebtA,
			FeeGrowthDebtB:      slot.FeeGrowthDebtB,
			Active:              slot.Active,
			CreatedAtTs:         slot.CreatedAtTs,
			LastDepositTs:       slot.LastDepositTs,
			LastWithdrawTs:      slot.LastWithdrawTs,
			Version:             slot.Version,
		})
	}

	for _, loan := range s.LoanSlots {
		snap.LoanSlots = append(snap.LoanSlots, LoanSlotSnapshot{
			ID:                loan.ID.String(),
			Borrower:          loan.Borrower.String(),
			Position:          loan.Position.String(),
			Principal:         loan.Principal,
			OriginalPrincipal: loan.OriginalPrincipal,
			Share:             loan.Share,
			Reserve:           loan.Reserve,
			DurationIdx:       loan.DurationIdx,
			DebtIndexAtBorrow: loan.DebtIndexAtBorrow,
			FeeGrowthDebtA:    loan.FeeGrowthDebtA,
			FeeGrowthDebtB:    loan.FeeGrowthDebtB,
			YieldEarnedA:      loan.YieldEarnedA,
			YieldEarnedB:      loan.YieldEarnedB,
			WithdrawnAmount:   loan.WithdrawnAmount,
			AvailableWithdraw: loan.AvailableWithdraw,
			Active:            loan.Active,
			CreatedAtTs:       loan.CreatedAtTs,
			LastPaymentTs:     loan.LastPaymentTs,
			ArrearsStartTs:    loan.ArrearsStartTs,
			Version:           loan.Version,
		})
	}

	return snap
}

// ToCoreState converts a loaded snapshot back into the core's typed
// form. Asset symbols are re-registered here so balance keys resolve to
// the same IDs the restored positions will use.
func (sd *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	s := &core.SnapshotState{
		Sequence:        sd.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(sd.Balances)),
		Positions:       make([]*state.LoanPosition, 0, len(sd.Positions)),
		DepositSlots:    make([]*state.DepositSlot, 0, len(sd.DepositSlots)),
		LoanSlots:       make([]*state.LoanSlot, 0, len(sd.LoanSlots)),
		SequenceState:   sd.SequenceState,
		IdempotencyKeys: sd.IdempotencyKeys,
	}

	if len(sd.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(sd.StateHash))
	}
	copy(s.StateHash[:], sd.StateHash)

	for _, row := range sd.Balances {
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(row.Scope),
			SubType: ledger.AccountSubType(row.SubType),
			AssetID: ledger.RegisterAsset(row.Asset),
		}
		if row.EntityID != "" {
			entity, err := uuid.Parse(row.EntityID)
			if err != nil {
				return nil, fmt.Errorf("balance entity_id %q: %w", row.EntityID, err)
			}
			key.EntityID = entity
		}
		s.Balances[key] = row.Balance
	}

	for _, ps := range sd.Positions {
		id, err := uuid.Parse(ps.ID)
		if err != nil {
			return nil, fmt.Errorf("position id %q: %w", ps.ID, err)
		}
		s.Positions = append(s.Positions, &state.LoanPosition{
			ID: id,
			Parameters: state.Parameters{
				FeeTier:         ps.FeeTier,
				TickLower:       ps.TickLower,
				TickUpper:       ps.TickUpper,
				SlopeBeforeKink: ps.SlopeBeforeKink,
				SlopeAfterKink:  ps.SlopeAfterKink,
				KinkUtilization: ps.KinkUtilization,
				RiskFactor:      state.RiskFactor(ps.RiskFactor),
				FeeTokenA:       ps.FeeTokenA,
				FeeTokenB:       ps.FeeTokenB,
			},
			Liquidity:           ps.Liquidity,
			TotalShare:          ps.TotalShare,
			TotalBorrowed:       ps.TotalBorrowed,
			DebtIndex:           ps.DebtIndex,
			FeeGrowthGlobalA:    ps.FeeGrowthGlobalA,
			FeeGrowthGlobalB:    ps.FeeGrowthGlobalB,
			ActiveLoans:         ps.ActiveLoans,
			TotalInterestEarned: ps.TotalInterestEarned,
			State:               state.PositionState(ps.State),
			CreatedAtTs:         ps.CreatedAtTs,
			LastUpdateTs:        ps.LastUpdateTs,
			LastAccrualTs:       ps.LastAccrualTs,
			Version:             ps.Version,
		})
	}

	for _, ds := range sd.DepositSlots {
		lender, err := uuid.Parse(ds.Lender)
		if err != nil {
			return nil, fmt.Errorf("deposit slot lender %q: %w", ds.Lender, err)
		}
		position, err := uuid.Parse(ds.Position)
		if err != nil {
			return nil, fmt.Errorf("deposit slot position %q: %w", ds.Position, err)
		}
		s.DepositSlots = append(s.DepositSlots, &state.DepositSlot{
			Lender:              lender,
			Position:            position,
			OriginalPrincipal:   ds.OriginalPrincipal,
			Share:               ds.Share,
			AccumulatedDeposits: ds.AccumulatedDeposits,
			FeeGrowthDebtA:      ds.FeeGrowthDebtA,
			FeeGrowthDebtB:      ds.FeeGrowthDebtB,
			Active:              ds.Active,
			CreatedAtTs:         ds.CreatedAtTs,
			LastDepositTs:       ds.LastDepositTs,
			LastWithdrawTs:      ds.LastWithdrawTs,
			Version:             ds.Version,
		})
	}

	for _, ls := range sd.LoanSlots {
		id, err := uuid.Parse(ls.ID)
		if err != nil {
			return nil, fmt.Errorf("loan slot id %q: %w", ls.ID, err)
		}
		borrower, err := uuid.Parse(ls.Borrower)
		if err != nil {
			return nil, fmt.Errorf("loan slot borrower %q: %w", ls.Borrower, err)
		}
		position, err := uuid.Parse(ls.Position)
		if err != nil {
			return nil, fmt.Errorf("loan slot position %q: %w", ls.Position, err)
		}
		s.LoanSlots = append(s.LoanSlots, &state.LoanSlot{
			ID:                id,
			Borrower:          borrower,
			Position:          position,
			Principal:         ls.Principal,
			OriginalPrincipal: ls.OriginalPrincipal,
			Share:             ls.Share,
			Reserve:           ls.Reserve,
			DurationIdx:       ls.DurationIdx,
			DebtIndexAtBorrow: ls.DebtIndexAtBorrow,
			FeeGrowthDebtA:    ls.FeeGrowthDebtA,
			FeeGrowthDebtB:    ls.FeeGrowthDebtB,
			YieldEarnedA:      ls.YieldEarnedA,
			YieldEarnedB:      ls.YieldEarnedB,
			WithdrawnAmount:   ls.WithdrawnAmount,
			AvailableWithdraw: ls.AvailableWithdraw,
			Active:            ls.Active,
			CreatedAtTs:       ls.CreatedAtTs,
			LastPaymentTs:     ls.LastPaymentTs,
			ArrearsStartTs:    ls.ArrearsStartTs,
			Version:           ls.Version,
		})
	}

	return s, nil
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are written
// unverified; MarkVerified flips the flag after a replay check.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on
// a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used
// for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, position_id, payload,
		       op_payload, state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PositionID,
			&e.Payload, &e.OpPayload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
