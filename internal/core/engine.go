package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/event"
	"github.com/firyx-protocol/lendcore/internal/ledger"
	fpmath "github.com/firyx-protocol/lendcore/internal/math"
	"github.com/firyx-protocol/lendcore/internal/observability"
	"github.com/firyx-protocol/lendcore/internal/state"
)

// LendingCore is the single-threaded event processor. Every mutating
// operation flows through ProcessEvent: dedup, ordering, lazy debt
// accrual, share-ledger mutation, journal generation, state hashing,
// and output emission all happen on one goroutine so the event log is
// a total order.
type LendingCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	positionManager   *state.PositionManager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	exponentMode      fpmath.ExponentMode

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one entry of the event log plus its side artifacts.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Result is the typed realized outcome for the triggering
	// operation, published outbound and projected. Nil for derived
	// entries that only extend the hash chain.
	Result any
}

func NewLendingCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	exponentMode fpmath.ExponentMode,
) *LendingCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)
	positionMgr := state.NewPositionManager()

	// Capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &LendingCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		positionManager:   positionMgr,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		exponentMode:      exponentMode,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *LendingCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Lazy accrual. The debt index must be current before any
	// operation reads or mutates the share ledger. A step that moved
	// the index is recorded as its own derived DebtIndexUpdated entry,
	// sequenced ahead of the triggering operation.
	pos, err := c.positionFor(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "unknown_position").Inc()
		}
		return err
	}
	if pos != nil {
		c.accrueAndEmit(pos, evt.Timestamp())
	}

	// Step 4: Event dispatch
	batches, result, err := c.dispatchEvent(evt, pos)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 5-8: validate, apply, hash, and wrap each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for i, batch := range batches {
		// Empty batches (state-only operations like CreatePosition and
		// DeactivatePosition) produce no journals but still need an
		// envelope in the event log.
		if len(batch.Journals) > 0 {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		stateDigest := c.computeStateDigest(batch, pos)
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			PositionID:     evt.PositionID(),
			Timestamp:      time.Unix(evt.Timestamp(), 0).UTC(),
			SourceSequence: sourceSequence,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		output := CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		}

		// The typed result rides on the first output only; follow-up
		// batches (settled-yield legs) are bookkeeping for the same op.
		if i == 0 {
			output.Result = result
			if result != nil {
				if payload, err := json.Marshal(result); err == nil {
					envelope.Payload = payload
				}
			}
			// Retain the originating op so restart replay can
			// re-process the log through this same pipeline.
			if opPayload, err := json.Marshal(evt); err == nil {
				envelope.OpPayload = opPayload
			}
		}

		outputs = append(outputs, output)
		c.sequence++
	}

	// Step 9: Post-checks
	if err := c.postCheckInvariants(pos); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 10: Emit outputs. Persist channel uses BLOCKING send
	// (backpressure), projection channel uses NON-BLOCKING send with
	// silent drop.
	for _, output := range outputs {
		// Persistence: blocking send — the core stalls until the
		// persistence worker drains. This guarantees no event is lost.
		c.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection
		// workers can rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			// Silently dropped — projection will catch up via rebuild
		}
	}

	// Step 11: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *LendingCore) getPartition(evt event.Event) string {
	if positionID := evt.PositionID(); positionID != nil {
		return fmt.Sprintf("position:%s", *positionID)
	}
	return "global"
}

// positionFor resolves the event's position aggregate. CreatePosition
// has no existing position and returns nil.
func (c *LendingCore) positionFor(evt event.Event) (*state.LoanPosition, error) {
	if _, ok := evt.(*event.CreatePosition); ok {
		return nil, nil
	}

	positionID := evt.PositionID()
	if positionID == nil {
		return nil, nil
	}

	id, err := uuid.Parse(*positionID)
	if err != nil {
		return nil, fmt.Errorf("invalid position id %q: %w", *positionID, err)
	}

	return c.positionManager.GetPosition(id)
}

// accrueAndEmit brings the position's debt index up to the operation
// timestamp. When the step accrued interest it is recorded as a derived
// DebtIndexUpdated entry with its own sequence, its own journal batch
// funding the fee pool, and its own link in the hash chain.
func (c *LendingCore) accrueAndEmit(pos *state.LoanPosition, nowTs int64) {
	accrual := state.Accrue(pos, nowTs, c.exponentMode)
	if !accrual.Changed() {
		return
	}

	// Allocate a dedicated sequence for this derived entry so it sits
	// ahead of the triggering operation in the log.
	accrualSeq := c.sequence
	c.sequence++

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	eventRef := fmt.Sprintf("accrual:%s:%d", pos.ID, accrualSeq)

	var batch *ledger.Batch
	if accrual.Interest > 0 {
		var err error
		batch, err = c.journalGen.GenerateInterestAccrual(pos.ID, eventRef, accrual.Interest, assetA, nowTs)
		if err != nil {
			panic(fmt.Sprintf("FATAL: accrual journal generation failed: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: accrual batch apply failed: %v", err))
		}
	}

	stateDigest := c.computeStateDigest(batch, pos)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(accrualSeq, stateDigest)

	positionID := pos.ID.String()
	result := &event.DebtIndexUpdatedResult{
		Position:        pos.ID,
		OldDebtIdx:      accrual.OldIndex,
		NewDebtIdx:      accrual.NewIndex,
		AprBps:          accrual.AprBps,
		TimeElapsed:     accrual.Elapsed,
		InterestAccrued: accrual.Interest,
		Ts:              nowTs,
	}
	payload, _ := json.Marshal(result)

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       accrualSeq,
			IdempotencyKey: eventRef,
			EventType:      event.EventTypeDebtIndexUpdated,
			PositionID:     &positionID,
			Timestamp:      time.Unix(nowTs, 0).UTC(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		StateDelta: stateDigest,
		Result:     result,
	}

	// Blocking send — guarantees the derived entry is never lost
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
	}

	if c.metrics != nil {
		c.metrics.AccrualSteps.Inc()
		c.metrics.InterestAccrued.Add(float64(accrual.Interest))
	}
}

// computeStateDigest creates canonical bytes for the state hash:
// affected account balances followed by the position aggregate.
func (c *LendingCore) computeStateDigest(batch *ledger.Batch, pos *state.LoanPosition) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+160)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	if pos != nil {
		digest = append(digest, pos.CanonicalBytes()...)
	}

	return digest
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

// postCheckInvariants validates invariants after batch application
func (c *LendingCore) postCheckInvariants(pos *state.LoanPosition) error {
	if pos != nil {
		assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
		if err := c.validator.ValidatePoolAccountsNonNegative(pos.ID, assetA); err != nil {
			return err
		}

		// Ledger pool liquidity mirrors the share-ledger aggregate:
		// what is undeployed in the pool is liquidity minus borrowed.
		poolLiquidity := c.balanceTracker.GetPoolLiquidity(pos.ID, assetA)
		if poolLiquidity != pos.AvailableBorrow() {
			return fmt.Errorf("pool liquidity drift for position %s: ledger=%d share ledger=%d",
				pos.ID, poolLiquidity, pos.AvailableBorrow())
		}

		// Every share is held by exactly one deposit slot.
		if sum := c.positionManager.SumDepositShares(pos.ID); sum != pos.TotalShare {
			return fmt.Errorf("share sum drift for position %s: slots=%d totalShare=%d",
				pos.ID, sum, pos.TotalShare)
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("global balance check at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *LendingCore) dispatchEvent(evt event.Event, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	switch e := evt.(type) {
	case *event.CreatePosition:
		return c.handleCreatePosition(e)
	case *event.DepositLiquidity:
		return c.handleDepositLiquidity(e, pos)
	case *event.BorrowLiquidity:
		return c.handleBorrowLiquidity(e, pos)
	case *event.RepayLoan:
		return c.handleRepayLoan(e, pos)
	case *event.ClaimDepositYield:
		return c.handleClaimDepositYield(e, pos)
	case *event.ClaimYieldAndRepay:
		return c.handleClaimYieldAndRepay(e, pos)
	case *event.WithdrawDeposit:
		return c.handleWithdrawDeposit(e, pos)
	case *event.DeactivatePosition:
		return c.handleDeactivatePosition(e, pos)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *LendingCore) handleCreatePosition(evt *event.CreatePosition) ([]*ledger.Batch, any, error) {
	params := state.Parameters{
		FeeTier:         evt.FeeTier,
		TickLower:       evt.TickLower,
		TickUpper:       evt.TickUpper,
		SlopeBeforeKink: evt.SlopeBeforeKink,
		SlopeAfterKink:  evt.SlopeAfterKink,
		KinkUtilization: evt.KinkUtilization,
		RiskFactor:      state.RiskFactor(evt.RiskFactor),
		FeeTokenA:       evt.FeeTokenA,
		FeeTokenB:       evt.FeeTokenB,
	}

	pos, err := c.positionManager.CreatePosition(evt.Position, params, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	// Register fee token assets up front so journal generation never
	// sees an unknown asset.
	ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	ledger.RegisterAsset(pos.Parameters.FeeTokenB)

	batch := c.emptyBatch(evt.IdempotencyKey(), evt.Ts)
	result := &event.PositionCreatedResult{
		Position:        pos.ID,
		FeeTier:         params.FeeTier,
		TickLower:       params.TickLower,
		TickUpper:       params.TickUpper,
		SlopeBeforeKink: params.SlopeBeforeKink,
		SlopeAfterKink:  params.SlopeAfterKink,
		KinkUtilization: params.KinkUtilization,
		RiskFactor:      evt.RiskFactor,
		FeeTokenA:       params.FeeTokenA,
		FeeTokenB:       params.FeeTokenB,
		Ts:              evt.Ts,
	}

	return []*ledger.Batch{batch}, result, nil
}

func (c *LendingCore) handleDepositLiquidity(evt *event.DepositLiquidity, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	slot := c.positionManager.GetOrCreateDepositSlot(evt.Lender, evt.Position)

	depositResult, err := pos.DepositLiquidity(slot, evt.Amount, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	batch, err := c.journalGen.GenerateDeposit(evt.Position, evt.Lender, evt.IdempotencyKey(), evt.Amount, assetA, evt.Ts)
	if err != nil {
		return nil, nil, err
	}
	batches := []*ledger.Batch{batch}

	// Yield settled by the deposit-time snapshot reset is paid out as
	// an implicit claim in the same unit of work.
	if settled := c.settledYieldBatch(pos, evt.Lender, evt.IdempotencyKey(), depositResult.SettledYieldA, depositResult.SettledYieldB, evt.Ts); settled != nil {
		batches = append(batches, settled)
	}

	result := &event.DepositedResult{
		Position:      evt.Position,
		Lender:        evt.Lender,
		Amount:        evt.Amount,
		ShareMinted:   depositResult.ShareMinted,
		Liquidity:     pos.Liquidity,
		TotalShare:    pos.TotalShare,
		SettledYieldA: depositResult.SettledYieldA,
		SettledYieldB: depositResult.SettledYieldB,
		Ts:            evt.Ts,
	}

	return batches, result, nil
}

func (c *LendingCore) handleBorrowLiquidity(evt *event.BorrowLiquidity, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	if _, err := c.positionManager.GetLoanSlot(evt.LoanSlot); err == nil {
		return nil, nil, fmt.Errorf("%w: loan slot %s already exists", state.ErrInvalidArgument, evt.LoanSlot)
	}

	// The slot is registered only once the borrow has validated, so a
	// rejected op leaves the registry untouched and the slot id free.
	loan := state.NewLoanSlot(evt.LoanSlot, evt.Borrower, evt.Position)

	borrowResult, err := pos.BorrowLiquidity(loan, evt.SharePctBps, evt.DurationIdx, evt.Ts, c.exponentMode)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	batch, err := c.journalGen.GenerateBorrow(evt.Position, evt.Borrower, evt.IdempotencyKey(),
		borrowResult.Borrowed, borrowResult.Reserve, assetA, evt.Ts)
	if err != nil {
		return nil, nil, err
	}
	c.positionManager.RegisterLoanSlot(loan)

	result := &event.BorrowedResult{
		Position:        evt.Position,
		Borrower:        evt.Borrower,
		LoanSlot:        evt.LoanSlot,
		Amount:          borrowResult.Borrowed,
		Reserve:         borrowResult.Reserve,
		DurationIdx:     evt.DurationIdx,
		DebtIdxAtBorrow: borrowResult.DebtIndexAtBorrow,
		AprBps:          borrowResult.AprBps,
		NewUtilization:  borrowResult.NewUtilization,
		TotalBorrowed:   pos.TotalBorrowed,
		AvailableBorrow: borrowResult.AvailableBorrow,
		Ts:              evt.Ts,
	}

	return []*ledger.Batch{batch}, result, nil
}

func (c *LendingCore) handleRepayLoan(evt *event.RepayLoan, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	loan, err := c.positionManager.GetLoanSlot(evt.LoanSlot)
	if err != nil {
		return nil, nil, err
	}
	if loan.Borrower != evt.Borrower {
		return nil, nil, fmt.Errorf("%w: loan slot %s is not owned by %s", state.ErrInvalidArgument, evt.LoanSlot, evt.Borrower)
	}

	repayResult, err := pos.RepayLoan(loan, evt.Amount, evt.RepayRemaining, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	batch, err := c.journalGen.GenerateRepay(evt.Position, evt.Borrower, evt.IdempotencyKey(),
		repayResult.PrincipalPortion, repayResult.InterestPortion, repayResult.ReserveReleased, assetA, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	result := &event.RepaidResult{
		Position:           evt.Position,
		Borrower:           evt.Borrower,
		LoanSlot:           evt.LoanSlot,
		PrincipalPortion:   repayResult.PrincipalPortion,
		InterestPortion:    repayResult.InterestPortion,
		RemainingPrincipal: repayResult.RemainingPrincipal,
		ReserveReleased:    repayResult.ReserveReleased,
		LoanFullyRepaid:    repayResult.FullyRepaid,
		Ts:                 evt.Ts,
	}

	return []*ledger.Batch{batch}, result, nil
}

func (c *LendingCore) handleClaimDepositYield(evt *event.ClaimDepositYield, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	slot, err := c.positionManager.GetDepositSlot(evt.Lender, evt.Position)
	if err != nil {
		return nil, nil, err
	}

	yield, err := pos.ClaimDepositYield(slot, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	assetB := ledger.RegisterAsset(pos.Parameters.FeeTokenB)
	batch, err := c.journalGen.GenerateYieldClaim(evt.Position, evt.Lender, evt.IdempotencyKey(),
		yield.YieldA, assetA, yield.YieldB, assetB, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	result := &event.YieldClaimedResult{
		Position:          evt.Position,
		Owner:             evt.Lender,
		YieldAmount:       yield.YieldA + yield.YieldB,
		FeeAssetAAmount:   yield.YieldA,
		FeeAssetBAmount:   yield.YieldB,
		TotalRewardAssets: yield.RewardAssets,
		Ts:                evt.Ts,
	}

	return []*ledger.Batch{batch}, result, nil
}

func (c *LendingCore) handleClaimYieldAndRepay(evt *event.ClaimYieldAndRepay, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	loan, err := c.positionManager.GetLoanSlot(evt.LoanSlot)
	if err != nil {
		return nil, nil, err
	}
	if loan.Borrower != evt.Borrower {
		return nil, nil, fmt.Errorf("%w: loan slot %s is not owned by %s", state.ErrInvalidArgument, evt.LoanSlot, evt.Borrower)
	}

	// Resolve and validate the repay leg before the claim mutates the
	// slot, so a rejected op leaves both legs untouched. The default
	// repayment is funded by the pending yield, clamped to the debt; an
	// explicit amount or repay-remaining flag overrides that.
	if !loan.Active {
		return nil, nil, fmt.Errorf("%w: loan slot %s already repaid", state.ErrSlotInactive, loan.ID)
	}
	pendingA, _ := pos.PendingLoanYield(loan)
	debt := loan.CurrentDebt(pos.DebtIndex)
	repayAmount := evt.RepayAmount
	repayRemaining := evt.RepayRemaining
	if repayAmount == 0 && !repayRemaining {
		repayAmount = pendingA
		if repayAmount > debt {
			repayAmount = debt
		}
	}
	if !repayRemaining {
		if repayAmount <= 0 {
			return nil, nil, fmt.Errorf("%w: no pending yield and no repay amount for loan slot %s", state.ErrInvalidArgument, evt.LoanSlot)
		}
		if repayAmount > debt {
			return nil, nil, fmt.Errorf("%w: repay %d exceeds debt %d", state.ErrInvalidRepayAmount, repayAmount, debt)
		}
	}

	yield, err := pos.ClaimLoanYield(loan, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	repayResult, err := pos.RepayLoan(loan, repayAmount, repayRemaining, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	assetB := ledger.RegisterAsset(pos.Parameters.FeeTokenB)

	claimBatch, err := c.journalGen.GenerateYieldClaim(evt.Position, evt.Borrower, evt.IdempotencyKey(),
		yield.YieldA, assetA, yield.YieldB, assetB, evt.Ts)
	if err != nil {
		return nil, nil, err
	}
	repayBatch, err := c.journalGen.GenerateRepay(evt.Position, evt.Borrower, evt.IdempotencyKey(),
		repayResult.PrincipalPortion, repayResult.InterestPortion, repayResult.ReserveReleased, assetA, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	loanSlot := evt.LoanSlot
	result := &event.YieldClaimedAndRepaidResult{
		Yield: event.YieldClaimedResult{
			Position:          evt.Position,
			Owner:             evt.Borrower,
			LoanSlot:          &loanSlot,
			YieldAmount:       yield.YieldA + yield.YieldB,
			FeeAssetAAmount:   yield.YieldA,
			FeeAssetBAmount:   yield.YieldB,
			TotalRewardAssets: yield.RewardAssets,
			Ts:                evt.Ts,
		},
		Repaid: event.RepaidResult{
			Position:           evt.Position,
			Borrower:           evt.Borrower,
			LoanSlot:           evt.LoanSlot,
			PrincipalPortion:   repayResult.PrincipalPortion,
			InterestPortion:    repayResult.InterestPortion,
			RemainingPrincipal: repayResult.RemainingPrincipal,
			ReserveReleased:    repayResult.ReserveReleased,
			LoanFullyRepaid:    repayResult.FullyRepaid,
			Ts:                 evt.Ts,
		},
	}

	return []*ledger.Batch{claimBatch, repayBatch}, result, nil
}

func (c *LendingCore) handleWithdrawDeposit(evt *event.WithdrawDeposit, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	slot, err := c.positionManager.GetDepositSlot(evt.Lender, evt.Position)
	if err != nil {
		return nil, nil, err
	}

	withdrawResult, err := pos.WithdrawDeposit(slot, evt.Amount, evt.Ts)
	if err != nil {
		return nil, nil, err
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	batch, err := c.journalGen.GenerateWithdraw(evt.Position, evt.Lender, evt.IdempotencyKey(), evt.Amount, assetA, evt.Ts)
	if err != nil {
		return nil, nil, err
	}
	batches := []*ledger.Batch{batch}

	if settled := c.settledYieldBatch(pos, evt.Lender, evt.IdempotencyKey(), withdrawResult.SettledYieldA, withdrawResult.SettledYieldB, evt.Ts); settled != nil {
		batches = append(batches, settled)
	}

	result := &event.WithdrawnResult{
		Position:    evt.Position,
		Lender:      evt.Lender,
		Amount:      withdrawResult.Amount,
		ShareBurned: withdrawResult.ShareBurned,
		Liquidity:   pos.Liquidity,
		TotalShare:  pos.TotalShare,
		SlotClosed:  withdrawResult.SlotClosed,
		Drained:     withdrawResult.Drained,
		Ts:          evt.Ts,
	}

	return batches, result, nil
}

func (c *LendingCore) handleDeactivatePosition(evt *event.DeactivatePosition, pos *state.LoanPosition) ([]*ledger.Batch, any, error) {
	if !pos.State.CanTransitionTo(state.PositionStateWindingDown) {
		return nil, nil, fmt.Errorf("%w: position %s is %s", state.ErrPositionInactive, pos.ID, pos.State)
	}

	pos.State = state.PositionStateWindingDown
	pos.LastUpdateTs = evt.Ts
	pos.Version++

	// An empty position drains immediately.
	pos.MaybeDrain()

	batch := c.emptyBatch(evt.IdempotencyKey(), evt.Ts)
	result := &event.PositionDeactivatedResult{
		Position:      pos.ID,
		Liquidity:     pos.Liquidity,
		TotalBorrowed: pos.TotalBorrowed,
		Ts:            evt.Ts,
	}

	return []*ledger.Batch{batch}, result, nil
}

// settledYieldBatch pays out yield settled by a deposit or withdraw
// snapshot reset. Returns nil when nothing was settled.
func (c *LendingCore) settledYieldBatch(pos *state.LoanPosition, lender uuid.UUID, eventRef string, yieldA, yieldB, ts int64) *ledger.Batch {
	if yieldA <= 0 && yieldB <= 0 {
		return nil
	}

	assetA := ledger.RegisterAsset(pos.Parameters.FeeTokenA)
	assetB := ledger.RegisterAsset(pos.Parameters.FeeTokenB)
	batch, err := c.journalGen.GenerateYieldClaim(pos.ID, lender, eventRef, yieldA, assetA, yieldB, assetB, ts)
	if err != nil {
		panic(fmt.Sprintf("FATAL: settled yield journal generation failed: %v", err))
	}
	return batch
}

func (c *LendingCore) emptyBatch(eventRef string, ts int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: ts,
		Journals:  []ledger.Journal{},
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Positions       []*state.LoanPosition
	DepositSlots    []*state.DepositSlot
	LoanSlots       []*state.LoanSlot
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart: load latest snapshot, then replay events.
func (c *LendingCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, pos := range snap.Positions {
		ledger.RegisterAsset(pos.Parameters.FeeTokenA)
		ledger.RegisterAsset(pos.Parameters.FeeTokenB)
		c.positionManager.SetPosition(pos)
	}
	for _, slot := range snap.DepositSlots {
		c.positionManager.SetDepositSlot(slot)
	}
	for _, slot := range snap.LoanSlots {
		c.positionManager.SetLoanSlot(slot)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
}

// SetReplayMode toggles log replay: events being re-processed from the
// event log already exist in Postgres, so the DB tier of the dedup
// check must be skipped or replay would treat every event as a
// duplicate. The LRU tier stays active and still catches ops the
// snapshot already covers.
func (c *LendingCore) SetReplayMode(on bool) {
	c.idempotency.skipDB = on
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *LendingCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *LendingCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LendingCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// GetBalance reads an account balance (query service use).
func (c *LendingCore) GetBalance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// PositionManager exposes the aggregate store for the query service.
// Read-only use outside the core goroutine requires external
// synchronization.
func (c *LendingCore) PositionManager() *state.PositionManager {
	return c.positionManager
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *LendingCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       c.positionManager.GetAllPositions(),
		DepositSlots:    c.positionManager.GetAllDepositSlots(),
		LoanSlots:       c.positionManager.GetAllLoanSlots(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
