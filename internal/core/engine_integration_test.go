package core_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/core"
	"github.com/firyx-protocol/lendcore/internal/event"
	"github.com/firyx-protocol/lendcore/internal/ledger"
	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// --- Test helpers ---

const ts0 = int64(1_700_000_000)

// newTestCore creates a LendingCore with buffered channels and no DB checker.
func newTestCore() (*core.LendingCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewLendingCore(0, persistChan, projChan, nil, nil, fpmath.ExponentModeIndex)
	return c, persistChan, projChan
}

// mustCreatePosition builds a creation op with the reference curve:
// slope 1000/500 bps around an 80% kink, standard risk factor.
func mustCreatePosition(positionID uuid.UUID, seq int64) *event.CreatePosition {
	return &event.CreatePosition{
		OpID:            uuid.New(),
		Position:        positionID,
		FeeTier:         3,
		TickLower:       -443_600,
		TickUpper:       443_600,
		SlopeBeforeKink: 1_000,
		SlopeAfterKink:  500,
		KinkUtilization: 8_000,
		RiskFactor:      1,
		FeeTokenA:       "USDC",
		FeeTokenB:       "SOL",
		Ts:              ts0,
		Seq:             seq,
	}
}

func mustDeposit(positionID, lender uuid.UUID, amount, ts, seq int64) *event.DepositLiquidity {
	return &event.DepositLiquidity{
		OpID:     uuid.New(),
		Position: positionID,
		Lender:   lender,
		Amount:   amount,
		Ts:       ts,
		Seq:      seq,
	}
}

func mustBorrow(positionID, borrower, loanSlot uuid.UUID, sharePctBps int64, ts, seq int64) *event.BorrowLiquidity {
	return &event.BorrowLiquidity{
		OpID:        uuid.New(),
		Position:    positionID,
		Borrower:    borrower,
		LoanSlot:    loanSlot,
		SharePctBps: sharePctBps,
		DurationIdx: 2, // 1 year
		Ts:          ts,
		Seq:         seq,
	}
}

func mustRepayRemaining(positionID, borrower, loanSlot uuid.UUID, ts, seq int64) *event.RepayLoan {
	return &event.RepayLoan{
		OpID:           uuid.New(),
		Position:       positionID,
		Borrower:       borrower,
		LoanSlot:       loanSlot,
		RepayRemaining: true,
		Ts:             ts,
		Seq:            seq,
	}
}

func mustClaimAndRepay(positionID, borrower, loanSlot uuid.UUID, repayAmount, ts, seq int64) *event.ClaimYieldAndRepay {
	return &event.ClaimYieldAndRepay{
		OpID:        uuid.New(),
		Position:    positionID,
		Borrower:    borrower,
		LoanSlot:    loanSlot,
		RepayAmount: repayAmount,
		Ts:          ts,
		Seq:         seq,
	}
}

func mustClaim(positionID, lender uuid.UUID, ts, seq int64) *event.ClaimDepositYield {
	return &event.ClaimDepositYield{
		OpID:     uuid.New(),
		Position: positionID,
		Lender:   lender,
		Ts:       ts,
		Seq:      seq,
	}
}

func mustWithdraw(positionID, lender uuid.UUID, amount, ts, seq int64) *event.WithdrawDeposit {
	return &event.WithdrawDeposit{
		OpID:     uuid.New(),
		Position: positionID,
		Lender:   lender,
		Amount:   amount,
		Ts:       ts,
		Seq:      seq,
	}
}

func mustDeactivate(positionID uuid.UUID, ts, seq int64) *event.DeactivatePosition {
	return &event.DeactivatePosition{
		OpID:     uuid.New(),
		Position: positionID,
		Ts:       ts,
		Seq:      seq,
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func usdcID(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC not registered")
	}
	return id
}

// ============================================================================
// Test: Position Creation
// ============================================================================

func TestCreatePosition_EmitsEnvelope(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()

	err := c.ProcessEvent(mustCreatePosition(positionID, 0))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	env := outputs[0].Envelope
	if env.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", env.Sequence)
	}
	if env.EventType != event.EventTypePositionCreated {
		t.Errorf("expected PositionCreated, got %v", env.EventType)
	}
	if len(env.Payload) == 0 {
		t.Error("expected realized result payload on the envelope")
	}
	if len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("creation should move no money, got %d journals", len(outputs[0].Batch.Journals))
	}

	result, ok := outputs[0].Result.(*event.PositionCreatedResult)
	if !ok {
		t.Fatalf("expected *PositionCreatedResult, got %T", outputs[0].Result)
	}
	if result.KinkUtilization != 8_000 {
		t.Errorf("expected kink 8000, got %d", result.KinkUtilization)
	}
}

func TestCreatePosition_DuplicateID_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	drainOutputs(persistCh)

	// Different op id, same position id
	err := c.ProcessEvent(mustCreatePosition(positionID, 1))
	if err == nil {
		t.Fatal("expected error for duplicate position id, got nil")
	}
}

// ============================================================================
// Test: Deposit Flow
// ============================================================================

func TestDepositLiquidity_MintsSharesAndFundsPool(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	batch := outputs[0].Batch
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	j := batch.Journals[0]
	if j.JournalType != ledger.JournalTypeDeposit {
		t.Errorf("expected JournalTypeDeposit, got %d", j.JournalType)
	}
	if j.Amount != 1_000_000 {
		t.Errorf("expected amount 1_000_000, got %d", j.Amount)
	}

	result, ok := outputs[0].Result.(*event.DepositedResult)
	if !ok {
		t.Fatalf("expected *DepositedResult, got %T", outputs[0].Result)
	}
	// Bootstrap deposit mints 1:1
	if result.ShareMinted != 1_000_000 {
		t.Errorf("expected 1_000_000 shares minted, got %d", result.ShareMinted)
	}

	asset := usdcID(t)
	poolKey := ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, asset)
	if got := c.GetBalance(poolKey); got != 1_000_000 {
		t.Errorf("expected pool liquidity 1_000_000, got %d", got)
	}
	walletKey := ledger.NewUserAccountKey(lender, ledger.SubTypeWallet, asset)
	if got := c.GetBalance(walletKey); got != -1_000_000 {
		t.Errorf("expected lender wallet -1_000_000 (net contributor), got %d", got)
	}
}

func TestDeposit_UnknownPosition_Fails(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.ProcessEvent(mustDeposit(uuid.New(), uuid.New(), 1_000, ts0, 0))
	if err == nil {
		t.Fatal("expected error for unknown position, got nil")
	}
}

// ============================================================================
// Test: Borrow Flow
// ============================================================================

func TestBorrow_DisbursesAndEscrowsReserve(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// 25% of 1M at 1y: util 2500 bps, APR = 1000 * 2500 / 8000 = 312 bps,
	// reserve = 250_000 * 312 / 10_000 = 7_800.
	err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2))
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	batch := outputs[0].Batch
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals (disburse + escrow), got %d", len(batch.Journals))
	}

	var disbursed, escrowed int64
	for _, j := range batch.Journals {
		switch j.JournalType {
		case ledger.JournalTypeBorrow:
			disbursed = j.Amount
		case ledger.JournalTypeReserveEscrow:
			escrowed = j.Amount
		}
	}
	if disbursed != 250_000 {
		t.Errorf("expected 250_000 disbursed, got %d", disbursed)
	}
	if escrowed != 7_800 {
		t.Errorf("expected 7_800 escrowed, got %d", escrowed)
	}

	result, ok := outputs[0].Result.(*event.BorrowedResult)
	if !ok {
		t.Fatalf("expected *BorrowedResult, got %T", outputs[0].Result)
	}
	if result.AprBps != 312 {
		t.Errorf("expected APR 312 bps, got %d", result.AprBps)
	}
	if result.NewUtilization != 2_500 {
		t.Errorf("expected utilization 2500 bps, got %d", result.NewUtilization)
	}
	if result.AvailableBorrow != 750_000 {
		t.Errorf("expected 750_000 available, got %d", result.AvailableBorrow)
	}

	asset := usdcID(t)
	if got := c.GetBalance(ledger.NewUserAccountKey(borrower, ledger.SubTypeWallet, asset)); got != 250_000-7_800 {
		t.Errorf("expected borrower wallet %d, got %d", 250_000-7_800, got)
	}
	if got := c.GetBalance(ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolReserve, asset)); got != 7_800 {
		t.Errorf("expected pool reserve 7_800, got %d", got)
	}
}

func TestBorrow_ExceedsAvailableLiquidity_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, uuid.New(), 6_000, ts0, 2)); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// 60% already borrowed; 50% of current liquidity exceeds what is free
	err := c.ProcessEvent(mustBorrow(positionID, borrower, uuid.New(), 5_000, ts0, 3))
	if err == nil {
		t.Fatal("expected insufficient liquidity error, got nil")
	}

	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("rejected borrow must emit nothing, got %d outputs", len(outputs))
	}
}

func TestBorrow_ReusedLoanSlot_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, uuid.New(), 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 1_000, ts0, 2)); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 1_000, ts0, 3))
	if err == nil {
		t.Fatal("expected error for reused loan slot, got nil")
	}
}

func TestBorrow_RejectedBorrowFreesSlotID(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, uuid.New(), 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, uuid.New(), 6_000, ts0, 2)); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// 60% borrowed; another 50% of liquidity exceeds the free 400_000.
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 5_000, ts0, 3)); err == nil {
		t.Fatal("expected insufficient liquidity error, got nil")
	}

	// The rejected borrow must leave no slot behind: not in snapshots,
	// and not blocking a retry with the same slot id.
	if slots := c.CreateSnapshotState().LoanSlots; len(slots) != 1 {
		t.Fatalf("expected 1 loan slot after rejection, got %d", len(slots))
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_000, ts0, 4)); err != nil {
		t.Fatalf("retry with same slot id after rejection failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	result, ok := outputs[0].Result.(*event.BorrowedResult)
	if !ok {
		t.Fatalf("expected *BorrowedResult, got %T", outputs[0].Result)
	}
	if result.Amount != 200_000 {
		t.Errorf("expected 200_000 disbursed on retry, got %d", result.Amount)
	}
}

// ============================================================================
// Test: Accrual and Repayment
// ============================================================================

func TestRepay_AfterOneYear_AccruesThenSettles(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2)); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// One year at 312 bps on 250_000 principal accrues exactly 7_800.
	ts1 := ts0 + fpmath.SecondsPerYear
	err := c.ProcessEvent(mustRepayRemaining(positionID, borrower, loanSlot, ts1, 3))
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected derived accrual entry + repay entry, got %d outputs", len(outputs))
	}

	// First output is the derived DebtIndexUpdated entry, sequenced ahead
	// of the triggering repay.
	accrualEnv := outputs[0].Envelope
	if accrualEnv.EventType != event.EventTypeDebtIndexUpdated {
		t.Fatalf("expected DebtIndexUpdated first, got %v", accrualEnv.EventType)
	}
	accrual, ok := outputs[0].Result.(*event.DebtIndexUpdatedResult)
	if !ok {
		t.Fatalf("expected *DebtIndexUpdatedResult, got %T", outputs[0].Result)
	}
	if accrual.OldDebtIdx != fpmath.IndexScale {
		t.Errorf("expected old index %d, got %d", fpmath.IndexScale, accrual.OldDebtIdx)
	}
	if accrual.NewDebtIdx != 1_031_200_000_000 {
		t.Errorf("expected new index 1_031_200_000_000, got %d", accrual.NewDebtIdx)
	}
	if accrual.InterestAccrued != 7_800 {
		t.Errorf("expected 7_800 interest accrued, got %d", accrual.InterestAccrued)
	}
	if outputs[1].Envelope.Sequence != accrualEnv.Sequence+1 {
		t.Errorf("repay must follow the accrual entry: %d vs %d",
			outputs[1].Envelope.Sequence, accrualEnv.Sequence)
	}

	repaid, ok := outputs[1].Result.(*event.RepaidResult)
	if !ok {
		t.Fatalf("expected *RepaidResult, got %T", outputs[1].Result)
	}
	if repaid.InterestPortion != 7_800 {
		t.Errorf("expected interest portion 7_800, got %d", repaid.InterestPortion)
	}
	if repaid.PrincipalPortion != 250_000 {
		t.Errorf("expected principal portion 250_000, got %d", repaid.PrincipalPortion)
	}
	if repaid.ReserveReleased != 7_800 {
		t.Errorf("expected reserve release 7_800, got %d", repaid.ReserveReleased)
	}
	if !repaid.LoanFullyRepaid {
		t.Error("expected loan fully repaid")
	}

	asset := usdcID(t)
	// Interest boundary settles to zero after a full interest repayment
	if got := c.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalInterest, asset)); got != 0 {
		t.Errorf("expected external interest boundary 0, got %d", got)
	}
	// Accrued interest sits in the fee pool until claimed
	if got := c.GetBalance(ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolFees, asset)); got != 7_800 {
		t.Errorf("expected pool fees 7_800, got %d", got)
	}
	// Borrower paid exactly the interest
	if got := c.GetBalance(ledger.NewUserAccountKey(borrower, ledger.SubTypeWallet, asset)); got != -7_800 {
		t.Errorf("expected borrower wallet -7_800, got %d", got)
	}
}

func TestClaimDepositYield_PaysOutAndIsIdempotent(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2)); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	ts1 := ts0 + fpmath.SecondsPerYear
	if err := c.ProcessEvent(mustRepayRemaining(positionID, borrower, loanSlot, ts1, 3)); err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustClaim(positionID, lender, ts1, 4))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	claimed, ok := outputs[0].Result.(*event.YieldClaimedResult)
	if !ok {
		t.Fatalf("expected *YieldClaimedResult, got %T", outputs[0].Result)
	}
	if claimed.FeeAssetAAmount != 7_800 {
		t.Errorf("expected 7_800 yield in fee asset A, got %d", claimed.FeeAssetAAmount)
	}
	if claimed.TotalRewardAssets != 1 {
		t.Errorf("expected 1 reward asset, got %d", claimed.TotalRewardAssets)
	}

	asset := usdcID(t)
	if got := c.GetBalance(ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolFees, asset)); got != 0 {
		t.Errorf("expected empty fee pool after claim, got %d", got)
	}
	// Lender ends up ahead by exactly the accrued interest
	if got := c.GetBalance(ledger.NewUserAccountKey(lender, ledger.SubTypeWallet, asset)); got != -1_000_000+7_800 {
		t.Errorf("expected lender wallet %d, got %d", -1_000_000+7_800, got)
	}

	// Second claim with no new fee growth pays nothing
	if err := c.ProcessEvent(mustClaim(positionID, lender, ts1, 5)); err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	outputs = drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	claimed, ok = outputs[0].Result.(*event.YieldClaimedResult)
	if !ok {
		t.Fatalf("expected *YieldClaimedResult, got %T", outputs[0].Result)
	}
	if claimed.YieldAmount != 0 {
		t.Errorf("expected zero yield on repeat claim, got %d", claimed.YieldAmount)
	}
}

func TestClaimYieldAndRepay_RejectedRepayLeavesClaimIntact(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2)); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// One year in, the debt is 257_800. An explicit repay above it must
	// reject the whole op, leaving both legs untouched.
	ts1 := ts0 + fpmath.SecondsPerYear
	if err := c.ProcessEvent(mustClaimAndRepay(positionID, borrower, loanSlot, 300_000, ts1, 3)); err == nil {
		t.Fatal("expected over-repay rejection, got nil")
	}

	// Only the derived accrual entry may have been emitted.
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected only the accrual entry, got %d outputs", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypeDebtIndexUpdated {
		t.Fatalf("expected DebtIndexUpdated, got %v", outputs[0].Envelope.EventType)
	}

	// The rejected op must not have consumed the loan's pending yield:
	// the default yield-funded repayment still pays out in full.
	if err := c.ProcessEvent(mustClaimAndRepay(positionID, borrower, loanSlot, 0, ts1, 4)); err != nil {
		t.Fatalf("claim-and-repay after rejection failed: %v", err)
	}

	outputs = drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected claim + repay batches, got %d outputs", len(outputs))
	}
	result, ok := outputs[0].Result.(*event.YieldClaimedAndRepaidResult)
	if !ok {
		t.Fatalf("expected *YieldClaimedAndRepaidResult, got %T", outputs[0].Result)
	}
	// The loan's 2500 bps slice of the 7_800 distributed.
	if result.Yield.FeeAssetAAmount != 1_950 {
		t.Errorf("expected 1_950 yield, got %d", result.Yield.FeeAssetAAmount)
	}
	if result.Repaid.InterestPortion != 1_950 {
		t.Errorf("expected 1_950 repaid as interest, got %d", result.Repaid.InterestPortion)
	}

	// With the yield consumed and no amount given there is nothing to
	// repay; the op rejects before touching the slot.
	if err := c.ProcessEvent(mustClaimAndRepay(positionID, borrower, loanSlot, 0, ts1, 5)); err == nil {
		t.Fatal("expected rejection with no pending yield and no amount")
	}
}

func TestDeposit_AfterAccrual_SettlesPendingYield(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, uuid.New(), 2_500, ts0, 2)); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// A second deposit one year later settles the yield accrued on the
	// slot's existing share as an implicit claim.
	ts1 := ts0 + fpmath.SecondsPerYear
	err := c.ProcessEvent(mustDeposit(positionID, lender, 500_000, ts1, 3))
	if err != nil {
		t.Fatalf("second deposit failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	// Derived accrual entry + deposit batch + settled-yield batch
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypeDebtIndexUpdated {
		t.Fatalf("expected accrual entry first, got %v", outputs[0].Envelope.EventType)
	}

	result, ok := outputs[1].Result.(*event.DepositedResult)
	if !ok {
		t.Fatalf("expected *DepositedResult, got %T", outputs[1].Result)
	}
	if result.SettledYieldA != 7_800 {
		t.Errorf("expected 7_800 settled yield, got %d", result.SettledYieldA)
	}

	// The settled-yield batch rides the same operation with no result of
	// its own.
	if outputs[2].Result != nil {
		t.Errorf("follow-up batch must carry no result, got %T", outputs[2].Result)
	}
	if len(outputs[2].Batch.Journals) != 1 {
		t.Fatalf("expected 1 settled-yield journal, got %d", len(outputs[2].Batch.Journals))
	}
	if outputs[2].Batch.Journals[0].JournalType != ledger.JournalTypeYieldClaim {
		t.Errorf("expected JournalTypeYieldClaim, got %d", outputs[2].Batch.Journals[0].JournalType)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateDeposit_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	deposit := mustDeposit(positionID, uuid.New(), 1_000_000, ts0, 1)

	if err := c.ProcessEvent(deposit); err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}
	outputs1 := drainOutputs(persistCh)
	if len(outputs1) != 1 {
		t.Fatalf("expected 1 output on first process, got %d", len(outputs1))
	}

	// Process same event again — should be silently ignored
	if err := c.ProcessEvent(deposit); err != nil {
		t.Fatalf("duplicate deposit should not error: %v", err)
	}
	if outputs2 := drainOutputs(persistCh); len(outputs2) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs2))
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 100_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// Skip seq 2, send seq 3 — should detect gap
	err := c.ProcessEvent(mustDeposit(positionID, lender, 100_000, ts0, 3))
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	positionID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	lender := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	borrower := uuid.MustParse("99999999-8888-7777-6666-555555555555")
	loanSlot := uuid.MustParse("12121212-3434-5656-7878-909090909090")

	processEvents := func() [][32]byte {
		c, persistCh, _ := newTestCore()

		events := []event.Event{
			mustCreatePosition(positionID, 0),
			mustDeposit(positionID, lender, 1_000_000, ts0, 1),
			mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2),
			mustRepayRemaining(positionID, borrower, loanSlot, ts0+fpmath.SecondsPerYear, 3),
		}
		for i, evt := range events {
			if err := c.ProcessEvent(evt); err != nil {
				t.Fatalf("ProcessEvent %d failed: %v", i, err)
			}
		}

		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			hashes[i] = o.Envelope.StateHash
		}
		return hashes
	}

	hashes1 := processEvents()
	hashes2 := processEvents()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

func TestStateHashChain_PrevHashLinks(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	events := []event.Event{
		mustCreatePosition(positionID, 0),
		mustDeposit(positionID, lender, 1_000_000, ts0, 1),
		mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2),
		mustRepayRemaining(positionID, borrower, loanSlot, ts0+fpmath.SecondsPerYear, 3),
	}
	for i, evt := range events {
		if err := c.ProcessEvent(evt); err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 5 {
		t.Fatalf("expected 5 outputs (incl. derived accrual), got %d", len(outputs))
	}

	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d prev_hash does not link to output %d state_hash", i, i-1)
		}
		if outputs[i].Envelope.Sequence != outputs[i-1].Envelope.Sequence+1 {
			t.Errorf("output %d sequence not contiguous: %d after %d",
				i, outputs[i].Envelope.Sequence, outputs[i-1].Envelope.Sequence)
		}
	}

	if c.GetStateHash() != outputs[len(outputs)-1].Envelope.StateHash {
		t.Error("chain tip does not match last emitted state hash")
	}
}

// ============================================================================
// Test: Share Conservation
// ============================================================================

func TestShareSum_TracksTotalShareAcrossLenders(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lenderA := uuid.New()
	lenderB := uuid.New()
	borrower := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lenderA, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit A failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lenderB, 500_000, ts0, 2)); err != nil {
		t.Fatalf("deposit B failed: %v", err)
	}
	if err := c.ProcessEvent(mustBorrow(positionID, borrower, uuid.New(), 2_500, ts0, 3)); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	// A year of accrual, a pro-rata top-up, and a partial withdrawal all
	// mint or burn shares; every one of them must keep the slot shares
	// summing to the position total.
	ts1 := ts0 + fpmath.SecondsPerYear
	if err := c.ProcessEvent(mustDeposit(positionID, lenderB, 300_000, ts1, 4)); err != nil {
		t.Fatalf("second deposit B failed: %v", err)
	}
	if err := c.ProcessEvent(mustWithdraw(positionID, lenderA, 200_000, ts1, 5)); err != nil {
		t.Fatalf("withdraw A failed: %v", err)
	}
	drainOutputs(persistCh)

	pm := c.PositionManager()
	pos, err := pm.GetPosition(positionID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if sum := pm.SumDepositShares(positionID); sum != pos.TotalShare {
		t.Errorf("slot shares sum to %d, position total is %d", sum, pos.TotalShare)
	}
	if pos.TotalShare != 1_600_000 {
		t.Errorf("expected 1_600_000 total shares, got %d", pos.TotalShare)
	}
}

// ============================================================================
// Test: Deactivation and Wind-down
// ============================================================================

func TestDeactivatePosition_BlocksDepositsAllowsWithdraw(t *testing.T) {
	c, persistCh, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(positionID, lender, 1_000_000, ts0, 1)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeactivate(positionID, ts0, 2)); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	drainOutputs(persistCh)

	// Deposits rejected while winding down
	err := c.ProcessEvent(mustDeposit(positionID, lender, 100_000, ts0, 3))
	if err == nil {
		t.Fatal("expected deposit rejection on winding-down position, got nil")
	}

	// Withdrawal of the full amount drains the position
	err = c.ProcessEvent(mustWithdraw(positionID, lender, 1_000_000, ts0, 4))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	result, ok := outputs[0].Result.(*event.WithdrawnResult)
	if !ok {
		t.Fatalf("expected *WithdrawnResult, got %T", outputs[0].Result)
	}
	if !result.SlotClosed {
		t.Error("expected slot closed after full withdrawal")
	}
	if !result.Drained {
		t.Error("expected position drained after last withdrawal")
	}

	asset := usdcID(t)
	if got := c.GetBalance(ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, asset)); got != 0 {
		t.Errorf("expected empty pool, got %d", got)
	}
}

// ============================================================================
// Test: Snapshot and Restore
// ============================================================================

func TestSnapshotRestore_ResumesChain(t *testing.T) {
	c1, persistCh1, _ := newTestCore()
	positionID := uuid.New()
	lender := uuid.New()
	borrower := uuid.New()
	loanSlot := uuid.New()

	if err := c1.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	deposit := mustDeposit(positionID, lender, 1_000_000, ts0, 1)
	if err := c1.ProcessEvent(deposit); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh1)

	snap := c1.CreateSnapshotState()
	if snap.Sequence != 1 {
		t.Fatalf("expected snapshot at sequence 1, got %d", snap.Sequence)
	}

	c2, persistCh2, _ := newTestCore()
	c2.RestoreFromSnapshot(snap)
	c2.WarmLRU(snap.IdempotencyKeys)

	if c2.GetSequence() != 2 {
		t.Errorf("expected next sequence 2 after restore, got %d", c2.GetSequence())
	}
	if c2.GetStateHash() != c1.GetStateHash() {
		t.Error("restored chain tip does not match source")
	}

	// Replayed duplicate is ignored
	if err := c2.ProcessEvent(deposit); err != nil {
		t.Fatalf("replayed deposit should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh2); len(outputs) != 0 {
		t.Fatalf("expected replayed duplicate to emit nothing, got %d outputs", len(outputs))
	}

	// New work continues on the restored state
	if err := c2.ProcessEvent(mustBorrow(positionID, borrower, loanSlot, 2_500, ts0, 2)); err != nil {
		t.Fatalf("borrow on restored core failed: %v", err)
	}
	outputs := drainOutputs(persistCh2)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", outputs[0].Envelope.Sequence)
	}
	if outputs[0].Envelope.PrevHash != snap.StateHash {
		t.Error("first post-restore entry does not link to snapshot hash")
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer — will fill up
	c := core.NewLendingCore(0, persistCh, projCh, nil, nil, fpmath.ExponentModeIndex)

	positionID := uuid.New()
	lender := uuid.New()

	if err := c.ProcessEvent(mustCreatePosition(positionID, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := c.ProcessEvent(mustDeposit(positionID, lender, 100_000, ts0, i)); err != nil {
			t.Fatalf("deposit %d failed: %v", i, err)
		}
	}

	// All events succeed (projection drops are silent)
	persistOutputs := drainOutputs(persistCh)
	if len(persistOutputs) != 6 {
		t.Errorf("expected 6 persist outputs, got %d", len(persistOutputs))
	}
}
