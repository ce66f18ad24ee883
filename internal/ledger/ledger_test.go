package ledger_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/ledger"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, assetID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PositionPath(t *testing.T) {
	positionID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, assetID)

	path := key.AccountPath()
	expected := "position:6ba7b810-9dad-11d1-80b4-00c04fd430c8:liquidity:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalInterest, assetID)

	path := key.AccountPath()
	if path != "external:interest:USDC" {
		t.Errorf("got %q, want %q", path, "external:interest:USDC")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	if id == 0 {
		t.Error("USDC asset ID should be non-zero")
	}
}

func TestRegisterAsset_NewMint(t *testing.T) {
	mint := "So11111111111111111111111111111111111111112"
	id := ledger.RegisterAsset(mint)
	if id == 0 {
		t.Fatal("registered asset should get a non-zero ID")
	}

	// Second registration returns the same ID
	if again := ledger.RegisterAsset(mint); again != id {
		t.Errorf("re-registration returned %d, want %d", again, id)
	}

	name, ok := ledger.GetAssetName(id)
	if !ok || name != mint {
		t.Errorf("GetAssetName(%d) = %q, %v", id, name, ok)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	if bt.GetPoolLiquidity(positionID, assetID) != 0 {
		t.Error("initial pool liquidity should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	lenderID := uuid.New()
	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Deposit: user:wallet -> position:liquidity
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, assetID),
		CreditAccount: ledger.NewUserAccountKey(lenderID, ledger.SubTypeWallet, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	if got := bt.GetPoolLiquidity(positionID, assetID); got != 1_000_000 {
		t.Errorf("pool liquidity: got %d, want 1_000_000", got)
	}
	if got := bt.GetUserWalletBalance(lenderID, assetID); got != -1_000_000 {
		t.Errorf("lender wallet: got %d, want -1_000_000", got)
	}
}

func TestBalanceTracker_ValidateSufficientLiquidity(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	if err := bt.ValidateSufficientLiquidity(positionID, assetID, 100); err == nil {
		t.Error("expected error for empty pool")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, assetID),
		CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
		AssetID:       assetID,
		Amount:        1_000,
	})

	if err := bt.ValidateSufficientLiquidity(positionID, assetID, 1_000); err != nil {
		t.Errorf("should have sufficient liquidity: %v", err)
	}
	if err := bt.ValidateSufficientLiquidity(positionID, assetID, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, assetID),
		CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
		AssetID:       assetID,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetPoolLiquidity(positionID, assetID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if batch.Validate() == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewPositionAccountKey(uuid.New(), ledger.SubTypePoolLiquidity, assetID),
				CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
				AssetID:       assetID,
				Amount:        0,
			},
		},
	}

	if batch.Validate() == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	sameAccount := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if batch.Validate() == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewPositionAccountKey(uuid.New(), ledger.SubTypePoolLiquidity, assetID),
				CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
				AssetID:       assetID,
				Amount:        100,
			},
		},
	}

	if batch.Validate() == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator — full lending flow
// ============================================================================

func TestJournalGenerator_LendingLifecycle(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	v := ledger.NewInvariantValidator(bt)

	positionID := uuid.New()
	lenderID := uuid.New()
	borrowerID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	apply := func(batch *ledger.Batch, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}

	// Lender supplies 1,000,000
	apply(jg.GenerateDeposit(positionID, lenderID, "op-deposit", 1_000_000, assetID, 100))

	if got := bt.GetPoolLiquidity(positionID, assetID); got != 1_000_000 {
		t.Fatalf("pool liquidity after deposit: got %d", got)
	}

	// Borrower draws 250,000 with a 5,000 reserve
	apply(jg.GenerateBorrow(positionID, borrowerID, "op-borrow", 250_000, 5_000, assetID, 200))

	if got := bt.GetPoolLiquidity(positionID, assetID); got != 750_000 {
		t.Errorf("pool liquidity after borrow: got %d, want 750_000", got)
	}
	if got := bt.GetPoolReserve(positionID, assetID); got != 5_000 {
		t.Errorf("pool reserve after borrow: got %d, want 5_000", got)
	}
	if got := bt.GetUserWalletBalance(borrowerID, assetID); got != 245_000 {
		t.Errorf("borrower wallet after borrow: got %d, want 245_000", got)
	}

	// Accrual step books 1,200 interest into the fee pool
	apply(jg.GenerateInterestAccrual(positionID, "op-accrual", 1_200, assetID, 300))

	if got := bt.GetPoolFees(positionID, assetID); got != 1_200 {
		t.Errorf("pool fees after accrual: got %d, want 1_200", got)
	}

	// Full repay: 250,000 principal, 1,200 interest, reserve released
	apply(jg.GenerateRepay(positionID, borrowerID, "op-repay", 250_000, 1_200, 5_000, assetID, 400))

	if got := bt.GetPoolLiquidity(positionID, assetID); got != 1_000_000 {
		t.Errorf("pool liquidity after repay: got %d, want 1_000_000", got)
	}
	if got := bt.GetPoolReserve(positionID, assetID); got != 0 {
		t.Errorf("pool reserve after repay: got %d, want 0", got)
	}
	// Interest boundary settles back to zero on full interest payment
	interestKey := ledger.NewExternalAccountKey(ledger.SubTypeExternalInterest, assetID)
	if got := bt.GetBalance(interestKey); got != 0 {
		t.Errorf("external interest after repay: got %d, want 0", got)
	}

	// Lender claims the distributed yield
	assetB, _ := ledger.GetAssetID("SOL")
	apply(jg.GenerateYieldClaim(positionID, lenderID, "op-claim", 1_200, assetID, 0, assetB, 500))

	if got := bt.GetPoolFees(positionID, assetID); got != 0 {
		t.Errorf("pool fees after claim: got %d, want 0", got)
	}

	// Lender withdraws the full principal
	apply(jg.GenerateWithdraw(positionID, lenderID, "op-withdraw", 1_000_000, assetID, 600))

	if got := bt.GetPoolLiquidity(positionID, assetID); got != 0 {
		t.Errorf("pool liquidity after withdraw: got %d, want 0", got)
	}
	// Lender walks away with principal plus yield
	if got := bt.GetUserWalletBalance(lenderID, assetID); got != 1_200 {
		t.Errorf("lender wallet after exit: got %d, want 1_200", got)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should be zero-sum: %v", err)
	}
	if err := v.ValidatePoolAccountsNonNegative(positionID, assetID); err != nil {
		t.Errorf("pool accounts should be non-negative: %v", err)
	}
}

func TestJournalGenerator_BorrowOverdraw_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	batch, err := jg.GenerateDeposit(positionID, uuid.New(), "op-1", 100_000, assetID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	_, err = jg.GenerateBorrow(positionID, uuid.New(), "op-2", 100_001, 0, assetID, 200)
	if err == nil {
		t.Error("borrowing more than pool liquidity should fail the pre-check")
	}
}

func TestJournalGenerator_ReserveOverRelease_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	_, err := jg.GenerateRepay(positionID, uuid.New(), "op-1", 1_000, 0, 500, assetID, 100)
	if err == nil {
		t.Error("releasing un-escrowed reserve should fail the pre-check")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	positionID := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewPositionAccountKey(positionID, ledger.SubTypePoolLiquidity, assetID),
		CreditAccount: ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	})

	// Still zero-sum
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}
