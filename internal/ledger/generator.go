package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from lending
// operations. Money flows:
//
//	deposit          user:wallet        -> position:liquidity
//	borrow           position:liquidity -> user:wallet
//	reserve escrow   user:wallet        -> position:reserve
//	interest accrual external:interest  -> position:fees
//	repay principal  user:wallet        -> position:liquidity
//	repay interest   user:wallet        -> external:interest
//	reserve release  position:reserve   -> user:wallet
//	yield claim      position:fees      -> user:wallet
//	withdraw         position:liquidity -> user:wallet
//
// Interest is booked accrual-basis: the debt-index step funds the fee
// pool from the external interest boundary, and repayments settle that
// boundary back toward zero. User wallets are net-flow accounts and may
// go negative for net contributors.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit moves a lender's funds into the position's pool.
func (jg *JournalGenerator) GenerateDeposit(
	positionID uuid.UUID,
	lenderID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewPositionAccountKey(positionID, SubTypePoolLiquidity, assetID),
		NewUserAccountKey(lenderID, SubTypeWallet, assetID),
		assetID, amount, JournalTypeDeposit)

	jg.sequence++
	return batch, nil
}

// GenerateBorrow disburses pool liquidity to the borrower and escrows
// the interest reserve in the same batch.
// Pre-check: the pool must hold the disbursed amount.
func (jg *JournalGenerator) GenerateBorrow(
	positionID uuid.UUID,
	borrowerID uuid.UUID,
	eventRef string,
	borrowed int64,
	reserve int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientLiquidity(positionID, assetID, borrowed); err != nil {
		return nil, fmt.Errorf("borrow pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 2)

	jg.appendJournal(batch,
		NewUserAccountKey(borrowerID, SubTypeWallet, assetID),
		NewPositionAccountKey(positionID, SubTypePoolLiquidity, assetID),
		assetID, borrowed, JournalTypeBorrow)

	if reserve > 0 {
		jg.appendJournal(batch,
			NewPositionAccountKey(positionID, SubTypePoolReserve, assetID),
			NewUserAccountKey(borrowerID, SubTypeWallet, assetID),
			assetID, reserve, JournalTypeReserveEscrow)
	}

	jg.sequence++
	return batch, nil
}

// GenerateInterestAccrual funds the fee pool with interest accrued by a
// debt-index step. The credit side is the external interest boundary,
// settled back by repayments.
func (jg *JournalGenerator) GenerateInterestAccrual(
	positionID uuid.UUID,
	eventRef string,
	interest int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewPositionAccountKey(positionID, SubTypePoolFees, assetID),
		NewExternalAccountKey(SubTypeExternalInterest, assetID),
		assetID, interest, JournalTypeInterestAccrual)

	jg.sequence++
	return batch, nil
}

// GenerateRepay books a repayment: interest settles the external
// interest boundary, principal returns to the pool, and a full repay
// releases the escrowed reserve back to the borrower.
// Pre-check: a reserve release must not exceed the escrowed reserve.
func (jg *JournalGenerator) GenerateRepay(
	positionID uuid.UUID,
	borrowerID uuid.UUID,
	eventRef string,
	principal int64,
	interest int64,
	reserveReleased int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if reserveReleased > 0 {
		if err := jg.balanceTracker.ValidateSufficientReserve(positionID, assetID, reserveReleased); err != nil {
			return nil, fmt.Errorf("repay pre-check failed: %w", err)
		}
	}

	batch := jg.newBatch(eventRef, timestamp, 3)

	if interest > 0 {
		jg.appendJournal(batch,
			NewExternalAccountKey(SubTypeExternalInterest, assetID),
			NewUserAccountKey(borrowerID, SubTypeWallet, assetID),
			assetID, interest, JournalTypeRepayInterest)
	}

	if principal > 0 {
		jg.appendJournal(batch,
			NewPositionAccountKey(positionID, SubTypePoolLiquidity, assetID),
			NewUserAccountKey(borrowerID, SubTypeWallet, assetID),
			assetID, principal, JournalTypeRepayPrincipal)
	}

	if reserveReleased > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(borrowerID, SubTypeWallet, assetID),
			NewPositionAccountKey(positionID, SubTypePoolReserve, assetID),
			assetID, reserveReleased, JournalTypeReserveRelease)
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("repay for %s produced no journal legs", eventRef)
	}

	jg.sequence++
	return batch, nil
}

// GenerateYieldClaim pays accumulated yield out of the fee pool, one
// leg per fee asset with a non-zero amount. A claim with nothing
// pending produces an empty batch, recorded in the event log but never
// applied.
func (jg *JournalGenerator) GenerateYieldClaim(
	positionID uuid.UUID,
	ownerID uuid.UUID,
	eventRef string,
	amountA int64, assetA AssetID,
	amountB int64, assetB AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 2)

	if amountA > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(ownerID, SubTypeWallet, assetA),
			NewPositionAccountKey(positionID, SubTypePoolFees, assetA),
			assetA, amountA, JournalTypeYieldClaim)
	}
	if amountB > 0 {
		jg.appendJournal(batch,
			NewUserAccountKey(ownerID, SubTypeWallet, assetB),
			NewPositionAccountKey(positionID, SubTypePoolFees, assetB),
			assetB, amountB, JournalTypeYieldClaim)
	}

	jg.sequence++
	return batch, nil
}

// GenerateWithdraw returns pool liquidity to a lender.
// Pre-check: the pool must hold the withdrawn amount.
func (jg *JournalGenerator) GenerateWithdraw(
	positionID uuid.UUID,
	lenderID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientLiquidity(positionID, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdraw pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewUserAccountKey(lenderID, SubTypeWallet, assetID),
		NewPositionAccountKey(positionID, SubTypePoolLiquidity, assetID),
		assetID, amount, JournalTypeWithdraw)

	jg.sequence++
	return batch, nil
}

// Sequence returns the next sequence the generator will stamp
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence restores the generator's sequence after snapshot recovery
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
