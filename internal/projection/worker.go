package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/firyx-protocol/lendcore/internal/core"
	"github.com/firyx-protocol/lendcore/internal/event"
	"github.com/firyx-protocol/lendcore/internal/ledger"
	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	PositionID     *string
	JournalEntries []JournalEntry
	Result         interface{}
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        int64
	JournalType   int32
}

// FromCoreOutput flattens a core output for the projection path.
func FromCoreOutput(o core.CoreOutput) ProjectionOutput {
	env := o.Envelope

	out := ProjectionOutput{
		Sequence:   env.Sequence,
		EventType:  env.EventType.String(),
		PositionID: env.PositionID,
		Result:     o.Result,
		Timestamp:  env.Timestamp.Unix(),
	}

	if o.Batch != nil {
		out.JournalEntries = make([]JournalEntry, 0, len(o.Batch.Journals))
		for _, j := range o.Batch.Journals {
			asset, _ := ledger.GetAssetName(j.AssetID)
			out.JournalEntries = append(out.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         asset,
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
			})
		}
	}

	return out
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db      *sql.DB
	input   <-chan ProjectionOutput
	history *History
	lastSeq int64
}

func NewProjectionWorker(db *sql.DB, input <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:      db,
		input:   input,
		history: NewHistory(historyDefaultCap),
	}
}

// History exposes the in-memory recent-entries view for query serving.
func (pw *ProjectionWorker) History() *History {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.input:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue: projections are eventually consistent and
				// can be rebuilt from the event log.
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// At-most-once fold: restart replay re-emits events the projection
	// already folded, and most folds are not idempotent.
	var applied int64
	if err := tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&applied); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("watermark read: %w", err)
	}
	if output.Sequence <= applied {
		return nil
	}

	for _, j := range output.JournalEntries {
		if err := updateBalance(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Result != nil {
		if err := pw.applyResult(ctx, tx, output.Sequence, output.Result); err != nil {
			return fmt.Errorf("%s projection: %w", output.EventType, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1 WHERE id = 1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalance folds one balanced transfer into the balances table.
// The debit account receives the amount, the credit account gives it.
func updateBalance(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	const upsert = `
		INSERT INTO projections.balances (account_path, asset, balance, updated_sequence)
		VALUES ($1, $2, $3::TEXT, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = ((projections.balances.balance)::BIGINT + $3)::TEXT,
		              updated_sequence = $4
	`

	if _, err := tx.ExecContext(ctx, upsert, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, j.CreditAccount, j.Asset, -j.Amount, seq); err != nil {
		return err
	}
	return nil
}

// applyResult folds one typed operation result into the read model.
func (pw *ProjectionWorker) applyResult(ctx context.Context, tx *sql.Tx, seq int64, result interface{}) error {
	switch r := result.(type) {
	case *event.PositionCreatedResult:
		return applyPositionCreated(ctx, tx, seq, r)
	case *event.DepositedResult:
		return applyDeposited(ctx, tx, seq, r)
	case *event.BorrowedResult:
		return applyBorrowed(ctx, tx, seq, r)
	case *event.RepaidResult:
		return applyRepaid(ctx, tx, seq, r)
	case *event.YieldClaimedResult:
		if pw.history != nil {
			pw.history.AddYield(yieldEntryFromResult(seq, r))
		}
		return applyYieldClaimed(ctx, tx, seq, r)
	case *event.YieldClaimedAndRepaidResult:
		if pw.history != nil {
			pw.history.AddYield(yieldEntryFromResult(seq, &r.Yield))
		}
		if err := applyYieldClaimed(ctx, tx, seq, &r.Yield); err != nil {
			return err
		}
		return applyRepaid(ctx, tx, seq, &r.Repaid)
	case *event.WithdrawnResult:
		return applyWithdrawn(ctx, tx, seq, r)
	case *event.DebtIndexUpdatedResult:
		if pw.history != nil {
			pw.history.AddAccrual(AccrualEntry{
				Sequence:        seq,
				Position:        r.Position,
				OldDebtIndex:    r.OldDebtIdx,
				NewDebtIndex:    r.NewDebtIdx,
				InterestAccrued: r.InterestAccrued,
				AprBps:          r.AprBps,
				Timestamp:       r.Ts,
			})
		}
		return applyDebtIndexUpdated(ctx, tx, seq, r)
	case *event.PositionDeactivatedResult:
		return applyDeactivated(ctx, tx, seq, r)
	default:
		// Unknown result types are skipped, not fatal
		return nil
	}
}

func applyPositionCreated(ctx context.Context, tx *sql.Tx, seq int64, r *event.PositionCreatedResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(position_id, fee_tier, tick_lower, tick_upper,
			 slope_before_kink, slope_after_kink, kink_utilization, risk_factor,
			 fee_token_a, fee_token_b, debt_index, state,
			 created_at_ts, last_update_ts, last_accrual_ts, version, updated_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'Active', $12, $12, $12, 0, $13)
		ON CONFLICT (position_id) DO NOTHING
	`, r.Position, r.FeeTier, r.TickLower, r.TickUpper,
		r.SlopeBeforeKink, r.SlopeAfterKink, r.KinkUtilization, r.RiskFactor,
		r.FeeTokenA, r.FeeTokenB, fmt.Sprintf("%d", fpmath.IndexScale), r.Ts, seq)
	return err
}

func applyDeposited(ctx context.Context, tx *sql.Tx, seq int64, r *event.DepositedResult) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			liquidity = $2::TEXT,
			total_share = $3::TEXT,
			utilization_bps = CASE WHEN $2 = 0 THEN 0
				ELSE (total_borrowed)::BIGINT * 10000 / $2 END,
			last_update_ts = $4,
			version = version + 1,
			updated_sequence = $5
		WHERE position_id = $1
	`, r.Position, r.Liquidity, r.TotalShare, r.Ts, seq); err != nil {
		return err
	}

	// The slot's fee-growth snapshot resets to the position's current
	// accumulator, exactly as the core does on deposit.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.deposit_slots
			(lender, position_id, original_principal, share, accumulated_deposits,
			 fee_growth_debt_a, fee_growth_debt_b,
			 active, created_at_ts, last_deposit_ts, version, updated_sequence)
		VALUES ($1, $2, $3::TEXT, $4::TEXT, $3::TEXT,
			COALESCE((SELECT fee_growth_global_a FROM projections.positions WHERE position_id = $2), '0'),
			COALESCE((SELECT fee_growth_global_b FROM projections.positions WHERE position_id = $2), '0'),
			TRUE, $5, $5, 1, $6)
		ON CONFLICT (lender, position_id) DO UPDATE SET
			share = ((projections.deposit_slots.share)::BIGINT + $4)::TEXT,
			accumulated_deposits = ((projections.deposit_slots.accumulated_deposits)::BIGINT + $3)::TEXT,
			fee_growth_debt_a = COALESCE((SELECT fee_growth_global_a FROM projections.positions WHERE position_id = $2), '0'),
			fee_growth_debt_b = COALESCE((SELECT fee_growth_global_b FROM projections.positions WHERE position_id = $2), '0'),
			active = TRUE,
			last_deposit_ts = $5,
			version = projections.deposit_slots.version + 1,
			updated_sequence = $6
	`, r.Lender, r.Position, r.Amount, r.ShareMinted, r.Ts, seq)
	return err
}

func applyBorrowed(ctx context.Context, tx *sql.Tx, seq int64, r *event.BorrowedResult) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			total_borrowed = $2::TEXT,
			utilization_bps = $3,
			apr_bps = $4,
			active_loans = active_loans + 1,
			last_update_ts = $5,
			version = version + 1,
			updated_sequence = $6
		WHERE position_id = $1
	`, r.Position, r.TotalBorrowed, r.NewUtilization, r.AprBps, r.Ts, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.loan_slots
			(loan_id, borrower, position_id, principal, original_principal,
			 reserve, duration_idx, debt_index_at_borrow, current_debt,
			 active, created_at_ts, last_payment_ts, version, updated_sequence)
		VALUES ($1, $2, $3, $4::TEXT, $4::TEXT, $5::TEXT, $6, $7::TEXT, $4::TEXT, TRUE, $8, $8, 1, $9)
		ON CONFLICT (loan_id) DO NOTHING
	`, r.LoanSlot, r.Borrower, r.Position, r.Amount, r.Reserve,
		r.DurationIdx, r.DebtIdxAtBorrow, r.Ts, seq)
	return err
}

func applyRepaid(ctx context.Context, tx *sql.Tx, seq int64, r *event.RepaidResult) error {
	closed := int64(0)
	if r.LoanFullyRepaid {
		closed = 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			total_borrowed = ((total_borrowed)::BIGINT - $2)::TEXT,
			utilization_bps = CASE WHEN (liquidity)::BIGINT = 0 THEN 0
				ELSE ((total_borrowed)::BIGINT - $2) * 10000 / (liquidity)::BIGINT END,
			active_loans = active_loans - $3,
			last_update_ts = $4,
			version = version + 1,
			updated_sequence = $5
		WHERE position_id = $1
	`, r.Position, r.PrincipalPortion, closed, r.Ts, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE projections.loan_slots SET
			principal = $2::TEXT,
			current_debt = $2::TEXT,
			reserve = CASE WHEN $3 THEN '0' ELSE reserve END,
			active = NOT $3,
			last_payment_ts = $4,
			version = version + 1,
			updated_sequence = $5
		WHERE loan_id = $1
	`, r.LoanSlot, r.RemainingPrincipal, r.LoanFullyRepaid, r.Ts, seq)
	return err
}

func applyYieldClaimed(ctx context.Context, tx *sql.Tx, seq int64, r *event.YieldClaimedResult) error {
	kind := "deposit"
	if r.LoanSlot != nil {
		kind = "loan"
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.yield_history
			(sequence, position_id, claimer, amount_a, amount_b, kind, timestamp)
		VALUES ($1, $2, $3, $4::TEXT, $5::TEXT, $6, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, r.Position, r.Owner, r.FeeAssetAAmount, r.FeeAssetBAmount, kind, r.Ts); err != nil {
		return err
	}

	if kind == "deposit" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.deposit_slots SET
				fee_growth_debt_a = COALESCE((SELECT fee_growth_global_a FROM projections.positions WHERE position_id = $2), fee_growth_debt_a),
				fee_growth_debt_b = COALESCE((SELECT fee_growth_global_b FROM projections.positions WHERE position_id = $2), fee_growth_debt_b),
				updated_sequence = $3
			WHERE lender = $1 AND position_id = $2
		`, r.Owner, r.Position, seq); err != nil {
			return err
		}
	}
	return nil
}

func applyWithdrawn(ctx context.Context, tx *sql.Tx, seq int64, r *event.WithdrawnResult) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			liquidity = $2::TEXT,
			total_share = $3::TEXT,
			utilization_bps = CASE WHEN $2 = 0 THEN 0
				ELSE (total_borrowed)::BIGINT * 10000 / $2 END,
			state = CASE WHEN $4 THEN 'Drained' ELSE state END,
			last_update_ts = $5,
			version = version + 1,
			updated_sequence = $6
		WHERE position_id = $1
	`, r.Position, r.Liquidity, r.TotalShare, r.Drained, r.Ts, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE projections.deposit_slots SET
			share = ((share)::BIGINT - $3)::TEXT,
			fee_growth_debt_a = COALESCE((SELECT fee_growth_global_a FROM projections.positions WHERE position_id = $2), fee_growth_debt_a),
			fee_growth_debt_b = COALESCE((SELECT fee_growth_global_b FROM projections.positions WHERE position_id = $2), fee_growth_debt_b),
			active = NOT $4,
			last_withdraw_ts = $5,
			version = version + 1,
			updated_sequence = $6
		WHERE lender = $1 AND position_id = $2
	`, r.Lender, r.Position, r.ShareBurned, r.SlotClosed, r.Ts, seq)
	return err
}

func applyDebtIndexUpdated(ctx context.Context, tx *sql.Tx, seq int64, r *event.DebtIndexUpdatedResult) error {
	// Interest accrues in fee token A; the per-share accumulator moves
	// by the same floor division the core uses.
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			debt_index = $2::TEXT,
			apr_bps = $3,
			fee_growth_global_a = CASE WHEN (total_share)::BIGINT = 0 THEN fee_growth_global_a
				ELSE ((fee_growth_global_a)::BIGINT + $4 * $5 / (total_share)::BIGINT)::TEXT END,
			total_interest_earned = ((total_interest_earned)::BIGINT + $4)::TEXT,
			last_accrual_ts = $6,
			updated_sequence = $7
		WHERE position_id = $1
	`, r.Position, r.NewDebtIdx, r.AprBps, r.InterestAccrued, fpmath.FeeGrowthScale, r.Ts, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accrual_history
			(sequence, position_id, old_debt_index, new_debt_index,
			 interest_accrued, utilization_bps, apr_bps, timestamp)
		VALUES ($1, $2, $3::TEXT, $4::TEXT, $5::TEXT,
			(SELECT COALESCE(MAX(utilization_bps), 0) FROM projections.positions WHERE position_id = $2),
			$6, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, r.Position, r.OldDebtIdx, r.NewDebtIdx, r.InterestAccrued, r.AprBps, r.Ts)
	return err
}

func applyDeactivated(ctx context.Context, tx *sql.Tx, seq int64, r *event.PositionDeactivatedResult) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.positions SET
			state = 'WindingDown',
			last_update_ts = $2,
			version = version + 1,
			updated_sequence = $3
		WHERE position_id = $1
	`, r.Position, r.Ts, seq)
	return err
}

// decodeResult reconstructs the typed result from a stored payload so
// rebuilds can reuse the live fold path.
func decodeResult(eventType string, payload []byte) (interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var target interface{}
	switch eventType {
	case "PositionCreated":
		target = &event.PositionCreatedResult{}
	case "LiquidityDeposited":
		target = &event.DepositedResult{}
	case "LiquidityBorrowed":
		target = &event.BorrowedResult{}
	case "LoanRepaid":
		target = &event.RepaidResult{}
	case "YieldClaimed":
		target = &event.YieldClaimedResult{}
	case "YieldClaimedAndRepaid":
		target = &event.YieldClaimedAndRepaidResult{}
	case "DepositWithdrawn":
		target = &event.WithdrawnResult{}
	case "DebtIndexUpdated":
		target = &event.DebtIndexUpdatedResult{}
	case "PositionDeactivated":
		target = &event.PositionDeactivatedResult{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return nil, err
	}
	return target, nil
}

// RebuildProjections rebuilds all projection tables from the event log:
// balances directly in SQL from the journal, aggregates by re-folding
// stored event payloads in sequence order.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.deposit_slots`,
		`TRUNCATE projections.loan_slots`,
		`TRUNCATE projections.accrual_history`,
		`TRUNCATE projections.yield_history`,
		`UPDATE projections.watermark SET last_sequence = 0 WHERE id = 1`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Balances: debits add, credits subtract. The asset symbol is the
	// last segment of the account path.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, updated_sequence)
		SELECT account_path,
		       reverse(split_part(reverse(account_path), ':', 1)),
		       SUM(delta)::TEXT,
		       MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, -amount, sequence
			FROM event_log.journal
		) flows
		GROUP BY account_path
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	// Aggregates: re-fold result payloads in order
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, payload
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return fmt.Errorf("scan event log: %w", err)
	}
	defer rows.Close()

	pw := &ProjectionWorker{db: db}
	var lastSeq int64

	for rows.Next() {
		var seq int64
		var eventType string
		var payload []byte
		if err := rows.Scan(&seq, &eventType, &payload); err != nil {
			return err
		}

		result, err := decodeResult(eventType, payload)
		if err != nil {
			return fmt.Errorf("decode payload at seq=%d: %w", seq, err)
		}
		if result == nil {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := pw.applyResult(ctx, tx, seq, result); err != nil {
			tx.Rollback()
			return fmt.Errorf("refold seq=%d: %w", seq, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1 WHERE id = 1
	`, lastSeq); err != nil {
		return err
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
