package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries
// are served via gRPC and HTTP/JSON, reading from PostgreSQL. All
// responses carry as_of_sequence: the last event folded into the read
// model, so clients can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPosition returns a single loan position by ID.
func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT position_id, fee_tier, tick_lower, tick_upper,
		       slope_before_kink, slope_after_kink, kink_utilization, risk_factor,
		       fee_token_a, fee_token_b, liquidity, total_share, total_borrowed,
		       debt_index, utilization_bps, apr_bps, active_loans,
		       total_interest_earned, state,
		       created_at_ts, last_update_ts, last_accrual_ts, version
		FROM projections.positions
		WHERE position_id = $1
	`, positionID)

	var p PositionResponse
	p.AsOfSequence = asOfSeq
	if err := row.Scan(
		&p.PositionID, &p.FeeTier, &p.TickLower, &p.TickUpper,
		&p.SlopeBeforeKink, &p.SlopeAfterKink, &p.KinkUtilization, &p.RiskFactor,
		&p.FeeTokenA, &p.FeeTokenB, &p.Liquidity, &p.TotalShare, &p.TotalBorrowed,
		&p.DebtIndex, &p.UtilizationBps, &p.AprBps, &p.ActiveLoans,
		&p.TotalInterestEarned, &p.State,
		&p.CreatedAtTs, &p.LastUpdateTs, &p.LastAccrualTs, &p.Version,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &p, nil
}

// ListPositions returns all positions, most recently updated first.
func (qs *QueryService) ListPositions(ctx context.Context, limit int) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, fee_tier, tick_lower, tick_upper,
		       slope_before_kink, slope_after_kink, kink_utilization, risk_factor,
		       fee_token_a, fee_token_b, liquidity, total_share, total_borrowed,
		       debt_index, utilization_bps, apr_bps, active_loans,
		       total_interest_earned, state,
		       created_at_ts, last_update_ts, last_accrual_ts, version
		FROM projections.positions
		ORDER BY last_update_ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.FeeTier, &p.TickLower, &p.TickUpper,
			&p.SlopeBeforeKink, &p.SlopeAfterKink, &p.KinkUtilization, &p.RiskFactor,
			&p.FeeTokenA, &p.FeeTokenB, &p.Liquidity, &p.TotalShare, &p.TotalBorrowed,
			&p.DebtIndex, &p.UtilizationBps, &p.AprBps, &p.ActiveLoans,
			&p.TotalInterestEarned, &p.State,
			&p.CreatedAtTs, &p.LastUpdateTs, &p.LastAccrualTs, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetDepositSlots returns all deposit slots held by a lender.
func (qs *QueryService) GetDepositSlots(ctx context.Context, lender uuid.UUID) ([]DepositSlotResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT s.position_id, s.original_principal, s.share, s.accumulated_deposits,
		       s.fee_growth_debt_a, s.fee_growth_debt_b,
		       p.fee_growth_global_a, p.fee_growth_global_b,
		       s.active, s.created_at_ts, s.last_deposit_ts, s.last_withdraw_ts, s.version
		FROM projections.deposit_slots s
		JOIN projections.positions p ON p.position_id = s.position_id
		WHERE s.lender = $1
		ORDER BY s.last_deposit_ts DESC
	`, lender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []DepositSlotResponse
	for rows.Next() {
		var s DepositSlotResponse
		var debtA, debtB, globalA, globalB string
		s.Lender = lender
		s.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&s.PositionID, &s.OriginalPrincipal, &s.Share, &s.AccumulatedDeposits,
			&debtA, &debtB, &globalA, &globalB,
			&s.Active, &s.CreatedAtTs, &s.LastDepositTs, &s.LastWithdrawTs, &s.Version,
		); err != nil {
			return nil, err
		}

		s.PendingYieldA, s.PendingYieldB, err = pendingYieldStrings(s.Share, debtA, debtB, globalA, globalB)
		if err != nil {
			return nil, fmt.Errorf("pending yield for slot %s/%s: %w", lender, s.PositionID, err)
		}
		slots = append(slots, s)
	}

	return slots, rows.Err()
}

// GetLoanSlots returns all loan slots held by a borrower.
func (qs *QueryService) GetLoanSlots(ctx context.Context, borrower uuid.UUID) ([]LoanSlotResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT loan_id, position_id, principal, original_principal, reserve,
		       duration_idx, debt_index_at_borrow, current_debt,
		       active, created_at_ts, last_payment_ts, version
		FROM projections.loan_slots
		WHERE borrower = $1
		ORDER BY created_at_ts DESC
	`, borrower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []LoanSlotResponse
	for rows.Next() {
		var s LoanSlotResponse
		s.Borrower = borrower
		s.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&s.LoanID, &s.PositionID, &s.Principal, &s.OriginalPrincipal, &s.Reserve,
			&s.DurationIdx, &s.DebtIndexAtBorrow, &s.CurrentDebt,
			&s.Active, &s.CreatedAtTs, &s.LastPaymentTs, &s.Version,
		); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}

	return slots, rows.Err()
}

// GetAccrualHistory returns debt-index advances for a position with
// cursor-based pagination.
func (qs *QueryService) GetAccrualHistory(
	ctx context.Context,
	positionID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]AccrualHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, old_debt_index, new_debt_index, interest_accrued,
		       utilization_bps, apr_bps, timestamp
		FROM projections.accrual_history
		WHERE position_id = $1
	`
	args := []interface{}{positionID}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []AccrualHistoryResponse
	for rows.Next() {
		var h AccrualHistoryResponse
		h.PositionID = positionID
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.OldDebtIndex, &h.NewDebtIndex, &h.InterestAccrued,
			&h.UtilizationBps, &h.AprBps, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetYieldHistory returns yield payouts for a claimer with cursor-based
// pagination.
func (qs *QueryService) GetYieldHistory(
	ctx context.Context,
	claimer uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]YieldHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, position_id, amount_a, amount_b, kind, timestamp
		FROM projections.yield_history
		WHERE claimer = $1
	`
	args := []interface{}{claimer}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []YieldHistoryResponse
	for rows.Next() {
		var h YieldHistoryResponse
		h.Claimer = claimer
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.PositionID, &h.AmountA, &h.AmountB, &h.Kind, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts
// with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// invariant per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Every journal is a balanced transfer, so summing balances per
	// asset across all accounts must give zero.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM((balance)::BIGINT) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM((balance)::BIGINT) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset string
		var total int64
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: fmt.Sprintf("%d", total),
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
