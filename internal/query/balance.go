package query

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// BalanceResponse represents one account balance for API queries.
type BalanceResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	AccountPath  string    `json:"account_path"`
	Balance      string    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// GetWalletBalance returns a user's wallet balance for one asset.
// Wallet balances can be negative: users fund operations from an
// external custody layer, so the wallet tracks the net flow through
// this ledger rather than a custodial balance.
func (qs *QueryService) GetWalletBalance(
	ctx context.Context,
	owner uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	accountPath := fmt.Sprintf("user:%s:wallet:%s", owner, asset)

	balance := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Owner:        owner,
		Asset:        asset,
		AccountPath:  accountPath,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPositionBalances returns the pool accounts of one position:
// liquidity, reserve escrow, and undistributed fees.
func (qs *QueryService) GetPositionBalances(
	ctx context.Context,
	positionID uuid.UUID,
) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("position:%s:%%", positionID)
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(&b.AccountPath, &b.Asset, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// pendingYieldStrings computes the yield claimable on a deposit slot:
// share * (feeGrowthGlobal - feeGrowthDebt) / FeeGrowthScale, per fee
// token, using the same floor division as the core.
func pendingYieldStrings(shareStr, debtA, debtB, globalA, globalB string) (string, string, error) {
	share, err := strconv.ParseInt(shareStr, 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("share %q: %w", shareStr, err)
	}

	yieldA, err := pendingYieldOne(share, debtA, globalA)
	if err != nil {
		return "", "", err
	}
	yieldB, err := pendingYieldOne(share, debtB, globalB)
	if err != nil {
		return "", "", err
	}

	return strconv.FormatInt(yieldA, 10), strconv.FormatInt(yieldB, 10), nil
}

func pendingYieldOne(share int64, debtStr, globalStr string) (int64, error) {
	debt, err := strconv.ParseInt(debtStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fee growth debt %q: %w", debtStr, err)
	}
	global, err := strconv.ParseInt(globalStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fee growth global %q: %w", globalStr, err)
	}
	if global <= debt || share == 0 {
		return 0, nil
	}
	return fpmath.MulDiv(share, global-debt, fpmath.FeeGrowthScale), nil
}
