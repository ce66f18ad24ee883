package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// PoolInfo describes the underlying AMM pool a loan position wraps.
// All fields are advisory: settlement math never depends on them.
type PoolInfo struct {
	PoolID       string `json:"pool_id"`
	TokenA       string `json:"token_a"`
	TokenB       string `json:"token_b"`
	DecimalsA    int32  `json:"decimals_a"`
	DecimalsB    int32  `json:"decimals_b"`
	FeeTier      uint8  `json:"fee_tier"`
	CurrentTick  int32  `json:"current_tick"`
	SqrtPriceX64 string `json:"sqrt_price_x64"`
}

// PoolOracle quotes pool state for single-sided deposits. The estimate
// is the advisory counterpart amount only; the share math downstream is
// identical for both deposit variants.
type PoolOracle interface {
	GetPoolInfo(ctx context.Context, poolID string) (*PoolInfo, error)

	EstimateCounterpartAmount(ctx context.Context, tickLower, tickUpper, currentTick int32, amountIn int64) (int64, error)
}

// Price returns the pool's spot price as token B per token A, adjusted
// for token decimals.
func (p *PoolInfo) Price() (decimal.Decimal, error) {
	sqrtPrice, err := decimal.NewFromString(p.SqrtPriceX64)
	if err != nil {
		return decimal.Zero, err
	}
	return SqrtPriceX64ToPrice(sqrtPrice, p.DecimalsA, p.DecimalsB), nil
}
