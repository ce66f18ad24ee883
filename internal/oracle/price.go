package oracle

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// q64 is 2^64, the fixed-point denominator of sqrt prices.
var q64 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 64), 0)

// tickBase is the tick spacing ratio: each tick moves the price by one
// basis point of itself.
var tickBase = decimal.RequireFromString("1.0001")

// SqrtPriceX64ToPrice converts a Q64.64 square-root price to a spot
// price in token B per token A, adjusted for token decimals:
//
//	price = (sqrtPrice / 2^64)^2 * 10^(decimalsA - decimalsB)
func SqrtPriceX64ToPrice(sqrtPriceX64 decimal.Decimal, decimalsA, decimalsB int32) decimal.Decimal {
	ratio := sqrtPriceX64.Div(q64)
	price := ratio.Mul(ratio)
	return price.Shift(decimalsA - decimalsB)
}

// TickToPrice returns the raw pool price at a tick: 1.0001^tick.
// Decimals adjustment is the caller's concern.
func TickToPrice(tick int32) (decimal.Decimal, error) {
	price, err := tickBase.PowInt32(tick)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price at tick %d: %w", tick, err)
	}
	return price, nil
}

// EstimateFromTick converts an input amount of token A to its
// counterpart amount of token B at the given tick's price, floored to
// base units. Used as the local fallback when the oracle service is
// unreachable.
func EstimateFromTick(currentTick int32, amountIn int64) (int64, error) {
	price, err := TickToPrice(currentTick)
	if err != nil {
		return 0, err
	}
	out := decimal.NewFromInt(amountIn).Mul(price)
	return out.Floor().IntPart(), nil
}
