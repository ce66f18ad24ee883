package math

import (
	"math/big"
	"sync"
)

// Scales used across the accounting core. All monetary amounts are int64
// base units; every multiply-then-divide goes through big.Int so the
// intermediate product never overflows 64 bits.
const (
	// Bps is the basis-point denominator: 10_000 bps == 100%.
	Bps int64 = 10_000

	// IndexScale is the fixed-point scale of the debt index.
	// An index of exactly 1.0 is represented as IndexScale.
	IndexScale int64 = 1_000_000_000_000

	// FeeGrowthScale is the fixed-point scale of the per-share
	// fee-growth accumulators.
	FeeGrowthScale int64 = 1_000_000_000_000

	// SecondsPerYear is the accrual year (365 days).
	SecondsPerYear int64 = 31_536_000
)

// Pooled big.Int for intermediate products on the hot path.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor (protocol default for all settlement math)
	RoundUp
	RoundHalfEven
)

// MulDiv computes a * b / denom with floor rounding and a widened
// intermediate. Division by zero returns 0 rather than faulting: the
// curve and share math treat an empty denominator as "no effect".
func MulDiv(a, b, denom int64) int64 {
	return MulDivRound(a, b, denom, RoundDown)
}

// MulDivRound computes a * b / denom with an explicit rounding mode.
func MulDivRound(a, b, denom int64, mode RoundingMode) int64 {
	if denom == 0 {
		return 0
	}

	num := getInt()
	num.Mul(big.NewInt(a), big.NewInt(b))

	result := divRound(num, denom, mode)
	putInt(num)
	return result
}

// divRound divides a widened numerator by an int64 denominator.
// RoundDown here means truncation toward zero; all callers in the
// settlement path operate on non-negative values so truncation and
// floor coincide.
func divRound(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt()
	remainder := getInt()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		remainder.Abs(remainder)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt(quotient)
	putInt(remainder)

	return result
}

// MulDiv3 computes a * b * c / denom with floor rounding. Used where a
// rate, a time fraction, and an amount combine in one step so that only
// a single floor is applied.
func MulDiv3(a, b, c, denom int64) int64 {
	if denom == 0 {
		return 0
	}

	num := getInt()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Mul(num, big.NewInt(c))

	result := divRound(num, denom, RoundDown)
	putInt(num)
	return result
}

// Sqrt returns the integer square root (floor) of v. Negative input
// returns 0.
func Sqrt(v int64) int64 {
	if v <= 0 {
		return 0
	}
	r := getInt()
	r.Sqrt(big.NewInt(v))
	result := r.Int64()
	putInt(r)
	return result
}
