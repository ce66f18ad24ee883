package state

import (
	"fmt"

	fpmath "github.com/firyx-protocol/lendcore/internal/math"
)

// RiskFactor selects the exponent tier of the above-kink rate curve.
type RiskFactor uint8

const (
	RiskFactorConservative RiskFactor = iota // 0.5x label
	RiskFactorStandard                       // 1.0x label
	RiskFactorElevated                       // 1.5x label
	RiskFactorAggressive                     // 2.0x label
)

// LabelBps returns the labelled multiplier for display, bps-scaled.
func (rf RiskFactor) LabelBps() int64 {
	return fpmath.RiskFactorLabelBps[int(rf)%len(fpmath.RiskFactorLabelBps)]
}

// Parameters are the immutable curve and pool-range settings fixed at
// position creation.
type Parameters struct {
	FeeTier         uint8
	TickLower       int32
	TickUpper       int32
	SlopeBeforeKink int64 // bps
	SlopeAfterKink  int64 // bps
	KinkUtilization int64 // bps, exclusive (0, Bps)
	RiskFactor      RiskFactor
	FeeTokenA       string // principal / interest asset
	FeeTokenB       string // paired pool asset
}

// ValidateParameters checks creation-time parameter ranges.
// kink must be strictly inside (0, Bps) so both curve branches are
// reachable and the excess denominator never hits zero.
func ValidateParameters(params *Parameters) error {
	if params.KinkUtilization <= 0 || params.KinkUtilization >= fpmath.Bps {
		return fmt.Errorf("kink_utilization must be in (0, %d), got %d", fpmath.Bps, params.KinkUtilization)
	}
	if params.SlopeBeforeKink < 0 {
		return fmt.Errorf("slope_before_kink must be >= 0, got %d", params.SlopeBeforeKink)
	}
	if params.SlopeAfterKink < 0 {
		return fmt.Errorf("slope_after_kink must be >= 0, got %d", params.SlopeAfterKink)
	}
	if params.TickLower >= params.TickUpper {
		return fmt.Errorf("tick_lower (%d) must be < tick_upper (%d)", params.TickLower, params.TickUpper)
	}
	if int(params.RiskFactor) >= len(fpmath.RiskFactorLabelBps) {
		return fmt.Errorf("risk_factor must be 0..3, got %d", params.RiskFactor)
	}
	if params.FeeTokenA == "" || params.FeeTokenB == "" {
		return fmt.Errorf("fee tokens must be set")
	}
	if params.FeeTokenA == params.FeeTokenB {
		return fmt.Errorf("fee tokens must differ, both are %s", params.FeeTokenA)
	}
	return nil
}
