package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	subjectPoolInfo = "oracle.pool.info"
	subjectEstimate = "oracle.pool.estimate"
)

// NATSOracle resolves pool quotes over NATS request/reply. When the
// estimate service does not answer in time it falls back to a local
// tick-price computation, which is acceptable because the quote is
// advisory.
type NATSOracle struct {
	nc      *nats.Conn
	timeout time.Duration
	logger  zerolog.Logger
}

func NewNATSOracle(nc *nats.Conn, timeout time.Duration, logger zerolog.Logger) *NATSOracle {
	return &NATSOracle{
		nc:      nc,
		timeout: timeout,
		logger:  logger,
	}
}

type poolInfoRequest struct {
	PoolID string `json:"pool_id"`
}

func (o *NATSOracle) GetPoolInfo(ctx context.Context, poolID string) (*PoolInfo, error) {
	payload, err := json.Marshal(poolInfoRequest{PoolID: poolID})
	if err != nil {
		return nil, fmt.Errorf("marshal pool info request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg, err := o.nc.RequestWithContext(reqCtx, subjectPoolInfo, payload)
	if err != nil {
		return nil, fmt.Errorf("pool info request for %s: %w", poolID, err)
	}

	var info PoolInfo
	if err := json.Unmarshal(msg.Data, &info); err != nil {
		return nil, fmt.Errorf("decode pool info for %s: %w", poolID, err)
	}
	return &info, nil
}

type estimateRequest struct {
	TickLower   int32 `json:"tick_lower"`
	TickUpper   int32 `json:"tick_upper"`
	CurrentTick int32 `json:"current_tick"`
	AmountIn    int64 `json:"amount_in,string"`
}

type estimateResponse struct {
	AmountOut int64 `json:"amount_out,string"`
}

func (o *NATSOracle) EstimateCounterpartAmount(ctx context.Context, tickLower, tickUpper, currentTick int32, amountIn int64) (int64, error) {
	payload, err := json.Marshal(estimateRequest{
		TickLower:   tickLower,
		TickUpper:   tickUpper,
		CurrentTick: currentTick,
		AmountIn:    amountIn,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal estimate request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg, err := o.nc.RequestWithContext(reqCtx, subjectEstimate, payload)
	if err != nil {
		o.logger.Warn().Err(err).Int32("current_tick", currentTick).
			Msg("estimate service unavailable, using tick-price fallback")
		return EstimateFromTick(currentTick, amountIn)
	}

	var resp estimateResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return 0, fmt.Errorf("decode estimate response: %w", err)
	}
	return resp.AmountOut, nil
}
