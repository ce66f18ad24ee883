package state

import "errors"

// Error taxonomy for position operations. Every rejected operation
// leaves all persisted state untouched; there is no partial-success
// path for a single mutating call.
var (
	// ErrInvalidArgument covers zero/negative amounts, unknown duration
	// indexes, and tick ranges outside pool bounds. Rejected before any
	// state mutation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientLiquidity is returned when a borrow would push
	// totalBorrowed past liquidity (utilization is capped at 100%).
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvalidRepayAmount is returned when a repayment exceeds the
	// current debt and the caller did not request repay-remaining.
	ErrInvalidRepayAmount = errors.New("repay amount exceeds outstanding debt")

	// ErrPositionInactive is returned for deposit/borrow attempts on a
	// winding-down or drained position.
	ErrPositionInactive = errors.New("position is not active")

	// ErrPositionNotFound is returned for operations referencing an
	// unknown position id.
	ErrPositionNotFound = errors.New("position not found")

	// ErrSlotNotFound is returned for operations referencing an unknown
	// deposit or loan slot.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotInactive is returned for repay/claim against a slot that
	// has already been closed out.
	ErrSlotInactive = errors.New("slot is inactive")

	// ErrPositionExists is returned when creating a position with an id
	// that is already registered.
	ErrPositionExists = errors.New("position already exists")
)
