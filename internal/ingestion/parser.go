package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/event"
)

// Operation type tokens. Each maps to one ops.* subject and one typed
// event accepted by the core.
const (
	OpCreatePosition     = "CreatePosition"
	OpDepositLiquidity   = "DepositLiquidity"
	OpBorrowLiquidity    = "BorrowLiquidity"
	OpRepayLoan          = "RepayLoan"
	OpClaimDepositYield  = "ClaimDepositYield"
	OpClaimYieldAndRepay = "ClaimYieldAndRepay"
	OpWithdrawDeposit    = "WithdrawDeposit"
	OpDeactivatePosition = "DeactivatePosition"
)

// OpFromSubject maps an ops.* subject to its operation type token.
func OpFromSubject(subject string) (string, error) {
	switch subject {
	case "ops.create_position":
		return OpCreatePosition, nil
	case "ops.deposit":
		return OpDepositLiquidity, nil
	case "ops.borrow":
		return OpBorrowLiquidity, nil
	case "ops.repay":
		return OpRepayLoan, nil
	case "ops.claim":
		return OpClaimDepositYield, nil
	case "ops.claim_and_repay":
		return OpClaimYieldAndRepay, nil
	case "ops.withdraw":
		return OpWithdrawDeposit, nil
	case "ops.deactivate":
		return OpDeactivatePosition, nil
	default:
		return "", fmt.Errorf("unknown ops subject: %s", subject)
	}
}

// ParseRawEvent converts a RawEvent (JSON bytes + operation type) into a
// typed event.Event. The ingestion shell validates and converts raw
// operations before anything reaches the core, so malformed input never
// consumes a sequence number.
func ParseRawEvent(raw RawEvent, opType string) (event.Event, error) {
	switch opType {
	case OpCreatePosition:
		return parseCreatePosition(raw.Data)
	case OpDepositLiquidity:
		return parseDepositLiquidity(raw.Data)
	case OpBorrowLiquidity:
		return parseBorrowLiquidity(raw.Data)
	case OpRepayLoan:
		return parseRepayLoan(raw.Data)
	case OpClaimDepositYield:
		return parseClaimDepositYield(raw.Data)
	case OpClaimYieldAndRepay:
		return parseClaimYieldAndRepay(raw.Data)
	case OpWithdrawDeposit:
		return parseWithdrawDeposit(raw.Data)
	case OpDeactivatePosition:
		return parseDeactivatePosition(raw.Data)
	default:
		return nil, fmt.Errorf("unknown operation type: %s", opType)
	}
}

// OpDescriptor is the generic call form submitted over gRPC or the admin
// surface: a fully qualified function name plus its JSON arguments. The
// function is matched by its trailing `module::function` segments, so
// any package-address prefix is accepted.
type OpDescriptor struct {
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParseDescriptor resolves an operation descriptor into a typed event.
func ParseDescriptor(desc OpDescriptor) (event.Event, error) {
	parts := strings.Split(desc.Function, "::")
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed function name: %q", desc.Function)
	}
	module := parts[len(parts)-2]
	fn := parts[len(parts)-1]

	if module != "loan_position" {
		return nil, fmt.Errorf("unknown module %q in function %q", module, desc.Function)
	}

	raw := RawEvent{Data: desc.Arguments}
	switch fn {
	case "create_loan_position":
		return ParseRawEvent(raw, OpCreatePosition)
	case "deposit_liquidity", "deposit_liquidity_single":
		return ParseRawEvent(raw, OpDepositLiquidity)
	case "borrow_liquidity":
		return ParseRawEvent(raw, OpBorrowLiquidity)
	case "repay_loan":
		return ParseRawEvent(raw, OpRepayLoan)
	case "deposit_slot_claim_yield":
		return ParseRawEvent(raw, OpClaimDepositYield)
	case "loan_slot_claim_yield_and_repay":
		return ParseRawEvent(raw, OpClaimYieldAndRepay)
	case "withdraw_deposit":
		return ParseRawEvent(raw, OpWithdrawDeposit)
	case "deactivate_position":
		return ParseRawEvent(raw, OpDeactivatePosition)
	default:
		return nil, fmt.Errorf("unknown function %q", fn)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type createPositionJSON struct {
	OpID            string `json:"op_id"`
	PositionID      string `json:"position_id"`
	FeeTier         uint8  `json:"fee_tier"`
	TickLower       int32  `json:"tick_lower"`
	TickUpper       int32  `json:"tick_upper"`
	SlopeBeforeKink int64  `json:"slope_before_kink"`
	SlopeAfterKink  int64  `json:"slope_after_kink"`
	KinkUtilization int64  `json:"kink_utilization"`
	RiskFactor      uint8  `json:"risk_factor"`
	FeeTokenA       string `json:"fee_token_a"`
	FeeTokenB       string `json:"fee_token_b"`
	Ts              int64  `json:"ts"`
	Seq             int64  `json:"seq"`
}

func parseCreatePosition(data []byte) (*event.CreatePosition, error) {
	var j createPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreatePosition: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	if j.FeeTokenA == "" || j.FeeTokenB == "" {
		return nil, fmt.Errorf("fee_token_a and fee_token_b are required")
	}

	return &event.CreatePosition{
		OpID:            opID,
		Position:        positionID,
		FeeTier:         j.FeeTier,
		TickLower:       j.TickLower,
		TickUpper:       j.TickUpper,
		SlopeBeforeKink: j.SlopeBeforeKink,
		SlopeAfterKink:  j.SlopeAfterKink,
		KinkUtilization: j.KinkUtilization,
		RiskFactor:      j.RiskFactor,
		FeeTokenA:       j.FeeTokenA,
		FeeTokenB:       j.FeeTokenB,
		Ts:              j.Ts,
		Seq:             j.Seq,
	}, nil
}

type depositJSON struct {
	OpID           string `json:"op_id"`
	PositionID     string `json:"position_id"`
	LenderID       string `json:"lender_id"`
	Amount         int64  `json:"amount"`
	SingleSided    bool   `json:"single_sided,omitempty"`
	PairedEstimate int64  `json:"paired_estimate,omitempty"`
	Ts             int64  `json:"ts"`
	Seq            int64  `json:"seq"`
}

func parseDepositLiquidity(data []byte) (*event.DepositLiquidity, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositLiquidity: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	lenderID, err := uuid.Parse(j.LenderID)
	if err != nil {
		return nil, fmt.Errorf("parse lender_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("amount must be > 0, got %d", j.Amount)
	}

	return &event.DepositLiquidity{
		OpID:           opID,
		Position:       positionID,
		Lender:         lenderID,
		Amount:         j.Amount,
		SingleSided:    j.SingleSided,
		PairedEstimate: j.PairedEstimate,
		Ts:             j.Ts,
		Seq:            j.Seq,
	}, nil
}

type borrowJSON struct {
	OpID        string `json:"op_id"`
	PositionID  string `json:"position_id"`
	BorrowerID  string `json:"borrower_id"`
	LoanSlotID  string `json:"loan_slot_id"`
	SharePctBps int64  `json:"share_pct_bps"`
	DurationIdx uint8  `json:"duration_idx"`
	Ts          int64  `json:"ts"`
	Seq         int64  `json:"seq"`
}

func parseBorrowLiquidity(data []byte) (*event.BorrowLiquidity, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowLiquidity: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	borrowerID, err := uuid.Parse(j.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("parse borrower_id: %w", err)
	}
	loanSlotID, err := uuid.Parse(j.LoanSlotID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_slot_id: %w", err)
	}
	if j.SharePctBps <= 0 || j.SharePctBps > 10_000 {
		return nil, fmt.Errorf("share_pct_bps must be in (0, 10000], got %d", j.SharePctBps)
	}
	if j.DurationIdx > 3 {
		return nil, fmt.Errorf("duration_idx must be 0..3, got %d", j.DurationIdx)
	}

	return &event.BorrowLiquidity{
		OpID:        opID,
		Position:    positionID,
		Borrower:    borrowerID,
		LoanSlot:    loanSlotID,
		SharePctBps: j.SharePctBps,
		DurationIdx: j.DurationIdx,
		Ts:          j.Ts,
		Seq:         j.Seq,
	}, nil
}

type repayJSON struct {
	OpID           string `json:"op_id"`
	PositionID     string `json:"position_id"`
	BorrowerID     string `json:"borrower_id"`
	LoanSlotID     string `json:"loan_slot_id"`
	Amount         int64  `json:"amount"`
	RepayRemaining bool   `json:"repay_remaining,omitempty"`
	Ts             int64  `json:"ts"`
	Seq            int64  `json:"seq"`
}

func parseRepayLoan(data []byte) (*event.RepayLoan, error) {
	var j repayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RepayLoan: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	borrowerID, err := uuid.Parse(j.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("parse borrower_id: %w", err)
	}
	loanSlotID, err := uuid.Parse(j.LoanSlotID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_slot_id: %w", err)
	}
	if j.Amount <= 0 && !j.RepayRemaining {
		return nil, fmt.Errorf("amount must be > 0 unless repay_remaining is set, got %d", j.Amount)
	}

	return &event.RepayLoan{
		OpID:           opID,
		Position:       positionID,
		Borrower:       borrowerID,
		LoanSlot:       loanSlotID,
		Amount:         j.Amount,
		RepayRemaining: j.RepayRemaining,
		Ts:             j.Ts,
		Seq:            j.Seq,
	}, nil
}

type claimJSON struct {
	OpID       string `json:"op_id"`
	PositionID string `json:"position_id"`
	LenderID   string `json:"lender_id"`
	Ts         int64  `json:"ts"`
	Seq        int64  `json:"seq"`
}

func parseClaimDepositYield(data []byte) (*event.ClaimDepositYield, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimDepositYield: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	lenderID, err := uuid.Parse(j.LenderID)
	if err != nil {
		return nil, fmt.Errorf("parse lender_id: %w", err)
	}

	return &event.ClaimDepositYield{
		OpID:     opID,
		Position: positionID,
		Lender:   lenderID,
		Ts:       j.Ts,
		Seq:      j.Seq,
	}, nil
}

type claimAndRepayJSON struct {
	OpID           string `json:"op_id"`
	PositionID     string `json:"position_id"`
	BorrowerID     string `json:"borrower_id"`
	LoanSlotID     string `json:"loan_slot_id"`
	RepayAmount    int64  `json:"repay_amount,omitempty"`
	RepayRemaining bool   `json:"repay_remaining,omitempty"`
	Ts             int64  `json:"ts"`
	Seq            int64  `json:"seq"`
}

func parseClaimYieldAndRepay(data []byte) (*event.ClaimYieldAndRepay, error) {
	var j claimAndRepayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimYieldAndRepay: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	borrowerID, err := uuid.Parse(j.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("parse borrower_id: %w", err)
	}
	loanSlotID, err := uuid.Parse(j.LoanSlotID)
	if err != nil {
		return nil, fmt.Errorf("parse loan_slot_id: %w", err)
	}
	if j.RepayAmount < 0 {
		return nil, fmt.Errorf("repay_amount must be >= 0, got %d", j.RepayAmount)
	}

	return &event.ClaimYieldAndRepay{
		OpID:           opID,
		Position:       positionID,
		Borrower:       borrowerID,
		LoanSlot:       loanSlotID,
		RepayAmount:    j.RepayAmount,
		RepayRemaining: j.RepayRemaining,
		Ts:             j.Ts,
		Seq:            j.Seq,
	}, nil
}

type withdrawJSON struct {
	OpID       string `json:"op_id"`
	PositionID string `json:"position_id"`
	LenderID   string `json:"lender_id"`
	Amount     int64  `json:"amount"`
	Ts         int64  `json:"ts"`
	Seq        int64  `json:"seq"`
}

func parseWithdrawDeposit(data []byte) (*event.WithdrawDeposit, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawDeposit: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	lenderID, err := uuid.Parse(j.LenderID)
	if err != nil {
		return nil, fmt.Errorf("parse lender_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("amount must be > 0, got %d", j.Amount)
	}

	return &event.WithdrawDeposit{
		OpID:     opID,
		Position: positionID,
		Lender:   lenderID,
		Amount:   j.Amount,
		Ts:       j.Ts,
		Seq:      j.Seq,
	}, nil
}

type deactivateJSON struct {
	OpID       string `json:"op_id"`
	PositionID string `json:"position_id"`
	Ts         int64  `json:"ts"`
	Seq        int64  `json:"seq"`
}

func parseDeactivatePosition(data []byte) (*event.DeactivatePosition, error) {
	var j deactivateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DeactivatePosition: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}

	return &event.DeactivatePosition{
		OpID:     opID,
		Position: positionID,
		Ts:       j.Ts,
		Seq:      j.Seq,
	}, nil
}
