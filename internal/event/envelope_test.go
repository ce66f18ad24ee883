package event

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeOp_RoundTrip(t *testing.T) {
	original := &BorrowLiquidity{
		OpID:        uuid.New(),
		Position:    uuid.New(),
		Borrower:    uuid.New(),
		LoanSlot:    uuid.New(),
		SharePctBps: 2_500,
		DurationIdx: 2,
		Ts:          1_000,
		Seq:         7,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := DecodeOp(original.EventType(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	borrow, ok := decoded.(*BorrowLiquidity)
	if !ok {
		t.Fatalf("decoded to %T, want *BorrowLiquidity", decoded)
	}
	if *borrow != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", borrow, original)
	}
	if decoded.IdempotencyKey() != original.OpID.String() {
		t.Errorf("idempotency key = %q, want op id", decoded.IdempotencyKey())
	}
}

func TestDecodeOp_AllOpBearingTypes(t *testing.T) {
	opTypes := []EventType{
		EventTypePositionCreated,
		EventTypeLiquidityDeposited,
		EventTypeLiquidityBorrowed,
		EventTypeLoanRepaid,
		EventTypeYieldClaimed,
		EventTypeYieldClaimedAndRepaid,
		EventTypeDepositWithdrawn,
		EventTypePositionDeactivated,
	}

	for _, et := range opTypes {
		evt, err := DecodeOp(et, []byte(`{}`))
		if err != nil {
			t.Errorf("DecodeOp(%s) failed: %v", et, err)
			continue
		}
		if evt.EventType() != et {
			t.Errorf("DecodeOp(%s) produced op with type %s", et, evt.EventType())
		}
	}
}

func TestDecodeOp_DerivedTypeHasNoOp(t *testing.T) {
	if _, err := DecodeOp(EventTypeDebtIndexUpdated, []byte(`{}`)); err == nil {
		t.Error("accrual entries have no originating op, expected error")
	}
}

func TestEventTypeFromString_InvertsString(t *testing.T) {
	for et := EventTypePositionCreated; et <= EventTypePositionDeactivated; et++ {
		if got := EventTypeFromString(et.String()); got != et {
			t.Errorf("EventTypeFromString(%q) = %v, want %v", et.String(), got, et)
		}
	}
	if got := EventTypeFromString("NoSuchType"); got != EventTypeUnknown {
		t.Errorf("unknown name mapped to %v", got)
	}
}
