package event

import "github.com/google/uuid"

// CreatePosition opens a new loan position with immutable curve and
// tick-range parameters.
type CreatePosition struct {
	OpID            uuid.UUID
	Position        uuid.UUID
	FeeTier         uint8
	TickLower       int32
	TickUpper       int32
	SlopeBeforeKink int64
	SlopeAfterKink  int64
	KinkUtilization int64
	RiskFactor      uint8
	FeeTokenA       string
	FeeTokenB       string
	Ts              int64
	Seq             int64
}

func (e *CreatePosition) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *CreatePosition) EventType() EventType {
	return EventTypePositionCreated
}

func (e *CreatePosition) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *CreatePosition) SourceSequence() int64 {
	return e.Seq
}

func (e *CreatePosition) Timestamp() int64 {
	return e.Ts
}

// DeactivatePosition is the administrative wind-down action: deposits
// and borrows stop, repay/claim/withdraw continue.
type DeactivatePosition struct {
	OpID     uuid.UUID
	Position uuid.UUID
	Ts       int64
	Seq      int64
}

func (e *DeactivatePosition) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *DeactivatePosition) EventType() EventType {
	return EventTypePositionDeactivated
}

func (e *DeactivatePosition) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *DeactivatePosition) SourceSequence() int64 {
	return e.Seq
}

func (e *DeactivatePosition) Timestamp() int64 {
	return e.Ts
}
