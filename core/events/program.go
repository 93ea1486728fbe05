package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"grainpay/core/types"
)

const (
	// TypeProgramInitialized is emitted when a program escrow is created.
	TypeProgramInitialized = "program.initialized"
	// TypeProgramFundsLocked is emitted when funds are added to a program
	// prize pool.
	TypeProgramFundsLocked = "program.funds_locked"
	// TypeProgramBatchPayout is emitted once per successful batch payout.
	TypeProgramBatchPayout = "program.batch_payout"
)

// ProgramInitialized records the one-time creation of a program escrow.
type ProgramInitialized struct {
	ProgramID    string
	PayoutKey    [20]byte
	TokenAddress [20]byte
	CreatedAt    int64
}

// EventType satisfies the events.Event interface.
func (ProgramInitialized) EventType() string { return TypeProgramInitialized }

// Event converts the payload into the wire representation.
func (e ProgramInitialized) Event() *types.Event {
	return &types.Event{Type: TypeProgramInitialized, Attributes: map[string]string{
		"programId": e.ProgramID,
		"payoutKey": hex.EncodeToString(e.PayoutKey[:]),
		"token":     hex.EncodeToString(e.TokenAddress[:]),
		"createdAt": strconv.FormatInt(e.CreatedAt, 10),
	}}
}

// ProgramFundsLocked records an addition to the program prize pool.
type ProgramFundsLocked struct {
	ProgramID string
	Amount    *big.Int
	Remaining *big.Int
	LockedAt  int64
}

// EventType satisfies the events.Event interface.
func (ProgramFundsLocked) EventType() string { return TypeProgramFundsLocked }

// Event converts the payload into the wire representation.
func (e ProgramFundsLocked) Event() *types.Event {
	return &types.Event{Type: TypeProgramFundsLocked, Attributes: map[string]string{
		"programId": e.ProgramID,
		"amount":    amountString(e.Amount),
		"remaining": amountString(e.Remaining),
		"lockedAt":  strconv.FormatInt(e.LockedAt, 10),
	}}
}

// ProgramBatchPayout summarises a batch payout; each recipient additionally
// receives an individual FundsReleased event.
type ProgramBatchPayout struct {
	ProgramID string
	Count     int
	Total     *big.Int
	Remaining *big.Int
}

// EventType satisfies the events.Event interface.
func (ProgramBatchPayout) EventType() string { return TypeProgramBatchPayout }

// Event converts the payload into the wire representation.
func (e ProgramBatchPayout) Event() *types.Event {
	return &types.Event{Type: TypeProgramBatchPayout, Attributes: map[string]string{
		"programId": e.ProgramID,
		"count":     strconv.Itoa(e.Count),
		"total":     amountString(e.Total),
		"remaining": amountString(e.Remaining),
	}}
}
