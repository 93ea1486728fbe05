package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"grainpay/core/types"
)

const (
	// TypeFundsLocked is emitted when a bounty escrow locks deposited funds.
	TypeFundsLocked = "escrow.funds_locked"
	// TypeFundsReleased is emitted when escrowed funds reach a recipient.
	TypeFundsReleased = "escrow.funds_released"
	// TypeFundsRefunded is emitted when escrowed funds return to the
	// initiator of a refund.
	TypeFundsRefunded = "escrow.funds_refunded"
	// TypeEscrowPaused is emitted when the payout key halts the contract.
	TypeEscrowPaused = "escrow.paused"
	// TypeEscrowUnpaused is emitted when the payout key resumes the contract.
	TypeEscrowUnpaused = "escrow.unpaused"
	// TypeBatchLocked is emitted once per successful batch lock.
	TypeBatchLocked = "escrow.batch_locked"
	// TypeBatchReleased is emitted once per successful batch release.
	TypeBatchReleased = "escrow.batch_released"
	// TypeRefundApproved is emitted when a custom refund is authorized
	// ahead of the deadline.
	TypeRefundApproved = "escrow.refund_approved"
	// TypeScheduleCreated is emitted when a release schedule is created.
	TypeScheduleCreated = "escrow.schedule_created"
	// TypeScheduleReleased is emitted when a release schedule settles.
	TypeScheduleReleased = "escrow.schedule_released"
)

// FundsLocked records the creation of a bounty escrow. Downstream indexers
// correlate the bounty identifier with the originating project.
type FundsLocked struct {
	BountyID  string
	ProjectID string
	Depositor [20]byte
	Amount    *big.Int
	Deadline  int64
	LockedAt  int64
}

// EventType satisfies the events.Event interface.
func (FundsLocked) EventType() string { return TypeFundsLocked }

// Event converts the payload into the wire representation.
func (e FundsLocked) Event() *types.Event {
	attrs := map[string]string{
		"bountyId":  e.BountyID,
		"depositor": hex.EncodeToString(e.Depositor[:]),
		"amount":    amountString(e.Amount),
		"lockedAt":  strconv.FormatInt(e.LockedAt, 10),
	}
	if project := strings.TrimSpace(e.ProjectID); project != "" {
		attrs["projectId"] = project
	}
	if e.Deadline > 0 {
		attrs["deadline"] = strconv.FormatInt(e.Deadline, 10)
	}
	return &types.Event{Type: TypeFundsLocked, Attributes: attrs}
}

// FundsReleased records a settlement in favour of a recipient. ProgramID is
// set for program-escrow payouts, BountyID for bounty escrows.
type FundsReleased struct {
	BountyID  string
	ProgramID string
	Recipient [20]byte
	Amount    *big.Int
	Remaining *big.Int
	PaidAt    int64
}

// EventType satisfies the events.Event interface.
func (FundsReleased) EventType() string { return TypeFundsReleased }

// Event converts the payload into the wire representation.
func (e FundsReleased) Event() *types.Event {
	attrs := map[string]string{
		"recipient": hex.EncodeToString(e.Recipient[:]),
		"amount":    amountString(e.Amount),
		"paidAt":    strconv.FormatInt(e.PaidAt, 10),
	}
	if e.BountyID != "" {
		attrs["bountyId"] = e.BountyID
	}
	if e.ProgramID != "" {
		attrs["programId"] = e.ProgramID
	}
	if e.Remaining != nil {
		attrs["remaining"] = e.Remaining.String()
	}
	return &types.Event{Type: TypeFundsReleased, Attributes: attrs}
}

// FundsRefunded records the return of escrowed funds to an initiator. Mode
// and Remaining are set for bounty escrow refunds, where partial refunds
// leave a balance behind.
type FundsRefunded struct {
	BountyID  string
	ProgramID string
	Initiator [20]byte
	Amount    *big.Int
	Mode      string
	Remaining *big.Int
	PaidAt    int64
}

// EventType satisfies the events.Event interface.
func (FundsRefunded) EventType() string { return TypeFundsRefunded }

// Event converts the payload into the wire representation.
func (e FundsRefunded) Event() *types.Event {
	attrs := map[string]string{
		"initiator": hex.EncodeToString(e.Initiator[:]),
		"amount":    amountString(e.Amount),
		"paidAt":    strconv.FormatInt(e.PaidAt, 10),
	}
	if e.BountyID != "" {
		attrs["bountyId"] = e.BountyID
	}
	if e.ProgramID != "" {
		attrs["programId"] = e.ProgramID
	}
	if e.Mode != "" {
		attrs["mode"] = e.Mode
	}
	if e.Remaining != nil {
		attrs["remaining"] = e.Remaining.String()
	}
	return &types.Event{Type: TypeFundsRefunded, Attributes: attrs}
}

// RefundApproved records the authorization of a custom refund.
type RefundApproved struct {
	BountyID   string
	Amount     *big.Int
	Recipient  [20]byte
	Mode       string
	ApprovedBy [20]byte
	ApprovedAt int64
}

// EventType satisfies the events.Event interface.
func (RefundApproved) EventType() string { return TypeRefundApproved }

// Event converts the payload into the wire representation.
func (e RefundApproved) Event() *types.Event {
	return &types.Event{Type: TypeRefundApproved, Attributes: map[string]string{
		"bountyId":   e.BountyID,
		"amount":     amountString(e.Amount),
		"recipient":  hex.EncodeToString(e.Recipient[:]),
		"mode":       e.Mode,
		"approvedBy": hex.EncodeToString(e.ApprovedBy[:]),
		"approvedAt": strconv.FormatInt(e.ApprovedAt, 10),
	}}
}

// ScheduleCreated records a new release schedule for a bounty.
type ScheduleCreated struct {
	BountyID   string
	ScheduleID uint64
	Amount     *big.Int
	ReleaseAt  int64
	Recipient  [20]byte
	CreatedBy  [20]byte
}

// EventType satisfies the events.Event interface.
func (ScheduleCreated) EventType() string { return TypeScheduleCreated }

// Event converts the payload into the wire representation.
func (e ScheduleCreated) Event() *types.Event {
	return &types.Event{Type: TypeScheduleCreated, Attributes: map[string]string{
		"bountyId":   e.BountyID,
		"scheduleId": strconv.FormatUint(e.ScheduleID, 10),
		"amount":     amountString(e.Amount),
		"releaseAt":  strconv.FormatInt(e.ReleaseAt, 10),
		"recipient":  hex.EncodeToString(e.Recipient[:]),
		"createdBy":  hex.EncodeToString(e.CreatedBy[:]),
	}}
}

// ScheduleReleased records the settlement of a release schedule.
type ScheduleReleased struct {
	BountyID   string
	ScheduleID uint64
	Amount     *big.Int
	Recipient  [20]byte
	ReleasedAt int64
	ReleasedBy [20]byte
	Kind       string
}

// EventType satisfies the events.Event interface.
func (ScheduleReleased) EventType() string { return TypeScheduleReleased }

// Event converts the payload into the wire representation.
func (e ScheduleReleased) Event() *types.Event {
	return &types.Event{Type: TypeScheduleReleased, Attributes: map[string]string{
		"bountyId":   e.BountyID,
		"scheduleId": strconv.FormatUint(e.ScheduleID, 10),
		"amount":     amountString(e.Amount),
		"recipient":  hex.EncodeToString(e.Recipient[:]),
		"releasedAt": strconv.FormatInt(e.ReleasedAt, 10),
		"releasedBy": hex.EncodeToString(e.ReleasedBy[:]),
		"kind":       e.Kind,
	}}
}

// EscrowPaused records an operational halt of the bounty escrow contract.
type EscrowPaused struct {
	Caller   [20]byte
	Reason   string
	PausedAt int64
}

// EventType satisfies the events.Event interface.
func (EscrowPaused) EventType() string { return TypeEscrowPaused }

// Event converts the payload into the wire representation.
func (e EscrowPaused) Event() *types.Event {
	attrs := map[string]string{
		"caller":   hex.EncodeToString(e.Caller[:]),
		"pausedAt": strconv.FormatInt(e.PausedAt, 10),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeEscrowPaused, Attributes: attrs}
}

// EscrowUnpaused records the resumption of the bounty escrow contract.
type EscrowUnpaused struct {
	Caller    [20]byte
	Reason    string
	ResumedAt int64
}

// EventType satisfies the events.Event interface.
func (EscrowUnpaused) EventType() string { return TypeEscrowUnpaused }

// Event converts the payload into the wire representation.
func (e EscrowUnpaused) Event() *types.Event {
	attrs := map[string]string{
		"caller":    hex.EncodeToString(e.Caller[:]),
		"resumedAt": strconv.FormatInt(e.ResumedAt, 10),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeEscrowUnpaused, Attributes: attrs}
}

// BatchLocked summarises a batch lock: individual FundsLocked events are
// still emitted per item.
type BatchLocked struct {
	Count int
	Total *big.Int
}

// EventType satisfies the events.Event interface.
func (BatchLocked) EventType() string { return TypeBatchLocked }

// Event converts the payload into the wire representation.
func (e BatchLocked) Event() *types.Event {
	return &types.Event{Type: TypeBatchLocked, Attributes: map[string]string{
		"count": strconv.Itoa(e.Count),
		"total": amountString(e.Total),
	}}
}

// BatchReleased summarises a batch release.
type BatchReleased struct {
	Count int
	Total *big.Int
}

// EventType satisfies the events.Event interface.
func (BatchReleased) EventType() string { return TypeBatchReleased }

// Event converts the payload into the wire representation.
func (e BatchReleased) Event() *types.Event {
	return &types.Event{Type: TypeBatchReleased, Attributes: map[string]string{
		"count": strconv.Itoa(e.Count),
		"total": amountString(e.Total),
	}}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
