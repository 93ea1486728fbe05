package escrow

import (
	"math/big"

	"grainpay/core/events"
)

// ApproveRefund records an authorization for one custom refund ahead of the
// deadline. Payout key only; the record must still hold funds and the
// approved amount must fit inside the remaining balance. A later approval
// for the same bounty replaces the earlier one.
func (e *Engine) ApproveRefund(caller [20]byte, bountyID string, amount *big.Int, recipient [20]byte, mode RefundMode) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if err := e.ensureNotPaused(); err != nil {
		return err
	}
	if caller != e.payoutKey {
		return ErrUnauthorized
	}
	if !mode.Valid() {
		return ErrInvalidAmount
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if !record.Status.Active() {
		return ErrNotLocked
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(remainingOf(record)) > 0 {
		return ErrInvalidAmount
	}
	now := e.now()
	approval := &RefundApproval{
		BountyID:   record.BountyID,
		Amount:     cloneBigInt(amount),
		Recipient:  recipient,
		Mode:       mode,
		ApprovedBy: caller,
		ApprovedAt: now,
	}
	if err := e.state.RefundApprovalPut(approval); err != nil {
		return err
	}
	e.emit(events.RefundApproved{
		BountyID:   record.BountyID,
		Amount:     cloneBigInt(amount),
		Recipient:  recipient,
		Mode:       mode.String(),
		ApprovedBy: caller,
		ApprovedAt: now,
	})
	return nil
}

// RefundWithMode settles a refund according to the requested mode. Full and
// partial refunds go to the depositor; custom refunds go to the supplied
// recipient and, before the deadline, must match a stored approval, which
// is consumed on use. The payout key and the depositor may initiate; the
// depositor remains gated by the deadline for full and partial refunds.
func (e *Engine) RefundWithMode(caller [20]byte, bountyID string, amount *big.Int, recipient *[20]byte, mode RefundMode) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if err := e.ensureNotPaused(); err != nil {
		return err
	}
	if !mode.Valid() {
		return ErrInvalidAmount
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if !record.Status.Active() {
		return ErrNotLocked
	}
	if caller != e.payoutKey {
		if caller != record.Depositor {
			return ErrUnauthorized
		}
		if record.Deadline == 0 {
			return ErrUnauthorized
		}
	}
	now := e.now()
	beforeDeadline := record.Deadline != 0 && now < record.Deadline
	remaining := remainingOf(record)

	var refund *big.Int
	var target [20]byte
	switch mode {
	case RefundFull:
		refund = remaining
		target = record.Depositor
		if beforeDeadline && caller != e.payoutKey {
			return ErrDeadlineNotPassed
		}
	case RefundPartial:
		if amount != nil {
			refund = cloneBigInt(amount)
		} else {
			refund = remaining
		}
		target = record.Depositor
		if beforeDeadline && caller != e.payoutKey {
			return ErrDeadlineNotPassed
		}
	case RefundCustom:
		if amount == nil || recipient == nil {
			return ErrInvalidAmount
		}
		refund = cloneBigInt(amount)
		target = *recipient
		if beforeDeadline {
			approval, ok, err := e.state.RefundApprovalGet(record.BountyID)
			if err != nil {
				return err
			}
			if !ok || approval == nil {
				return ErrRefundNotApproved
			}
			if approval.Amount == nil || approval.Amount.Cmp(refund) != 0 ||
				approval.Recipient != target || approval.Mode != mode {
				return ErrRefundNotApproved
			}
			if err := e.state.RefundApprovalDelete(record.BountyID); err != nil {
				return err
			}
		}
	}
	if refund.Sign() <= 0 || refund.Cmp(remaining) > 0 {
		return ErrInvalidAmount
	}
	if err := e.transfer(e.vault, target, refund); err != nil {
		return err
	}
	current, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if !current.Status.Active() {
		return ErrNotLocked
	}
	newRemaining := new(big.Int).Sub(remainingOf(current), refund)
	if newRemaining.Sign() < 0 {
		return ErrInvalidAmount
	}
	current.Remaining = newRemaining
	if newRemaining.Sign() == 0 {
		current.Status = StatusRefunded
	} else {
		current.Status = StatusPartiallyRefunded
	}
	current.RefundHistory = append(current.RefundHistory, RefundEntry{
		Amount:    cloneBigInt(refund),
		Recipient: target,
		Mode:      mode,
		Timestamp: now,
	})
	if err := e.state.EscrowPut(current); err != nil {
		return err
	}
	e.emit(events.FundsRefunded{
		BountyID:  current.BountyID,
		Initiator: target,
		Amount:    refund,
		Mode:      mode.String(),
		Remaining: cloneBigInt(newRemaining),
		PaidAt:    now,
	})
	return nil
}

// GetRefundEligibility reports whether a record can currently be refunded:
// the record must still hold funds and either the deadline has passed or a
// custom refund has been approved.
func (e *Engine) GetRefundEligibility(bountyID string) (*RefundEligibility, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return nil, err
	}
	deadlinePassed := record.Deadline != 0 && e.now() >= record.Deadline
	approval, ok, err := e.state.RefundApprovalGet(record.BountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		approval = nil
	}
	return &RefundEligibility{
		CanRefund:      record.Status.Active() && (deadlinePassed || approval != nil),
		DeadlinePassed: deadlinePassed,
		Remaining:      remainingOf(record),
		Approval:       approval.Clone(),
	}, nil
}

// GetRefundHistory returns the settled refunds for a bounty, oldest first.
func (e *Engine) GetRefundHistory(bountyID string) ([]RefundEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return nil, err
	}
	return record.Clone().RefundHistory, nil
}
