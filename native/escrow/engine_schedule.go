package escrow

import (
	"math/big"

	"grainpay/core/events"
)

// CreateReleaseSchedule reserves part of a record's remaining balance for a
// recipient once the release time passes. Payout key only; the record must
// be Locked and the sum of pending schedules plus the new amount must fit
// inside the remaining balance.
func (e *Engine) CreateReleaseSchedule(caller [20]byte, bountyID string, amount *big.Int, releaseAt int64, recipient [20]byte) (*ReleaseSchedule, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := e.ensureNotPaused(); err != nil {
		return nil, err
	}
	if caller != e.payoutKey {
		return nil, ErrUnauthorized
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusLocked {
		return nil, ErrNotLocked
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if releaseAt <= now {
		return nil, ErrInvalidScheduleTime
	}
	pending, err := e.pendingScheduledTotal(record.BountyID)
	if err != nil {
		return nil, err
	}
	if new(big.Int).Add(pending, amount).Cmp(remainingOf(record)) > 0 {
		return nil, ErrScheduleOvercommitted
	}
	id, err := e.state.ScheduleNextIDGet(record.BountyID)
	if err != nil {
		return nil, err
	}
	schedule := &ReleaseSchedule{
		BountyID:   record.BountyID,
		ScheduleID: id,
		Amount:     cloneBigInt(amount),
		ReleaseAt:  releaseAt,
		Recipient:  recipient,
	}
	if err := e.state.SchedulePut(schedule); err != nil {
		return nil, err
	}
	if err := e.state.ScheduleNextIDPut(record.BountyID, id+1); err != nil {
		return nil, err
	}
	e.emit(events.ScheduleCreated{
		BountyID:   record.BountyID,
		ScheduleID: id,
		Amount:     cloneBigInt(amount),
		ReleaseAt:  releaseAt,
		Recipient:  recipient,
		CreatedBy:  caller,
	})
	return schedule.Clone(), nil
}

// ReleaseScheduledFunds settles a due schedule. Anyone may call once the
// release time has passed.
func (e *Engine) ReleaseScheduledFunds(caller [20]byte, bountyID string, scheduleID uint64) error {
	return e.settleSchedule(caller, bountyID, scheduleID, ReleaseAutomatic)
}

// ReleaseScheduledFundsEarly settles a schedule before its release time.
// Payout key only.
func (e *Engine) ReleaseScheduledFundsEarly(caller [20]byte, bountyID string, scheduleID uint64) error {
	return e.settleSchedule(caller, bountyID, scheduleID, ReleaseManual)
}

func (e *Engine) settleSchedule(caller [20]byte, bountyID string, scheduleID uint64, kind ReleaseKind) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if err := e.ensureNotPaused(); err != nil {
		return err
	}
	if kind == ReleaseManual && caller != e.payoutKey {
		return ErrUnauthorized
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	schedule, ok, err := e.state.ScheduleGet(record.BountyID, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrScheduleNotFound
	}
	if schedule.Released {
		return ErrScheduleReleased
	}
	now := e.now()
	if kind == ReleaseAutomatic && now < schedule.ReleaseAt {
		return ErrScheduleNotDue
	}
	if !record.Status.Active() {
		return ErrNotLocked
	}
	remaining := remainingOf(record)
	if schedule.Amount == nil || schedule.Amount.Cmp(remaining) > 0 {
		return ErrInsufficientBalance
	}
	if err := e.transfer(e.vault, schedule.Recipient, schedule.Amount); err != nil {
		return err
	}
	by := caller
	schedule.Released = true
	schedule.ReleasedAt = now
	schedule.ReleasedBy = &by
	newRemaining := new(big.Int).Sub(remaining, schedule.Amount)
	record.Remaining = newRemaining
	if newRemaining.Sign() == 0 {
		record.Status = StatusReleased
	}
	history, err := e.state.ReleaseHistoryGet(record.BountyID)
	if err != nil {
		return err
	}
	history = append(history, ReleaseEntry{
		BountyID:   record.BountyID,
		ScheduleID: scheduleID,
		Amount:     cloneBigInt(schedule.Amount),
		Recipient:  schedule.Recipient,
		ReleasedAt: now,
		ReleasedBy: caller,
		Kind:       kind,
	})
	if err := e.state.SchedulePut(schedule); err != nil {
		return err
	}
	if err := e.state.EscrowPut(record); err != nil {
		return err
	}
	if err := e.state.ReleaseHistoryPut(record.BountyID, history); err != nil {
		return err
	}
	e.emit(events.ScheduleReleased{
		BountyID:   record.BountyID,
		ScheduleID: scheduleID,
		Amount:     cloneBigInt(schedule.Amount),
		Recipient:  schedule.Recipient,
		ReleasedAt: now,
		ReleasedBy: caller,
		Kind:       kind.String(),
	})
	return nil
}

func (e *Engine) pendingScheduledTotal(bountyID string) (*big.Int, error) {
	schedules, err := e.listSchedules(bountyID)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, schedule := range schedules {
		if !schedule.Released {
			total.Add(total, schedule.Amount)
		}
	}
	return total, nil
}

func (e *Engine) listSchedules(bountyID string) ([]*ReleaseSchedule, error) {
	next, err := e.state.ScheduleNextIDGet(bountyID)
	if err != nil {
		return nil, err
	}
	var schedules []*ReleaseSchedule
	for id := uint64(1); id < next; id++ {
		schedule, ok, err := e.state.ScheduleGet(bountyID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			schedules = append(schedules, schedule.Clone())
		}
	}
	return schedules, nil
}

// GetReleaseSchedule returns a snapshot of one schedule.
func (e *Engine) GetReleaseSchedule(bountyID string, scheduleID uint64) (*ReleaseSchedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadRecord(bountyID); err != nil {
		return nil, err
	}
	schedule, ok, err := e.state.ScheduleGet(bountyID, scheduleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return schedule.Clone(), nil
}

// ListReleaseSchedules returns every schedule for a bounty in creation
// order.
func (e *Engine) ListReleaseSchedules(bountyID string) ([]*ReleaseSchedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadRecord(bountyID); err != nil {
		return nil, err
	}
	return e.listSchedules(bountyID)
}

// PendingSchedules returns the schedules that have not settled yet.
func (e *Engine) PendingSchedules(bountyID string) ([]*ReleaseSchedule, error) {
	schedules, err := e.ListReleaseSchedules(bountyID)
	if err != nil {
		return nil, err
	}
	var pending []*ReleaseSchedule
	for _, schedule := range schedules {
		if !schedule.Released {
			pending = append(pending, schedule)
		}
	}
	return pending, nil
}

// DueSchedules returns the pending schedules whose release time has passed.
func (e *Engine) DueSchedules(bountyID string) ([]*ReleaseSchedule, error) {
	pending, err := e.PendingSchedules(bountyID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var due []*ReleaseSchedule
	for _, schedule := range pending {
		if schedule.ReleaseAt <= now {
			due = append(due, schedule)
		}
	}
	return due, nil
}

// GetReleaseHistory returns the settled schedule releases for a bounty,
// oldest first.
func (e *Engine) GetReleaseHistory(bountyID string) ([]ReleaseEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadRecord(bountyID); err != nil {
		return nil, err
	}
	return e.state.ReleaseHistoryGet(bountyID)
}
