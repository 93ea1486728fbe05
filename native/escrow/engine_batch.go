package escrow

import (
	"math/big"

	"grainpay/core/events"
)

// BatchLockFunds locks every item or none of them. Validation runs over the
// whole batch, including the depositor's aggregate balance, before the first
// transfer executes; the batch is a single atomic unit at the ledger level.
func (e *Engine) BatchLockFunds(depositor [20]byte, items []LockItem) (int, error) {
	if err := e.ensureConfigured(); err != nil {
		return 0, err
	}
	if err := e.ensureNotPaused(); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(items) > MaxBatchSize {
		return 0, ErrBatchTooLarge
	}
	now := e.now()
	seen := make(map[string]struct{}, len(items))
	total := big.NewInt(0)
	trimmedIDs := make([]string, len(items))
	for i, item := range items {
		trimmed, err := e.validateLock(item.BountyID, item.Amount, item.Deadline, now)
		if err != nil {
			return 0, err
		}
		if _, dup := seen[trimmed]; dup {
			return 0, ErrDuplicateBounty
		}
		seen[trimmed] = struct{}{}
		trimmedIDs[i] = trimmed
		total.Add(total, item.Amount)
	}
	account, err := e.state.GetAccount(depositor)
	if err != nil {
		return 0, err
	}
	if account.Balance.Cmp(total) < 0 {
		return 0, ErrInsufficientBalance
	}
	for i, item := range items {
		record := &Record{
			BountyID:  trimmedIDs[i],
			ProjectID: item.ProjectID,
			Depositor: depositor,
			Amount:    cloneBigInt(item.Amount),
			Remaining: cloneBigInt(item.Amount),
			LockedAt:  now,
			Deadline:  item.Deadline,
			Status:    StatusLocked,
		}
		if item.Contributor != nil {
			bound := *item.Contributor
			record.Contributor = &bound
		}
		if err := e.transfer(depositor, e.vault, record.Amount); err != nil {
			return 0, err
		}
		if err := e.state.EscrowPut(record); err != nil {
			return 0, err
		}
		e.emit(events.FundsLocked{
			BountyID:  record.BountyID,
			ProjectID: record.ProjectID,
			Depositor: depositor,
			Amount:    cloneBigInt(record.Amount),
			Deadline:  record.Deadline,
			LockedAt:  now,
		})
	}
	e.emit(events.BatchLocked{Count: len(items), Total: total})
	return len(items), nil
}

// BatchReleaseFunds releases every item or none of them. Payout key only;
// each record must be Locked and satisfy its contributor binding before any
// transfer executes.
func (e *Engine) BatchReleaseFunds(caller [20]byte, items []ReleaseItem) (int, error) {
	if err := e.ensureConfigured(); err != nil {
		return 0, err
	}
	if err := e.ensureNotPaused(); err != nil {
		return 0, err
	}
	if caller != e.payoutKey {
		return 0, ErrUnauthorized
	}
	if len(items) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(items) > MaxBatchSize {
		return 0, ErrBatchTooLarge
	}
	seen := make(map[string]struct{}, len(items))
	records := make([]*Record, len(items))
	total := big.NewInt(0)
	for i, item := range items {
		record, err := e.loadRecord(item.BountyID)
		if err != nil {
			return 0, err
		}
		if _, dup := seen[record.BountyID]; dup {
			return 0, ErrDuplicateBounty
		}
		seen[record.BountyID] = struct{}{}
		if err := e.validateRelease(record, item.Recipient); err != nil {
			return 0, err
		}
		records[i] = record
		total.Add(total, remainingOf(record))
	}
	// The vault must cover the whole batch before any item settles, the
	// same aggregate check batch lock runs against the depositor.
	vault, err := e.state.GetAccount(e.vault)
	if err != nil {
		return 0, err
	}
	if vault.Balance.Cmp(total) < 0 {
		return 0, ErrInsufficientBalance
	}
	now := e.now()
	for i, item := range items {
		record := records[i]
		payout := remainingOf(record)
		if err := e.transfer(e.vault, item.Recipient, payout); err != nil {
			return 0, err
		}
		record.Status = StatusReleased
		record.Remaining = big.NewInt(0)
		if err := e.state.EscrowPut(record); err != nil {
			return 0, err
		}
		e.emit(events.FundsReleased{
			BountyID:  record.BountyID,
			Recipient: item.Recipient,
			Amount:    payout,
			Remaining: big.NewInt(0),
			PaidAt:    now,
		})
	}
	e.emit(events.BatchReleased{Count: len(items), Total: total})
	return len(items), nil
}
