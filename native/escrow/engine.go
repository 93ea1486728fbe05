package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"grainpay/core/events"
	"grainpay/core/types"
)

var (
	errNilState = errors.New("escrow engine: state not configured")
	errNilVault = errors.New("escrow engine: vault not configured")

	// ErrNotFound is returned when no record exists for a bounty ID.
	ErrNotFound = errors.New("escrow engine: bounty not found")
	// ErrBountyExists is returned when locking against a used bounty ID.
	ErrBountyExists = errors.New("escrow engine: bounty already exists")
	// ErrNotLocked is returned when a record is already in a terminal state.
	ErrNotLocked = errors.New("escrow engine: funds not locked")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("escrow engine: amount must be positive")
	// ErrInvalidDeadline is returned when a deadline is not in the future.
	ErrInvalidDeadline = errors.New("escrow engine: deadline must be in the future")
	// ErrUnauthorized is returned when the caller lacks the required key.
	ErrUnauthorized = errors.New("escrow engine: unauthorized caller")
	// ErrDeadlineNotPassed is returned when the depositor refunds early.
	ErrDeadlineNotPassed = errors.New("escrow engine: refund deadline not passed")
	// ErrRecipientMismatch is returned when a release targets an address
	// other than the bound contributor.
	ErrRecipientMismatch = errors.New("escrow engine: recipient does not match contributor")
	// ErrUnboundReleaseDisabled is returned when releasing an escrow with no
	// contributor binding while the engine is configured to forbid it.
	ErrUnboundReleaseDisabled = errors.New("escrow engine: unbound release disabled")
	// ErrInsufficientBalance is returned when an account cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("escrow engine: insufficient balance")
	// ErrPaused is returned while the contract is operationally halted.
	ErrPaused = errors.New("escrow engine: contract paused")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("escrow engine: batch too large")
	// ErrEmptyBatch is returned for a batch with no items.
	ErrEmptyBatch = errors.New("escrow engine: empty batch")
	// ErrDuplicateBounty is returned when a batch repeats a bounty ID.
	ErrDuplicateBounty = errors.New("escrow engine: duplicate bounty id in batch")
	// ErrRefundNotApproved is returned when a custom refund before the
	// deadline has no matching approval on record.
	ErrRefundNotApproved = errors.New("escrow engine: refund not approved")
	// ErrScheduleNotFound is returned when no schedule exists for an ID.
	ErrScheduleNotFound = errors.New("escrow engine: schedule not found")
	// ErrScheduleReleased is returned when a schedule has already settled.
	ErrScheduleReleased = errors.New("escrow engine: schedule already released")
	// ErrScheduleNotDue is returned when a schedule's release time has not
	// passed yet.
	ErrScheduleNotDue = errors.New("escrow engine: schedule not due")
	// ErrInvalidScheduleTime is returned when a schedule's release time is
	// not in the future.
	ErrInvalidScheduleTime = errors.New("escrow engine: release time must be in the future")
	// ErrScheduleOvercommitted is returned when pending schedules plus the
	// new amount would exceed the remaining balance.
	ErrScheduleOvercommitted = errors.New("escrow engine: scheduled amounts exceed remaining balance")
)

// EngineState is the keyed store the engine operates against. Records are
// linearized by the ledger's transaction atomicity; the engine still
// re-checks status immediately before mutating because simulation and
// execution are separated in time.
type EngineState interface {
	EscrowPut(*Record) error
	EscrowGet(bountyID string) (*Record, bool, error)
	EscrowPausePut(*PauseState) error
	EscrowPauseGet() (*PauseState, bool, error)
	RefundApprovalPut(*RefundApproval) error
	RefundApprovalGet(bountyID string) (*RefundApproval, bool, error)
	RefundApprovalDelete(bountyID string) error
	SchedulePut(*ReleaseSchedule) error
	ScheduleGet(bountyID string, scheduleID uint64) (*ReleaseSchedule, bool, error)
	ScheduleNextIDGet(bountyID string) (uint64, error)
	ScheduleNextIDPut(bountyID string, next uint64) error
	ReleaseHistoryGet(bountyID string) ([]ReleaseEntry, error)
	ReleaseHistoryPut(bountyID string, entries []ReleaseEntry) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine wires the bounty escrow state machine with an external keyed store
// and event emitter. Transitions are Locked -> Released | Refunded, both
// terminal.
type Engine struct {
	state               EngineState
	emitter             events.Emitter
	payoutKey           [20]byte
	vault               [20]byte
	allowUnboundRelease bool
	nowFn               func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers override
// the emitter via SetEmitter and must configure state, payout key and vault
// before use. Releases to unbound recipients default to permitted.
func NewEngine() *Engine {
	return &Engine{
		emitter:             events.NoopEmitter{},
		allowUnboundRelease: true,
		nowFn:               func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetPayoutKey configures the address allowed to release and refund.
func (e *Engine) SetPayoutKey(addr [20]byte) { e.payoutKey = addr }

// SetVault configures the custody address holding locked funds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetAllowUnboundRelease toggles whether release may target an arbitrary
// recipient when no contributor was bound at lock time.
func (e *Engine) SetAllowUnboundRelease(allow bool) { e.allowUnboundRelease = allow }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// remainingOf reads the balance still held by the vault for a record.
// Records written before partial refunds existed carry no Remaining field
// and are treated as fully funded.
func remainingOf(r *Record) *big.Int {
	if r.Remaining != nil {
		return new(big.Int).Set(r.Remaining)
	}
	return cloneBigInt(r.Amount)
}

func (e *Engine) ensureConfigured() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nil
}

func (e *Engine) ensureNotPaused() error {
	pause, ok, err := e.state.EscrowPauseGet()
	if err != nil {
		return err
	}
	if ok && pause != nil && pause.Paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) loadRecord(bountyID string) (*Record, error) {
	record, ok, err := e.state.EscrowGet(bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

// transfer moves balance between two accounts through the state manager.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) validateLock(bountyID string, amount *big.Int, deadline int64, now int64) (string, error) {
	trimmed := strings.TrimSpace(bountyID)
	if trimmed == "" {
		return "", fmt.Errorf("escrow engine: bounty id required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if deadline != 0 && deadline <= now {
		return "", ErrInvalidDeadline
	}
	_, ok, err := e.state.EscrowGet(trimmed)
	if err != nil {
		return "", err
	}
	if ok {
		return "", ErrBountyExists
	}
	return trimmed, nil
}

// LockFunds transfers amount from the depositor into contract custody and
// creates the record in Locked state. A contributor binding restricts the
// eventual release target; a deadline permits depositor refunds after it
// passes. Either may be absent.
func (e *Engine) LockFunds(depositor [20]byte, bountyID, projectID string, amount *big.Int, contributor *[20]byte, deadline int64) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := e.ensureNotPaused(); err != nil {
		return nil, err
	}
	now := e.now()
	trimmed, err := e.validateLock(bountyID, amount, deadline, now)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if err := e.transfer(depositor, e.vault, amt); err != nil {
		return nil, err
	}
	record := &Record{
		BountyID:  trimmed,
		ProjectID: strings.TrimSpace(projectID),
		Depositor: depositor,
		Amount:    amt,
		Remaining: cloneBigInt(amt),
		LockedAt:  now,
		Deadline:  deadline,
		Status:    StatusLocked,
	}
	if contributor != nil {
		bound := *contributor
		record.Contributor = &bound
	}
	if err := e.state.EscrowPut(record); err != nil {
		return nil, err
	}
	e.emit(events.FundsLocked{
		BountyID:  record.BountyID,
		ProjectID: record.ProjectID,
		Depositor: record.Depositor,
		Amount:    cloneBigInt(record.Amount),
		Deadline:  record.Deadline,
		LockedAt:  record.LockedAt,
	})
	return record.Clone(), nil
}

func (e *Engine) validateRelease(record *Record, recipient [20]byte) error {
	if record.Status != StatusLocked {
		return ErrNotLocked
	}
	if record.Contributor != nil {
		if *record.Contributor != recipient {
			return ErrRecipientMismatch
		}
		return nil
	}
	if !e.allowUnboundRelease {
		return ErrUnboundReleaseDisabled
	}
	return nil
}

// ReleaseFunds settles the escrow in favour of the recipient. Only the
// authorized payout key may call; a contributor bound at lock time pins the
// recipient.
func (e *Engine) ReleaseFunds(caller [20]byte, bountyID string, recipient [20]byte) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if err := e.ensureNotPaused(); err != nil {
		return err
	}
	if caller != e.payoutKey {
		return ErrUnauthorized
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if err := e.validateRelease(record, recipient); err != nil {
		return err
	}
	payout := remainingOf(record)
	if err := e.transfer(e.vault, recipient, payout); err != nil {
		return err
	}
	// Re-check the status before persisting: a racing call observed during
	// simulation must not produce a second settlement.
	current, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if current.Status != StatusLocked {
		return ErrNotLocked
	}
	current.Status = StatusReleased
	current.Remaining = big.NewInt(0)
	if err := e.state.EscrowPut(current); err != nil {
		return err
	}
	e.emit(events.FundsReleased{
		BountyID:  current.BountyID,
		Recipient: recipient,
		Amount:    payout,
		Remaining: big.NewInt(0),
		PaidAt:    e.now(),
	})
	return nil
}

// Refund returns the entire remaining balance to the initiator. The payout
// key may refund at any time; the original depositor only after the
// deadline has passed, and never when no deadline was set. Mode-aware
// partial and custom refunds go through RefundWithMode.
func (e *Engine) Refund(caller [20]byte, bountyID string, initiator [20]byte) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if err := e.ensureNotPaused(); err != nil {
		return err
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
		if e.now() < record.Deadline {
			return ErrDeadlineNotPassed
		}
	}
	refund := remainingOf(record)
	if err := e.transfer(e.vault, initiator, refund); err != nil {
		return err
	}
	current, err := e.loadRecord(bountyID)
	if err != nil {
		return err
	}
	if !current.Status.Active() {
		return ErrNotLocked
	}
	now := e.now()
	current.Status = StatusRefunded
	current.Remaining = big.NewInt(0)
	current.RefundHistory = append(current.RefundHistory, RefundEntry{
		Amount:    cloneBigInt(refund),
		Recipient: initiator,
		Mode:      RefundFull,
		Timestamp: now,
	})
	if err := e.state.EscrowPut(current); err != nil {
		return err
	}
	e.emit(events.FundsRefunded{
		BountyID:  current.BountyID,
		Initiator: initiator,
		Amount:    refund,
		Mode:      RefundFull.String(),
		Remaining: big.NewInt(0),
		PaidAt:    now,
	})
	return nil
}

// GetBalance returns the balance still held for a bounty, or zero once the
// record has reached a terminal state.
func (e *Engine) GetBalance(bountyID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return nil, err
	}
	if !record.Status.Active() {
		return big.NewInt(0), nil
	}
	return remainingOf(record), nil
}

// GetEscrowInfo returns a snapshot of the stored record.
func (e *Engine) GetEscrowInfo(bountyID string) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(bountyID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Pause halts lock, release and refund entry points. Payout key only.
func (e *Engine) Pause(caller [20]byte, reason string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.payoutKey {
		return ErrUnauthorized
	}
	now := e.now()
	if err := e.state.EscrowPausePut(&PauseState{Paused: true, Reason: strings.TrimSpace(reason), Since: now, PausedBy: caller}); err != nil {
		return err
	}
	e.emit(events.EscrowPaused{Caller: caller, Reason: reason, PausedAt: now})
	return nil
}

// Unpause resumes normal operation. Payout key only.
func (e *Engine) Unpause(caller [20]byte, reason string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.payoutKey {
		return ErrUnauthorized
	}
	now := e.now()
	if err := e.state.EscrowPausePut(&PauseState{Paused: false}); err != nil {
		return err
	}
	e.emit(events.EscrowUnpaused{Caller: caller, Reason: reason, ResumedAt: now})
	return nil
}

// Paused reports whether the contract is currently halted.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	pause, ok, err := e.state.EscrowPauseGet()
	if err != nil {
		return false, err
	}
	return ok && pause != nil && pause.Paused, nil
}
