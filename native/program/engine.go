package program

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"grainpay/core/events"
	"grainpay/core/types"
)

var (
	errNilState = errors.New("program engine: state not configured")
	errNilVault = errors.New("program engine: vault not configured")

	// ErrNotInitialized is returned when no record exists for a program ID.
	ErrNotInitialized = errors.New("program engine: program not initialized")
	// ErrAlreadyInitialized is returned on duplicate initialization.
	ErrAlreadyInitialized = errors.New("program engine: program already initialized")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("program engine: amount must be positive")
	// ErrUnauthorized is returned when the caller is not the payout key.
	ErrUnauthorized = errors.New("program engine: unauthorized caller")
	// ErrInsufficientBalance is returned when a payout exceeds the pool.
	ErrInsufficientBalance = errors.New("program engine: insufficient remaining balance")
	// ErrBatchSizeMismatch is returned when recipients and amounts differ
	// in length.
	ErrBatchSizeMismatch = errors.New("program engine: recipients and amounts length mismatch")
	// ErrEmptyBatch is returned for a batch with no entries.
	ErrEmptyBatch = errors.New("program engine: empty batch")
)

// EngineState is the keyed store the program engine operates against.
type EngineState interface {
	ProgramPut(*Record) error
	ProgramGet(programID string) (*Record, bool, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Engine drives the per-program prize pool: a running balance decremented
// by single and batched payouts and closed out by a full refund of the
// remainder.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	vault   [20]byte
	nowFn   func() int64
}

// NewEngine creates a program escrow engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetVault configures the custody address holding pooled funds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetNowFunc overrides the time source used by the engine.
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

func (e *Engine) ensureConfigured() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == ([20]byte{}) {
		return errNilVault
	}
	return nil
}

func (e *Engine) loadRecord(programID string) (*Record, error) {
	record, ok, err := e.state.ProgramGet(programID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return record, nil
}

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

// InitProgram creates the program record once with zeroed balances.
func (e *Engine) InitProgram(programID string, payoutKey, tokenAddress [20]byte) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(programID)
	if trimmed == "" {
		return nil, errors.New("program engine: program id required")
	}
	_, ok, err := e.state.ProgramGet(trimmed)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrAlreadyInitialized
	}
	record := &Record{
		ProgramID:        trimmed,
		TotalFunds:       big.NewInt(0),
		RemainingBalance: big.NewInt(0),
		PayoutKey:        payoutKey,
		TokenAddress:     tokenAddress,
		CreatedAt:        e.now(),
	}
	if err := e.state.ProgramPut(record); err != nil {
		return nil, err
	}
	e.emit(events.ProgramInitialized{
		ProgramID:    record.ProgramID,
		PayoutKey:    payoutKey,
		TokenAddress: tokenAddress,
		CreatedAt:    record.CreatedAt,
	})
	return record.Clone(), nil
}

// LockProgramFunds adds amount to both the monotonic total and the running
// balance, transferring custody from the funder to the vault.
func (e *Engine) LockProgramFunds(funder [20]byte, programID string, amount *big.Int) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return err
	}
	if err := e.transfer(funder, e.vault, amount); err != nil {
		return err
	}
	record.TotalFunds = new(big.Int).Add(cloneBigInt(record.TotalFunds), amount)
	record.RemainingBalance = new(big.Int).Add(cloneBigInt(record.RemainingBalance), amount)
	if err := e.state.ProgramPut(record); err != nil {
		return err
	}
	e.emit(events.ProgramFundsLocked{
		ProgramID: record.ProgramID,
		Amount:    cloneBigInt(amount),
		Remaining: cloneBigInt(record.RemainingBalance),
		LockedAt:  e.now(),
	})
	return nil
}

// SinglePayout transfers amount to the recipient, decrementing the running
// balance. Payout key only.
func (e *Engine) SinglePayout(caller [20]byte, programID string, recipient [20]byte, amount *big.Int) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return err
	}
	if caller != record.PayoutKey {
		return ErrUnauthorized
	}
	if amount.Cmp(record.RemainingBalance) > 0 {
		return ErrInsufficientBalance
	}
	if err := e.transfer(e.vault, recipient, amount); err != nil {
		return err
	}
	now := e.now()
	record.RemainingBalance = new(big.Int).Sub(cloneBigInt(record.RemainingBalance), amount)
	record.Payouts = append(record.Payouts, PayoutRecord{
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		PaidAt:    now,
	})
	if err := e.state.ProgramPut(record); err != nil {
		return err
	}
	e.emit(events.FundsReleased{
		ProgramID: record.ProgramID,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
		Remaining: cloneBigInt(record.RemainingBalance),
		PaidAt:    now,
	})
	return nil
}

// BatchPayout executes payouts in array order as one atomic unit. The sum
// check runs before any transfer so a failing batch leaves the running
// balance untouched. Payout key only.
func (e *Engine) BatchPayout(caller [20]byte, programID string, recipients [][20]byte, amounts []*big.Int) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	if len(recipients) != len(amounts) {
		return ErrBatchSizeMismatch
	}
	if len(recipients) == 0 {
		return ErrEmptyBatch
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return err
	}
	if caller != record.PayoutKey {
		return ErrUnauthorized
	}
	total := big.NewInt(0)
	for _, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		total.Add(total, amount)
	}
	if total.Cmp(record.RemainingBalance) > 0 {
		return ErrInsufficientBalance
	}
	// The vault must also cover the whole batch before any item settles.
	vault, err := e.state.GetAccount(e.vault)
	if err != nil {
		return err
	}
	if vault.Balance.Cmp(total) < 0 {
		return ErrInsufficientBalance
	}
	now := e.now()
	for i, recipient := range recipients {
		if err := e.transfer(e.vault, recipient, amounts[i]); err != nil {
			return err
		}
		record.RemainingBalance = new(big.Int).Sub(cloneBigInt(record.RemainingBalance), amounts[i])
		record.Payouts = append(record.Payouts, PayoutRecord{
			Recipient: recipient,
			Amount:    cloneBigInt(amounts[i]),
			PaidAt:    now,
		})
		e.emit(events.FundsReleased{
			ProgramID: record.ProgramID,
			Recipient: recipient,
			Amount:    cloneBigInt(amounts[i]),
			Remaining: cloneBigInt(record.RemainingBalance),
			PaidAt:    now,
		})
	}
	if err := e.state.ProgramPut(record); err != nil {
		return err
	}
	e.emit(events.ProgramBatchPayout{
		ProgramID: record.ProgramID,
		Count:     len(recipients),
		Total:     total,
		Remaining: cloneBigInt(record.RemainingBalance),
	})
	return nil
}

// Refund transfers the entire remaining balance to the initiator and zeroes
// it. Payout key only.
func (e *Engine) Refund(caller [20]byte, programID string, initiator [20]byte) error {
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return err
	}
	if caller != record.PayoutKey {
		return ErrUnauthorized
	}
	remaining := cloneBigInt(record.RemainingBalance)
	if err := e.transfer(e.vault, initiator, remaining); err != nil {
		return err
	}
	record.RemainingBalance = big.NewInt(0)
	if err := e.state.ProgramPut(record); err != nil {
		return err
	}
	e.emit(events.FundsRefunded{
		ProgramID: record.ProgramID,
		Initiator: initiator,
		Amount:    remaining,
		PaidAt:    e.now(),
	})
	return nil
}

// GetBalance returns the current remaining balance for a program.
func (e *Engine) GetBalance(programID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(record.RemainingBalance), nil
}

// GetProgramInfo returns a snapshot of the stored record.
func (e *Engine) GetProgramInfo(programID string) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord(programID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}
