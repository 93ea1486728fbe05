package payoutd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grainpay/auth"
	"grainpay/ledger"
)

// ErrProcessorPaused is returned when a command is attempted while the
// processor is paused.
var ErrProcessorPaused = errors.New("payoutd: processor paused")

// ErrRequestInFlight indicates another submission for the same request ID
// has not reached a terminal state yet.
var ErrRequestInFlight = errors.New("payoutd: request in progress")

// Command names used for metrics and logging.
const (
	CommandReleaseBounty = "release_bounty"
	CommandRefundBounty  = "refund_bounty"
	CommandSinglePayout  = "single_payout"
	CommandBatchPayout   = "batch_payout"
)

// EscrowInvoker is the slice of the escrow contract caller the processor
// depends on.
type EscrowInvoker interface {
	ReleaseFunds(ctx context.Context, bountyID, recipient string) (*ledger.TransactionResult, error)
	RefundFunds(ctx context.Context, bountyID string) (*ledger.TransactionResult, error)
}

// ProgramInvoker is the slice of the program contract caller the processor
// depends on.
type ProgramInvoker interface {
	SinglePayout(ctx context.Context, programID, recipient string, amount *big.Int) (*ledger.TransactionResult, error)
	BatchPayout(ctx context.Context, programID string, recipients []string, amounts []*big.Int) (*ledger.TransactionResult, error)
}

// WalletProof carries the signature that authorises a command. The message
// covered by the signature is the command's canonical string, so a proof
// captured for one command cannot be replayed against another.
type WalletProof struct {
	WalletType string
	Address    string
	Signature  string
	PublicKey  string
}

// ReleaseRequest asks for an escrowed bounty to be paid out.
type ReleaseRequest struct {
	RequestID string
	BountyID  string
	Recipient string
	Proof     WalletProof
}

// RefundRequest asks for an escrowed bounty to be returned.
type RefundRequest struct {
	RequestID string
	BountyID  string
	Proof     WalletProof
}

// PayoutRequest asks for a single program payout.
type PayoutRequest struct {
	RequestID string
	ProgramID string
	Recipient string
	Amount    *big.Int
	Proof     WalletProof
}

// BatchPayoutRequest asks for several program payouts in one transaction.
type BatchPayoutRequest struct {
	RequestID  string
	ProgramID  string
	Recipients []string
	Amounts    []*big.Int
	Proof      WalletProof
}

type processState struct {
	completed bool
	inFlight  bool
	txHash    string
	updatedAt time.Time
}

// Processor authenticates payout commands and drives them through the
// ledger contract callers. Requests are idempotent per request ID:
// a completed request returns its recorded transaction hash, an in-flight
// one is rejected.
type Processor struct {
	escrow  EscrowInvoker
	program ProgramInvoker
	metrics *Metrics
	now     func() time.Time

	mu        sync.Mutex
	paused    bool
	processed map[string]processState
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = clock }
}

// NewProcessor constructs a payout processor over the supplied contract
// callers.
func NewProcessor(escrow EscrowInvoker, program ProgramInvoker, opts ...ProcessorOption) *Processor {
	proc := &Processor{
		escrow:    escrow,
		program:   program,
		metrics:   NewMetrics(),
		processed: make(map[string]processState),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(proc)
	}
	if proc.metrics == nil {
		proc.metrics = NewMetrics()
	}
	return proc
}

// ReleaseMessage is the canonical string a wallet signs to authorise a
// bounty release.
func ReleaseMessage(bountyID, recipient string) string {
	return fmt.Sprintf("grainpay:release:%s:%s", bountyID, recipient)
}

// RefundMessage is the canonical string a wallet signs to authorise a
// bounty refund.
func RefundMessage(bountyID string) string {
	return fmt.Sprintf("grainpay:refund:%s", bountyID)
}

// PayoutMessage is the canonical string a wallet signs to authorise a
// single program payout.
func PayoutMessage(programID, recipient string, amount *big.Int) string {
	return fmt.Sprintf("grainpay:payout:%s:%s:%s", programID, recipient, amount.String())
}

// BatchPayoutMessage is the canonical string a wallet signs to authorise a
// batch payout. Recipients and amounts are joined in array order so the
// proof commits to the exact batch.
func BatchPayoutMessage(programID string, recipients []string, amounts []*big.Int) string {
	parts := make([]string, 0, len(recipients))
	for i, recipient := range recipients {
		parts = append(parts, fmt.Sprintf("%s=%s", recipient, amounts[i].String()))
	}
	return fmt.Sprintf("grainpay:batch:%s:%s", programID, strings.Join(parts, ","))
}

func (p *Processor) verifyProof(proof WalletProof, message string) error {
	walletType, err := auth.NormalizeWalletType(proof.WalletType)
	if err != nil {
		return err
	}
	return auth.VerifySignature(walletType, proof.Address, message, proof.Signature, proof.PublicKey)
}

// begin claims a request slot or reports why it cannot proceed. A
// completed request short-circuits with its transaction hash.
func (p *Processor) begin(requestID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return "", false, ErrProcessorPaused
	}
	state, exists := p.processed[requestID]
	if exists {
		if state.completed {
			return state.txHash, false, nil
		}
		if state.inFlight {
			return "", false, ErrRequestInFlight
		}
	}
	p.processed[requestID] = processState{inFlight: true, updatedAt: p.now()}
	return "", true, nil
}

func (p *Processor) finishSuccess(requestID, txHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed[requestID] = processState{
		completed: true,
		txHash:    txHash,
		updatedAt: p.now(),
	}
}

func (p *Processor) finishFailure(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.processed, requestID)
}

func ensureRequestID(id string) string {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		return trimmed
	}
	return uuid.New().String()
}

// ReleaseBounty verifies the proof and pays out the escrowed bounty,
// returning the confirmed transaction hash.
func (p *Processor) ReleaseBounty(ctx context.Context, req ReleaseRequest) (string, error) {
	if strings.TrimSpace(req.BountyID) == "" {
		return "", fmt.Errorf("payoutd: bounty id required")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return "", fmt.Errorf("payoutd: recipient required")
	}
	if p.escrow == nil {
		p.metrics.RecordError(CommandReleaseBounty, "config")
		return "", fmt.Errorf("payoutd: escrow caller not configured")
	}
	if err := p.verifyProof(req.Proof, ReleaseMessage(req.BountyID, req.Recipient)); err != nil {
		p.metrics.RecordError(CommandReleaseBounty, "auth")
		return "", err
	}
	requestID := ensureRequestID(req.RequestID)
	txHash, proceed, err := p.begin(requestID)
	if err != nil {
		if errors.Is(err, ErrProcessorPaused) {
			p.metrics.RecordError(CommandReleaseBounty, "paused")
		}
		return "", err
	}
	if !proceed {
		return txHash, nil
	}
	start := p.now()
	result, err := p.escrow.ReleaseFunds(ctx, req.BountyID, req.Recipient)
	if err != nil {
		p.finishFailure(requestID)
		p.metrics.RecordError(CommandReleaseBounty, "submit")
		return "", err
	}
	p.finishSuccess(requestID, result.Hash)
	p.metrics.RecordProcessed(CommandReleaseBounty)
	p.metrics.ObserveLatency(CommandReleaseBounty, p.now().Sub(start))
	return result.Hash, nil
}

// RefundBounty verifies the proof and returns the escrowed bounty to its
// depositor.
func (p *Processor) RefundBounty(ctx context.Context, req RefundRequest) (string, error) {
	if strings.TrimSpace(req.BountyID) == "" {
		return "", fmt.Errorf("payoutd: bounty id required")
	}
	if p.escrow == nil {
		p.metrics.RecordError(CommandRefundBounty, "config")
		return "", fmt.Errorf("payoutd: escrow caller not configured")
	}
	if err := p.verifyProof(req.Proof, RefundMessage(req.BountyID)); err != nil {
		p.metrics.RecordError(CommandRefundBounty, "auth")
		return "", err
	}
	requestID := ensureRequestID(req.RequestID)
	txHash, proceed, err := p.begin(requestID)
	if err != nil {
		if errors.Is(err, ErrProcessorPaused) {
			p.metrics.RecordError(CommandRefundBounty, "paused")
		}
		return "", err
	}
	if !proceed {
		return txHash, nil
	}
	start := p.now()
	result, err := p.escrow.RefundFunds(ctx, req.BountyID)
	if err != nil {
		p.finishFailure(requestID)
		p.metrics.RecordError(CommandRefundBounty, "submit")
		return "", err
	}
	p.finishSuccess(requestID, result.Hash)
	p.metrics.RecordProcessed(CommandRefundBounty)
	p.metrics.ObserveLatency(CommandRefundBounty, p.now().Sub(start))
	return result.Hash, nil
}

// SinglePayout verifies the proof and pays one recipient from a program
// pool.
func (p *Processor) SinglePayout(ctx context.Context, req PayoutRequest) (string, error) {
	if strings.TrimSpace(req.ProgramID) == "" {
		return "", fmt.Errorf("payoutd: program id required")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return "", fmt.Errorf("payoutd: recipient required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return "", fmt.Errorf("payoutd: positive amount required")
	}
	if p.program == nil {
		p.metrics.RecordError(CommandSinglePayout, "config")
		return "", fmt.Errorf("payoutd: program caller not configured")
	}
	if err := p.verifyProof(req.Proof, PayoutMessage(req.ProgramID, req.Recipient, req.Amount)); err != nil {
		p.metrics.RecordError(CommandSinglePayout, "auth")
		return "", err
	}
	requestID := ensureRequestID(req.RequestID)
	txHash, proceed, err := p.begin(requestID)
	if err != nil {
		if errors.Is(err, ErrProcessorPaused) {
			p.metrics.RecordError(CommandSinglePayout, "paused")
		}
		return "", err
	}
	if !proceed {
		return txHash, nil
	}
	start := p.now()
	result, err := p.program.SinglePayout(ctx, req.ProgramID, req.Recipient, req.Amount)
	if err != nil {
		p.finishFailure(requestID)
		p.metrics.RecordError(CommandSinglePayout, "submit")
		return "", err
	}
	p.finishSuccess(requestID, result.Hash)
	p.metrics.RecordProcessed(CommandSinglePayout)
	p.metrics.ObserveLatency(CommandSinglePayout, p.now().Sub(start))
	return result.Hash, nil
}

// BatchPayout verifies the proof and pays several recipients from a
// program pool in one transaction.
func (p *Processor) BatchPayout(ctx context.Context, req BatchPayoutRequest) (string, error) {
	if strings.TrimSpace(req.ProgramID) == "" {
		return "", fmt.Errorf("payoutd: program id required")
	}
	if len(req.Recipients) != len(req.Amounts) {
		return "", fmt.Errorf("payoutd: recipients and amounts length mismatch: %d vs %d", len(req.Recipients), len(req.Amounts))
	}
	if len(req.Recipients) == 0 {
		return "", fmt.Errorf("payoutd: at least one recipient required")
	}
	for i, amount := range req.Amounts {
		if amount == nil || amount.Sign() <= 0 {
			return "", fmt.Errorf("payoutd: amount %d must be positive", i)
		}
	}
	if p.program == nil {
		p.metrics.RecordError(CommandBatchPayout, "config")
		return "", fmt.Errorf("payoutd: program caller not configured")
	}
	if err := p.verifyProof(req.Proof, BatchPayoutMessage(req.ProgramID, req.Recipients, req.Amounts)); err != nil {
		p.metrics.RecordError(CommandBatchPayout, "auth")
		return "", err
	}
	requestID := ensureRequestID(req.RequestID)
	txHash, proceed, err := p.begin(requestID)
	if err != nil {
		if errors.Is(err, ErrProcessorPaused) {
			p.metrics.RecordError(CommandBatchPayout, "paused")
		}
		return "", err
	}
	if !proceed {
		return txHash, nil
	}
	start := p.now()
	result, err := p.program.BatchPayout(ctx, req.ProgramID, req.Recipients, req.Amounts)
	if err != nil {
		p.finishFailure(requestID)
		p.metrics.RecordError(CommandBatchPayout, "submit")
		return "", err
	}
	p.finishSuccess(requestID, result.Hash)
	p.metrics.RecordProcessed(CommandBatchPayout)
	p.metrics.ObserveLatency(CommandBatchPayout, p.now().Sub(start))
	return result.Hash, nil
}

// Pause halts new command processing.
func (p *Processor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.metrics.SetPaused(true)
}

// Resume re-enables command processing.
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.metrics.SetPaused(false)
}

// Status summarises processor state for administrative endpoints.
type Status struct {
	Paused    bool `json:"paused"`
	Processed int  `json:"processed"`
	InFlight  int  `json:"in_flight"`
}

// Status reports the current processor status snapshot.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := Status{Paused: p.paused}
	for _, state := range p.processed {
		switch {
		case state.completed:
			status.Processed++
		case state.inFlight:
			status.InFlight++
		}
	}
	return status
}
