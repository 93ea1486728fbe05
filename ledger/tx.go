package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"grainpay/crypto"
	"grainpay/observability"
)

// MinBaseFee is the minimum per-transaction fee accepted by the network,
// denominated in the smallest ledger unit.
const MinBaseFee uint32 = 100

// confirmationInterval is the fixed cadence of transaction status polls.
const confirmationInterval = 2 * time.Second

var (
	// ErrConfirmationTimeout is returned when a transaction is not
	// observed before the caller-supplied timeout elapses. Cancellation
	// through the context is reported separately via ctx.Err().
	ErrConfirmationTimeout = errors.New("ledger: timeout waiting for transaction confirmation")
	// ErrTransactionFailed is returned when the network reports a
	// submitted transaction as failed.
	ErrTransactionFailed = errors.New("ledger: transaction failed")
)

// SubmitError is a node-side submission rejection with a machine-readable
// code, used by the retry policy to separate fatal from transient failures.
type SubmitError struct {
	Code string
}

// Error satisfies the error interface.
func (e *SubmitError) Error() string {
	return fmt.Sprintf("submission rejected: %s", e.Code)
}

// Rejection codes that can never succeed on retry; retrying would only
// waste a sequence-number slot.
var fatalSubmitCodes = map[string]struct{}{
	"tx_bad_auth":             {},
	"tx_bad_seq":              {},
	"tx_insufficient_balance": {},
	"tx_no_source_account":    {},
}

// IsFatalSubmitError reports whether a submission error must not be
// retried.
func IsFatalSubmitError(err error) bool {
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		return false
	}
	_, fatal := fatalSubmitCodes[submitErr.Code]
	return fatal
}

// RetryConfig parameterises the submission retry policy.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the production retry policy: three retries
// with exponential backoff from one second, capped at thirty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Transaction result status values.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// TransactionResult reports the outcome of one submission. It lives for
// the request only; the durable audit trail is an external collaborator's
// responsibility.
type TransactionResult struct {
	Hash      string
	Ledger    uint64
	Status    string
	Submitted time.Time
	Confirmed time.Time
}

// Operation is one contract invocation inside a transaction.
type Operation struct {
	Contract string  `json:"contract"`
	Function string  `json:"function"`
	Args     []Value `json:"args,omitempty"`
}

// Envelope is the signed transaction submitted to the network.
type Envelope struct {
	Source     string      `json:"source"`
	Sequence   uint64      `json:"sequence"`
	BaseFee    uint32      `json:"baseFee"`
	ChainID    string      `json:"chainId,omitempty"`
	Operations []Operation `json:"operations"`
	Signature  string      `json:"signature,omitempty"`
}

// SigningHash returns the digest covered by the envelope signature: the
// keccak hash of the canonical JSON encoding with the signature cleared.
func (env *Envelope) SigningHash() ([]byte, error) {
	unsigned := *env
	unsigned.Signature = ""
	raw, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode envelope: %w", err)
	}
	return ethcrypto.Keccak256(raw), nil
}

// submitClient is the slice of the RPC client the builder depends on,
// narrowed so tests can drive the retry policy without a network.
type submitClient interface {
	GetSequence(ctx context.Context, address string) (uint64, error)
	SendTransaction(ctx context.Context, env *Envelope) (*SubmitAck, error)
	GetTransactionStatus(ctx context.Context, txHash string) (*TxStatus, error)
}

// TxBuilder assembles, signs, submits and confirms ledger transactions for
// a single held key. Callers must serialise submissions per signer:
// multiple in-flight submissions from one key risk sequence collisions.
type TxBuilder struct {
	client  submitClient
	chainID string
	key     *crypto.PrivateKey
	retry   RetryConfig
	metrics *observability.LedgerMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTxBuilder creates a transaction builder around a held signing key.
func NewTxBuilder(client *Client, key *crypto.PrivateKey, retry RetryConfig) (*TxBuilder, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger: client is required")
	}
	if key == nil {
		return nil, fmt.Errorf("ledger: signing key is required")
	}
	return &TxBuilder{
		client:  client,
		chainID: client.ChainID(),
		key:     key,
		retry:   retry,
		metrics: observability.Ledger(),
		sleep:   sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// SignerAddress returns the canonical address of the held key.
func (tb *TxBuilder) SignerAddress() string {
	return tb.key.PubKey().Address().String()
}

// BuildAndSubmit assembles the operations into a signed envelope and
// submits it, retrying transient failures per the configured policy. On
// success the returned result is in pending status; callers that need a
// terminal outcome follow up with WaitForConfirmation.
func (tb *TxBuilder) BuildAndSubmit(ctx context.Context, operations []Operation) (*TransactionResult, error) {
	if len(operations) == 0 {
		return nil, fmt.Errorf("ledger: at least one operation is required")
	}
	source := tb.SignerAddress()
	sequence, err := tb.client.GetSequence(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch account sequence: %w", err)
	}
	env := &Envelope{
		Source:     source,
		Sequence:   sequence + 1,
		BaseFee:    MinBaseFee,
		ChainID:    tb.chainID,
		Operations: operations,
	}
	digest, err := env.SigningHash()
	if err != nil {
		return nil, err
	}
	sig, err := tb.key.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign transaction: %w", err)
	}
	env.Signature = hex.EncodeToString(sig)
	return tb.submitWithRetry(ctx, env)
}

func (tb *TxBuilder) submitWithRetry(ctx context.Context, env *Envelope) (*TransactionResult, error) {
	var lastErr error
	delay := tb.retry.InitialDelay

	for attempt := 0; attempt <= tb.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			tb.metrics.RecordRetry()
			slog.Info("retrying transaction submission",
				"attempt", attempt,
				"max_retries", tb.retry.MaxRetries,
				"delay", delay,
			)
			if err := tb.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = time.Duration(float64(delay) * tb.retry.BackoffMultiplier)
			if delay > tb.retry.MaxDelay {
				delay = tb.retry.MaxDelay
			}
		}

		ack, err := tb.client.SendTransaction(ctx, env)
		if err != nil {
			lastErr = err
			tb.metrics.RecordSubmission("rejected")
			slog.Warn("transaction submission failed",
				"attempt", attempt+1,
				"error", err,
			)
			if IsFatalSubmitError(err) {
				return nil, fmt.Errorf("ledger: non-retryable error: %w", err)
			}
			continue
		}

		tb.metrics.RecordSubmission("accepted")
		result := &TransactionResult{
			Hash:      ack.Hash,
			Ledger:    ack.Ledger,
			Status:    StatusPending,
			Submitted: time.Now(),
		}
		slog.Info("transaction submitted successfully",
			"tx_hash", ack.Hash,
			"ledger", ack.Ledger,
		)
		return result, nil
	}

	return nil, fmt.Errorf("ledger: submission failed after %d attempts: %w", tb.retry.MaxRetries+1, lastErr)
}

// WaitForConfirmation polls the transaction status every two seconds until
// a terminal state or the timeout, carrying the submission timestamp of the
// pending result into the terminal one. Context cancellation aborts
// immediately with the context's error, distinct from
// ErrConfirmationTimeout.
func (tb *TxBuilder) WaitForConfirmation(ctx context.Context, pending *TransactionResult, timeout time.Duration) (*TransactionResult, error) {
	if pending == nil || pending.Hash == "" {
		return nil, fmt.Errorf("ledger: a submitted transaction is required")
	}
	txHash := pending.Hash
	started := time.Now()
	deadline := started.Add(timeout)
	ticker := time.NewTicker(confirmationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, txHash)
			}
			status, err := tb.client.GetTransactionStatus(ctx, txHash)
			if err != nil {
				// Node unreachable or transaction not yet visible;
				// keep polling until the deadline.
				continue
			}
			switch status.Status {
			case TxStatusSuccess:
				now := time.Now()
				tb.metrics.ObserveConfirmation(StatusSuccess, now.Sub(started))
				result := &TransactionResult{
					Hash:      txHash,
					Ledger:    status.Ledger,
					Status:    StatusSuccess,
					Submitted: pending.Submitted,
					Confirmed: now,
				}
				slog.Info("transaction confirmed",
					"tx_hash", txHash,
					"ledger", status.Ledger,
				)
				return result, nil
			case TxStatusFailed:
				tb.metrics.ObserveConfirmation(StatusFailed, time.Since(started))
				return &TransactionResult{
					Hash:      txHash,
					Ledger:    status.Ledger,
					Status:    StatusFailed,
					Submitted: pending.Submitted,
				}, fmt.Errorf("%w: %s", ErrTransactionFailed, txHash)
			default:
				// Still pending; next tick.
			}
		}
	}
}
