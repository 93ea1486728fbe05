package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"grainpay/crypto"
)

type stubClient struct {
	sequence    uint64
	sequenceErr error

	sendResults []sendOutcome
	sends       int
	envelopes   []*Envelope

	statusResults []statusOutcome
	statusCalls   int
}

type sendOutcome struct {
	ack *SubmitAck
	err error
}

type statusOutcome struct {
	status *TxStatus
	err    error
}

func (s *stubClient) GetSequence(ctx context.Context, address string) (uint64, error) {
	return s.sequence, s.sequenceErr
}

func (s *stubClient) SendTransaction(ctx context.Context, env *Envelope) (*SubmitAck, error) {
	clone := *env
	s.envelopes = append(s.envelopes, &clone)
	idx := s.sends
	s.sends++
	if idx >= len(s.sendResults) {
		idx = len(s.sendResults) - 1
	}
	outcome := s.sendResults[idx]
	return outcome.ack, outcome.err
}

func (s *stubClient) GetTransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	idx := s.statusCalls
	s.statusCalls++
	if idx >= len(s.statusResults) {
		idx = len(s.statusResults) - 1
	}
	outcome := s.statusResults[idx]
	return outcome.status, outcome.err
}

func newTestBuilder(t *testing.T, client submitClient) (*TxBuilder, *[]time.Duration) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var sleeps []time.Duration
	builder := &TxBuilder{
		client:  client,
		chainID: "grainpay-test",
		key:     key,
		retry:   DefaultRetryConfig(),
		sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return ctx.Err()
		},
	}
	return builder, &sleeps
}

func testOperations() []Operation {
	return []Operation{{Contract: "abc123", Function: "lock_funds", Args: []Value{String("bounty-1")}}}
}

func TestBuildAndSubmitSignsEnvelope(t *testing.T) {
	client := &stubClient{
		sequence:    41,
		sendResults: []sendOutcome{{ack: &SubmitAck{Hash: "0xfeed", Ledger: 900}}},
	}
	builder, _ := newTestBuilder(t, client)

	result, err := builder.BuildAndSubmit(context.Background(), testOperations())
	if err != nil {
		t.Fatalf("build and submit: %v", err)
	}
	if result.Hash != "0xfeed" || result.Ledger != 900 || result.Status != StatusPending {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(client.envelopes) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(client.envelopes))
	}
	env := client.envelopes[0]
	if env.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", env.Sequence)
	}
	if env.BaseFee != MinBaseFee {
		t.Fatalf("expected base fee %d, got %d", MinBaseFee, env.BaseFee)
	}
	if env.ChainID != "grainpay-test" {
		t.Fatalf("unexpected chain ID %q", env.ChainID)
	}
	if env.Source != builder.SignerAddress() {
		t.Fatalf("unexpected source %q", env.Source)
	}
	if env.Signature == "" {
		t.Fatalf("envelope not signed")
	}
}

func TestBuildAndSubmitRequiresOperations(t *testing.T) {
	builder, _ := newTestBuilder(t, &stubClient{})

	if _, err := builder.BuildAndSubmit(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty operation list")
	}
}

func TestBuildAndSubmitSequenceFetchFailure(t *testing.T) {
	client := &stubClient{sequenceErr: errors.New("node down")}
	builder, _ := newTestBuilder(t, client)

	_, err := builder.BuildAndSubmit(context.Background(), testOperations())
	if err == nil || client.sends != 0 {
		t.Fatalf("expected failure before submission, err=%v sends=%d", err, client.sends)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	transient := errors.New("connection reset")
	client := &stubClient{
		sendResults: []sendOutcome{
			{err: transient},
			{err: transient},
			{ack: &SubmitAck{Hash: "0xbeef", Ledger: 901}},
		},
	}
	builder, sleeps := newTestBuilder(t, client)

	result, err := builder.BuildAndSubmit(context.Background(), testOperations())
	if err != nil {
		t.Fatalf("build and submit: %v", err)
	}
	if result.Hash != "0xbeef" {
		t.Fatalf("unexpected hash %q", result.Hash)
	}
	if client.sends != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.sends)
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != time.Second || (*sleeps)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff delays %v", *sleeps)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	transient := errors.New("connection reset")
	client := &stubClient{sendResults: []sendOutcome{{err: transient}}}
	builder, sleeps := newTestBuilder(t, client)

	_, err := builder.BuildAndSubmit(context.Background(), testOperations())
	if err == nil || !errors.Is(err, transient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	wantAttempts := DefaultRetryConfig().MaxRetries + 1
	if client.sends != wantAttempts {
		t.Fatalf("expected %d attempts, got %d", wantAttempts, client.sends)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), *sleeps)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("delay %d: want %s got %s", i, d, (*sleeps)[i])
		}
	}
}

func TestSubmitBackoffCapsAtMaxDelay(t *testing.T) {
	transient := errors.New("connection reset")
	client := &stubClient{sendResults: []sendOutcome{{err: transient}}}
	builder, sleeps := newTestBuilder(t, client)
	builder.retry = RetryConfig{
		MaxRetries:        5,
		InitialDelay:      10 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}

	if _, err := builder.BuildAndSubmit(context.Background(), testOperations()); err == nil {
		t.Fatalf("expected exhaustion error")
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("delay %d: want %s got %s", i, d, (*sleeps)[i])
		}
	}
}

func TestSubmitFatalCodeNotRetried(t *testing.T) {
	for code := range fatalSubmitCodes {
		client := &stubClient{
			sendResults: []sendOutcome{{err: &SubmitError{Code: code}}},
		}
		builder, sleeps := newTestBuilder(t, client)

		_, err := builder.BuildAndSubmit(context.Background(), testOperations())
		var submitErr *SubmitError
		if !errors.As(err, &submitErr) || submitErr.Code != code {
			t.Fatalf("code %s: expected SubmitError, got %v", code, err)
		}
		if client.sends != 1 {
			t.Fatalf("code %s: expected 1 attempt, got %d", code, client.sends)
		}
		if len(*sleeps) != 0 {
			t.Fatalf("code %s: fatal error slept before failing", code)
		}
	}
}

func TestSubmitUnknownCodeIsRetried(t *testing.T) {
	client := &stubClient{
		sendResults: []sendOutcome{
			{err: &SubmitError{Code: "tx_too_late"}},
			{ack: &SubmitAck{Hash: "0xabc", Ledger: 902}},
		},
	}
	builder, _ := newTestBuilder(t, client)

	result, err := builder.BuildAndSubmit(context.Background(), testOperations())
	if err != nil {
		t.Fatalf("build and submit: %v", err)
	}
	if result.Hash != "0xabc" || client.sends != 2 {
		t.Fatalf("unexpected outcome hash=%q sends=%d", result.Hash, client.sends)
	}
}

func TestSubmitHonoursContextDuringBackoff(t *testing.T) {
	transient := errors.New("connection reset")
	client := &stubClient{sendResults: []sendOutcome{{err: transient}}}
	builder, _ := newTestBuilder(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	builder.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := builder.BuildAndSubmit(ctx, testOperations())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.sends != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", client.sends)
	}
}

func TestIsFatalSubmitError(t *testing.T) {
	if !IsFatalSubmitError(&SubmitError{Code: "tx_bad_auth"}) {
		t.Fatalf("tx_bad_auth should be fatal")
	}
	if !IsFatalSubmitError(fmt.Errorf("wrapped: %w", &SubmitError{Code: "tx_bad_seq"})) {
		t.Fatalf("wrapped fatal code should be fatal")
	}
	if IsFatalSubmitError(&SubmitError{Code: "tx_too_late"}) {
		t.Fatalf("unknown code should not be fatal")
	}
	if IsFatalSubmitError(errors.New("plain error")) {
		t.Fatalf("plain errors should not be fatal")
	}
}

func TestWaitForConfirmationSuccess(t *testing.T) {
	client := &stubClient{
		statusResults: []statusOutcome{
			{status: &TxStatus{Status: TxStatusNotFound}},
			{status: &TxStatus{Status: TxStatusSuccess, Ledger: 903}},
		},
	}
	builder, _ := newTestBuilder(t, client)

	result, err := builder.WaitForConfirmation(context.Background(), &TransactionResult{Hash: "0xfeed", Status: StatusPending}, time.Minute)
	if err != nil {
		t.Fatalf("wait for confirmation: %v", err)
	}
	if result.Status != StatusSuccess || result.Ledger != 903 {
		t.Fatalf("unexpected result %+v", result)
	}
	if client.statusCalls < 2 {
		t.Fatalf("expected at least 2 polls, got %d", client.statusCalls)
	}
}

func TestWaitForConfirmationKeepsSubmissionTime(t *testing.T) {
	client := &stubClient{
		statusResults: []statusOutcome{
			{status: &TxStatus{Status: TxStatusSuccess, Ledger: 905}},
		},
	}
	builder, _ := newTestBuilder(t, client)

	submitted := time.Now().Add(-45 * time.Second)
	pending := &TransactionResult{Hash: "0xfeed", Status: StatusPending, Submitted: submitted}
	result, err := builder.WaitForConfirmation(context.Background(), pending, time.Minute)
	if err != nil {
		t.Fatalf("wait for confirmation: %v", err)
	}
	if !result.Submitted.Equal(submitted) {
		t.Fatalf("submitted = %v, want %v", result.Submitted, submitted)
	}
	if !result.Confirmed.After(result.Submitted) {
		t.Fatalf("confirmed %v should follow submitted %v", result.Confirmed, result.Submitted)
	}
}

func TestWaitForConfirmationReportsFailure(t *testing.T) {
	client := &stubClient{
		statusResults: []statusOutcome{
			{status: &TxStatus{Status: TxStatusFailed, Ledger: 904}},
		},
	}
	builder, _ := newTestBuilder(t, client)

	submitted := time.Now().Add(-10 * time.Second)
	result, err := builder.WaitForConfirmation(context.Background(), &TransactionResult{Hash: "0xdead", Status: StatusPending, Submitted: submitted}, time.Minute)
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if result == nil || result.Status != StatusFailed || result.Ledger != 904 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Submitted.Equal(submitted) {
		t.Fatalf("submitted = %v, want %v", result.Submitted, submitted)
	}
}

func TestWaitForConfirmationTimesOut(t *testing.T) {
	client := &stubClient{
		statusResults: []statusOutcome{{err: errors.New("node unreachable")}},
	}
	builder, _ := newTestBuilder(t, client)

	_, err := builder.WaitForConfirmation(context.Background(), &TransactionResult{Hash: "0xfeed", Status: StatusPending}, time.Second)
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestWaitForConfirmationContextCancel(t *testing.T) {
	builder, _ := newTestBuilder(t, &stubClient{
		statusResults: []statusOutcome{{status: &TxStatus{Status: TxStatusNotFound}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := builder.WaitForConfirmation(ctx, &TransactionResult{Hash: "0xfeed", Status: StatusPending}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSigningHashStableAcrossSignature(t *testing.T) {
	env := &Envelope{
		Source:     "grain1test",
		Sequence:   1,
		BaseFee:    MinBaseFee,
		ChainID:    "grainpay-test",
		Operations: testOperations(),
	}
	before, err := env.SigningHash()
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}
	env.Signature = "deadbeef"
	after, err := env.SigningHash()
	if err != nil {
		t.Fatalf("signing hash: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("signature must not affect the signing hash")
	}
}
