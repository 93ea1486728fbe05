package payoutd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"grainpay/auth"
	"grainpay/ledger"
)

type stubEscrow struct {
	mu       sync.Mutex
	releases int
	refunds  int
	err      error
	block    chan struct{}
}

func (s *stubEscrow) ReleaseFunds(ctx context.Context, bountyID, recipient string) (*ledger.TransactionResult, error) {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.TransactionResult{Hash: "0xrelease", Status: ledger.StatusSuccess}, nil
}

func (s *stubEscrow) RefundFunds(ctx context.Context, bountyID string) (*ledger.TransactionResult, error) {
	s.mu.Lock()
	s.refunds++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.TransactionResult{Hash: "0xrefund", Status: ledger.StatusSuccess}, nil
}

func (s *stubEscrow) releaseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type stubProgram struct {
	singles int
	batches int
	err     error
}

func (s *stubProgram) SinglePayout(ctx context.Context, programID, recipient string, amount *big.Int) (*ledger.TransactionResult, error) {
	s.singles++
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.TransactionResult{Hash: "0xsingle", Status: ledger.StatusSuccess}, nil
}

func (s *stubProgram) BatchPayout(ctx context.Context, programID string, recipients []string, amounts []*big.Int) (*ledger.TransactionResult, error) {
	s.batches++
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.TransactionResult{Hash: "0xbatch", Status: ledger.StatusSuccess}, nil
}

// signer holds a wallet key pair used to mint proofs for canonical command
// messages.
type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &signer{pub: pub, priv: priv}
}

func (s *signer) proof(message string) WalletProof {
	sig := ed25519.Sign(s.priv, []byte(message))
	return WalletProof{
		WalletType: string(auth.WalletTypeEd25519),
		Signature:  hex.EncodeToString(sig),
		PublicKey:  hex.EncodeToString(s.pub),
	}
}

func TestReleaseBountyHappyPath(t *testing.T) {
	escrow := &stubEscrow{}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	req := ReleaseRequest{
		RequestID: "req-1",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	}
	hash, err := proc.ReleaseBounty(context.Background(), req)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if hash != "0xrelease" {
		t.Fatalf("unexpected hash %q", hash)
	}
	if escrow.releaseCalls() != 1 {
		t.Fatalf("expected 1 contract call, got %d", escrow.releaseCalls())
	}

	status := proc.Status()
	if status.Processed != 1 || status.InFlight != 0 || status.Paused {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestReleaseBountyRejectsBadProof(t *testing.T) {
	escrow := &stubEscrow{}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	// Proof covers a different bounty.
	req := ReleaseRequest{
		RequestID: "req-2",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-other", "grain1recipient")),
	}
	_, err := proc.ReleaseBounty(context.Background(), req)
	if !errors.Is(err, auth.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if escrow.releaseCalls() != 0 {
		t.Fatalf("contract called despite failed auth")
	}
}

func TestReleaseBountyIdempotentReplay(t *testing.T) {
	escrow := &stubEscrow{}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	req := ReleaseRequest{
		RequestID: "req-3",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	}
	first, err := proc.ReleaseBounty(context.Background(), req)
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	second, err := proc.ReleaseBounty(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first != second {
		t.Fatalf("replay returned different hash: %q vs %q", first, second)
	}
	if escrow.releaseCalls() != 1 {
		t.Fatalf("replay reached the contract: %d calls", escrow.releaseCalls())
	}
}

func TestReleaseBountyInFlightConflict(t *testing.T) {
	escrow := &stubEscrow{block: make(chan struct{})}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	req := ReleaseRequest{
		RequestID: "req-4",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := proc.ReleaseBounty(context.Background(), req); err != nil {
			t.Errorf("blocked release: %v", err)
		}
	}()

	// Wait until the first call claims the request slot.
	for proc.Status().InFlight == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := proc.ReleaseBounty(context.Background(), req)
	if !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}

	close(escrow.block)
	<-done
}

func TestReleaseBountyFailureAllowsRetry(t *testing.T) {
	escrow := &stubEscrow{err: errors.New("submission rejected")}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	req := ReleaseRequest{
		RequestID: "req-5",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	}
	if _, err := proc.ReleaseBounty(context.Background(), req); err == nil {
		t.Fatalf("expected submission error")
	}

	escrow.err = nil
	hash, err := proc.ReleaseBounty(context.Background(), req)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if hash != "0xrelease" {
		t.Fatalf("unexpected hash %q", hash)
	}
}

func TestPauseBlocksCommands(t *testing.T) {
	escrow := &stubEscrow{}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)
	proc.Pause()

	req := ReleaseRequest{
		RequestID: "req-6",
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	}
	if _, err := proc.ReleaseBounty(context.Background(), req); !errors.Is(err, ErrProcessorPaused) {
		t.Fatalf("expected ErrProcessorPaused, got %v", err)
	}
	if !proc.Status().Paused {
		t.Fatalf("status should report paused")
	}

	proc.Resume()
	if _, err := proc.ReleaseBounty(context.Background(), req); err != nil {
		t.Fatalf("release after resume: %v", err)
	}
}

func TestRefundBounty(t *testing.T) {
	escrow := &stubEscrow{}
	proc := NewProcessor(escrow, &stubProgram{})
	wallet := newSigner(t)

	hash, err := proc.RefundBounty(context.Background(), RefundRequest{
		RequestID: "req-7",
		BountyID:  "bounty-2",
		Proof:     wallet.proof(RefundMessage("bounty-2")),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if hash != "0xrefund" {
		t.Fatalf("unexpected hash %q", hash)
	}

	if _, err := proc.RefundBounty(context.Background(), RefundRequest{Proof: wallet.proof(RefundMessage(""))}); err == nil {
		t.Fatalf("expected validation error for blank bounty id")
	}
}

func TestSinglePayoutValidation(t *testing.T) {
	program := &stubProgram{}
	proc := NewProcessor(&stubEscrow{}, program)
	wallet := newSigner(t)
	amount := big.NewInt(5_000)

	hash, err := proc.SinglePayout(context.Background(), PayoutRequest{
		RequestID: "req-8",
		ProgramID: "season-1",
		Recipient: "grain1winner",
		Amount:    amount,
		Proof:     wallet.proof(PayoutMessage("season-1", "grain1winner", amount)),
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if hash != "0xsingle" || program.singles != 1 {
		t.Fatalf("unexpected outcome hash=%q singles=%d", hash, program.singles)
	}

	cases := []PayoutRequest{
		{ProgramID: "", Recipient: "grain1winner", Amount: amount},
		{ProgramID: "season-1", Recipient: "", Amount: amount},
		{ProgramID: "season-1", Recipient: "grain1winner", Amount: nil},
		{ProgramID: "season-1", Recipient: "grain1winner", Amount: big.NewInt(0)},
		{ProgramID: "season-1", Recipient: "grain1winner", Amount: big.NewInt(-5)},
	}
	for i, req := range cases {
		if _, err := proc.SinglePayout(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if program.singles != 1 {
		t.Fatalf("invalid requests reached the contract")
	}
}

func TestBatchPayoutValidation(t *testing.T) {
	program := &stubProgram{}
	proc := NewProcessor(&stubEscrow{}, program)
	wallet := newSigner(t)

	recipients := []string{"grain1a", "grain1b"}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(200)}

	hash, err := proc.BatchPayout(context.Background(), BatchPayoutRequest{
		RequestID:  "req-9",
		ProgramID:  "season-1",
		Recipients: recipients,
		Amounts:    amounts,
		Proof:      wallet.proof(BatchPayoutMessage("season-1", recipients, amounts)),
	})
	if err != nil {
		t.Fatalf("batch payout: %v", err)
	}
	if hash != "0xbatch" || program.batches != 1 {
		t.Fatalf("unexpected outcome hash=%q batches=%d", hash, program.batches)
	}

	cases := []BatchPayoutRequest{
		{ProgramID: "season-1", Recipients: recipients, Amounts: amounts[:1]},
		{ProgramID: "season-1"},
		{ProgramID: "season-1", Recipients: []string{"grain1a"}, Amounts: []*big.Int{nil}},
		{ProgramID: "season-1", Recipients: []string{"grain1a"}, Amounts: []*big.Int{big.NewInt(0)}},
	}
	for i, req := range cases {
		if _, err := proc.BatchPayout(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if program.batches != 1 {
		t.Fatalf("invalid requests reached the contract")
	}
}

func TestBatchPayoutProofCommitsToOrder(t *testing.T) {
	program := &stubProgram{}
	proc := NewProcessor(&stubEscrow{}, program)
	wallet := newSigner(t)

	recipients := []string{"grain1a", "grain1b"}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(200)}
	proof := wallet.proof(BatchPayoutMessage("season-1", recipients, amounts))

	// Reordering the batch invalidates the proof.
	_, err := proc.BatchPayout(context.Background(), BatchPayoutRequest{
		ProgramID:  "season-1",
		Recipients: []string{"grain1b", "grain1a"},
		Amounts:    []*big.Int{big.NewInt(200), big.NewInt(100)},
		Proof:      proof,
	})
	if !errors.Is(err, auth.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for reordered batch, got %v", err)
	}
	if program.batches != 0 {
		t.Fatalf("reordered batch reached the contract")
	}
}

func TestEnsureRequestIDGeneratesWhenBlank(t *testing.T) {
	if id := ensureRequestID("  req-10  "); id != "req-10" {
		t.Fatalf("expected trimmed id, got %q", id)
	}
	generated := ensureRequestID("")
	if generated == "" {
		t.Fatalf("expected generated id")
	}
	if other := ensureRequestID(""); other == generated {
		t.Fatalf("generated ids should be unique")
	}
}

func TestMissingCallersReportConfigError(t *testing.T) {
	proc := NewProcessor(nil, nil)
	wallet := newSigner(t)

	_, err := proc.ReleaseBounty(context.Background(), ReleaseRequest{
		BountyID:  "bounty-1",
		Recipient: "grain1recipient",
		Proof:     wallet.proof(ReleaseMessage("bounty-1", "grain1recipient")),
	})
	if err == nil {
		t.Fatalf("expected config error for nil escrow caller")
	}
	_, err = proc.SinglePayout(context.Background(), PayoutRequest{
		ProgramID: "season-1",
		Recipient: "grain1winner",
		Amount:    big.NewInt(1),
	})
	if err == nil {
		t.Fatalf("expected config error for nil program caller")
	}
}
