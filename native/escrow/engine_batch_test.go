package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"grainpay/core/events"
)

func TestBatchLockFundsAllOrNothing(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 300)
	engine, recorder := newTestEngine(state)

	// Aggregate exceeds the balance even though each item alone fits.
	items := []LockItem{
		{BountyID: "b-1", Amount: big.NewInt(200)},
		{BountyID: "b-2", Amount: big.NewInt(200)},
	}
	if _, err := engine.BatchLockFunds(depositor, items); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := state.balance(depositor); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("depositor balance changed to %s", got)
	}
	if len(state.records) != 0 {
		t.Fatalf("expected no records, got %d", len(state.records))
	}
	if len(recorder.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(recorder.Events))
	}
}

func TestBatchLockFundsSuccess(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, recorder := newTestEngine(state)

	contributor := newTestAddress(0x06)
	items := []LockItem{
		{BountyID: "b-1", ProjectID: "p-1", Amount: big.NewInt(100)},
		{BountyID: "b-2", Amount: big.NewInt(250), Contributor: &contributor},
		{BountyID: "b-3", Amount: big.NewInt(150), Deadline: 9_000},
	}
	count, err := engine.BatchLockFunds(depositor, items)
	if err != nil {
		t.Fatalf("batch lock: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if got := state.balance(vaultAddr); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("vault balance = %s, want 500", got)
	}
	if len(recorder.ByType(events.TypeFundsLocked)) != 3 {
		t.Fatal("expected three funds_locked events")
	}
	summaries := recorder.ByType(events.TypeBatchLocked)
	if len(summaries) != 1 {
		t.Fatal("expected one batch_locked event")
	}
	summary := summaries[0].(events.BatchLocked)
	if summary.Count != 3 || summary.Total.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBatchLockFundsRejectsDuplicates(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	items := []LockItem{
		{BountyID: "dup", Amount: big.NewInt(100)},
		{BountyID: " dup ", Amount: big.NewInt(100)},
	}
	if _, err := engine.BatchLockFunds(depositor, items); !errors.Is(err, ErrDuplicateBounty) {
		t.Fatalf("expected ErrDuplicateBounty, got %v", err)
	}
}

func TestBatchLockFundsSizeBounds(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 100_000)
	engine, _ := newTestEngine(state)

	if _, err := engine.BatchLockFunds(depositor, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty batch: expected ErrEmptyBatch, got %v", err)
	}
	items := make([]LockItem, MaxBatchSize+1)
	for i := range items {
		items[i] = LockItem{BountyID: fmt.Sprintf("b-%d", i), Amount: big.NewInt(1)}
	}
	if _, err := engine.BatchLockFunds(depositor, items); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("oversize batch: expected ErrBatchTooLarge, got %v", err)
	}
}

func TestBatchReleaseFundsValidatesBeforeTransfer(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	contributor := newTestAddress(0x06)
	if _, err := engine.LockFunds(depositor, "b-1", "", big.NewInt(100), nil, 0); err != nil {
		t.Fatalf("lock b-1: %v", err)
	}
	if _, err := engine.LockFunds(depositor, "b-2", "", big.NewInt(200), &contributor, 0); err != nil {
		t.Fatalf("lock b-2: %v", err)
	}

	// Second item violates its contributor binding, so nothing moves.
	items := []ReleaseItem{
		{BountyID: "b-1", Recipient: recipient},
		{BountyID: "b-2", Recipient: recipient},
	}
	if _, err := engine.BatchReleaseFunds(payoutKey, items); !errors.Is(err, ErrRecipientMismatch) {
		t.Fatalf("expected ErrRecipientMismatch, got %v", err)
	}
	if got := state.balance(recipient); got.Sign() != 0 {
		t.Fatalf("recipient balance = %s, want 0", got)
	}
	record, _ := engine.GetEscrowInfo("b-1")
	if record.Status != StatusLocked {
		t.Fatalf("b-1 status = %s, want locked", record.Status)
	}

	items[1].Recipient = contributor
	count, err := engine.BatchReleaseFunds(payoutKey, items)
	if err != nil {
		t.Fatalf("batch release: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if got := state.balance(recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recipient balance = %s, want 100", got)
	}
	if got := state.balance(contributor); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("contributor balance = %s, want 200", got)
	}
}

func TestBatchReleaseFundsChecksVaultCoverage(t *testing.T) {
	state := newMockState()
	engine, recorder := newTestEngine(state)

	// Records exist but the vault cannot cover the aggregate, so the batch
	// fails before the first transfer.
	for i, amount := range []int64{400, 500} {
		record := &Record{
			BountyID:  fmt.Sprintf("b-%d", i+1),
			Depositor: depositor,
			Amount:    big.NewInt(amount),
			LockedAt:  500,
			Status:    StatusLocked,
		}
		if err := state.EscrowPut(record); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
	state.fund(vaultAddr, 600)

	items := []ReleaseItem{
		{BountyID: "b-1", Recipient: recipient},
		{BountyID: "b-2", Recipient: recipient},
	}
	if _, err := engine.BatchReleaseFunds(payoutKey, items); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := state.balance(recipient); got.Sign() != 0 {
		t.Fatalf("recipient balance = %s, want 0", got)
	}
	if got := state.balance(vaultAddr); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("vault balance = %s, want 600", got)
	}
	for _, id := range []string{"b-1", "b-2"} {
		record, _ := engine.GetEscrowInfo(id)
		if record.Status != StatusLocked {
			t.Fatalf("%s status = %s, want locked", id, record.Status)
		}
	}
	if len(recorder.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(recorder.Events))
	}
}

func TestBatchReleaseFundsRequiresPayoutKey(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "b-1", "", big.NewInt(100), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	items := []ReleaseItem{{BountyID: "b-1", Recipient: recipient}}
	if _, err := engine.BatchReleaseFunds(stranger, items); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBatchOperationsRespectPause(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	if err := engine.Pause(payoutKey, "maintenance"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	items := []LockItem{{BountyID: "b-1", Amount: big.NewInt(100)}}
	if _, err := engine.BatchLockFunds(depositor, items); !errors.Is(err, ErrPaused) {
		t.Fatalf("batch lock while paused: expected ErrPaused, got %v", err)
	}
	release := []ReleaseItem{{BountyID: "b-1", Recipient: recipient}}
	if _, err := engine.BatchReleaseFunds(payoutKey, release); !errors.Is(err, ErrPaused) {
		t.Fatalf("batch release while paused: expected ErrPaused, got %v", err)
	}
}
