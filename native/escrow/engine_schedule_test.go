package escrow

import (
	"errors"
	"math/big"
	"testing"

	"grainpay/core/events"
)

func TestCreateReleaseScheduleAssignsSequentialIDs(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, recorder := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	first, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(300), 2_000, recipient)
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	second, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(400), 3_000, stranger)
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if first.ScheduleID != 1 || second.ScheduleID != 2 {
		t.Fatalf("schedule ids = %d, %d, want 1, 2", first.ScheduleID, second.ScheduleID)
	}
	schedules, err := engine.ListReleaseSchedules("bounty-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}
	if len(recorder.ByType(events.TypeScheduleCreated)) != 2 {
		t.Fatal("expected two schedule_created events")
	}
}

func TestCreateReleaseScheduleValidation(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(stranger, "bounty-1", big.NewInt(100), 2_000, recipient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "missing", big.NewInt(100), 2_000, recipient); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing bounty: expected ErrNotFound, got %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(0), 2_000, recipient); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(100), 1_000, recipient); !errors.Is(err, ErrInvalidScheduleTime) {
		t.Fatalf("release time not in future: expected ErrInvalidScheduleTime, got %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(700), 2_000, recipient); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Pending schedules count against the remaining balance.
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(400), 2_000, recipient); !errors.Is(err, ErrScheduleOvercommitted) {
		t.Fatalf("overcommit: expected ErrScheduleOvercommitted, got %v", err)
	}
	if err := engine.ReleaseFunds(payoutKey, "bounty-1", recipient); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(100), 2_000, recipient); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("released bounty: expected ErrNotLocked, got %v", err)
	}
}

func TestReleaseScheduledFundsHonoursDueTime(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, recorder := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(300), 2_000, recipient); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.ReleaseScheduledFunds(stranger, "bounty-1", 1); !errors.Is(err, ErrScheduleNotDue) {
		t.Fatalf("before due time: expected ErrScheduleNotDue, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2_000 })
	// Anyone may settle a due schedule.
	if err := engine.ReleaseScheduledFunds(stranger, "bounty-1", 1); err != nil {
		t.Fatalf("release due schedule: %v", err)
	}
	if got := state.balance(recipient); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("recipient balance = %s, want 300", got)
	}
	balance, err := engine.GetBalance("bounty-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("remaining = %s, want 700", balance)
	}
	schedule, err := engine.GetReleaseSchedule("bounty-1", 1)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !schedule.Released || schedule.ReleasedAt != 2_000 {
		t.Fatalf("unexpected schedule state: %+v", schedule)
	}
	if err := engine.ReleaseScheduledFunds(stranger, "bounty-1", 1); !errors.Is(err, ErrScheduleReleased) {
		t.Fatalf("second release: expected ErrScheduleReleased, got %v", err)
	}
	released := recorder.ByType(events.TypeScheduleReleased)
	if len(released) != 1 {
		t.Fatalf("expected one schedule_released event, got %d", len(released))
	}
	if payload := released[0].(events.ScheduleReleased); payload.Kind != "automatic" {
		t.Fatalf("event kind = %s, want automatic", payload.Kind)
	}
}

func TestReleaseScheduledFundsEarlyRequiresPayoutKey(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(300), 2_000, recipient); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.ReleaseScheduledFundsEarly(stranger, "bounty-1", 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}
	if err := engine.ReleaseScheduledFundsEarly(payoutKey, "bounty-1", 1); err != nil {
		t.Fatalf("early release: %v", err)
	}
	if got := state.balance(recipient); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("recipient balance = %s, want 300", got)
	}
	history, err := engine.GetReleaseHistory("bounty-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Kind != ReleaseManual {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestScheduleDrainingSettlesRecord(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(500), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(500), 2_000, recipient); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2_000 })
	if err := engine.ReleaseScheduledFunds(recipient, "bounty-1", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	info, err := engine.GetEscrowInfo("bounty-1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Status != StatusReleased {
		t.Fatalf("status = %s, want released", info.Status)
	}
	balance, err := engine.GetBalance("bounty-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("remaining = %s, want 0", balance)
	}
}

func TestPendingAndDueScheduleQueries(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(200), 2_000, recipient); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(300), 9_000, stranger); err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2_500 })
	due, err := engine.DueSchedules("bounty-1")
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ScheduleID != 1 {
		t.Fatalf("unexpected due schedules: %+v", due)
	}
	if err := engine.ReleaseScheduledFunds(recipient, "bounty-1", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	pending, err := engine.PendingSchedules("bounty-1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ScheduleID != 2 {
		t.Fatalf("unexpected pending schedules: %+v", pending)
	}
	due, err = engine.DueSchedules("bounty-1")
	if err != nil {
		t.Fatalf("due after release: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due schedules, got %+v", due)
	}
}

func TestScheduleLookupUnknownID(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_000)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(500), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.GetReleaseSchedule("bounty-1", 7); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
	if err := engine.ReleaseScheduledFunds(recipient, "bounty-1", 7); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("release unknown: expected ErrScheduleNotFound, got %v", err)
	}
	if _, err := engine.GetReleaseSchedule("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing bounty: expected ErrNotFound, got %v", err)
	}
}

func TestFullReleaseAfterScheduleSendsRemainder(t *testing.T) {
	state := newMockState()
	state.fund(depositor, 1_500)
	engine, _ := newTestEngine(state)

	if _, err := engine.LockFunds(depositor, "bounty-1", "", big.NewInt(1_000), nil, 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := engine.CreateReleaseSchedule(payoutKey, "bounty-1", big.NewInt(300), 2_000, stranger); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2_000 })
	if err := engine.ReleaseScheduledFunds(stranger, "bounty-1", 1); err != nil {
		t.Fatalf("scheduled release: %v", err)
	}
	if err := engine.ReleaseFunds(payoutKey, "bounty-1", recipient); err != nil {
		t.Fatalf("full release: %v", err)
	}
	if got := state.balance(recipient); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("recipient balance = %s, want 700", got)
	}
	if got := state.balance(vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault balance = %s, want 0", got)
	}
}
