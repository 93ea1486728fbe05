package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"grainpay/core/types"
	"grainpay/native/escrow"
	"grainpay/native/migration"
	"grainpay/native/program"
	"grainpay/storage"
)

// Key prefixes for the records owned by the contract engines. Every record
// is exclusively mutated through the manager so the engines can re-check
// status immediately before writing.
var (
	escrowRecordPrefix    = []byte("escrow/record/")
	escrowPauseKey        = []byte("escrow/pause")
	escrowApprovalPrefix  = []byte("escrow/refund-approval/")
	escrowSchedulePrefix  = []byte("escrow/schedule/")
	escrowScheduleNextKey = []byte("escrow/schedule-next/")
	escrowHistoryPrefix   = []byte("escrow/release-history/")
	programRecordPrefix   = []byte("program/record/")
	accountPrefix         = []byte("account/")
	migrationStatePrefix  = []byte("migration/state/")
	migrationLatestPrefix = []byte("migration/latest/")
	migrationPrevPrefix   = []byte("migration/prev/")
	migrationCodePrefix   = []byte("migration/code/")
)

// Manager mediates all keyed-record access for the contract engines over a
// storage.Database backend, round-tripping records as JSON. It satisfies
// escrow.EngineState, program.EngineState and migration.Store.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) put(key []byte, v interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", string(key), err)
	}
	return m.db.Put(key, raw)
}

func (m *Manager) get(key []byte, v interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager unavailable")
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", string(key), err)
	}
	return true, nil
}

func prefixed(prefix []byte, suffix string) []byte {
	buf := make([]byte, 0, len(prefix)+len(suffix))
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return buf
}

// --- Accounts ---

func accountKey(addr [20]byte) []byte {
	return prefixed(accountPrefix, hex.EncodeToString(addr[:]))
}

// GetAccount loads the account for an address, returning a zeroed account
// when none is stored yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	account := &types.Account{}
	ok, err := m.get(accountKey(addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureDefaults(), nil
	}
	return account.EnsureDefaults(), nil
}

// PutAccount persists the account for an address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.put(accountKey(addr), account.EnsureDefaults())
}

// --- Bounty escrow records ---

// EscrowPut persists a sanitized bounty escrow record under its bounty ID.
func (m *Manager) EscrowPut(record *escrow.Record) error {
	sanitized, err := escrow.SanitizeRecord(record)
	if err != nil {
		return err
	}
	return m.put(prefixed(escrowRecordPrefix, sanitized.BountyID), sanitized)
}

// EscrowGet loads the bounty escrow record for an ID.
func (m *Manager) EscrowGet(bountyID string) (*escrow.Record, bool, error) {
	record := &escrow.Record{}
	ok, err := m.get(prefixed(escrowRecordPrefix, bountyID), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// EscrowPausePut persists the pause flag for the bounty escrow contract.
func (m *Manager) EscrowPausePut(pause *escrow.PauseState) error {
	if pause == nil {
		return fmt.Errorf("state: nil pause state")
	}
	return m.put(escrowPauseKey, pause)
}

// EscrowPauseGet loads the pause flag for the bounty escrow contract.
func (m *Manager) EscrowPauseGet() (*escrow.PauseState, bool, error) {
	pause := &escrow.PauseState{}
	ok, err := m.get(escrowPauseKey, pause)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pause, true, nil
}

// --- Refund approvals and release schedules ---

// RefundApprovalPut persists the pending custom-refund approval for a
// bounty, replacing any earlier one.
func (m *Manager) RefundApprovalPut(approval *escrow.RefundApproval) error {
	if approval == nil {
		return fmt.Errorf("state: nil refund approval")
	}
	if approval.BountyID == "" {
		return fmt.Errorf("state: refund approval requires a bounty id")
	}
	return m.put(prefixed(escrowApprovalPrefix, approval.BountyID), approval)
}

// RefundApprovalGet loads the pending refund approval for a bounty.
func (m *Manager) RefundApprovalGet(bountyID string) (*escrow.RefundApproval, bool, error) {
	approval := &escrow.RefundApproval{}
	ok, err := m.get(prefixed(escrowApprovalPrefix, bountyID), approval)
	if err != nil || !ok {
		return nil, ok, err
	}
	return approval, true, nil
}

// RefundApprovalDelete removes a consumed refund approval.
func (m *Manager) RefundApprovalDelete(bountyID string) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.db.Delete(prefixed(escrowApprovalPrefix, bountyID))
}

func scheduleKey(bountyID string, scheduleID uint64) []byte {
	return prefixed(escrowSchedulePrefix, fmt.Sprintf("%s/%d", bountyID, scheduleID))
}

// SchedulePut persists a release schedule under its bounty and schedule ID.
func (m *Manager) SchedulePut(schedule *escrow.ReleaseSchedule) error {
	if schedule == nil {
		return fmt.Errorf("state: nil release schedule")
	}
	if schedule.BountyID == "" || schedule.ScheduleID == 0 {
		return fmt.Errorf("state: release schedule requires a bounty id and schedule id")
	}
	return m.put(scheduleKey(schedule.BountyID, schedule.ScheduleID), schedule)
}

// ScheduleGet loads one release schedule.
func (m *Manager) ScheduleGet(bountyID string, scheduleID uint64) (*escrow.ReleaseSchedule, bool, error) {
	schedule := &escrow.ReleaseSchedule{}
	ok, err := m.get(scheduleKey(bountyID, scheduleID), schedule)
	if err != nil || !ok {
		return nil, ok, err
	}
	return schedule, true, nil
}

// ScheduleNextIDGet loads the next schedule ID for a bounty, starting at
// one when no schedule has been created yet.
func (m *Manager) ScheduleNextIDGet(bountyID string) (uint64, error) {
	var next uint64
	ok, err := m.get(prefixed(escrowScheduleNextKey, bountyID), &next)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return next, nil
}

// ScheduleNextIDPut advances the schedule ID counter for a bounty.
func (m *Manager) ScheduleNextIDPut(bountyID string, next uint64) error {
	return m.put(prefixed(escrowScheduleNextKey, bountyID), next)
}

// ReleaseHistoryGet loads the settled schedule releases for a bounty.
func (m *Manager) ReleaseHistoryGet(bountyID string) ([]escrow.ReleaseEntry, error) {
	var entries []escrow.ReleaseEntry
	if _, err := m.get(prefixed(escrowHistoryPrefix, bountyID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReleaseHistoryPut persists the settled schedule releases for a bounty.
func (m *Manager) ReleaseHistoryPut(bountyID string, entries []escrow.ReleaseEntry) error {
	return m.put(prefixed(escrowHistoryPrefix, bountyID), entries)
}

// --- Program escrow records ---

// ProgramPut persists a sanitized program escrow record under its program ID.
func (m *Manager) ProgramPut(record *program.Record) error {
	sanitized, err := program.SanitizeRecord(record)
	if err != nil {
		return err
	}
	return m.put(prefixed(programRecordPrefix, sanitized.ProgramID), sanitized)
}

// ProgramGet loads the program escrow record for an ID.
func (m *Manager) ProgramGet(programID string) (*program.Record, bool, error) {
	record := &program.Record{}
	ok, err := m.get(prefixed(programRecordPrefix, programID), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// --- Migration provenance ---

func migrationStateKey(instance string, from, to uint32) []byte {
	return prefixed(migrationStatePrefix, fmt.Sprintf("%s/%d-%d", instance, from, to))
}

// MigrationPut records a completed migration for an instance and advances
// the latest pointer.
func (m *Manager) MigrationPut(instance string, st *migration.State) error {
	if st == nil {
		return fmt.Errorf("state: nil migration state")
	}
	if err := m.put(migrationStateKey(instance, st.FromVersion, st.ToVersion), st); err != nil {
		return err
	}
	return m.put(prefixed(migrationLatestPrefix, instance), st)
}

// MigrationGet loads the migration record for a specific version pair.
func (m *Manager) MigrationGet(instance string, from, to uint32) (*migration.State, bool, error) {
	st := &migration.State{}
	ok, err := m.get(migrationStateKey(instance, from, to), st)
	if err != nil || !ok {
		return nil, ok, err
	}
	return st, true, nil
}

// MigrationLatest loads the most recently recorded migration for an
// instance.
func (m *Manager) MigrationLatest(instance string) (*migration.State, bool, error) {
	st := &migration.State{}
	ok, err := m.get(prefixed(migrationLatestPrefix, instance), st)
	if err != nil || !ok {
		return nil, ok, err
	}
	return st, true, nil
}

// PreviousVersionPut stores the version that was live before the most
// recent code upgrade.
func (m *Manager) PreviousVersionPut(instance string, version uint32) error {
	return m.put(prefixed(migrationPrevPrefix, instance), version)
}

// PreviousVersionGet loads the pre-upgrade version for an instance.
func (m *Manager) PreviousVersionGet(instance string) (uint32, bool, error) {
	var version uint32
	ok, err := m.get(prefixed(migrationPrevPrefix, instance), &version)
	return version, ok, err
}

// CodeHashPut stores the executable code hash installed by an upgrade.
func (m *Manager) CodeHashPut(instance string, hash [32]byte) error {
	return m.put(prefixed(migrationCodePrefix, instance), hash[:])
}

// CodeHashGet loads the installed code hash for an instance.
func (m *Manager) CodeHashGet(instance string) ([32]byte, bool, error) {
	var raw []byte
	var hash [32]byte
	ok, err := m.get(prefixed(migrationCodePrefix, instance), &raw)
	if err != nil || !ok {
		return hash, ok, err
	}
	if len(raw) != 32 {
		return hash, false, fmt.Errorf("state: stored code hash must be 32 bytes, got %d", len(raw))
	}
	copy(hash[:], raw)
	return hash, true, nil
}
