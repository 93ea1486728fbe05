package migration

import (
	"errors"
	"fmt"
	"time"

	"grainpay/core/events"
)

// BaseVersion is the implicit live version of an instance that has never
// been migrated.
const BaseVersion uint32 = 1

var (
	errNilStore = errors.New("migration engine: store not configured")

	// ErrUnauthorized is returned when the caller is not the admin key.
	ErrUnauthorized = errors.New("migration engine: unauthorized caller")
	// ErrNonSequential is returned when the target is not exactly the
	// current version plus one. Multi-step upgrades require sequential
	// calls.
	ErrNonSequential = errors.New("migration engine: target version must be current version + 1")
	// ErrAlreadyMigrated is returned when a (from, to) pair has already
	// been recorded for the instance.
	ErrAlreadyMigrated = errors.New("migration engine: migration already applied")
	// ErrUnknownVersion is returned when no transform is registered for
	// the target version.
	ErrUnknownVersion = errors.New("migration engine: no transform registered for target version")
	// ErrTransformNotImplemented marks a placeholder version whose
	// breaking changes are not yet specified.
	ErrTransformNotImplemented = errors.New("migration engine: transform not implemented")
)

// State records the provenance of one applied migration. A given
// (FromVersion, ToVersion) pair is recorded at most once per instance; the
// live version is implicitly the ToVersion of the latest record.
type State struct {
	FromVersion   uint32   `json:"fromVersion"`
	ToVersion     uint32   `json:"toVersion"`
	MigratedAt    int64    `json:"migratedAt"`
	MigrationHash [32]byte `json:"migrationHash"`
}

// Store is the provenance backend shared by both contract kinds, keyed by
// instance name.
type Store interface {
	MigrationPut(instance string, st *State) error
	MigrationGet(instance string, from, to uint32) (*State, bool, error)
	MigrationLatest(instance string) (*State, bool, error)
	PreviousVersionPut(instance string, version uint32) error
	PreviousVersionGet(instance string) (uint32, bool, error)
	CodeHashPut(instance string, hash [32]byte) error
	CodeHashGet(instance string) ([32]byte, bool, error)
}

// Transform applies the version-specific state reshaping for one target
// version. A transform failure aborts the whole migration; ledger execution
// semantics guarantee no partial writes persist.
type Transform func() error

// NoopTransform is the transform for versions that only add fields with
// safe defaults; the JSON record codec supplies zero values on read.
func NoopTransform() error { return nil }

// PlaceholderTransform marks a version whose reshaping is not yet defined.
func PlaceholderTransform() error { return ErrTransformNotImplemented }

// Engine tracks a monotonic version number for one deployed contract
// instance and applies registered transforms one step at a time.
type Engine struct {
	instance   string
	store      Store
	emitter    events.Emitter
	admin      [20]byte
	transforms map[uint32]Transform
	nowFn      func() int64
}

// NewEngine creates a migration engine bound to an instance name
// ("escrow" or "program").
func NewEngine(instance string) *Engine {
	return &Engine{
		instance:   instance,
		emitter:    events.NoopEmitter{},
		transforms: make(map[uint32]Transform),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetStore configures the provenance backend.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetAdmin configures the operator key allowed to upgrade and migrate.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// RegisterTransform binds the transform applied when migrating to the
// target version. Registering the same target twice replaces the previous
// transform.
func (e *Engine) RegisterTransform(target uint32, fn Transform) {
	if e == nil || fn == nil {
		return
	}
	e.transforms[target] = fn
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

// CurrentVersion returns the live version of the instance: the ToVersion of
// the latest migration record, or BaseVersion when none exists.
func (e *Engine) CurrentVersion() (uint32, error) {
	if e == nil || e.store == nil {
		return 0, errNilStore
	}
	latest, ok, err := e.store.MigrationLatest(e.instance)
	if err != nil {
		return 0, err
	}
	if !ok {
		return BaseVersion, nil
	}
	return latest.ToVersion, nil
}

// Upgrade replaces the instance's executable code hash without altering
// stored data, recording the pre-upgrade version for operational rollback
// decisions. Admin only.
func (e *Engine) Upgrade(caller [20]byte, newCodeHash [32]byte) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if caller != e.admin {
		return ErrUnauthorized
	}
	current, err := e.CurrentVersion()
	if err != nil {
		return err
	}
	if err := e.store.PreviousVersionPut(e.instance, current); err != nil {
		return err
	}
	if err := e.store.CodeHashPut(e.instance, newCodeHash); err != nil {
		return err
	}
	e.emit(events.ContractUpgraded{
		Instance:        e.instance,
		CodeHash:        newCodeHash,
		PreviousVersion: current,
		UpgradedAt:      e.now(),
	})
	return nil
}

// Migrate advances the instance exactly one version, running the registered
// transform and recording provenance. A failed transform records nothing
// and is safely retryable with the same target version. Admin only.
func (e *Engine) Migrate(caller [20]byte, targetVersion uint32, migrationHash [32]byte) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if caller != e.admin {
		return ErrUnauthorized
	}
	current, err := e.CurrentVersion()
	if err != nil {
		return err
	}
	if targetVersion != current+1 {
		return fmt.Errorf("%w: current=%d target=%d", ErrNonSequential, current, targetVersion)
	}
	_, exists, err := e.store.MigrationGet(e.instance, current, targetVersion)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d->%d", ErrAlreadyMigrated, current, targetVersion)
	}
	transform, ok := e.transforms[targetVersion]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, targetVersion)
	}
	now := e.now()
	if err := transform(); err != nil {
		e.emit(events.MigrationFailed{
			Instance:      e.instance,
			FromVersion:   current,
			ToVersion:     targetVersion,
			MigrationHash: migrationHash,
			FailedAt:      now,
			Error:         err.Error(),
		})
		return fmt.Errorf("migration engine: transform %d->%d: %w", current, targetVersion, err)
	}
	record := &State{
		FromVersion:   current,
		ToVersion:     targetVersion,
		MigratedAt:    now,
		MigrationHash: migrationHash,
	}
	if err := e.store.MigrationPut(e.instance, record); err != nil {
		return err
	}
	e.emit(events.MigrationCompleted{
		Instance:      e.instance,
		FromVersion:   current,
		ToVersion:     targetVersion,
		MigrationHash: migrationHash,
		MigratedAt:    now,
	})
	return nil
}

// MigrationState returns the latest recorded migration, if any.
func (e *Engine) MigrationState() (*State, bool, error) {
	if e == nil || e.store == nil {
		return nil, false, errNilStore
	}
	return e.store.MigrationLatest(e.instance)
}

// PreviousVersion returns the version recorded before the most recent code
// upgrade. It informs operational rollback decisions only; no automated
// state reversal is performed.
func (e *Engine) PreviousVersion() (uint32, bool, error) {
	if e == nil || e.store == nil {
		return 0, false, errNilStore
	}
	return e.store.PreviousVersionGet(e.instance)
}

// CodeHash returns the executable code hash installed by the most recent
// upgrade, if any.
func (e *Engine) CodeHash() ([32]byte, bool, error) {
	if e == nil || e.store == nil {
		return [32]byte{}, false, errNilStore
	}
	return e.store.CodeHashGet(e.instance)
}
