package events

import (
	"encoding/hex"
	"strconv"
	"strings"

	"grainpay/core/types"
)

const (
	// TypeMigrationCompleted is emitted after a version transform commits.
	TypeMigrationCompleted = "migration.completed"
	// TypeMigrationFailed is emitted when a version transform aborts. No
	// migration state is persisted alongside a failure event.
	TypeMigrationFailed = "migration.failed"
	// TypeContractUpgraded is emitted when executable code is replaced.
	TypeContractUpgraded = "migration.upgraded"
)

// MigrationCompleted records a successful single-step state migration.
type MigrationCompleted struct {
	Instance      string
	FromVersion   uint32
	ToVersion     uint32
	MigrationHash [32]byte
	MigratedAt    int64
}

// EventType satisfies the events.Event interface.
func (MigrationCompleted) EventType() string { return TypeMigrationCompleted }

// Event converts the payload into the wire representation.
func (e MigrationCompleted) Event() *types.Event {
	return &types.Event{Type: TypeMigrationCompleted, Attributes: map[string]string{
		"instance":      e.Instance,
		"fromVersion":   strconv.FormatUint(uint64(e.FromVersion), 10),
		"toVersion":     strconv.FormatUint(uint64(e.ToVersion), 10),
		"migrationHash": hex.EncodeToString(e.MigrationHash[:]),
		"migratedAt":    strconv.FormatInt(e.MigratedAt, 10),
		"success":       "true",
	}}
}

// MigrationFailed records an aborted migration attempt. Re-invoking the
// migration with the same target version is safe.
type MigrationFailed struct {
	Instance      string
	FromVersion   uint32
	ToVersion     uint32
	MigrationHash [32]byte
	FailedAt      int64
	Error         string
}

// EventType satisfies the events.Event interface.
func (MigrationFailed) EventType() string { return TypeMigrationFailed }

// Event converts the payload into the wire representation.
func (e MigrationFailed) Event() *types.Event {
	attrs := map[string]string{
		"instance":      e.Instance,
		"fromVersion":   strconv.FormatUint(uint64(e.FromVersion), 10),
		"toVersion":     strconv.FormatUint(uint64(e.ToVersion), 10),
		"migrationHash": hex.EncodeToString(e.MigrationHash[:]),
		"failedAt":      strconv.FormatInt(e.FailedAt, 10),
		"success":       "false",
	}
	if msg := strings.TrimSpace(e.Error); msg != "" {
		attrs["error"] = msg
	}
	return &types.Event{Type: TypeMigrationFailed, Attributes: attrs}
}

// ContractUpgraded records an executable code replacement. Upgrades never
// alter stored data; migrations do.
type ContractUpgraded struct {
	Instance        string
	CodeHash        [32]byte
	PreviousVersion uint32
	UpgradedAt      int64
}

// EventType satisfies the events.Event interface.
func (ContractUpgraded) EventType() string { return TypeContractUpgraded }

// Event converts the payload into the wire representation.
func (e ContractUpgraded) Event() *types.Event {
	return &types.Event{Type: TypeContractUpgraded, Attributes: map[string]string{
		"instance":        e.Instance,
		"codeHash":        hex.EncodeToString(e.CodeHash[:]),
		"previousVersion": strconv.FormatUint(uint64(e.PreviousVersion), 10),
		"upgradedAt":      strconv.FormatInt(e.UpgradedAt, 10),
	}}
}
