package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of a bounty escrow record.
type Status uint8

const (
	StatusLocked Status = iota + 1
	StatusReleased
	StatusRefunded
	StatusPartiallyRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusReleased, StatusRefunded, StatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Active reports whether the record still holds funds that can be
// released or refunded.
func (s Status) Active() bool {
	return s == StatusLocked || s == StatusPartiallyRefunded
}

// String renders the status for logs and errors.
func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusPartiallyRefunded:
		return "partially_refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Record holds one bounty escrow. Amount is immutable after creation;
// Remaining tracks the portion still held by the vault and shrinks as
// partial refunds and scheduled releases settle.
type Record struct {
	BountyID      string        `json:"bountyId"`
	ProjectID     string        `json:"projectId,omitempty"`
	Depositor     [20]byte      `json:"depositor"`
	Contributor   *[20]byte     `json:"contributor,omitempty"`
	Amount        *big.Int      `json:"amount"`
	Remaining     *big.Int      `json:"remaining,omitempty"`
	LockedAt      int64         `json:"lockedAt"`
	Deadline      int64         `json:"deadline,omitempty"`
	Status        Status        `json:"status"`
	RefundHistory []RefundEntry `json:"refundHistory,omitempty"`
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without touching the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.Remaining != nil {
		clone.Remaining = new(big.Int).Set(r.Remaining)
	}
	if r.Contributor != nil {
		contributor := *r.Contributor
		clone.Contributor = &contributor
	}
	if len(r.RefundHistory) > 0 {
		clone.RefundHistory = make([]RefundEntry, len(r.RefundHistory))
		for i, entry := range r.RefundHistory {
			clone.RefundHistory[i] = entry
			if entry.Amount != nil {
				clone.RefundHistory[i].Amount = new(big.Int).Set(entry.Amount)
			}
		}
	}
	return &clone
}

// SanitizeRecord validates and normalises an escrow record, returning a
// cloned instance with a trimmed bounty ID and a non-nil amount. The
// original value is never mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := r.Clone()
	clone.BountyID = strings.TrimSpace(clone.BountyID)
	if clone.BountyID == "" {
		return nil, fmt.Errorf("escrow: bounty id required")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.Remaining == nil {
		clone.Remaining = new(big.Int).Set(clone.Amount)
	}
	if clone.Remaining.Sign() < 0 {
		return nil, fmt.Errorf("escrow: remaining must not be negative")
	}
	if clone.Remaining.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow: remaining exceeds locked amount")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}

// PauseState records an operational halt of the contract. While paused,
// lock, release and refund entry points reject with ErrPaused.
type PauseState struct {
	Paused   bool     `json:"paused"`
	Reason   string   `json:"reason,omitempty"`
	Since    int64    `json:"since,omitempty"`
	PausedBy [20]byte `json:"pausedBy,omitempty"`
}

// LockItem is one entry of a batch lock request.
type LockItem struct {
	BountyID    string
	ProjectID   string
	Amount      *big.Int
	Contributor *[20]byte
	Deadline    int64
}

// ReleaseItem is one entry of a batch release request.
type ReleaseItem struct {
	BountyID  string
	Recipient [20]byte
}

// MaxBatchSize bounds batch operations so a single transaction stays within
// ledger execution limits.
const MaxBatchSize = 100

// RefundMode selects how a refund resolves its amount and recipient.
type RefundMode uint8

const (
	// RefundFull returns the entire remaining balance to the depositor.
	RefundFull RefundMode = iota + 1
	// RefundPartial returns a chosen portion to the depositor.
	RefundPartial
	// RefundCustom returns a chosen portion to an arbitrary recipient and
	// requires a prior approval when the deadline has not passed.
	RefundCustom
)

// Valid reports whether the mode value is within the supported range.
func (m RefundMode) Valid() bool {
	switch m {
	case RefundFull, RefundPartial, RefundCustom:
		return true
	default:
		return false
	}
}

// String renders the mode for logs and events.
func (m RefundMode) String() string {
	switch m {
	case RefundFull:
		return "full"
	case RefundPartial:
		return "partial"
	case RefundCustom:
		return "custom"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseRefundMode maps the wire names back to a mode value.
func ParseRefundMode(raw string) (RefundMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "full":
		return RefundFull, nil
	case "partial":
		return RefundPartial, nil
	case "custom":
		return RefundCustom, nil
	default:
		return 0, fmt.Errorf("escrow: unknown refund mode %q", raw)
	}
}

// RefundEntry is one settled refund in a record's history.
type RefundEntry struct {
	Amount    *big.Int   `json:"amount"`
	Recipient [20]byte   `json:"recipient"`
	Mode      RefundMode `json:"mode"`
	Timestamp int64      `json:"timestamp"`
}

// RefundApproval authorizes one custom refund ahead of the deadline. The
// approval is consumed when the matching refund settles.
type RefundApproval struct {
	BountyID   string     `json:"bountyId"`
	Amount     *big.Int   `json:"amount"`
	Recipient  [20]byte   `json:"recipient"`
	Mode       RefundMode `json:"mode"`
	ApprovedBy [20]byte   `json:"approvedBy"`
	ApprovedAt int64      `json:"approvedAt"`
}

// Clone returns a deep copy of the approval.
func (a *RefundApproval) Clone() *RefundApproval {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	}
	return &clone
}

// RefundEligibility summarises whether a record can currently be refunded.
type RefundEligibility struct {
	CanRefund      bool
	DeadlinePassed bool
	Remaining      *big.Int
	Approval       *RefundApproval
}

// ReleaseKind distinguishes due-time schedule releases from early admin
// releases in the history.
type ReleaseKind uint8

const (
	ReleaseAutomatic ReleaseKind = iota + 1
	ReleaseManual
)

// String renders the kind for logs and events.
func (k ReleaseKind) String() string {
	switch k {
	case ReleaseAutomatic:
		return "automatic"
	case ReleaseManual:
		return "manual"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ReleaseSchedule reserves a portion of a record's remaining balance for a
// recipient once the release time passes. Schedule IDs are sequential per
// bounty, starting at one.
type ReleaseSchedule struct {
	BountyID   string    `json:"bountyId"`
	ScheduleID uint64    `json:"scheduleId"`
	Amount     *big.Int  `json:"amount"`
	ReleaseAt  int64     `json:"releaseAt"`
	Recipient  [20]byte  `json:"recipient"`
	Released   bool      `json:"released"`
	ReleasedAt int64     `json:"releasedAt,omitempty"`
	ReleasedBy *[20]byte `json:"releasedBy,omitempty"`
}

// Clone returns a deep copy of the schedule.
func (s *ReleaseSchedule) Clone() *ReleaseSchedule {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	}
	if s.ReleasedBy != nil {
		by := *s.ReleasedBy
		clone.ReleasedBy = &by
	}
	return &clone
}

// ReleaseEntry is one settled schedule in a bounty's release history.
type ReleaseEntry struct {
	BountyID   string      `json:"bountyId"`
	ScheduleID uint64      `json:"scheduleId"`
	Amount     *big.Int    `json:"amount"`
	Recipient  [20]byte    `json:"recipient"`
	ReleasedAt int64       `json:"releasedAt"`
	ReleasedBy [20]byte    `json:"releasedBy"`
	Kind       ReleaseKind `json:"kind"`
}
