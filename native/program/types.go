package program

import (
	"fmt"
	"math/big"
	"strings"
)

// PayoutRecord is one executed payout, retained on the program record as an
// append-only history for audit queries.
type PayoutRecord struct {
	Recipient [20]byte `json:"recipient"`
	Amount    *big.Int `json:"amount"`
	PaidAt    int64    `json:"paidAt"`
}

// Record holds the aggregate prize pool for one program.
//
// Invariants: RemainingBalance never exceeds TotalFunds and never goes
// negative; TotalFunds is monotonic; the sum of executed payouts plus
// RemainingBalance (before any refund) equals TotalFunds.
type Record struct {
	ProgramID        string         `json:"programId"`
	TotalFunds       *big.Int       `json:"totalFunds"`
	RemainingBalance *big.Int       `json:"remainingBalance"`
	PayoutKey        [20]byte       `json:"payoutKey"`
	TokenAddress     [20]byte       `json:"tokenAddress"`
	CreatedAt        int64          `json:"createdAt"`
	Payouts          []PayoutRecord `json:"payouts,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalFunds = cloneBigInt(r.TotalFunds)
	clone.RemainingBalance = cloneBigInt(r.RemainingBalance)
	if len(r.Payouts) > 0 {
		clone.Payouts = make([]PayoutRecord, len(r.Payouts))
		for i, p := range r.Payouts {
			clone.Payouts[i] = PayoutRecord{
				Recipient: p.Recipient,
				Amount:    cloneBigInt(p.Amount),
				PaidAt:    p.PaidAt,
			}
		}
	}
	return &clone
}

// SanitizeRecord validates a program record, returning a cloned instance
// with non-nil balances. The original value is never mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("program: nil record")
	}
	clone := r.Clone()
	clone.ProgramID = strings.TrimSpace(clone.ProgramID)
	if clone.ProgramID == "" {
		return nil, fmt.Errorf("program: program id required")
	}
	if clone.TotalFunds.Sign() < 0 || clone.RemainingBalance.Sign() < 0 {
		return nil, fmt.Errorf("program: negative balance")
	}
	if clone.RemainingBalance.Cmp(clone.TotalFunds) > 0 {
		return nil, fmt.Errorf("program: remaining balance exceeds total funds")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
