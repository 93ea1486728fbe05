package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// EscrowCaller invokes the on-ledger escrow contract through a shared
// transaction builder.
type EscrowCaller struct {
	builder    *TxBuilder
	client     *Client
	contractID string
	confirmIn  time.Duration
}

// NewEscrowCaller validates the contract identifier and binds the caller
// to it.
func NewEscrowCaller(builder *TxBuilder, client *Client, contractID string, confirmTimeout time.Duration) (*EscrowCaller, error) {
	id, err := ParseContractID(contractID)
	if err != nil {
		return nil, fmt.Errorf("ledger: escrow contract: %w", err)
	}
	if builder == nil {
		return nil, fmt.Errorf("ledger: transaction builder is required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = time.Minute
	}
	return &EscrowCaller{
		builder:    builder,
		client:     client,
		contractID: hex.EncodeToString(id[:]),
		confirmIn:  confirmTimeout,
	}, nil
}

// ContractID returns the canonical hex form of the bound contract.
func (ec *EscrowCaller) ContractID() string { return ec.contractID }

func (ec *EscrowCaller) invoke(ctx context.Context, function string, args ...Value) (*TransactionResult, error) {
	op := Operation{
		Contract: ec.contractID,
		Function: function,
		Args:     args,
	}
	result, err := ec.builder.BuildAndSubmit(ctx, []Operation{op})
	if err != nil {
		return nil, err
	}
	return ec.builder.WaitForConfirmation(ctx, result, ec.confirmIn)
}

// LockFunds escrows an amount for a bounty on behalf of the depositor.
func (ec *EscrowCaller) LockFunds(ctx context.Context, depositor string, bountyID string, amount *big.Int, deadline int64) (*TransactionResult, error) {
	amt, err := I128(amount)
	if err != nil {
		return nil, err
	}
	addr, err := AddressValue(depositor)
	if err != nil {
		return nil, err
	}
	ec.client.LogContractInteraction(ec.contractID, "lock_funds", map[string]interface{}{
		"bounty_id": bountyID,
		"depositor": depositor,
		"amount":    amount.String(),
		"deadline":  deadline,
	})
	return ec.invoke(ctx, "lock_funds", addr, String(bountyID), amt, I64(deadline))
}

// ReleaseFunds pays out an escrowed bounty to the recipient.
func (ec *EscrowCaller) ReleaseFunds(ctx context.Context, bountyID string, recipient string) (*TransactionResult, error) {
	addr, err := AddressValue(recipient)
	if err != nil {
		return nil, err
	}
	ec.client.LogContractInteraction(ec.contractID, "release_funds", map[string]interface{}{
		"bounty_id": bountyID,
		"recipient": recipient,
	})
	return ec.invoke(ctx, "release_funds", String(bountyID), addr)
}

// RefundFunds returns an escrowed bounty to its depositor.
func (ec *EscrowCaller) RefundFunds(ctx context.Context, bountyID string) (*TransactionResult, error) {
	ec.client.LogContractInteraction(ec.contractID, "refund_funds", map[string]interface{}{
		"bounty_id": bountyID,
	})
	return ec.invoke(ctx, "refund_funds", String(bountyID))
}

// ApproveRefund authorizes a custom refund ahead of the deadline.
func (ec *EscrowCaller) ApproveRefund(ctx context.Context, bountyID string, amount *big.Int, recipient string, mode string) (*TransactionResult, error) {
	amt, err := I128(amount)
	if err != nil {
		return nil, err
	}
	addr, err := AddressValue(recipient)
	if err != nil {
		return nil, err
	}
	ec.client.LogContractInteraction(ec.contractID, "approve_refund", map[string]interface{}{
		"bounty_id": bountyID,
		"amount":    amount.String(),
		"recipient": recipient,
		"mode":      mode,
	})
	return ec.invoke(ctx, "approve_refund", String(bountyID), amt, addr, String(mode))
}

// CreateReleaseSchedule reserves part of an escrowed bounty for a recipient
// once the release time passes.
func (ec *EscrowCaller) CreateReleaseSchedule(ctx context.Context, bountyID string, amount *big.Int, releaseAt int64, recipient string) (*TransactionResult, error) {
	amt, err := I128(amount)
	if err != nil {
		return nil, err
	}
	addr, err := AddressValue(recipient)
	if err != nil {
		return nil, err
	}
	ec.client.LogContractInteraction(ec.contractID, "create_release_schedule", map[string]interface{}{
		"bounty_id":  bountyID,
		"amount":     amount.String(),
		"release_at": releaseAt,
		"recipient":  recipient,
	})
	return ec.invoke(ctx, "create_release_schedule", String(bountyID), amt, I64(releaseAt), addr)
}

// ReleaseSchedule settles a due release schedule.
func (ec *EscrowCaller) ReleaseSchedule(ctx context.Context, bountyID string, scheduleID uint64) (*TransactionResult, error) {
	ec.client.LogContractInteraction(ec.contractID, "release_schedule_automatic", map[string]interface{}{
		"bounty_id":   bountyID,
		"schedule_id": scheduleID,
	})
	return ec.invoke(ctx, "release_schedule_automatic", String(bountyID), U64(scheduleID))
}

// ReleaseScheduleEarly settles a schedule before its release time on the
// signer's authority.
func (ec *EscrowCaller) ReleaseScheduleEarly(ctx context.Context, bountyID string, scheduleID uint64) (*TransactionResult, error) {
	ec.client.LogContractInteraction(ec.contractID, "release_schedule_manual", map[string]interface{}{
		"bounty_id":   bountyID,
		"schedule_id": scheduleID,
	})
	return ec.invoke(ctx, "release_schedule_manual", String(bountyID), U64(scheduleID))
}

// GetBalance reads the current escrowed amount for a bounty without
// submitting a transaction.
func (ec *EscrowCaller) GetBalance(ctx context.Context, bountyID string) (*big.Int, error) {
	op := Operation{
		Contract: ec.contractID,
		Function: "get_balance",
		Args:     []Value{String(bountyID)},
	}
	val, err := ec.client.SimulateCall(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("ledger: read escrow balance: %w", err)
	}
	return DecodeI128(val)
}
