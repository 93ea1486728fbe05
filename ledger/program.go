package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// ProgramCaller invokes the on-ledger program escrow contract.
type ProgramCaller struct {
	builder    *TxBuilder
	client     *Client
	contractID string
	confirmIn  time.Duration
}

// NewProgramCaller validates the contract identifier and binds the caller
// to it.
func NewProgramCaller(builder *TxBuilder, client *Client, contractID string, confirmTimeout time.Duration) (*ProgramCaller, error) {
	id, err := ParseContractID(contractID)
	if err != nil {
		return nil, fmt.Errorf("ledger: program contract: %w", err)
	}
	if builder == nil {
		return nil, fmt.Errorf("ledger: transaction builder is required")
	}
	if confirmTimeout <= 0 {
		confirmTimeout = time.Minute
	}
	return &ProgramCaller{
		builder:    builder,
		client:     client,
		contractID: hex.EncodeToString(id[:]),
		confirmIn:  confirmTimeout,
	}, nil
}

// ContractID returns the canonical hex form of the bound contract.
func (pc *ProgramCaller) ContractID() string { return pc.contractID }

func (pc *ProgramCaller) invoke(ctx context.Context, function string, args ...Value) (*TransactionResult, error) {
	op := Operation{
		Contract: pc.contractID,
		Function: function,
		Args:     args,
	}
	result, err := pc.builder.BuildAndSubmit(ctx, []Operation{op})
	if err != nil {
		return nil, err
	}
	return pc.builder.WaitForConfirmation(ctx, result, pc.confirmIn)
}

// InitProgram initialises a program escrow with its payout key and token.
func (pc *ProgramCaller) InitProgram(ctx context.Context, programID, payoutKey, tokenAddress string) (*TransactionResult, error) {
	key, err := AddressValue(payoutKey)
	if err != nil {
		return nil, err
	}
	token, err := AddressValue(tokenAddress)
	if err != nil {
		return nil, err
	}
	pc.client.LogContractInteraction(pc.contractID, "init_program", map[string]interface{}{
		"program_id": programID,
		"payout_key": payoutKey,
		"token":      tokenAddress,
	})
	return pc.invoke(ctx, "init_program", String(programID), key, token)
}

// LockProgramFunds deposits funds into a program's pool.
func (pc *ProgramCaller) LockProgramFunds(ctx context.Context, funder, programID string, amount *big.Int) (*TransactionResult, error) {
	addr, err := AddressValue(funder)
	if err != nil {
		return nil, err
	}
	amt, err := I128(amount)
	if err != nil {
		return nil, err
	}
	pc.client.LogContractInteraction(pc.contractID, "lock_program_funds", map[string]interface{}{
		"program_id": programID,
		"funder":     funder,
		"amount":     amount.String(),
	})
	return pc.invoke(ctx, "lock_program_funds", addr, String(programID), amt)
}

// SinglePayout pays one recipient from a program pool.
func (pc *ProgramCaller) SinglePayout(ctx context.Context, programID, recipient string, amount *big.Int) (*TransactionResult, error) {
	addr, err := AddressValue(recipient)
	if err != nil {
		return nil, err
	}
	amt, err := I128(amount)
	if err != nil {
		return nil, err
	}
	pc.client.LogContractInteraction(pc.contractID, "single_payout", map[string]interface{}{
		"program_id": programID,
		"recipient":  recipient,
		"amount":     amount.String(),
	})
	return pc.invoke(ctx, "single_payout", String(programID), addr, amt)
}

// BatchPayout pays several recipients from a program pool in one
// transaction. The recipient and amount slices correspond by index.
func (pc *ProgramCaller) BatchPayout(ctx context.Context, programID string, recipients []string, amounts []*big.Int) (*TransactionResult, error) {
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("ledger: recipients and amounts length mismatch: %d vs %d", len(recipients), len(amounts))
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("ledger: batch payout requires at least one recipient")
	}
	addrVals := make([]Value, len(recipients))
	amtVals := make([]Value, len(amounts))
	for i, recipient := range recipients {
		addr, err := AddressValue(recipient)
		if err != nil {
			return nil, fmt.Errorf("ledger: recipient %d: %w", i, err)
		}
		addrVals[i] = addr
		amt, err := I128(amounts[i])
		if err != nil {
			return nil, fmt.Errorf("ledger: amount %d: %w", i, err)
		}
		amtVals[i] = amt
	}
	addrVec, err := Vec(addrVals)
	if err != nil {
		return nil, err
	}
	amtVec, err := Vec(amtVals)
	if err != nil {
		return nil, err
	}
	pc.client.LogContractInteraction(pc.contractID, "batch_payout", map[string]interface{}{
		"program_id": programID,
		"count":      len(recipients),
	})
	return pc.invoke(ctx, "batch_payout", String(programID), addrVec, amtVec)
}

// RefundProgram returns the remaining pool balance to the initiator.
func (pc *ProgramCaller) RefundProgram(ctx context.Context, programID string) (*TransactionResult, error) {
	pc.client.LogContractInteraction(pc.contractID, "refund", map[string]interface{}{
		"program_id": programID,
	})
	return pc.invoke(ctx, "refund", String(programID))
}

// GetBalance reads the remaining pool balance for a program without
// submitting a transaction.
func (pc *ProgramCaller) GetBalance(ctx context.Context, programID string) (*big.Int, error) {
	op := Operation{
		Contract: pc.contractID,
		Function: "get_balance",
		Args:     []Value{String(programID)},
	}
	val, err := pc.client.SimulateCall(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("ledger: read program balance: %w", err)
	}
	return DecodeI128(val)
}
