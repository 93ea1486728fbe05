package ledger

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"grainpay/crypto"
)

// ErrDecode marks a malformed or unsupported value shape. Decoding errors
// are always fatal and local; values are never silently coerced.
var ErrDecode = errors.New("ledger: value decode error")

// Kind tags the typed value representation used for contract arguments.
type Kind string

const (
	KindString     Kind = "str"
	KindI64        Kind = "i64"
	KindU64        Kind = "u64"
	KindI128       Kind = "i128"
	KindAddress    Kind = "addr"
	KindContractID Kind = "contract"
	KindVec        Kind = "vec"
)

// Value is the ledger's typed value representation: a tagged union over the
// native shapes supported by contract entry points.
type Value struct {
	Kind     Kind    `json:"kind"`
	Str      string  `json:"str,omitempty"`
	I64      int64   `json:"i64,omitempty"`
	U64      uint64  `json:"u64,omitempty"`
	I128     string  `json:"i128,omitempty"`
	Addr     string  `json:"addr,omitempty"`
	Contract string  `json:"contract,omitempty"`
	Vec      []Value `json:"vec,omitempty"`
}

var (
	i128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	i128Min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// String encodes a UTF-8 string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// I64 encodes a signed 64-bit integer value.
func I64(v int64) Value { return Value{Kind: KindI64, I64: v} }

// U64 encodes an unsigned 64-bit integer value.
func U64(v uint64) Value { return Value{Kind: KindU64, U64: v} }

// I128 encodes a signed 128-bit integer value. Amounts outside the i128
// range are rejected rather than wrapped.
func I128(v *big.Int) (Value, error) {
	if v == nil {
		return Value{}, fmt.Errorf("ledger: nil i128 amount")
	}
	if v.Cmp(i128Min) < 0 || v.Cmp(i128Max) > 0 {
		return Value{}, fmt.Errorf("ledger: amount %s outside i128 range", v)
	}
	return Value{Kind: KindI128, I128: v.String()}, nil
}

// AddressValue encodes an account address from its canonical string form.
func AddressValue(addr string) (Value, error) {
	if _, err := crypto.DecodeAddress(addr); err != nil {
		return Value{}, fmt.Errorf("ledger: invalid address %q: %w", addr, err)
	}
	return Value{Kind: KindAddress, Addr: addr}, nil
}

// ContractIDValue encodes a contract identifier, accepting a 64-hex-char
// string or base64 of exactly 32 raw bytes.
func ContractIDValue(contractID string) (Value, error) {
	id, err := ParseContractID(contractID)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindContractID, Contract: hex.EncodeToString(id[:])}, nil
}

// Vec encodes a homogeneous vector of already-encoded values.
func Vec(values []Value) (Value, error) {
	for i, v := range values {
		if i > 0 && v.Kind != values[0].Kind {
			return Value{}, fmt.Errorf("ledger: vector elements must share one kind, got %s and %s", values[0].Kind, v.Kind)
		}
	}
	return Value{Kind: KindVec, Vec: values}, nil
}

// ParseContractID normalises a contract identifier into its 32 raw bytes.
// Exactly two input shapes are accepted: 64 hexadecimal characters, or
// standard base64 decoding to exactly 32 bytes.
func ParseContractID(contractID string) ([32]byte, error) {
	var id [32]byte
	if len(contractID) == 64 {
		raw, err := hex.DecodeString(contractID)
		if err != nil {
			return id, fmt.Errorf("ledger: invalid contract ID hex: %w", err)
		}
		copy(id[:], raw)
		return id, nil
	}
	raw, err := base64.StdEncoding.DecodeString(contractID)
	if err != nil {
		return id, fmt.Errorf("ledger: invalid contract ID format (expected hex or base64): %w", err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("ledger: contract ID must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// --- Decoding (structural inverse, used by read-only queries) ---

// DecodeString extracts a string value.
func DecodeString(v Value) (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindString, v.Kind)
	}
	return v.Str, nil
}

// DecodeI64 extracts a signed 64-bit integer value.
func DecodeI64(v Value) (int64, error) {
	if v.Kind != KindI64 {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindI64, v.Kind)
	}
	return v.I64, nil
}

// DecodeU64 extracts an unsigned 64-bit integer value.
func DecodeU64(v Value) (uint64, error) {
	if v.Kind != KindU64 {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindU64, v.Kind)
	}
	return v.U64, nil
}

// DecodeI128 extracts a signed 128-bit integer value.
func DecodeI128(v Value) (*big.Int, error) {
	if v.Kind != KindI128 {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindI128, v.Kind)
	}
	amount, ok := new(big.Int).SetString(v.I128, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed i128 %q", ErrDecode, v.I128)
	}
	if amount.Cmp(i128Min) < 0 || amount.Cmp(i128Max) > 0 {
		return nil, fmt.Errorf("%w: %s outside i128 range", ErrDecode, v.I128)
	}
	return amount, nil
}

// DecodeAddress extracts an account address in canonical string form.
func DecodeAddress(v Value) (string, error) {
	if v.Kind != KindAddress {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindAddress, v.Kind)
	}
	if _, err := crypto.DecodeAddress(v.Addr); err != nil {
		return "", fmt.Errorf("%w: invalid address %q", ErrDecode, v.Addr)
	}
	return v.Addr, nil
}

// DecodeContractID extracts a contract identifier's raw bytes.
func DecodeContractID(v Value) ([32]byte, error) {
	var id [32]byte
	if v.Kind != KindContractID {
		return id, fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindContractID, v.Kind)
	}
	raw, err := hex.DecodeString(v.Contract)
	if err != nil || len(raw) != 32 {
		return id, fmt.Errorf("%w: malformed contract ID %q", ErrDecode, v.Contract)
	}
	copy(id[:], raw)
	return id, nil
}

// DecodeVec extracts a homogeneous vector of values.
func DecodeVec(v Value) ([]Value, error) {
	if v.Kind != KindVec {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrDecode, KindVec, v.Kind)
	}
	for i, elem := range v.Vec {
		if i > 0 && elem.Kind != v.Vec[0].Kind {
			return nil, fmt.Errorf("%w: heterogeneous vector", ErrDecode)
		}
	}
	return v.Vec, nil
}
