package ledger

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"grainpay/crypto"
)

func testAccountAddress(fill byte) string {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.MustNewAddress(crypto.GrainPrefix, raw).String()
}

func TestParseContractIDHex(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := hex.EncodeToString(raw)

	id, err := ParseContractID(encoded)
	if err != nil {
		t.Fatalf("parse hex contract ID: %v", err)
	}
	if hex.EncodeToString(id[:]) != encoded {
		t.Fatalf("round-trip mismatch: %x", id)
	}
}

func TestParseContractIDBase64(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(0xFF - i)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	id, err := ParseContractID(encoded)
	if err != nil {
		t.Fatalf("parse base64 contract ID: %v", err)
	}
	if !strings.EqualFold(hex.EncodeToString(id[:]), hex.EncodeToString(raw)) {
		t.Fatalf("round-trip mismatch: %x", id)
	}
}

func TestParseContractIDRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not hex not base64", "zz!!"},
		{"64 chars non-hex", strings.Repeat("g", 64)},
		{"base64 wrong length", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"hex wrong length", strings.Repeat("ab", 16)},
	}
	for _, tc := range cases {
		if _, err := ParseContractID(tc.input); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestI128Boundaries(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	min := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	for _, v := range []*big.Int{max, min, big.NewInt(0), big.NewInt(-1)} {
		encoded, err := I128(v)
		if err != nil {
			t.Fatalf("encode %s: %v", v, err)
		}
		decoded, err := DecodeI128(encoded)
		if err != nil {
			t.Fatalf("decode %s: %v", v, err)
		}
		if decoded.Cmp(v) != 0 {
			t.Fatalf("round-trip mismatch: want %s got %s", v, decoded)
		}
	}

	overMax := new(big.Int).Add(max, big.NewInt(1))
	underMin := new(big.Int).Sub(min, big.NewInt(1))
	for _, v := range []*big.Int{overMax, underMin} {
		if _, err := I128(v); err == nil {
			t.Fatalf("expected range error for %s", v)
		}
	}
	if _, err := I128(nil); err == nil {
		t.Fatalf("expected error for nil amount")
	}
}

func TestDecodeI128RejectsMalformedPayloads(t *testing.T) {
	overMax := new(big.Int).Lsh(big.NewInt(1), 127).String()
	for _, payload := range []string{"", "abc", "1.5", overMax} {
		_, err := DecodeI128(Value{Kind: KindI128, I128: payload})
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("payload %q: expected ErrDecode, got %v", payload, err)
		}
	}
}

func TestAddressValueValidatesEncoding(t *testing.T) {
	addr := testAccountAddress(0x11)

	encoded, err := AddressValue(addr)
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round-trip mismatch: %s != %s", decoded, addr)
	}

	if _, err := AddressValue("not-an-address"); err == nil {
		t.Fatalf("expected error for malformed address")
	}
	if _, err := DecodeAddress(Value{Kind: KindAddress, Addr: "nope"}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for malformed stored address, got %v", err)
	}
}

func TestVecEnforcesHomogeneity(t *testing.T) {
	a, _ := I128(big.NewInt(1))
	b, _ := I128(big.NewInt(2))

	vec, err := Vec([]Value{a, b})
	if err != nil {
		t.Fatalf("homogeneous vec: %v", err)
	}
	elems, err := DecodeVec(vec)
	if err != nil {
		t.Fatalf("decode vec: %v", err)
	}
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}

	if _, err := Vec([]Value{a, String("mixed")}); err == nil {
		t.Fatalf("expected error for mixed kinds")
	}
	if _, err := DecodeVec(Value{Kind: KindVec, Vec: []Value{a, String("mixed")}}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for heterogeneous stored vector, got %v", err)
	}

	empty, err := Vec(nil)
	if err != nil {
		t.Fatalf("empty vec: %v", err)
	}
	if elems, err := DecodeVec(empty); err != nil || len(elems) != 0 {
		t.Fatalf("empty round-trip: len=%d err=%v", len(elems), err)
	}
}

func TestDecodersRejectKindMismatch(t *testing.T) {
	str := String("hello")

	if _, err := DecodeI64(str); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := DecodeU64(str); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := DecodeI128(str); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := DecodeString(I64(5)); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := DecodeVec(str); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if _, err := DecodeContractID(str); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestScalarRoundTrips(t *testing.T) {
	if got, err := DecodeString(String("payload")); err != nil || got != "payload" {
		t.Fatalf("string round-trip: %q err=%v", got, err)
	}
	if got, err := DecodeI64(I64(-42)); err != nil || got != -42 {
		t.Fatalf("i64 round-trip: %d err=%v", got, err)
	}
	if got, err := DecodeU64(U64(42)); err != nil || got != 42 {
		t.Fatalf("u64 round-trip: %d err=%v", got, err)
	}

	id := strings.Repeat("ab", 32)
	encoded, err := ContractIDValue(id)
	if err != nil {
		t.Fatalf("encode contract ID: %v", err)
	}
	decoded, err := DecodeContractID(encoded)
	if err != nil {
		t.Fatalf("decode contract ID: %v", err)
	}
	if hex.EncodeToString(decoded[:]) != id {
		t.Fatalf("contract ID round-trip mismatch")
	}
}
