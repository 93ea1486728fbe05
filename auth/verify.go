// Package auth verifies wallet ownership proofs across the signature
// schemes the payout service accepts. Verification failures are reported
// through a single sentinel so callers cannot leak which check failed.
package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WalletType identifies the signature scheme a wallet uses.
type WalletType string

const (
	WalletTypeEVM       WalletType = "evm"
	WalletTypeEd25519   WalletType = "ed25519"
	WalletTypeSecp256k1 WalletType = "secp256k1"
)

var (
	// ErrUnsupportedWalletType is returned for unknown scheme names.
	ErrUnsupportedWalletType = errors.New("auth: unsupported wallet type")
	// ErrInvalidSignature is returned for every verification failure,
	// whether the signature is malformed, the key does not parse, or the
	// signature simply does not cover the message.
	ErrInvalidSignature = errors.New("auth: invalid signature")
	// ErrInvalidAddress is returned when an address cannot be normalised.
	ErrInvalidAddress = errors.New("auth: invalid address")
)

// NormalizeWalletType canonicalises a scheme name supplied by a caller.
func NormalizeWalletType(v string) (WalletType, error) {
	t := WalletType(strings.ToLower(strings.TrimSpace(v)))
	switch t {
	case WalletTypeEVM, WalletTypeEd25519, WalletTypeSecp256k1:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedWalletType, v)
	}
}

// NormalizeAddress canonicalises a wallet address for the given scheme.
// EVM addresses become 0x-prefixed lowercase hex; other schemes carry
// opaque lowercase identifiers.
func NormalizeAddress(t WalletType, addr string) (string, error) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	switch t {
	case WalletTypeEVM:
		a = strings.ToLower(a)
		if !strings.HasPrefix(a, "0x") {
			a = "0x" + a
		}
		if len(a) != 42 {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		return a, nil
	case WalletTypeEd25519, WalletTypeSecp256k1:
		return strings.ToLower(a), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedWalletType, t)
	}
}

// VerifySignature checks that the signature covers the message under the
// named scheme. For EVM the address is the claimed signer and the public
// key is ignored; for ed25519 and secp256k1 the public key (hex, 0x
// prefix optional) is required and the address is not consulted.
func VerifySignature(t WalletType, address, message, signatureHex, publicKeyHex string) error {
	switch t {
	case WalletTypeEVM:
		return verifyEVM(address, message, signatureHex)
	case WalletTypeEd25519:
		return verifyEd25519(message, signatureHex, publicKeyHex)
	case WalletTypeSecp256k1:
		return verifySecp256k1(message, signatureHex, publicKeyHex)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedWalletType, t)
	}
}

func verifyEVM(expectedAddr, message, signatureHex string) error {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != 65 {
		return ErrInvalidSignature
	}
	// Personal-sign tooling emits V as 27/28; recovery wants 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	hash := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return ErrInvalidSignature
	}
	recovered := strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex())
	if strings.ToLower(expectedAddr) != recovered {
		return ErrInvalidSignature
	}
	return nil
}

func verifyEd25519(message, signatureHex, publicKeyHex string) error {
	pubKey, err := decodeHex(publicKeyHex)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}
	sig, err := decodeHex(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func verifySecp256k1(message, signatureHex, publicKeyHex string) error {
	pubKeyBytes, err := decodeHex(publicKeyHex)
	if err != nil {
		return ErrInvalidSignature
	}
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	sigBytes, err := decodeHex(signatureHex)
	if err != nil {
		return ErrInvalidSignature
	}
	sig, err := parseSecp256k1Signature(sigBytes)
	if err != nil {
		return ErrInvalidSignature
	}
	// Signatures are over SHA-256 of the message, not the raw bytes.
	digest := sha256.Sum256([]byte(message))
	if !sig.Verify(digest[:], pubKey) {
		return ErrInvalidSignature
	}
	return nil
}

// parseSecp256k1Signature accepts compact 64-byte R||S or DER encoding.
func parseSecp256k1Signature(b []byte) (*secpecdsa.Signature, error) {
	if len(b) == 64 {
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(b[:32]); overflow {
			return nil, errors.New("auth: signature r overflows group order")
		}
		if overflow := s.SetByteSlice(b[32:]); overflow {
			return nil, errors.New("auth: signature s overflows group order")
		}
		return secpecdsa.NewSignature(&r, &s), nil
	}
	return secpecdsa.ParseDERSignature(b)
}

func decodeHex(s string) ([]byte, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil, errors.New("auth: empty hex input")
	}
	v = strings.TrimPrefix(v, "0x")
	return hex.DecodeString(v)
}
