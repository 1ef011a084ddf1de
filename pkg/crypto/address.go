// Copyright 2025 Certen Protocol
//
// Package crypto derives Aureum addresses and verifies transaction and
// oracle-report signatures over the canonical encodings produced by
// pkg/codec.
package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the only accepted address prefix. The Rust prototype's
// "aur1" form is never accepted or emitted.
const AddressPrefix = "A"

// PubKeySize is the length in bytes of an Ed25519 verifying key.
const PubKeySize = ed25519.PublicKeySize

// SignatureSize is the length in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

var (
	ErrInvalidPubKeySize = errors.New("crypto: public key must be 32 bytes")
	ErrInvalidAddress    = errors.New("crypto: malformed address")
)

// Keccak256 hashes data with Keccak-256, delegating to go-ethereum's
// implementation so the node's hashing matches the EVM-family primitives
// the VM layer (§9) is built against.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}

// GenerateAddress derives the canonical "A"+hex(first 20 bytes of
// Keccak256(pubkey)) address for an Ed25519 public key.
func GenerateAddress(pubKey []byte) (string, error) {
	if len(pubKey) != PubKeySize {
		return "", ErrInvalidPubKeySize
	}
	digest := Keccak256(pubKey)
	return AddressPrefix + hex.EncodeToString(digest[:20]), nil
}

// ParseAddress validates that addr is a well-formed canonical address and
// returns its 20-byte payload. It rejects the prototype's "aur1..." form.
func ParseAddress(addr string) ([20]byte, error) {
	var out [20]byte
	if !strings.HasPrefix(addr, AddressPrefix) {
		return out, ErrInvalidAddress
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(addr, AddressPrefix))
	if err != nil || len(raw) != 20 {
		return out, ErrInvalidAddress
	}
	copy(out[:], raw)
	return out, nil
}

// VerifySignature checks that sig is a valid Ed25519 signature by pubKey
// over msg. It never panics; malformed inputs simply fail verification.
func VerifySignature(pubKey, msg, sig []byte) bool {
	if len(pubKey) != PubKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, msg, sig)
}

// Sign produces an Ed25519 signature; used by tests and by the node to sign
// its own consensus votes, never by the validation path.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}
