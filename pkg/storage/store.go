// Copyright 2025 Certen Protocol
//
// Package storage provides the durable key-value view of chain state:
// blocks, balances, nonces, contract code/slots, the validator set, chain
// state, properties, visa applications, escrows, and oracle prices.
//
// CONCURRENCY: Store assumes a single logical writer per height, invoked
// from the consensus commit path; readers may observe earlier heights
// concurrently. Callers needing multi-writer access must add their own
// synchronization.
package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

// Sentinel errors for storage operations.
var (
	ErrNotFound        = errors.New("storage: key not found")
	ErrValidatorSetNil = errors.New("storage: no validator set persisted")
	ErrChainStateNil   = errors.New("storage: no chain state persisted")
)

// KV is the narrow key-value interface Store is built against. It is
// satisfied structurally by pkg/kvdb.KVAdapter, which wraps CometBFT's
// dbm.DB.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Flusher is implemented by KV backends that buffer writes and need an
// explicit durability barrier after a height's Commit.
type Flusher interface {
	Flush() error
}

// Key prefixes, namespaced per §4.1 of the node's data-model contract.
var (
	prefixBlock      = []byte("block:")
	prefixHash       = []byte("hash:")
	prefixBalance    = []byte("balance:")
	prefixNonce      = []byte("nonce:")
	prefixCode       = []byte("code:")
	prefixStorage    = []byte("storage:")
	keyValidators    = []byte("validators:current")
	keyChainState    = []byte("state:global")
	prefixProperty   = []byte("property:")
	prefixVisa       = []byte("visa:")
	prefixEscrow     = []byte("escrow:")
	prefixPrice      = []byte("price:")
	prefixComplyProf = []byte("compliance:")
	prefixOracleRep  = []byte("oraclereporter:")
	prefixMultiSig   = []byte("multisig:")
)

func blockKey(height uint64) []byte  { return append(append([]byte{}, prefixBlock...), codec.EncodeU64(height)...) }
func hashKey(hashHex string) []byte  { return append(append([]byte{}, prefixHash...), []byte(hashHex)...) }
func balanceKey(addr string) []byte  { return append(append([]byte{}, prefixBalance...), []byte(addr)...) }
func nonceKey(addr string) []byte    { return append(append([]byte{}, prefixNonce...), []byte(addr)...) }
func codeKey(addr20 [20]byte) []byte { return append(append([]byte{}, prefixCode...), addr20[:]...) }
func storageKey(addr20 [20]byte, slot [32]byte) []byte {
	k := append(append([]byte{}, prefixStorage...), addr20[:]...)
	return append(append(k, ':'), slot[:]...)
}
func propertyKey(id string) []byte     { return append(append([]byte{}, prefixProperty...), []byte(id)...) }
func visaKey(applicant string) []byte  { return append(append([]byte{}, prefixVisa...), []byte(applicant)...) }
func escrowKey(id string) []byte       { return append(append([]byte{}, prefixEscrow...), []byte(id)...) }
func priceKey(assetID string) []byte   { return append(append([]byte{}, prefixPrice...), []byte(assetID)...) }
func complyKey(addr string) []byte     { return append(append([]byte{}, prefixComplyProf...), []byte(addr)...) }
func oracleRepKey(addr string) []byte  { return append(append([]byte{}, prefixOracleRep...), []byte(addr)...) }
func multiSigKey(addr string) []byte   { return append(append([]byte{}, prefixMultiSig...), []byte(addr)...) }

// Store provides high-level access to all on-chain records held in kv.
type Store struct {
	kv KV
}

// NewStore wraps a KV backend as a Store.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Flush forces durability of everything written so far, if the underlying
// KV supports it. Called explicitly at the end of every Commit step.
func (s *Store) Flush() error {
	if f, ok := s.kv.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// ====== Blocks ======

// SaveBlock persists a block both by height and by hex block hash.
func (s *Store) SaveBlock(height uint64, blockHash string, b *types.Block) error {
	enc := codec.EncodeBlock(b)
	if err := s.kv.Set(blockKey(height), enc); err != nil {
		return fmt.Errorf("storage: save block %d: %w", height, err)
	}
	if err := s.kv.Set(hashKey(blockHash), enc); err != nil {
		return fmt.Errorf("storage: index block hash %s: %w", blockHash, err)
	}
	return nil
}

// GetBlock retrieves a block by height.
func (s *Store) GetBlock(height uint64) (*types.Block, error) {
	b, err := s.kv.Get(blockKey(height))
	if err != nil {
		return nil, fmt.Errorf("storage: get block %d: %w", height, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	return codec.DecodeBlock(b)
}

// GetBlockByHash retrieves a block by its hex hash.
func (s *Store) GetBlockByHash(blockHash string) (*types.Block, error) {
	b, err := s.kv.Get(hashKey(blockHash))
	if err != nil {
		return nil, fmt.Errorf("storage: get block by hash %s: %w", blockHash, err)
	}
	if len(b) == 0 {
		return nil, ErrNotFound
	}
	return codec.DecodeBlock(b)
}

// ====== Balances & nonces ======

// GetBalance returns the balance of addr, defaulting to 0 if never set.
func (s *Store) GetBalance(addr string) (uint64, error) {
	b, err := s.kv.Get(balanceKey(addr))
	if err != nil {
		return 0, fmt.Errorf("storage: get balance %s: %w", addr, err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return codec.DecodeU64(b)
}

// SetBalance sets addr's balance.
func (s *Store) SetBalance(addr string, balance uint64) error {
	if err := s.kv.Set(balanceKey(addr), codec.EncodeU64(balance)); err != nil {
		return fmt.Errorf("storage: set balance %s: %w", addr, err)
	}
	return nil
}

// GetNonce returns addr's next expected nonce, defaulting to 0.
func (s *Store) GetNonce(addr string) (uint64, error) {
	b, err := s.kv.Get(nonceKey(addr))
	if err != nil {
		return 0, fmt.Errorf("storage: get nonce %s: %w", addr, err)
	}
	if len(b) == 0 {
		return 0, nil
	}
	return codec.DecodeU64(b)
}

// SetNonce sets addr's nonce directly (used by IncrementNonce and tests).
func (s *Store) SetNonce(addr string, nonce uint64) error {
	if err := s.kv.Set(nonceKey(addr), codec.EncodeU64(nonce)); err != nil {
		return fmt.Errorf("storage: set nonce %s: %w", addr, err)
	}
	return nil
}

// IncrementNonce bumps addr's nonce by exactly one.
func (s *Store) IncrementNonce(addr string) error {
	n, err := s.GetNonce(addr)
	if err != nil {
		return err
	}
	return s.SetNonce(addr, n+1)
}

// ====== Contract code & storage slots (VM account view) ======

// GetCode returns the contract bytecode at addr20, or nil if none.
func (s *Store) GetCode(addr20 [20]byte) ([]byte, error) {
	b, err := s.kv.Get(codeKey(addr20))
	if err != nil {
		return nil, fmt.Errorf("storage: get code: %w", err)
	}
	return b, nil
}

// SetCode sets the contract bytecode at addr20.
func (s *Store) SetCode(addr20 [20]byte, code []byte) error {
	if err := s.kv.Set(codeKey(addr20), code); err != nil {
		return fmt.Errorf("storage: set code: %w", err)
	}
	return nil
}

// GetStorageSlot returns the 32-byte value of a contract storage slot.
func (s *Store) GetStorageSlot(addr20 [20]byte, slot [32]byte) ([32]byte, error) {
	var out [32]byte
	b, err := s.kv.Get(storageKey(addr20, slot))
	if err != nil {
		return out, fmt.Errorf("storage: get slot: %w", err)
	}
	copy(out[:], b)
	return out, nil
}

// SetStorageSlot writes a 32-byte value to a contract storage slot.
func (s *Store) SetStorageSlot(addr20 [20]byte, slot, value [32]byte) error {
	if err := s.kv.Set(storageKey(addr20, slot), value[:]); err != nil {
		return fmt.Errorf("storage: set slot: %w", err)
	}
	return nil
}

// ====== Validator set & chain state ======

// GetValidatorSet returns the current active validator set.
func (s *Store) GetValidatorSet() (*types.ValidatorSet, error) {
	b, err := s.kv.Get(keyValidators)
	if err != nil {
		return nil, fmt.Errorf("storage: get validator set: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrValidatorSetNil
	}
	return codec.DecodeValidatorSet(b)
}

// SaveValidatorSet persists the active validator set.
func (s *Store) SaveValidatorSet(vs *types.ValidatorSet) error {
	if err := s.kv.Set(keyValidators, codec.EncodeValidatorSet(vs)); err != nil {
		return fmt.Errorf("storage: save validator set: %w", err)
	}
	return nil
}

// GetChainState returns the global supply counters.
func (s *Store) GetChainState() (*types.ChainState, error) {
	b, err := s.kv.Get(keyChainState)
	if err != nil {
		return nil, fmt.Errorf("storage: get chain state: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrChainStateNil
	}
	return codec.DecodeChainState(b)
}

// SaveChainState persists the global supply counters.
func (s *Store) SaveChainState(cs *types.ChainState) error {
	if err := s.kv.Set(keyChainState, codec.EncodeChainState(cs)); err != nil {
		return fmt.Errorf("storage: save chain state: %w", err)
	}
	return nil
}

// ====== Properties, visas, escrows, oracle prices, compliance, multisig ======

func (s *Store) SaveProperty(p *types.Property) error {
	return s.setJSON(propertyKey(p.ID), p, "property")
}

func (s *Store) GetProperty(id string) (*types.Property, error) {
	var p types.Property
	if err := s.getJSON(propertyKey(id), &p, "property"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveVisaApplication(v *types.VisaApplication) error {
	return s.setJSON(visaKey(v.Applicant), v, "visa application")
}

func (s *Store) GetVisaApplication(applicant string) (*types.VisaApplication, error) {
	var v types.VisaApplication
	if err := s.getJSON(visaKey(applicant), &v, "visa application"); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) SaveEscrow(e *types.Escrow) error {
	return s.setJSON(escrowKey(e.ID), e, "escrow")
}

func (s *Store) GetEscrow(id string) (*types.Escrow, error) {
	var e types.Escrow
	if err := s.getJSON(escrowKey(id), &e, "escrow"); err != nil {
		return nil, err
	}
	return &e, nil
}

// SavePrice persists the finalized oracle price for an asset.
func (s *Store) SavePrice(assetID string, priceEUR uint64) error {
	if err := s.kv.Set(priceKey(assetID), codec.EncodeU64(priceEUR)); err != nil {
		return fmt.Errorf("storage: save price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns the finalized oracle price for an asset, or ErrNotFound.
func (s *Store) GetPrice(assetID string) (uint64, error) {
	b, err := s.kv.Get(priceKey(assetID))
	if err != nil {
		return 0, fmt.Errorf("storage: get price %s: %w", assetID, err)
	}
	if len(b) == 0 {
		return 0, ErrNotFound
	}
	return codec.DecodeU64(b)
}

func (s *Store) SaveComplianceProfile(p *types.ComplianceProfile) error {
	return s.setJSON(complyKey(p.Address), p, "compliance profile")
}

func (s *Store) GetComplianceProfile(addr string) (*types.ComplianceProfile, error) {
	var p types.ComplianceProfile
	if err := s.getJSON(complyKey(addr), &p, "compliance profile"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveMultiSig(m *types.MultiSigAccount) error {
	return s.setJSON(multiSigKey(m.Address), m, "multisig account")
}

func (s *Store) GetMultiSig(addr string) (*types.MultiSigAccount, error) {
	var m types.MultiSigAccount
	if err := s.getJSON(multiSigKey(addr), &m, "multisig account"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) setJSON(key []byte, v interface{}, label string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", label, err)
	}
	if err := s.kv.Set(key, b); err != nil {
		return fmt.Errorf("storage: set %s: %w", label, err)
	}
	return nil
}

func (s *Store) getJSON(key []byte, out interface{}, label string) error {
	b, err := s.kv.Get(key)
	if err != nil {
		return fmt.Errorf("storage: get %s: %w", label, err)
	}
	if len(b) == 0 {
		return ErrNotFound
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("storage: unmarshal %s: %w", label, err)
	}
	return nil
}

// AccountDelta identifies one address whose balance or nonce changed during
// a height, used as input to CalculateStateRoot.
type AccountDelta struct {
	Address string
	Balance uint64
	Nonce   uint64
}

// CalculateStateRoot derives a deterministic root for a height from the
// validator set, chain state, and the accounts touched during that height's
// execution. The scheme is policy-free beyond determinism: a canonical,
// address-sorted traversal of touched accounts is hashed alongside the
// validator set and chain state.
func CalculateStateRoot(vs *types.ValidatorSet, cs *types.ChainState, touched []AccountDelta) string {
	sorted := make([]AccountDelta, len(touched))
	copy(sorted, touched)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	parts := [][]byte{codec.EncodeValidatorSet(vs), codec.EncodeChainState(cs)}
	for _, d := range sorted {
		parts = append(parts, []byte(d.Address), codec.EncodeU64(d.Balance), codec.EncodeU64(d.Nonce))
	}
	digest := crypto.Keccak256(parts...)
	return hex.EncodeToString(digest)
}
