// Copyright 2025 Certen Protocol
//
// Package codec implements the canonical, bijective binary encoding used for
// transaction/block hashing, signing, and persistence. Every variable-length
// field is length-prefixed so encode/decode round-trip exactly.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/aureum-chain/aureum-node/pkg/types"
)

var ErrTruncated = errors.New("codec: truncated input")

// writer accumulates a canonical encoding.
type writer struct{ buf []byte }

func (w *writer) bytes(b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) { w.bytes([]byte(s)) }

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

// reader consumes a canonical encoding produced by writer.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) bytes() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if r.pos+int(n) > len(r.buf) {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// EncodeU64 big-endian encodes v, used for storage keys/values where lexical
// order must match numeric order.
func EncodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeU64 decodes a big-endian uint64 written by EncodeU64.
func DecodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeTransactionSignable encodes every transaction field except Signature
// and the cached hash. This is both the Ed25519 signed message and the input
// to the transaction hash.
func EncodeTransactionSignable(t *types.Transaction) []byte {
	w := &writer{}
	w.str(t.Sender)
	w.str(t.Receiver)
	w.u64(t.Amount)
	w.u64(t.Nonce)
	w.u64(t.Fee)
	w.bytes(t.PubKey)
	w.str(string(t.Type))
	w.bytes(t.Payload)
	return w.buf
}

// EncodeTransaction encodes the full transaction, including its signature,
// for persistence and wire transfer.
func EncodeTransaction(t *types.Transaction) []byte {
	w := &writer{}
	w.bytes(EncodeTransactionSignable(t))
	w.bytes(t.Signature)
	return w.buf
}

// DecodeTransaction reverses EncodeTransaction.
func DecodeTransaction(b []byte) (*types.Transaction, error) {
	r := &reader{buf: b}
	signable, err := r.bytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode signable: %w", err)
	}
	sig, err := r.bytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode signature: %w", err)
	}

	sr := &reader{buf: signable}
	t := &types.Transaction{}
	if t.Sender, err = sr.str(); err != nil {
		return nil, err
	}
	if t.Receiver, err = sr.str(); err != nil {
		return nil, err
	}
	if t.Amount, err = sr.u64(); err != nil {
		return nil, err
	}
	if t.Nonce, err = sr.u64(); err != nil {
		return nil, err
	}
	if t.Fee, err = sr.u64(); err != nil {
		return nil, err
	}
	if t.PubKey, err = sr.bytes(); err != nil {
		return nil, err
	}
	txType, err := sr.str()
	if err != nil {
		return nil, err
	}
	t.Type = types.TxType(txType)
	if t.Payload, err = sr.bytes(); err != nil {
		return nil, err
	}
	t.Signature = sig
	return t, nil
}

// EncodeBlockHeader encodes every header field for EncodeBlock. The block
// hash itself (consensus.BlockHash) is computed from the raw fields, not from
// this encoding.
func EncodeBlockHeader(h *types.BlockHeader) []byte {
	w := &writer{}
	w.str(h.ParentHash)
	w.i64(h.Timestamp)
	w.u64(h.Height)
	w.str(h.StateRoot)
	w.str(h.TxMerkleRoot)
	return w.buf
}

// EncodeBlock canonically encodes a full block for persistence.
func EncodeBlock(b *types.Block) []byte {
	w := &writer{}
	w.bytes(EncodeBlockHeader(&b.Header))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b.Transactions)))
	w.buf = append(w.buf, lenBuf[:]...)
	for _, tx := range b.Transactions {
		w.bytes(EncodeTransaction(tx))
	}
	return w.buf
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(data []byte) (*types.Block, error) {
	r := &reader{buf: data}
	hdrBytes, err := r.bytes()
	if err != nil {
		return nil, err
	}
	hr := &reader{buf: hdrBytes}
	var hdr types.BlockHeader
	if hdr.ParentHash, err = hr.str(); err != nil {
		return nil, err
	}
	if hdr.Timestamp, err = hr.i64(); err != nil {
		return nil, err
	}
	if hdr.Height, err = hr.u64(); err != nil {
		return nil, err
	}
	if hdr.StateRoot, err = hr.str(); err != nil {
		return nil, err
	}
	if hdr.TxMerkleRoot, err = hr.str(); err != nil {
		return nil, err
	}

	if r.pos+4 > len(r.buf) {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4

	txs := make([]*types.Transaction, 0, n)
	for i := uint32(0); i < n; i++ {
		txBytes, err := r.bytes()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return &types.Block{Header: hdr, Transactions: txs}, nil
}

// EncodeValidatorSet canonically encodes a validator set for persistence.
func EncodeValidatorSet(vs *types.ValidatorSet) []byte {
	w := &writer{}
	w.u64(vs.TotalStake)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(vs.Validators)))
	w.buf = append(w.buf, lenBuf[:]...)
	for _, v := range vs.Validators {
		w.str(v.Address)
		w.bytes(v.PubKey)
		w.u64(v.Stake)
		w.str(string(v.Role))
		w.u64(v.LastActive)
	}
	return w.buf
}

// DecodeValidatorSet reverses EncodeValidatorSet.
func DecodeValidatorSet(data []byte) (*types.ValidatorSet, error) {
	r := &reader{buf: data}
	total, err := r.u64()
	if err != nil {
		return nil, err
	}
	if r.pos+4 > len(r.buf) {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4

	vs := &types.ValidatorSet{TotalStake: total, Validators: make([]*types.Validator, 0, n)}
	for i := uint32(0); i < n; i++ {
		v := &types.Validator{}
		if v.Address, err = r.str(); err != nil {
			return nil, err
		}
		if v.PubKey, err = r.bytes(); err != nil {
			return nil, err
		}
		if v.Stake, err = r.u64(); err != nil {
			return nil, err
		}
		role, err := r.str()
		if err != nil {
			return nil, err
		}
		v.Role = types.ValidatorRole(role)
		if v.LastActive, err = r.u64(); err != nil {
			return nil, err
		}
		vs.Validators = append(vs.Validators, v)
	}
	return vs, nil
}

// EncodeChainState canonically encodes the two global supply counters.
func EncodeChainState(cs *types.ChainState) []byte {
	w := &writer{}
	w.u64(cs.TotalSupply)
	w.u64(cs.BurnedFees)
	return w.buf
}

// DecodeChainState reverses EncodeChainState.
func DecodeChainState(data []byte) (*types.ChainState, error) {
	r := &reader{buf: data}
	cs := &types.ChainState{}
	var err error
	if cs.TotalSupply, err = r.u64(); err != nil {
		return nil, err
	}
	if cs.BurnedFees, err = r.u64(); err != nil {
		return nil, err
	}
	return cs, nil
}

// EncodeOracleReportSignable encodes the fields an oracle report's
// signature is computed over: asset_id || price_be || timestamp_be || pub_key.
func EncodeOracleReportSignable(r *types.OracleReport) []byte {
	w := &writer{}
	w.str(r.AssetID)
	w.u64(r.PriceEUR)
	w.i64(r.Timestamp)
	w.bytes(r.PubKey)
	return w.buf
}

// EncodeBftMessageSignable encodes the fields a BFT vote's signature is
// computed over: height || round || step || block_hash-or-empty ||
// validator. NIL votes sign an empty block-hash field, matching IsNil's
// "absent BlockHash" convention.
func EncodeBftMessageSignable(m *types.BftMessage) []byte {
	w := &writer{}
	w.u64(m.Height)
	w.u64(m.Round)
	w.str(string(m.Step))
	if m.BlockHash != nil {
		w.str(*m.BlockHash)
	} else {
		w.str("")
	}
	w.str(m.Validator)
	return w.buf
}

// EncodeBftMessage canonically encodes a full vote, including its
// signature, for gossip over the aureum_consensus topic.
func EncodeBftMessage(m *types.BftMessage) []byte {
	w := &writer{}
	w.bytes(EncodeBftMessageSignable(m))
	w.bytes(m.Signature)
	return w.buf
}

// DecodeBftMessage reverses EncodeBftMessage.
func DecodeBftMessage(b []byte) (*types.BftMessage, error) {
	r := &reader{buf: b}
	signable, err := r.bytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode vote signable: %w", err)
	}
	sig, err := r.bytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode vote signature: %w", err)
	}

	sr := &reader{buf: signable}
	m := &types.BftMessage{}
	if m.Height, err = sr.u64(); err != nil {
		return nil, err
	}
	if m.Round, err = sr.u64(); err != nil {
		return nil, err
	}
	step, err := sr.str()
	if err != nil {
		return nil, err
	}
	m.Step = types.Step(step)
	hash, err := sr.str()
	if err != nil {
		return nil, err
	}
	if hash != "" {
		m.BlockHash = &hash
	}
	if m.Validator, err = sr.str(); err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

// SortedKeys returns the keys of a string-keyed map in ascending order, used
// whenever a map must be traversed deterministically (e.g. co-owner shares).
func SortedKeys(m map[string]uint32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
