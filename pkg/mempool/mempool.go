// Copyright 2025 Certen Protocol
//
// Package mempool holds ingress transactions that passed signature and
// compliance gating but have not yet been applied by a committed block.
// It is the staging area the proposer drains when assembling a block and
// the destination for both RPC submissions and aureum_tx gossip.
//
// CONCURRENCY: Pool is protected by an internal mutex; it may be shared
// across the RPC handler, the P2P subscriber, and the orchestrator's
// proposal-assembly goroutine.
package mempool

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aureum-chain/aureum-node/pkg/compliance"
	"github.com/aureum-chain/aureum-node/pkg/execution"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

var (
	ErrDuplicateTx       = errors.New("mempool: transaction already present")
	ErrSignatureInvalid  = errors.New("mempool: invalid signature")
	ErrComplianceRejected = errors.New("mempool: compliance check rejected")
	ErrPoolFull          = errors.New("mempool: pool is full")
)

// DefaultMaxSize bounds the number of pending transactions the pool holds
// before it starts rejecting new ingress, a basic backpressure valve the
// source's single-process devnets never needed but any multi-validator
// deployment does.
const DefaultMaxSize = 50_000

// ProfileStore is the narrow storage contract the compliance gate needs at
// ingress time.
type ProfileStore = compliance.ProfileStore

// Pool is a FIFO-ish set of pending transactions keyed by hash, gated by
// signature verification and the compliance engine on insertion.
type Pool struct {
	mu         sync.Mutex
	compliance *compliance.Engine
	profiles   ProfileStore
	maxSize    int
	logger     *log.Logger

	order []string
	byID  map[string]*types.Transaction
}

// New constructs a Pool that gates ingress through complianceEngine against
// profiles.
func New(complianceEngine *compliance.Engine, profiles ProfileStore, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		compliance: complianceEngine,
		profiles:   profiles,
		maxSize:    DefaultMaxSize,
		logger:     logger,
		byID:       make(map[string]*types.Transaction),
	}
}

// Submit validates tx's signature and jurisdiction compliance and, if both
// pass and the hash is not already pending, inserts it. Returns the hex
// transaction hash on success.
func (p *Pool) Submit(tx *types.Transaction, now int64) (string, error) {
	if !execution.VerifyTransactionSignature(tx) {
		return "", ErrSignatureInvalid
	}

	jurisdiction := compliance.JurisdictionForTx(tx, visaProgram(tx))
	ok, err := p.compliance.VerifyTransaction(p.profiles, tx.Sender, tx.Receiver, tx.Amount, jurisdiction, now)
	if err != nil {
		return "", fmt.Errorf("mempool: compliance check: %w", err)
	}
	if !ok {
		p.logger.Printf("rejecting tx from %s at ingress: %v", tx.Sender, ErrComplianceRejected)
		return "", ErrComplianceRejected
	}

	hash := execution.TxHashHex(tx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[hash]; exists {
		return hash, ErrDuplicateTx
	}
	if len(p.order) >= p.maxSize {
		return "", ErrPoolFull
	}
	p.byID[hash] = tx
	p.order = append(p.order, hash)
	return hash, nil
}

// visaProgram extracts the visa program (if any) a pending transaction's
// jurisdiction should be evaluated under, ahead of full payload decoding in
// the execution pipeline.
func visaProgram(tx *types.Transaction) types.VisaProgram {
	if tx.Type != types.TxApplyForVisa {
		return types.VisaProgramPortugal
	}
	// The mempool only needs the jurisdiction, not the property id, so it
	// reuses the same length-prefixed field layout the execution pipeline
	// decodes fully; a malformed payload falls back to the Portugal program
	// and lets the execution pipeline reject it properly at Commit.
	fields := splitFields(tx.Payload)
	if len(fields) >= 2 {
		return types.VisaProgram(fields[1])
	}
	return types.VisaProgramPortugal
}

func splitFields(b []byte) [][]byte {
	var out [][]byte
	pos := 0
	for pos+4 <= len(b) {
		n := int(be32(b[pos : pos+4]))
		pos += 4
		if pos+n > len(b) {
			break
		}
		out = append(out, b[pos:pos+n])
		pos += n
	}
	return out
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Has reports whether hash is already pending.
func (p *Pool) Has(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[hash]
	return ok
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Drain removes and returns up to max pending transactions in FIFO order,
// for the proposer to assemble into a block. If max <= 0, all pending
// transactions are drained.
func (p *Pool) Drain(max int) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.order)
	if max > 0 && max < n {
		n = max
	}
	out := make([]*types.Transaction, 0, n)
	for _, h := range p.order[:n] {
		out = append(out, p.byID[h])
		delete(p.byID, h)
	}
	p.order = p.order[n:]
	return out
}

// Requeue reinserts transactions at the front of the pool, used when the
// proposer has drained transactions but fails to assemble them into a
// proposal, so the next attempt can still see them.
func (p *Pool) Requeue(txs []*types.Transaction) {
	if len(txs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, tx := range txs {
		hash := execution.TxHashHex(tx)
		if _, exists := p.byID[hash]; exists {
			continue
		}
		p.byID[hash] = tx
		ids = append(ids, hash)
	}
	p.order = append(ids, p.order...)
}
