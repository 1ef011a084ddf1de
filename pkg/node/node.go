// Copyright 2025 Certen Protocol
//
// Package node binds the consensus tick loop to the P2P event stream,
// mempool ingestion, block proposal assembly, and the execution pipeline —
// Component G of the node's design, the orchestrator every other package
// is built to be driven by.
//
// CONCURRENCY: Node owns the single "consensus lock" described in §5: every
// access to the consensus Engine, the in-memory ValidatorSet, and the
// ChainState is serialized behind mu. The mempool and oracle carry their
// own internal locks and are safe to touch without mu held.
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/compliance"
	"github.com/aureum-chain/aureum-node/pkg/config"
	"github.com/aureum-chain/aureum-node/pkg/consensus"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/execution"
	"github.com/aureum-chain/aureum-node/pkg/mempool"
	"github.com/aureum-chain/aureum-node/pkg/merkle"
	"github.com/aureum-chain/aureum-node/pkg/oracle"
	"github.com/aureum-chain/aureum-node/pkg/p2p"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
	"github.com/aureum-chain/aureum-node/pkg/vm"
)

// ZeroHash is the 32-byte all-zero hash hex-encoded, used as genesis's
// parent_hash per §3.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// MaxTxsPerBlock bounds how many pending transactions a proposer drains
// into a single block.
const MaxTxsPerBlock = 5000

// Node orchestrates one validator process: it drives the consensus engine's
// tick loop, assembles and broadcasts proposals when it is the proposer,
// casts and gossips its own votes, and runs the execution pipeline at
// Commit.
type Node struct {
	cfg        *config.Config
	store      *storage.Store
	engine     *consensus.Engine
	pipeline   *execution.Pipeline
	pool       *mempool.Pool
	oracle     *oracle.Oracle
	compliance *compliance.Engine
	vmExec     vm.VM
	bus        p2p.Bus
	exec       *executorAdapter

	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	addr   string
	logger *log.Logger

	metrics *Metrics
	health  *HealthStatus

	mu       sync.Mutex
	vs       *types.ValidatorSet
	cs       *types.ChainState
	votedFor voteRecord
}

type voteRecord struct {
	height uint64
	round  uint64
	step   types.Step
}

// New constructs a Node from already-bootstrapped storage (see Bootstrap)
// and a validator identity key. complianceEngine, oracleEngine, and vmExec
// are constructed by the caller so devnets and tests can substitute
// doubles; a production node passes compliance.NewEngine, oracle.NewOracle
// and vm.NewDeterministicVM, as cmd/aureum-node does.
func New(cfg *config.Config, store *storage.Store, bus p2p.Bus, complianceEngine *compliance.Engine, oracleEngine *oracle.Oracle, vmExec vm.VM, priv ed25519.PrivateKey, logger *log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[Node] ", log.LstdFlags)
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("node: validator key is not ed25519")
	}
	addr, err := crypto.GenerateAddress(pub)
	if err != nil {
		return nil, fmt.Errorf("node: derive validator address: %w", err)
	}

	vs, err := store.GetValidatorSet()
	if err != nil {
		return nil, fmt.Errorf("node: load validator set (did you run Bootstrap?): %w", err)
	}
	cs, err := store.GetChainState()
	if err != nil {
		return nil, fmt.Errorf("node: load chain state (did you run Bootstrap?): %w", err)
	}

	pipeline := execution.New(store, complianceEngine, vmExec, oracleEngine, log.New(log.Writer(), "[Execution] ", log.LstdFlags))
	pool := mempool.New(complianceEngine, store, log.New(log.Writer(), "[Mempool] ", log.LstdFlags))
	consensusLogger := log.New(log.Writer(), "[Consensus] ", log.LstdFlags)
	engine := consensus.NewEngine(store, consensusLogger, cfg.AuthorityVetoActive)

	n := &Node{
		cfg: cfg, store: store, engine: engine, pipeline: pipeline, pool: pool,
		oracle: oracleEngine, compliance: complianceEngine, vmExec: vmExec, bus: bus,
		priv: priv, pub: pub, addr: addr, logger: logger,
		metrics: NewMetrics(), health: NewHealthStatus(),
		vs: vs, cs: cs,
	}
	n.exec = newExecutorAdapter(store, pipeline, n.recordOutcomes)
	n.subscribe()
	return n, nil
}

// Bootstrap seeds a fresh data directory from genesis the first time it is
// empty, reproducing the prototype's init_node behavior (§B.4): genesis
// block 0, the genesis validator set, and the initial ChainState.
func Bootstrap(store *storage.Store, g *config.Genesis) error {
	if _, err := store.GetChainState(); err == nil {
		return nil // already bootstrapped
	}

	vs := g.BuildValidatorSet()
	cs := g.BuildChainState()
	if err := store.SaveValidatorSet(vs); err != nil {
		return err
	}
	if err := store.SaveChainState(cs); err != nil {
		return err
	}

	genesisBlock := &types.Block{
		Header: types.BlockHeader{
			ParentHash:   ZeroHash,
			Timestamp:    0,
			Height:       0,
			StateRoot:    storage.CalculateStateRoot(vs, cs, nil),
			TxMerkleRoot: merkle.EmptyRoot,
		},
	}
	hash := consensus.BlockHash(&genesisBlock.Header)
	if err := store.SaveBlock(0, hash, genesisBlock); err != nil {
		return err
	}

	for _, p := range g.ComplianceProfiles {
		if err := store.SaveComplianceProfile(&types.ComplianceProfile{
			Address:      p.Address,
			Jurisdiction: types.Jurisdiction(p.Jurisdiction),
			KYCLevel:     p.KYCLevel,
			IsVerified:   p.IsVerified,
		}); err != nil {
			return err
		}
	}
	return store.Flush()
}

// Address returns this validator's derived address.
func (n *Node) Address() string { return n.addr }

// Height, Round, Step report a read-only summary of consensus position —
// the only internal state §9 allows outside readers (e.g. the RPC layer)
// to observe.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Height()
}

func (n *Node) Round() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Round()
}

func (n *Node) Step() types.Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Step()
}

// Health returns a point-in-time snapshot for the /health endpoint.
func (n *Node) Health() HealthStatus { return n.health.Snapshot() }

// Metrics exposes the node's Prometheus collectors for the metrics HTTP
// listener.
func (n *Node) Metrics() *Metrics { return n.metrics }

// Mempool exposes the pool for RPC ingestion handlers.
func (n *Node) Mempool() *mempool.Pool { return n.pool }

// Store exposes the shared storage handle for read-only RPC queries.
func (n *Node) Store() *storage.Store { return n.store }

// Oracle exposes the oracle for RPC report submission.
func (n *Node) Oracle() *oracle.Oracle { return n.oracle }

// VM exposes the VM for the read-only aureum_call RPC method.
func (n *Node) VM() vm.VM { return n.vmExec }

// subscribe wires the P2P bus's three topics to this node's ingestion
// paths, per §6.
func (n *Node) subscribe() {
	n.bus.Subscribe(p2p.TopicTransactions, n.onGossipTransaction)
	n.bus.Subscribe(p2p.TopicBlocks, n.onGossipBlock)
	n.bus.Subscribe(p2p.TopicConsensus, n.onGossipVote)
}

func (n *Node) onGossipTransaction(payload []byte) {
	tx, err := codec.DecodeTransaction(payload)
	if err != nil {
		n.logger.Printf("dropping malformed gossip tx: %v", err)
		return
	}
	if _, err := n.pool.Submit(tx, time.Now().Unix()); err != nil {
		n.logger.Printf("dropping gossip tx from %s: %v", tx.Sender, err)
	}
}

func (n *Node) onGossipBlock(payload []byte) {
	block, err := codec.DecodeBlock(payload)
	if err != nil {
		n.logger.Printf("dropping malformed gossip block: %v", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if block.Header.Height != n.engine.Height() {
		n.logger.Printf("dropping block for unexpected height %d (want %d)", block.Header.Height, n.engine.Height())
		return
	}
	if n.engine.Step() != types.StepPropose || n.engine.Proposal() != nil {
		return
	}
	if !verifyMerkleRoot(block) {
		n.logger.Printf("dropping block %d: tx_merkle_root mismatch", block.Header.Height)
		return
	}
	n.engine.SetProposal(block)
}

func (n *Node) onGossipVote(payload []byte) {
	msg, err := codec.DecodeBftMessage(payload)
	if err != nil {
		n.logger.Printf("dropping malformed gossip vote: %v", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.vs.ByAddress(msg.Validator)
	if v == nil || !crypto.VerifySignature(v.PubKey, codec.EncodeBftMessageSignable(msg), msg.Signature) {
		n.logger.Printf("dropping vote with invalid signature from %s", msg.Validator)
		return
	}
	n.metrics.VotesTotal.WithLabelValues(string(msg.Step)).Inc()
	if _, err := n.engine.ProcessVote(n.vs, msg); err != nil {
		n.logger.Printf("processing vote from %s: %v", msg.Validator, err)
	}
}

func verifyMerkleRoot(b *types.Block) bool {
	hashes := make([][]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = crypto.Keccak256(codec.EncodeTransactionSignable(tx))
	}
	root, err := merkle.TxMerkleRoot(hashes)
	if err != nil {
		return false
	}
	return root == b.Header.TxMerkleRoot
}

// Run drives the periodic tick loop until ctx is canceled. On shutdown it
// returns; undrained mempool contents are left as-is (they are
// reconstructable on restart from the network per §5's cancellation
// policy).
func (n *Node) Run(ctx context.Context) {
	interval := n.cfg.TickInterval
	if interval <= 0 {
		interval = consensus.DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.health.MarkReady()
	n.logger.Printf("node %s started at height %d", n.addr, n.Height())

	for {
		select {
		case <-ctx.Done():
			n.logger.Printf("node shutting down at height %d", n.Height())
			return
		case <-ticker.C:
			n.tick()
		}
	}
}

// tick runs one iteration of the driving loop: step transitions, proposal
// assembly, self-voting, and Commit when ready.
func (n *Node) tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.engine.Tick(n.vs)
	n.maybeAssembleProposal()
	n.maybeCastVote()

	if n.engine.ReadyToCommit() {
		now := time.Now().Unix()
		if err := n.engine.Commit(n.vs, n.cs, n.exec, now); err != nil {
			// Storage I/O failure is the only fatal condition in the core (§7).
			n.logger.Fatalf("fatal: commit at height %d: %v", n.engine.Height(), err)
		}
		if err := n.store.Flush(); err != nil {
			n.logger.Fatalf("fatal: flush at height %d: %v", n.engine.Height(), err)
		}
		n.health.SetHeight(n.engine.Height())
	}

	n.metrics.Height.Set(float64(n.engine.Height()))
	n.metrics.Round.Set(float64(n.engine.Round()))
	n.metrics.observeStep(string(n.engine.Step()))
	n.metrics.MempoolSize.Set(float64(n.pool.Len()))
}

// maybeAssembleProposal builds and broadcasts a block when this node is the
// deterministic proposer for the current (height, round) and no proposal
// has been set yet. Called with mu held.
func (n *Node) maybeAssembleProposal() {
	if n.engine.Step() != types.StepPropose || n.engine.Proposal() != nil {
		return
	}
	proposer := consensus.SelectProposer(n.vs, n.engine.Height(), n.engine.Round())
	if proposer == nil || proposer.Address != n.addr {
		return
	}

	parentHash, err := n.parentHash(n.engine.Height())
	if err != nil {
		n.logger.Printf("assemble proposal: %v", err)
		return
	}

	txs := n.pool.Drain(MaxTxsPerBlock)
	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		hashes[i] = crypto.Keccak256(codec.EncodeTransactionSignable(tx))
	}
	root, err := merkle.TxMerkleRoot(hashes)
	if err != nil {
		n.logger.Printf("assemble proposal: merkle root: %v", err)
		n.pool.Requeue(txs)
		return
	}

	block := &types.Block{
		Header: types.BlockHeader{
			ParentHash:   parentHash,
			Timestamp:    time.Now().Unix(),
			Height:       n.engine.Height(),
			TxMerkleRoot: root,
		},
		Transactions: txs,
	}
	n.engine.SetProposal(block)
	n.logger.Printf("proposing block at height %d with %d txs", block.Header.Height, len(txs))
	if err := n.bus.Publish(p2p.TopicBlocks, codec.EncodeBlock(block)); err != nil {
		n.logger.Printf("broadcast proposal: %v", err)
	}
}

// parentHash resolves the parent_hash field for a new block at height:
// the all-zero hash for genesis, otherwise the previous height's
// recomputed block hash.
func (n *Node) parentHash(height uint64) (string, error) {
	if height == 0 {
		return ZeroHash, nil
	}
	prev, err := n.store.GetBlock(height - 1)
	if err != nil {
		return "", fmt.Errorf("load parent block %d: %w", height-1, err)
	}
	return consensus.BlockHash(&prev.Header), nil
}

// maybeCastVote signs and gossips this node's vote for the current step if
// it has not already voted in this (height, round, step), per §4.6's vote
// ingestion and §5's single-driver ordering guarantee. Propose and Commit
// are not voting steps. Called with mu held.
func (n *Node) maybeCastVote() {
	step := n.engine.Step()
	if step != types.StepPrevote && step != types.StepPrecommit {
		return
	}
	key := voteRecord{height: n.engine.Height(), round: n.engine.Round(), step: step}
	if n.votedFor == key {
		return
	}

	var blockHash *string
	if proposal := n.engine.Proposal(); proposal != nil {
		h := consensus.BlockHash(&proposal.Header)
		blockHash = &h
	}

	msg := &types.BftMessage{
		Height: key.height, Round: key.round, Step: key.step,
		BlockHash: blockHash, Validator: n.addr,
	}
	msg.Signature = crypto.Sign(n.priv, codec.EncodeBftMessageSignable(msg))

	n.votedFor = key
	n.metrics.VotesTotal.WithLabelValues(string(step)).Inc()
	if _, err := n.engine.ProcessVote(n.vs, msg); err != nil {
		n.logger.Printf("processing own vote: %v", err)
	}
	if err := n.bus.Publish(p2p.TopicConsensus, codec.EncodeBftMessage(msg)); err != nil {
		n.logger.Printf("broadcast vote: %v", err)
	}
}

// recordOutcomes updates applied/rejected tx counters from one Commit's
// outcomes.
func (n *Node) recordOutcomes(outcomes []execution.Outcome) {
	for _, o := range outcomes {
		if o.Applied {
			n.metrics.TxApplied.Inc()
		} else {
			n.metrics.TxRejected.Inc()
		}
	}
}

// ensure ZeroHash is exactly 32 bytes hex-encoded (64 hex chars); guarded
// here rather than by a brittle string literal length check scattered
// elsewhere.
func init() {
	if len(ZeroHash) != 64 {
		panic(fmt.Sprintf("node: ZeroHash must be 64 hex chars, got %d", len(ZeroHash)))
	}
	if strings.Trim(ZeroHash, "0") != "" {
		panic("node: ZeroHash must be all zeros")
	}
}
