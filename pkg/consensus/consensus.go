// Copyright 2025 Certen Protocol
//
// Package consensus drives the hybrid-BFT height/round/step state machine:
// stake-weighted voting, authority-node veto, equivocation detection,
// downtime slashing, and deterministic proposer selection.
//
// CONCURRENCY: Engine is not intrinsically thread-safe; callers (pkg/node)
// must serialize access behind a single driving goroutine or an external
// mutex, exactly as the teacher's validator-block invariants are enforced
// under its own exclusive lock.
package consensus

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

// EquivocationSlashFraction is the fraction of stake and balance burned from
// a validator caught equivocating.
const EquivocationSlashFraction = 0.5

// DowntimeSlashFraction is the fraction of stake burned from a validator
// that has been inactive for more than DowntimeThresholdBlocks.
const DowntimeSlashFraction = 0.01

// DowntimeThresholdBlocks is how many blocks of inactivity trigger downtime
// slashing.
const DowntimeThresholdBlocks = 100

// DowntimeMinStake is the minimum stake below which downtime slashing does
// not apply (avoids grinding already-marginal validators to zero).
const DowntimeMinStake = 1000

// FixedEmissionPerBlock is the fixed reward emission added to the fee pool
// at every height's reward distribution.
const FixedEmissionPerBlock = 100

// DefaultTickInterval is how often the driving loop re-evaluates step
// transitions absent quasi-finality.
const DefaultTickInterval = 5 * time.Second

// DefaultRoundTimeout is how long a multi-validator committee waits for
// quasi-finality at a step before advancing the round (§9 resolved open
// question: classic PBFT round-change).
const DefaultRoundTimeout = 3 * DefaultTickInterval

// Executor applies a committed block's transactions and returns the total
// fees collected plus the state root for the new height. It is the
// execution-pipeline side of the Commit transition.
type Executor interface {
	ApplyBlock(height uint64, now int64, txs []*types.Transaction) (appliedFees uint64, stateRoot string, err error)
}

// voteKey identifies one (height, round, step) bucket of votes.
type voteKey struct {
	height uint64
	round  uint64
	step   types.Step
}

// Engine owns the consensus state machine for a single node.
type Engine struct {
	store  *storage.Store
	logger *log.Logger

	height uint64
	round  uint64
	step   types.Step

	proposal       *types.Block
	lockedRound    *uint64
	lockedBlock    *types.Block
	votes          map[voteKey][]*types.BftMessage
	seenByVoter    map[voteKey]map[string]*types.BftMessage // validator -> their vote, for equivocation detection
	authorityVeto  bool
	stepDeadline   time.Time
}

// NewEngine constructs an Engine at genesis height 1 (height 0 is the
// persisted genesis block).
func NewEngine(store *storage.Store, logger *log.Logger, authorityVetoActive bool) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store:         store,
		logger:        logger,
		height:        1,
		round:         0,
		step:          types.StepPropose,
		votes:         make(map[voteKey][]*types.BftMessage),
		seenByVoter:   make(map[voteKey]map[string]*types.BftMessage),
		authorityVeto: authorityVetoActive,
		stepDeadline:  time.Now().Add(DefaultRoundTimeout),
	}
}

// Height, Round, Step report the engine's current position, safe to call
// from a read-only status endpoint provided the caller holds whatever lock
// guards concurrent access to the engine.
func (e *Engine) Height() uint64    { return e.height }
func (e *Engine) Round() uint64     { return e.round }
func (e *Engine) Step() types.Step  { return e.step }
func (e *Engine) Proposal() *types.Block { return e.proposal }

// SelectProposer deterministically picks the proposer for (height, round)
// from vs: sort validators by address ascending, walk accumulating stake
// from seed = (height+round) mod total_stake, and pick the first validator
// whose running sum strictly exceeds the seed.
func SelectProposer(vs *types.ValidatorSet, height, round uint64) *types.Validator {
	if len(vs.Validators) == 0 {
		return nil
	}
	sorted := make([]*types.Validator, len(vs.Validators))
	copy(sorted, vs.Validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	if vs.TotalStake == 0 {
		return sorted[0]
	}

	seed := (height + round) % vs.TotalStake
	var running uint64
	for _, v := range sorted {
		running += v.Stake
		if running > seed {
			return v
		}
	}
	return sorted[len(sorted)-1]
}

// SetProposal sets the current round's proposed block. Called by the
// orchestrator once it has assembled (or received from the network) the
// proposer's block for this height/round.
func (e *Engine) SetProposal(b *types.Block) { e.proposal = b }

// ProcessVote ingests a vote, applying equivocation detection and
// quasi-finality checks. Returns whether the step subsequently advanced.
func (e *Engine) ProcessVote(vs *types.ValidatorSet, msg *types.BftMessage) (advanced bool, err error) {
	if msg.Height != e.height {
		e.logger.Printf("dropping vote for wrong height %d (current %d)", msg.Height, e.height)
		return false, nil
	}
	if msg.Round < e.round {
		e.logger.Printf("dropping vote for stale round %d (current %d)", msg.Round, e.round)
		return false, nil
	}

	key := voteKey{height: msg.Height, round: msg.Round, step: msg.Step}
	if e.seenByVoter[key] == nil {
		e.seenByVoter[key] = make(map[string]*types.BftMessage)
	}
	if prior, ok := e.seenByVoter[key][msg.Validator]; ok {
		if !sameBlockHash(prior, msg) {
			if err := e.handleEquivocation(vs, msg.Validator); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	e.seenByVoter[key][msg.Validator] = msg
	e.votes[key] = append(e.votes[key], msg)

	if v := vs.ByAddress(msg.Validator); v != nil {
		v.LastActive = e.height
	}

	if e.checkQuasiFinality(vs, msg.Round, msg.Step) {
		return e.advance(vs, msg.Round), nil
	}
	return false, nil
}

func sameBlockHash(a, b *types.BftMessage) bool {
	if a.IsNil() != b.IsNil() {
		return false
	}
	if a.IsNil() {
		return true
	}
	return *a.BlockHash == *b.BlockHash
}

// checkQuasiFinality implements §4.6's composite predicate: some block hash
// (or NIL) accumulates >= 2/3 total stake across unique voters, and, if the
// authority veto is active and at least one authority exists, at least one
// authority approved that same hash.
func (e *Engine) checkQuasiFinality(vs *types.ValidatorSet, round uint64, step types.Step) bool {
	if len(vs.Validators) == 1 {
		return true
	}

	key := voteKey{height: e.height, round: round, step: step}
	hashStake := map[string]uint64{}
	hashAuthorities := map[string]int{}
	counted := map[string]bool{}

	for _, msg := range e.votes[key] {
		if counted[msg.Validator] {
			continue
		}
		counted[msg.Validator] = true
		v := vs.ByAddress(msg.Validator)
		if v == nil {
			continue
		}
		hashID := "NIL"
		if !msg.IsNil() {
			hashID = *msg.BlockHash
		}
		hashStake[hashID] += v.Stake
		if v.IsAuthority() {
			hashAuthorities[hashID]++
		}
	}

	authorities := vs.Authorities()
	for hashID, stake := range hashStake {
		if stake*3 < vs.TotalStake*2 {
			continue
		}
		if e.authorityVeto && len(authorities) > 0 && hashAuthorities[hashID] < 1 {
			continue
		}
		return true
	}
	return false
}

// advance moves the state machine forward after quasi-finality at `round`
// for the current step, following §4.6's transition table.
func (e *Engine) advance(vs *types.ValidatorSet, round uint64) bool {
	switch e.step {
	case types.StepPropose:
		return false // Propose -> Prevote is driven by Tick, not by votes.
	case types.StepPrevote:
		e.step = types.StepPrecommit
		e.stepDeadline = time.Now().Add(DefaultRoundTimeout)
		return true
	case types.StepPrecommit:
		e.step = types.StepCommit
		e.stepDeadline = time.Now().Add(DefaultRoundTimeout)
		return true
	default:
		return false
	}
}

// handleEquivocation slashes 50% of stake and balance for a validator
// caught signing two conflicting votes at the same (height, round, step).
func (e *Engine) handleEquivocation(vs *types.ValidatorSet, validatorAddr string) error {
	v := vs.ByAddress(validatorAddr)
	if v == nil {
		return nil
	}
	slashed := uint64(float64(v.Stake) * EquivocationSlashFraction)
	v.Stake -= slashed
	vs.RecomputeTotalStake()
	e.logger.Printf("slashing %s for equivocation: -%d stake", validatorAddr, slashed)

	bal, err := e.store.GetBalance(validatorAddr)
	if err != nil {
		return err
	}
	slashedBal := uint64(float64(bal) * EquivocationSlashFraction)
	if err := e.store.SetBalance(validatorAddr, bal-slashedBal); err != nil {
		return err
	}
	return e.store.SaveValidatorSet(vs)
}

// ApplyDowntimeSlashing slashes any validator inactive for more than
// DowntimeThresholdBlocks whose stake still exceeds DowntimeMinStake. Called
// once per height after Commit.
func (e *Engine) ApplyDowntimeSlashing(vs *types.ValidatorSet) error {
	changed := false
	for _, v := range vs.Validators {
		if v.LastActive+DowntimeThresholdBlocks < e.height && v.Stake > DowntimeMinStake {
			slashed := v.Stake / 100
			v.Stake -= slashed
			changed = true
			e.logger.Printf("slashing %s for downtime: -%d stake", v.Address, slashed)
		}
	}
	if changed {
		vs.RecomputeTotalStake()
		return e.store.SaveValidatorSet(vs)
	}
	return nil
}

// DistributeRewards burns half of totalFees, adds the remainder plus
// FixedEmissionPerBlock to the reward pool, and splits the pool equally
// across all validators' stake and balance.
func (e *Engine) DistributeRewards(vs *types.ValidatorSet, cs *types.ChainState, totalFees uint64) error {
	burn := totalFees / 2
	cs.TotalSupply -= burn
	cs.BurnedFees += burn

	pool := (totalFees - burn) + FixedEmissionPerBlock
	if len(vs.Validators) == 0 {
		return e.store.SaveChainState(cs)
	}
	share := pool / uint64(len(vs.Validators))

	for _, v := range vs.Validators {
		v.Stake += share
		bal, err := e.store.GetBalance(v.Address)
		if err != nil {
			return err
		}
		if err := e.store.SetBalance(v.Address, bal+share); err != nil {
			return err
		}
	}
	vs.TotalStake += share * uint64(len(vs.Validators))
	cs.TotalSupply += share * uint64(len(vs.Validators))

	if err := e.store.SaveValidatorSet(vs); err != nil {
		return err
	}
	return e.store.SaveChainState(cs)
}

// Tick drives step transitions that do not depend on new votes: the
// Propose->Prevote shortcut, single-validator fast paths, and round-change
// on step timeout.
func (e *Engine) Tick(vs *types.ValidatorSet) {
	switch e.step {
	case types.StepPropose:
		if e.proposal != nil || e.round > 0 || len(vs.Validators) == 1 {
			e.step = types.StepPrevote
			e.stepDeadline = time.Now().Add(DefaultRoundTimeout)
		}
	case types.StepPrevote, types.StepPrecommit:
		if len(vs.Validators) == 1 {
			e.advance(vs, e.round)
			return
		}
		if time.Now().After(e.stepDeadline) {
			e.changeRound(vs)
		}
	}
}

// changeRound implements the §9 round-timeout policy: advance the round,
// reset to Propose, and preserve any locked block for re-proposal.
func (e *Engine) changeRound(vs *types.ValidatorSet) {
	if e.step == types.StepPrecommit && e.proposal != nil {
		r := e.round
		e.lockedRound = &r
		e.lockedBlock = e.proposal
	}
	e.round++
	e.step = types.StepPropose
	e.proposal = nil
	if e.lockedBlock != nil {
		e.proposal = e.lockedBlock
	}
	e.stepDeadline = time.Now().Add(DefaultRoundTimeout)
	e.logger.Printf("round change: height=%d new_round=%d", e.height, e.round)
}

// ReadyToCommit reports whether the engine has reached Commit for the
// current height.
func (e *Engine) ReadyToCommit() bool { return e.step == types.StepCommit }

// Commit runs the execution pipeline (if a proposal exists), reward and
// slashing passes, persists the block, and advances to the next height.
// If no proposal exists the height still advances with no block, per §4.6.
func (e *Engine) Commit(vs *types.ValidatorSet, cs *types.ChainState, exec Executor, now int64) error {
	if e.proposal != nil {
		fees, stateRoot, err := exec.ApplyBlock(e.height, now, e.proposal.Transactions)
		if err != nil {
			return fmt.Errorf("consensus: commit execution: %w", err)
		}
		e.proposal.Header.StateRoot = stateRoot
		blockHash := BlockHash(&e.proposal.Header)

		if err := e.store.SaveBlock(e.height, blockHash, e.proposal); err != nil {
			return err
		}
		if err := e.DistributeRewards(vs, cs, fees); err != nil {
			return err
		}
	}

	if err := e.ApplyDowntimeSlashing(vs); err != nil {
		return err
	}

	e.height++
	e.round = 0
	e.step = types.StepPropose
	e.proposal = nil
	e.lockedBlock = nil
	e.lockedRound = nil
	e.votes = make(map[voteKey][]*types.BftMessage)
	e.seenByVoter = make(map[voteKey]map[string]*types.BftMessage)
	e.stepDeadline = time.Now().Add(DefaultRoundTimeout)
	return nil
}

// BlockHash computes a block's hash: Keccak256(parent_hash || height_be ||
// timestamp_be || state_root).
func BlockHash(h *types.BlockHeader) string {
	var heightBuf, tsBuf [8]byte
	putUint64(heightBuf[:], h.Height)
	putUint64(tsBuf[:], uint64(h.Timestamp))
	digest := crypto.Keccak256([]byte(h.ParentHash), heightBuf[:], tsBuf[:], []byte(h.StateRoot))
	return fmt.Sprintf("%x", digest)
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
