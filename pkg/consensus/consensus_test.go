package consensus

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

func newTestEngine(t *testing.T, vetoActive bool) (*Engine, *storage.Store) {
	t.Helper()
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))
	return NewEngine(s, nil, vetoActive), s
}

func strPtr(s string) *string { return &s }

// S3: Authority veto scenario from §8.
func TestCheckQuasiFinality_AuthorityVeto(t *testing.T) {
	e, _ := newTestEngine(t, true)
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Aauth", Stake: 100, Role: types.RoleAuthority},
		{Address: "Astd1", Stake: 100, Role: types.RoleStandard},
		{Address: "Astd2", Stake: 100, Role: types.RoleStandard},
	}}
	vs.RecomputeTotalStake()

	hash := strPtr("h1")
	if _, err := e.ProcessVote(vs, &types.BftMessage{Height: 1, Round: 0, Step: types.StepPrevote, BlockHash: hash, Validator: "Astd1"}); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if _, err := e.ProcessVote(vs, &types.BftMessage{Height: 1, Round: 0, Step: types.StepPrevote, BlockHash: hash, Validator: "Astd2"}); err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if e.checkQuasiFinality(vs, 0, types.StepPrevote) {
		t.Fatal("expected no quasi-finality without authority approval")
	}

	if _, err := e.ProcessVote(vs, &types.BftMessage{Height: 1, Round: 0, Step: types.StepPrevote, BlockHash: hash, Validator: "Aauth"}); err != nil {
		t.Fatalf("vote 3: %v", err)
	}
	if !e.checkQuasiFinality(vs, 0, types.StepPrevote) {
		t.Fatal("expected quasi-finality once authority approves")
	}
}

// S4: Equivocation scenario from §8.
func TestProcessVote_EquivocationSlashesStake(t *testing.T) {
	e, s := newTestEngine(t, false)
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Av1", Stake: 100},
		{Address: "Av2", Stake: 100},
	}}
	vs.RecomputeTotalStake()
	if err := s.SetBalance("Av1", 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	hashA, hashB := strPtr("A"), strPtr("B")
	if _, err := e.ProcessVote(vs, &types.BftMessage{Height: 1, Round: 0, Step: types.StepPrecommit, BlockHash: hashA, Validator: "Av1"}); err != nil {
		t.Fatalf("vote A: %v", err)
	}
	if _, err := e.ProcessVote(vs, &types.BftMessage{Height: 1, Round: 0, Step: types.StepPrecommit, BlockHash: hashB, Validator: "Av1"}); err != nil {
		t.Fatalf("vote B: %v", err)
	}

	v := vs.ByAddress("Av1")
	if v.Stake != 50 {
		t.Errorf("expected stake halved to 50, got %d", v.Stake)
	}
	bal, _ := s.GetBalance("Av1")
	if bal != 500 {
		t.Errorf("expected balance halved to 500, got %d", bal)
	}
	if vs.TotalStake != 150 {
		t.Errorf("expected total stake 150 after slash, got %d", vs.TotalStake)
	}
}

func TestSelectProposer_Deterministic(t *testing.T) {
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Ac", Stake: 50},
		{Address: "Aa", Stake: 100},
		{Address: "Ab", Stake: 150},
	}}
	vs.RecomputeTotalStake()

	p1 := SelectProposer(vs, 10, 0)
	p2 := SelectProposer(vs, 10, 0)
	if p1.Address != p2.Address {
		t.Fatalf("expected deterministic proposer selection, got %s vs %s", p1.Address, p2.Address)
	}
}

func TestSelectProposer_ZeroStakePicksFirstByAddress(t *testing.T) {
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Az", Stake: 0},
		{Address: "Aa", Stake: 0},
	}}
	vs.RecomputeTotalStake()

	p := SelectProposer(vs, 1, 0)
	if p.Address != "Aa" {
		t.Fatalf("expected first validator by address, got %s", p.Address)
	}
}

func TestApplyDowntimeSlashing(t *testing.T) {
	e, _ := newTestEngine(t, false)
	e.height = 200
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Aactive", Stake: 2000, LastActive: 199},
		{Address: "Ainactive", Stake: 2000, LastActive: 50},
	}}
	vs.RecomputeTotalStake()

	if err := e.ApplyDowntimeSlashing(vs); err != nil {
		t.Fatalf("apply downtime slashing: %v", err)
	}

	if vs.ByAddress("Aactive").Stake != 2000 {
		t.Errorf("expected active validator unslashed, got %d", vs.ByAddress("Aactive").Stake)
	}
	if vs.ByAddress("Ainactive").Stake != 1980 {
		t.Errorf("expected inactive validator slashed to 1980, got %d", vs.ByAddress("Ainactive").Stake)
	}
}

func TestDistributeRewards(t *testing.T) {
	e, s := newTestEngine(t, false)
	vs := &types.ValidatorSet{Validators: []*types.Validator{
		{Address: "Av1", Stake: 100},
		{Address: "Av2", Stake: 100},
	}}
	vs.RecomputeTotalStake()
	cs := &types.ChainState{TotalSupply: 1_000_000}

	if err := e.DistributeRewards(vs, cs, 100); err != nil {
		t.Fatalf("distribute rewards: %v", err)
	}
	// burn = 50, pool = 50 + 100 = 150, share = 75 each
	if vs.ByAddress("Av1").Stake != 175 {
		t.Errorf("expected stake 175, got %d", vs.ByAddress("Av1").Stake)
	}
	if cs.BurnedFees != 50 {
		t.Errorf("expected burned fees 50, got %d", cs.BurnedFees)
	}
}
