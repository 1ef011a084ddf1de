package storage

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	bal, err := s.GetBalance("Aabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != 0 {
		t.Fatalf("expected default balance 0, got %d", bal)
	}

	if err := s.SetBalance("Aabc", 500_000); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	bal, err = s.GetBalance("Aabc")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal != 500_000 {
		t.Fatalf("expected 500000, got %d", bal)
	}
}

func TestNonceIncrement(t *testing.T) {
	s := newTestStore(t)

	for i := uint64(0); i < 3; i++ {
		n, err := s.GetNonce("Aabc")
		if err != nil {
			t.Fatalf("get nonce: %v", err)
		}
		if n != i {
			t.Fatalf("expected nonce %d, got %d", i, n)
		}
		if err := s.IncrementNonce("Aabc"); err != nil {
			t.Fatalf("increment nonce: %v", err)
		}
	}
}

func TestBlockRoundTrip(t *testing.T) {
	s := newTestStore(t)

	b := &types.Block{
		Header: types.BlockHeader{
			ParentHash:   "0",
			Timestamp:    1000,
			Height:       1,
			StateRoot:    "deadbeef",
			TxMerkleRoot: "0",
		},
	}
	if err := s.SaveBlock(1, "blockhash1", b); err != nil {
		t.Fatalf("save block: %v", err)
	}

	got, err := s.GetBlock(1)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if got.Header.Height != 1 || got.Header.StateRoot != "deadbeef" {
		t.Fatalf("block mismatch: %+v", got.Header)
	}

	byHash, err := s.GetBlockByHash("blockhash1")
	if err != nil {
		t.Fatalf("get block by hash: %v", err)
	}
	if byHash.Header.Height != 1 {
		t.Fatalf("block by hash mismatch: %+v", byHash.Header)
	}

	if _, err := s.GetBlock(99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatorSetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	vs := &types.ValidatorSet{
		Validators: []*types.Validator{
			{Address: "A1", Stake: 100, Role: types.RoleAuthority},
			{Address: "A2", Stake: 200, Role: types.RoleStandard},
		},
	}
	vs.RecomputeTotalStake()

	if err := s.SaveValidatorSet(vs); err != nil {
		t.Fatalf("save validator set: %v", err)
	}
	got, err := s.GetValidatorSet()
	if err != nil {
		t.Fatalf("get validator set: %v", err)
	}
	if got.TotalStake != 300 || len(got.Validators) != 2 {
		t.Fatalf("validator set mismatch: %+v", got)
	}
}

func TestChainStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetChainState(); err != ErrChainStateNil {
		t.Fatalf("expected ErrChainStateNil, got %v", err)
	}

	cs := &types.ChainState{TotalSupply: 21_000_000_000, BurnedFees: 0}
	if err := s.SaveChainState(cs); err != nil {
		t.Fatalf("save chain state: %v", err)
	}
	got, err := s.GetChainState()
	if err != nil {
		t.Fatalf("get chain state: %v", err)
	}
	if got.TotalSupply != cs.TotalSupply {
		t.Fatalf("chain state mismatch: %+v", got)
	}
}

func TestCalculateStateRootDeterministic(t *testing.T) {
	vs := &types.ValidatorSet{Validators: []*types.Validator{{Address: "A1", Stake: 100}}}
	vs.RecomputeTotalStake()
	cs := &types.ChainState{TotalSupply: 100}
	deltas := []AccountDelta{{Address: "A2", Balance: 10, Nonce: 1}, {Address: "A1", Balance: 5, Nonce: 2}}

	r1 := CalculateStateRoot(vs, cs, deltas)
	r2 := CalculateStateRoot(vs, cs, deltas)
	if r1 != r2 {
		t.Fatalf("state root not deterministic: %s vs %s", r1, r2)
	}
}
