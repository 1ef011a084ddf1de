package vm

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/storage"
)

func TestDeterministicVM_CreateThenCall(t *testing.T) {
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))
	v := NewDeterministicVM()

	bytecode := []byte{0x60, 0x00, 0x60, 0x00}
	res, err := v.Execute(s, "Acaller", ZeroAddress, bytecode, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Success || res.ContractAddr == "" {
		t.Fatalf("expected successful create with contract address, got %+v", res)
	}

	callRes, err := v.Execute(s, "Acaller", res.ContractAddr, nil, 0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !callRes.Success {
		t.Fatalf("expected successful call against deployed contract, got %+v", callRes)
	}
}

func TestDeterministicVM_CallUndeployedFails(t *testing.T) {
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))
	v := NewDeterministicVM()

	res, err := v.Execute(s, "Acaller", "Adeadbeef00000000000000000000000000000000", nil, 0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure calling undeployed contract, got %+v", res)
	}
}
