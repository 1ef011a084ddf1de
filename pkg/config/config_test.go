package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if cfg.DBBackend != "goleveldb" {
		t.Errorf("expected default backend goleveldb, got %s", cfg.DBBackend)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := &Config{DataDir: "./data", DBBackend: "postgres", TickInterval: 1, RoundTimeout: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported backend")
	}
}

func TestDefaultGenesis(t *testing.T) {
	g := DefaultGenesis()
	vs := g.BuildValidatorSet()
	if vs.TotalStake != 1_000_000 {
		t.Errorf("expected total stake 1000000, got %d", vs.TotalStake)
	}
	if len(vs.Validators) != 1 || !vs.Validators[0].IsAuthority() {
		t.Errorf("expected single authority validator, got %+v", vs.Validators)
	}

	cs := g.BuildChainState()
	if cs.TotalSupply != 21_000_000_000 {
		t.Errorf("expected total supply 21000000000, got %d", cs.TotalSupply)
	}
}

func TestLoadGenesisMissingFileFallsBackToDefault(t *testing.T) {
	g, err := LoadGenesis("/nonexistent/genesis.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.TotalSupply != 21_000_000_000 {
		t.Errorf("expected default genesis, got %+v", g)
	}
}
