package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aureum-chain/aureum-node/pkg/types"
)

// GenesisValidator is one validator entry in genesis.yaml.
type GenesisValidator struct {
	Address string `yaml:"address"`
	PubKey  string `yaml:"pub_key"` // hex-encoded
	Stake   uint64 `yaml:"stake"`
	Role    string `yaml:"role"` // "standard" or "authority"
}

// GenesisComplianceProfile seeds an initial compliance profile.
type GenesisComplianceProfile struct {
	Address      string `yaml:"address"`
	Jurisdiction string `yaml:"jurisdiction"`
	KYCLevel     uint8  `yaml:"kyc_level"`
	IsVerified   bool   `yaml:"is_verified"`
}

// Genesis is the full bootstrap configuration for a fresh data directory,
// grounded on the prototype's init_node seeding (one authority validator,
// a fixed total supply, zero burned fees).
type Genesis struct {
	ChainID             string                     `yaml:"chain_id"`
	TotalSupply         uint64                     `yaml:"total_supply"`
	Validators          []GenesisValidator         `yaml:"validators"`
	AuthorizedReporters []string                   `yaml:"authorized_oracle_reporters"`
	ComplianceProfiles  []GenesisComplianceProfile `yaml:"compliance_profiles"`
}

// DefaultGenesis mirrors the prototype's init_node bootstrap values: a
// single authority validator, 21,000,000,000 total supply, and zero burned
// fees.
func DefaultGenesis() *Genesis {
	return &Genesis{
		ChainID:     "aureum-devnet",
		TotalSupply: 21_000_000_000,
		Validators: []GenesisValidator{
			{
				Address: "A1109cd8305ff4145b0b89495431540d1f4faecdc",
				Stake:   1_000_000,
				Role:    "authority",
			},
		},
	}
}

// LoadGenesis reads a genesis.yaml file. If path does not exist, it returns
// DefaultGenesis so a fresh data directory can still bootstrap.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultGenesis(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read genesis file: %w", err)
	}

	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("config: parse genesis file: %w", err)
	}
	return &g, nil
}

// BuildValidatorSet converts the genesis validator entries into a
// types.ValidatorSet, computing TotalStake.
func (g *Genesis) BuildValidatorSet() *types.ValidatorSet {
	vs := &types.ValidatorSet{}
	for _, gv := range g.Validators {
		role := types.RoleStandard
		if gv.Role == "authority" {
			role = types.RoleAuthority
		}
		pub, _ := hex.DecodeString(gv.PubKey)
		vs.Validators = append(vs.Validators, &types.Validator{
			Address: gv.Address,
			PubKey:  pub,
			Stake:   gv.Stake,
			Role:    role,
		})
	}
	vs.RecomputeTotalStake()
	return vs
}

// BuildChainState converts the genesis total supply into initial chain
// state with zero burned fees.
func (g *Genesis) BuildChainState() *types.ChainState {
	return &types.ChainState{TotalSupply: g.TotalSupply, BurnedFees: 0}
}
