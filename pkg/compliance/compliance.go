// Copyright 2025 Certen Protocol
//
// Package compliance evaluates per-jurisdiction rules (KYC level, holding
// period, transfer cap) against a sender's stored ComplianceProfile before
// the execution pipeline applies a transaction.
package compliance

import (
	"errors"
	"math"

	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

// Rule is the per-jurisdiction policy the engine enforces.
type Rule struct {
	MinKYCLevel       uint8
	MaxTransfer       uint64
	HoldingPeriodSecs int64
}

// defaultRules mirrors the real-world regulatory posture each jurisdiction
// models: Portugal's Golden Visa program requires deeper KYC and a 5-year
// holding period; the UAE program is comparatively permissive; UK/Global
// fall back to the permissive default when no explicit rule is set.
var defaultRules = map[types.Jurisdiction]Rule{
	types.JurisdictionPortugal: {MinKYCLevel: 2, MaxTransfer: 10_000_000_000, HoldingPeriodSecs: 157_680_000},
	types.JurisdictionUAE:      {MinKYCLevel: 1, MaxTransfer: math.MaxUint64, HoldingPeriodSecs: 0},
}

var permissiveRule = Rule{MinKYCLevel: 0, MaxTransfer: math.MaxUint64, HoldingPeriodSecs: 0}

// Engine evaluates compliance rules against stored profiles. It carries no
// mutable state of its own — all profile state lives in storage — so a
// single Engine can be shared across goroutines.
type Engine struct {
	rules map[types.Jurisdiction]Rule
}

// NewEngine returns an Engine seeded with the default jurisdiction rule
// table.
func NewEngine() *Engine {
	rules := make(map[types.Jurisdiction]Rule, len(defaultRules))
	for j, r := range defaultRules {
		rules[j] = r
	}
	return &Engine{rules: rules}
}

// RuleFor returns the rule for a jurisdiction, falling back to the
// permissive default for UK/Global or any unconfigured jurisdiction.
func (e *Engine) RuleFor(j types.Jurisdiction) Rule {
	if r, ok := e.rules[j]; ok {
		return r
	}
	return permissiveRule
}

// ProfileStore is the minimal storage contract the engine needs.
type ProfileStore interface {
	GetComplianceProfile(addr string) (*types.ComplianceProfile, error)
}

// NoProfileMinAmount is the value at or above which an address with no stored
// compliance profile is rejected even under the permissive Global default.
const NoProfileMinAmount = 1_000_000

// VerifyTransaction reports whether `from` may move `amount` to `to` under
// `jurisdiction` at time `now` (unix seconds). It never panics; an unverified
// profile, a holding period that has not yet elapsed, an over-cap amount, or
// a missing profile (outside Global, or at NoProfileMinAmount and above) all
// simply return false.
func (e *Engine) VerifyTransaction(profiles ProfileStore, from, to string, amount uint64, jurisdiction types.Jurisdiction, now int64) (bool, error) {
	rule := e.RuleFor(jurisdiction)

	profile, err := profiles.GetComplianceProfile(from)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if jurisdiction != types.JurisdictionGlobal || amount >= NoProfileMinAmount {
				return false, nil
			}
			return true, nil
		}
		return false, err
	}

	if !profile.IsVerified || profile.KYCLevel < rule.MinKYCLevel {
		return false, nil
	}
	if now < profile.LastUpdated+rule.HoldingPeriodSecs {
		return false, nil
	}
	if amount > rule.MaxTransfer {
		return false, nil
	}
	return true, nil
}

// JurisdictionForVisaProgram maps a visa program to the jurisdiction its
// compliance check runs under.
func JurisdictionForVisaProgram(program types.VisaProgram) types.Jurisdiction {
	return program.Jurisdiction()
}

// JurisdictionForTx returns the jurisdiction a transaction is evaluated
// under: visa applications map through their program, everything else
// defaults to Global.
func JurisdictionForTx(t *types.Transaction, program types.VisaProgram) types.Jurisdiction {
	if t.Type == types.TxApplyForVisa {
		return JurisdictionForVisaProgram(program)
	}
	return types.JurisdictionGlobal
}
