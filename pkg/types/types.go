// Package types defines the shared data model for the Aureum ledger:
// transactions, blocks, validators, compliance profiles, properties, visas,
// escrows and oracle reports.
package types

import "fmt"

// TxType enumerates the closed set of transaction variants the execution
// pipeline knows how to apply.
type TxType string

const (
	TxTransfer            TxType = "transfer"
	TxStake               TxType = "stake"
	TxUnstake             TxType = "unstake"
	TxTokenizeProperty    TxType = "tokenize_property"
	TxApplyForVisa        TxType = "apply_for_visa"
	TxContractCreate      TxType = "contract_create"
	TxContractCall        TxType = "contract_call"
	TxRegisterCompliance  TxType = "register_compliance"
	TxSubmitOracleReport  TxType = "submit_oracle_report"
	TxTransferFraction    TxType = "transfer_fraction"
	TxCreateMultiSig      TxType = "create_multisig"
	TxEscrowCreate        TxType = "escrow_create"
	TxEscrowRelease       TxType = "escrow_release"
	TxEscrowRefund        TxType = "escrow_refund"
)

// Jurisdiction is the regulatory regime a compliance profile or visa program
// is evaluated under.
type Jurisdiction string

const (
	JurisdictionPortugal Jurisdiction = "portugal"
	JurisdictionUAE      Jurisdiction = "uae"
	JurisdictionUK       Jurisdiction = "uk"
	JurisdictionGlobal   Jurisdiction = "global"
)

// VisaProgram mirrors the golden-visa style programs a property can make an
// applicant eligible for.
type VisaProgram string

const (
	VisaProgramPortugal VisaProgram = "portugal_golden_visa"
	VisaProgramUAE      VisaProgram = "uae_golden_visa"
	VisaProgramSpain    VisaProgram = "spain_golden_visa"
	VisaProgramGreece   VisaProgram = "greece_golden_visa"
)

// Jurisdiction returns the compliance jurisdiction a visa program is
// evaluated under.
func (p VisaProgram) Jurisdiction() Jurisdiction {
	switch p {
	case VisaProgramPortugal:
		return JurisdictionPortugal
	case VisaProgramUAE:
		return JurisdictionUAE
	default:
		return JurisdictionGlobal
	}
}

// ApplicationStatus is the lifecycle state of a VisaApplication.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// EscrowStatus is the one-way lifecycle state of an Escrow.
type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "pending"
	EscrowReleased  EscrowStatus = "released"
	EscrowRefunded  EscrowStatus = "refunded"
	EscrowDisputed  EscrowStatus = "disputed"
)

// ValidatorRole distinguishes an authority validator (veto power) from a
// standard one.
type ValidatorRole string

const (
	RoleStandard  ValidatorRole = "standard"
	RoleAuthority ValidatorRole = "authority"
)

// Step is a phase of the height/round BFT state machine.
type Step string

const (
	StepPropose   Step = "propose"
	StepPrevote   Step = "prevote"
	StepPrecommit Step = "precommit"
	StepCommit    Step = "commit"
)

// Transaction is the unit of state change submitted by clients.
type Transaction struct {
	Sender    string   `json:"sender"`
	Receiver  string   `json:"receiver,omitempty"`
	Amount    uint64   `json:"amount"`
	Nonce     uint64   `json:"nonce"`
	Fee       uint64   `json:"fee"`
	Signature []byte   `json:"signature"`
	PubKey    []byte   `json:"pub_key"`
	Type      TxType   `json:"type"`
	Payload   []byte   `json:"payload,omitempty"` // variant-specific encoded data

	hash []byte // cached canonical hash, never encoded
}

// SetCachedHash stashes a precomputed hash so repeated hashing (see
// execution.TxHashHex) is avoided; callers that mutate a Transaction must not
// reuse the cache.
func (t *Transaction) SetCachedHash(h []byte) { t.hash = h }

// CachedHash returns the stashed hash, or nil if none was set.
func (t *Transaction) CachedHash() []byte { return t.hash }

// String renders the transaction for logging.
func (t *Transaction) String() string {
	return fmt.Sprintf("Tx{%s %s->%s amount=%d nonce=%d fee=%d}", t.Type, t.Sender, t.Receiver, t.Amount, t.Nonce, t.Fee)
}

// BlockHeader carries the metadata committed to by a block's hash.
type BlockHeader struct {
	ParentHash    string `json:"parent_hash"`
	Timestamp     int64  `json:"timestamp"`
	Height        uint64 `json:"height"`
	StateRoot     string `json:"state_root"`
	TxMerkleRoot  string `json:"tx_merkle_root"`
}

// Block is an ordered list of transactions under a header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
}

// Validator is a single member of the active ValidatorSet.
type Validator struct {
	Address    string        `json:"address"`
	PubKey     []byte        `json:"pub_key"`
	Stake      uint64        `json:"stake"`
	Role       ValidatorRole `json:"role"`
	LastActive uint64        `json:"last_active"` // height at which this validator last voted
}

// IsAuthority reports whether this validator holds veto power.
func (v *Validator) IsAuthority() bool { return v.Role == RoleAuthority }

// ValidatorSet is the active BFT committee.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`
	TotalStake uint64       `json:"total_stake"`
}

// ByAddress returns the validator with the given address, or nil.
func (vs *ValidatorSet) ByAddress(addr string) *Validator {
	for _, v := range vs.Validators {
		if v.Address == addr {
			return v
		}
	}
	return nil
}

// Authorities returns the subset of validators with veto power.
func (vs *ValidatorSet) Authorities() []*Validator {
	var out []*Validator
	for _, v := range vs.Validators {
		if v.IsAuthority() {
			out = append(out, v)
		}
	}
	return out
}

// RecomputeTotalStake recomputes TotalStake from the validator list; callers
// must call this after any stake mutation so the invariant holds.
func (vs *ValidatorSet) RecomputeTotalStake() {
	var total uint64
	for _, v := range vs.Validators {
		total += v.Stake
	}
	vs.TotalStake = total
}

// ChainState tracks the two global supply counters.
type ChainState struct {
	TotalSupply uint64 `json:"total_supply"`
	BurnedFees  uint64 `json:"burned_fees"`
}

// ComplianceProfile is the KYC/AML record the compliance engine consults.
type ComplianceProfile struct {
	Address     string       `json:"address"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	KYCLevel    uint8        `json:"kyc_level"`
	IsVerified  bool         `json:"is_verified"`
	LastUpdated int64        `json:"last_updated"` // unix seconds
}

// Property is a tokenized real-estate asset.
type Property struct {
	ID                   string             `json:"id"`
	Owner                string             `json:"owner"`
	CoOwners             map[string]uint32  `json:"co_owners,omitempty"` // address -> basis points
	Jurisdiction         Jurisdiction       `json:"jurisdiction"`
	LegalDescription     string             `json:"legal_description,omitempty"`
	Latitude             float64            `json:"latitude,omitempty"`
	Longitude            float64            `json:"longitude,omitempty"`
	ValuationEUR         uint64             `json:"valuation_eur"`
	OracleSource         string             `json:"oracle_source,omitempty"`
	TitleDeedHash        string             `json:"title_deed_hash,omitempty"`
	SurveyHash           string             `json:"survey_hash,omitempty"`
	Mortgages            []string           `json:"mortgages,omitempty"`
	Liens                []string           `json:"liens,omitempty"`
	VisaProgramEligible  bool               `json:"visa_program_eligible"`
	KYCStatus            uint8              `json:"kyc_status"`
	AMLCleared           bool               `json:"aml_cleared"`
	MinimumInvestmentMet bool               `json:"minimum_investment_met"`
}

// TotalCoOwnerBasisPoints sums the fractional shares held by co-owners.
func (p *Property) TotalCoOwnerBasisPoints() uint32 {
	var total uint32
	for _, bp := range p.CoOwners {
		total += bp
	}
	return total
}

// VisaApplication is a residency application tied to a property investment.
type VisaApplication struct {
	Applicant        string            `json:"applicant"`
	PropertyID       string            `json:"property_id"`
	InvestmentAmount uint64            `json:"investment_amount"`
	Program          VisaProgram       `json:"program"`
	Status           ApplicationStatus `json:"status"`
	Timestamp        int64             `json:"timestamp"`
}

// Escrow holds funds pending a release or refund decision by an arbiter.
type Escrow struct {
	ID         string       `json:"id"`
	Sender     string       `json:"sender"`
	Receiver   string       `json:"receiver"`
	Arbiter    string       `json:"arbiter"`
	Amount     uint64       `json:"amount"`
	Conditions string       `json:"conditions,omitempty"`
	Status     EscrowStatus `json:"status"`
	CreatedAt  int64        `json:"created_at"`
}

// MultiSigAccount is a co-signing account created by CreateMultiSig.
type MultiSigAccount struct {
	Address   string   `json:"address"`
	Owners    []string `json:"owners"`
	Threshold uint32   `json:"threshold"`
}

// OracleReport is a signed price observation from an authorized reporter.
type OracleReport struct {
	AssetID   string `json:"asset_id"`
	PriceEUR  uint64 `json:"price_eur"`
	Timestamp int64  `json:"timestamp"`
	Reporter  string `json:"reporter"`
	Signature []byte `json:"signature"`
	PubKey    []byte `json:"pub_key"`
}

// BftMessage is a single signed consensus vote.
type BftMessage struct {
	Height    uint64  `json:"height"`
	Round     uint64  `json:"round"`
	Step      Step    `json:"step"`
	BlockHash *string `json:"block_hash,omitempty"` // nil denotes NIL
	Validator string  `json:"validator"`
	Signature []byte  `json:"signature"`
}

// IsNil reports whether the vote is for NIL (no block).
func (m *BftMessage) IsNil() bool { return m.BlockHash == nil }
