// Copyright 2025 Certen Protocol
//
// Package execution applies a block's transactions to storage in order,
// enforcing signature, nonce, balance, and compliance invariants, and
// dispatching contract variants to the VM.
package execution

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/compliance"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/oracle"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
	"github.com/aureum-chain/aureum-node/pkg/vm"
)

// MaxCoOwnerBasisPoints is the cap on total fractional ownership of a
// Property.
const MaxCoOwnerBasisPoints = 10_000

// VisaEligibilityThreshold is the minimum property valuation (in EUR) that
// makes a TokenizeProperty record visa-program eligible.
const VisaEligibilityThreshold = 500_000

// DefaultTokenizeJurisdiction is the jurisdiction assigned to properties
// tokenized without an explicit jurisdiction override — Portugal on this
// network. It is a fixed constant; genesis does not configure it.
const DefaultTokenizeJurisdiction = types.JurisdictionPortugal

var (
	ErrSignatureInvalid = errors.New("execution: invalid signature")
	ErrComplianceReject = errors.New("execution: compliance check rejected")
	ErrNonceMismatch    = errors.New("execution: nonce mismatch")
	ErrInsufficientFunds = errors.New("execution: insufficient balance")
)

// Outcome is the per-transaction result of a Commit-step application.
type Outcome struct {
	Tx      *types.Transaction
	Applied bool
	Err     error // non-nil when Applied is false; nil does not imply success for VM calls
	Fee     uint64
}

// Pipeline applies transactions against storage, the compliance engine, and
// the VM.
type Pipeline struct {
	store      *storage.Store
	compliance *compliance.Engine
	vm         vm.VM
	oracle     *oracle.Oracle
	logger     *log.Logger
}

// New constructs a transaction execution pipeline. oracle may be nil if the
// node does not accept SubmitOracleReport transactions (e.g. in isolated
// unit tests of other variants).
func New(store *storage.Store, complianceEngine *compliance.Engine, v vm.VM, o *oracle.Oracle, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{store: store, compliance: complianceEngine, vm: v, oracle: o, logger: logger}
}

// touched accumulates the set of addresses whose balance/nonce changed
// during ApplyBlock, for CalculateStateRoot.
type touched map[string]struct{}

func (t touched) mark(addr string) { t[addr] = struct{}{} }

// ApplyBlock applies every transaction in order and returns one Outcome per
// transaction plus the total fees collected from applied transactions.
func (p *Pipeline) ApplyBlock(height uint64, now int64, txs []*types.Transaction) ([]Outcome, uint64, []storage.AccountDelta, error) {
	outcomes := make([]Outcome, 0, len(txs))
	dirty := touched{}
	var totalFees uint64

	for _, tx := range txs {
		applied, fee, err := p.applyOne(height, now, tx, dirty)
		outcomes = append(outcomes, Outcome{Tx: tx, Applied: applied, Err: err, Fee: fee})
		if applied {
			totalFees += fee
		}
	}

	deltas, err := p.snapshotDeltas(dirty)
	if err != nil {
		return outcomes, totalFees, nil, err
	}
	return outcomes, totalFees, deltas, nil
}

func (p *Pipeline) snapshotDeltas(dirty touched) ([]storage.AccountDelta, error) {
	deltas := make([]storage.AccountDelta, 0, len(dirty))
	for addr := range dirty {
		bal, err := p.store.GetBalance(addr)
		if err != nil {
			return nil, err
		}
		nonce, err := p.store.GetNonce(addr)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, storage.AccountDelta{Address: addr, Balance: bal, Nonce: nonce})
	}
	return deltas, nil
}

// applyOne runs the five-stage pipeline (§4.5) for a single transaction.
func (p *Pipeline) applyOne(height uint64, now int64, tx *types.Transaction, dirty touched) (applied bool, fee uint64, err error) {
	// 1. Signature.
	if !VerifyTransactionSignature(tx) {
		p.logger.Printf("rejecting tx from %s: %v", tx.Sender, ErrSignatureInvalid)
		return false, 0, ErrSignatureInvalid
	}

	// 2. Compliance.
	jurisdiction := compliance.JurisdictionForTx(tx, visaProgramFromPayload(tx))
	ok, cerr := p.compliance.VerifyTransaction(p.store, tx.Sender, tx.Receiver, tx.Amount, jurisdiction, now)
	if cerr != nil {
		return false, 0, fmt.Errorf("execution: compliance check: %w", cerr)
	}
	if !ok {
		p.logger.Printf("rejecting tx from %s: %v", tx.Sender, ErrComplianceReject)
		return false, 0, ErrComplianceReject
	}

	// 3. Nonce.
	currentNonce, err := p.store.GetNonce(tx.Sender)
	if err != nil {
		return false, 0, err
	}
	if tx.Nonce != currentNonce {
		p.logger.Printf("rejecting tx from %s: %v (want %d got %d)", tx.Sender, ErrNonceMismatch, currentNonce, tx.Nonce)
		return false, 0, ErrNonceMismatch
	}

	// 4. Balance precheck for value-moving variants.
	if requiresBalancePrecheck(tx.Type) {
		bal, err := p.store.GetBalance(tx.Sender)
		if err != nil {
			return false, 0, err
		}
		if bal < tx.Amount+tx.Fee {
			p.logger.Printf("rejecting tx from %s: %v", tx.Sender, ErrInsufficientFunds)
			return false, 0, ErrInsufficientFunds
		}
	}

	// 5. Apply variant, then bump nonce exactly once.
	if err := p.applyVariant(height, now, tx, dirty); err != nil {
		return false, 0, err
	}
	if err := p.store.IncrementNonce(tx.Sender); err != nil {
		return false, 0, err
	}
	dirty.mark(tx.Sender)
	return true, tx.Fee, nil
}

func requiresBalancePrecheck(t types.TxType) bool {
	switch t {
	case types.TxTransfer, types.TxStake, types.TxTokenizeProperty, types.TxContractCreate,
		types.TxContractCall, types.TxTransferFraction, types.TxEscrowCreate:
		return true
	default:
		return false
	}
}

// applyVariant dispatches to the per-variant handler. See §9: a failed
// ContractCreate/ContractCall still counts as "applied" here (the nonce
// bump policy decision) — only its VM-level success/failure is reflected in
// the transaction's log, not in the pipeline's applied/rejected outcome.
func (p *Pipeline) applyVariant(height uint64, now int64, tx *types.Transaction, dirty touched) error {
	switch tx.Type {
	case types.TxTransfer:
		return p.applyTransfer(tx, dirty)
	case types.TxStake:
		return p.applyStake(tx, true)
	case types.TxUnstake:
		return p.applyStake(tx, false)
	case types.TxTokenizeProperty:
		return p.applyTokenizeProperty(tx, dirty)
	case types.TxApplyForVisa:
		return p.applyForVisa(tx, now)
	case types.TxContractCreate:
		return p.applyContract(tx, vm.ZeroAddress, dirty)
	case types.TxContractCall:
		return p.applyContract(tx, tx.Receiver, dirty)
	case types.TxRegisterCompliance:
		return p.applyRegisterCompliance(tx)
	case types.TxSubmitOracleReport:
		return p.applySubmitOracleReport(tx)
	case types.TxTransferFraction:
		return p.applyTransferFraction(tx, dirty)
	case types.TxCreateMultiSig:
		return p.applyCreateMultiSig(tx)
	case types.TxEscrowCreate:
		return p.applyEscrowCreate(tx, now, dirty)
	case types.TxEscrowRelease:
		return p.applyEscrowRelease(tx, dirty)
	case types.TxEscrowRefund:
		return p.applyEscrowRefund(tx, dirty)
	default:
		return fmt.Errorf("execution: unknown transaction variant %q", tx.Type)
	}
}

func (p *Pipeline) applyTransfer(tx *types.Transaction, dirty touched) error {
	senderBal, err := p.store.GetBalance(tx.Sender)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(tx.Sender, senderBal-tx.Amount-tx.Fee); err != nil {
		return err
	}
	recvBal, err := p.store.GetBalance(tx.Receiver)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(tx.Receiver, recvBal+tx.Amount); err != nil {
		return err
	}
	dirty.mark(tx.Receiver)

	burn := tx.Fee / 2
	if burn > 0 {
		if err := p.burnFee(burn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) burnFee(amount uint64) error {
	cs, err := p.store.GetChainState()
	if err != nil {
		return err
	}
	cs.TotalSupply -= amount
	cs.BurnedFees += amount
	return p.store.SaveChainState(cs)
}

// applyStake moves value between a validator's liquid balance and its
// staked weight. Stake debits amount+fee from the sender's balance exactly
// like any other value-moving variant (requiresBalancePrecheck already
// verified sufficient funds); the fee still joins the block's reward pool,
// so it must actually come out of the sender. Unstake is the inverse: it
// credits the released amount back to the sender's balance and charges the
// fee out of that same balance, since Unstake is not one of the variants
// requiresBalancePrecheck gates on amount+fee (the amount being released was
// never held as liquid balance to begin with).
func (p *Pipeline) applyStake(tx *types.Transaction, stake bool) error {
	vs, err := p.store.GetValidatorSet()
	if err != nil {
		return err
	}
	v := vs.ByAddress(tx.Sender)
	if v == nil {
		return fmt.Errorf("execution: %s is not a validator", tx.Sender)
	}

	senderBal, err := p.store.GetBalance(tx.Sender)
	if err != nil {
		return err
	}

	if stake {
		if err := p.store.SetBalance(tx.Sender, senderBal-tx.Amount-tx.Fee); err != nil {
			return err
		}
		v.Stake += tx.Amount
	} else {
		if v.Stake < tx.Amount {
			return fmt.Errorf("execution: unstake amount exceeds validator stake")
		}
		if senderBal < tx.Fee {
			return ErrInsufficientFunds
		}
		if err := p.store.SetBalance(tx.Sender, senderBal+tx.Amount-tx.Fee); err != nil {
			return err
		}
		v.Stake -= tx.Amount
	}
	vs.RecomputeTotalStake()
	return p.store.SaveValidatorSet(vs)
}

func (p *Pipeline) applyTokenizeProperty(tx *types.Transaction, dirty touched) error {
	senderBal, err := p.store.GetBalance(tx.Sender)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(tx.Sender, senderBal-tx.Amount-tx.Fee); err != nil {
		return err
	}
	id := TxHashHex(tx)
	prop := &types.Property{
		ID:                   id,
		Owner:                tx.Sender,
		Jurisdiction:         DefaultTokenizeJurisdiction,
		ValuationEUR:         tx.Amount,
		VisaProgramEligible:  tx.Amount >= VisaEligibilityThreshold,
		KYCStatus:            1,
		AMLCleared:           true,
		MinimumInvestmentMet: tx.Amount >= VisaEligibilityThreshold,
	}
	if len(tx.Payload) > 0 {
		prop.LegalDescription = string(tx.Payload)
	}
	return p.store.SaveProperty(prop)
}

func (p *Pipeline) applyForVisa(tx *types.Transaction, now int64) error {
	propID, program := decodeVisaPayload(tx.Payload)
	prop, err := p.store.GetProperty(propID)
	if err != nil {
		return fmt.Errorf("execution: visa application property lookup: %w", err)
	}
	if prop.Owner != tx.Sender {
		return fmt.Errorf("execution: %s does not own property %s", tx.Sender, propID)
	}
	app := &types.VisaApplication{
		Applicant:        tx.Sender,
		PropertyID:       propID,
		InvestmentAmount: prop.ValuationEUR,
		Program:          program,
		Status:           types.ApplicationPending,
		Timestamp:        now,
	}
	return p.store.SaveVisaApplication(app)
}

func (p *Pipeline) applyContract(tx *types.Transaction, target string, dirty touched) error {
	senderBal, err := p.store.GetBalance(tx.Sender)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(tx.Sender, senderBal-tx.Amount-tx.Fee); err != nil {
		return err
	}
	// A failed VM call is still a transaction-level success for pipeline
	// purposes (nonce bumps, §9 resolved open question); only the VM's own
	// success flag, logged here, reflects the contract-level outcome.
	res, err := p.vm.Execute(p.store, tx.Sender, target, tx.Payload, tx.Amount)
	if err != nil {
		return fmt.Errorf("execution: vm execute: %w", err)
	}
	if !res.Success {
		p.logger.Printf("vm call from %s to %s failed (nonce still bumped per policy)", tx.Sender, target)
	}
	return nil
}

func (p *Pipeline) applyRegisterCompliance(tx *types.Transaction) error {
	profile, err := decodeCompliancePayload(tx.Payload, tx.Sender)
	if err != nil {
		return err
	}
	return p.store.SaveComplianceProfile(profile)
}

func (p *Pipeline) applySubmitOracleReport(tx *types.Transaction) error {
	if p.oracle == nil {
		return fmt.Errorf("execution: node is not configured to accept oracle reports")
	}
	report, err := decodeOracleReportPayload(tx.Payload)
	if err != nil {
		return err
	}
	// The oracle itself validates signature/authorization/duplicates and
	// persists the finalized median once quorum is reached.
	return p.oracle.SubmitReport(p.store, report)
}

func (p *Pipeline) applyTransferFraction(tx *types.Transaction, dirty touched) error {
	propID, to, bps := decodeTransferFractionPayload(tx.Payload)
	prop, err := p.store.GetProperty(propID)
	if err != nil {
		return err
	}
	if prop.CoOwners == nil {
		prop.CoOwners = map[string]uint32{}
	}
	prop.CoOwners[to] += bps
	if prop.TotalCoOwnerBasisPoints() > MaxCoOwnerBasisPoints {
		return fmt.Errorf("execution: co-owner basis points would exceed %d", MaxCoOwnerBasisPoints)
	}
	return p.store.SaveProperty(prop)
}

func (p *Pipeline) applyCreateMultiSig(tx *types.Transaction) error {
	owners, threshold := decodeMultiSigPayload(tx.Payload)
	addr := TxHashHex(tx)
	return p.store.SaveMultiSig(&types.MultiSigAccount{Address: addr, Owners: owners, Threshold: threshold})
}

func (p *Pipeline) applyEscrowCreate(tx *types.Transaction, now int64, dirty touched) error {
	senderBal, err := p.store.GetBalance(tx.Sender)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(tx.Sender, senderBal-tx.Amount-tx.Fee); err != nil {
		return err
	}
	receiver, arbiter, conditions := decodeEscrowCreatePayload(tx.Payload)
	escrow := &types.Escrow{
		ID:         TxHashHex(tx),
		Sender:     tx.Sender,
		Receiver:   receiver,
		Arbiter:    arbiter,
		Amount:     tx.Amount,
		Conditions: conditions,
		Status:     types.EscrowPending,
		CreatedAt:  now,
	}
	return p.store.SaveEscrow(escrow)
}

func (p *Pipeline) applyEscrowRelease(tx *types.Transaction, dirty touched) error {
	escrowID := string(tx.Payload)
	escrow, err := p.store.GetEscrow(escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != types.EscrowPending {
		return fmt.Errorf("execution: escrow %s is not pending", escrowID)
	}
	if tx.Sender != escrow.Arbiter && tx.Sender != escrow.Sender {
		return fmt.Errorf("execution: %s is not authorized to release escrow %s", tx.Sender, escrowID)
	}
	recvBal, err := p.store.GetBalance(escrow.Receiver)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(escrow.Receiver, recvBal+escrow.Amount); err != nil {
		return err
	}
	dirty.mark(escrow.Receiver)
	escrow.Status = types.EscrowReleased
	return p.store.SaveEscrow(escrow)
}

func (p *Pipeline) applyEscrowRefund(tx *types.Transaction, dirty touched) error {
	escrowID := string(tx.Payload)
	escrow, err := p.store.GetEscrow(escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != types.EscrowPending {
		return fmt.Errorf("execution: escrow %s is not pending", escrowID)
	}
	if tx.Sender != escrow.Arbiter {
		return fmt.Errorf("execution: %s is not the arbiter of escrow %s", tx.Sender, escrowID)
	}
	senderBal, err := p.store.GetBalance(escrow.Sender)
	if err != nil {
		return err
	}
	if err := p.store.SetBalance(escrow.Sender, senderBal+escrow.Amount); err != nil {
		return err
	}
	dirty.mark(escrow.Sender)
	escrow.Status = types.EscrowRefunded
	return p.store.SaveEscrow(escrow)
}

// VerifyTransactionSignature checks §4.2's signature contract: the address
// derived from pub_key must match sender, and the Ed25519 signature must
// verify over the canonical signed message.
func VerifyTransactionSignature(tx *types.Transaction) bool {
	addr, err := crypto.GenerateAddress(tx.PubKey)
	if err != nil || addr != tx.Sender {
		return false
	}
	return crypto.VerifySignature(tx.PubKey, codec.EncodeTransactionSignable(tx), tx.Signature)
}

// TxHashHex computes (and caches) the hex-encoded transaction hash.
func TxHashHex(tx *types.Transaction) string {
	if h := tx.CachedHash(); h != nil {
		return hex.EncodeToString(h)
	}
	h := crypto.Keccak256(codec.EncodeTransactionSignable(tx))
	tx.SetCachedHash(h)
	return hex.EncodeToString(h)
}

// ---- payload decoding helpers ----
//
// Transaction payloads are themselves canonically encoded length-prefixed
// field tuples, reusing codec's primitives so every variant shares one
// wire-format discipline.

func visaProgramFromPayload(tx *types.Transaction) types.VisaProgram {
	if tx.Type != types.TxApplyForVisa {
		return types.VisaProgramPortugal
	}
	_, program := decodeVisaPayload(tx.Payload)
	return program
}

func decodeVisaPayload(payload []byte) (propertyID string, program types.VisaProgram) {
	fields := splitFields(payload)
	if len(fields) >= 2 {
		return string(fields[0]), types.VisaProgram(fields[1])
	}
	return "", types.VisaProgramPortugal
}

func decodeCompliancePayload(payload []byte, sender string) (*types.ComplianceProfile, error) {
	fields := splitFields(payload)
	if len(fields) < 4 || len(fields[1]) < 1 || len(fields[2]) < 1 || len(fields[3]) < 8 {
		return nil, fmt.Errorf("execution: malformed compliance payload")
	}
	lastUpdated := int64(binary.BigEndian.Uint64(fields[3]))
	return &types.ComplianceProfile{
		Address:      sender,
		Jurisdiction: types.Jurisdiction(fields[0]),
		KYCLevel:     fields[1][0],
		IsVerified:   fields[2][0] == 1,
		LastUpdated:  lastUpdated,
	}, nil
}

func decodeTransferFractionPayload(payload []byte) (propertyID, to string, basisPoints uint32) {
	fields := splitFields(payload)
	if len(fields) < 3 || len(fields[2]) < 4 {
		return "", "", 0
	}
	return string(fields[0]), string(fields[1]), uint32(binary.BigEndian.Uint32(fields[2]))
}

func decodeMultiSigPayload(payload []byte) (owners []string, threshold uint32) {
	fields := splitFields(payload)
	if len(fields) < 2 || len(fields[len(fields)-1]) < 4 {
		return nil, 0
	}
	threshold = uint32(binary.BigEndian.Uint32(fields[len(fields)-1]))
	for _, f := range fields[:len(fields)-1] {
		owners = append(owners, string(f))
	}
	return owners, threshold
}

func decodeOracleReportPayload(payload []byte) (*types.OracleReport, error) {
	fields := splitFields(payload)
	if len(fields) < 6 || len(fields[1]) < 8 || len(fields[2]) < 8 {
		return nil, fmt.Errorf("execution: malformed oracle report payload")
	}
	return &types.OracleReport{
		AssetID:   string(fields[0]),
		PriceEUR:  binary.BigEndian.Uint64(fields[1]),
		Timestamp: int64(binary.BigEndian.Uint64(fields[2])),
		Reporter:  string(fields[3]),
		Signature: fields[4],
		PubKey:    fields[5],
	}, nil
}

func decodeEscrowCreatePayload(payload []byte) (receiver, arbiter, conditions string) {
	fields := splitFields(payload)
	switch len(fields) {
	case 3:
		return string(fields[0]), string(fields[1]), string(fields[2])
	case 2:
		return string(fields[0]), string(fields[1]), ""
	default:
		return "", "", ""
	}
}

// splitFields parses length-prefixed fields packed by codec-style writers
// (4-byte big-endian length + bytes, repeated).
func splitFields(b []byte) [][]byte {
	var out [][]byte
	pos := 0
	for pos+4 <= len(b) {
		n := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if pos+n > len(b) {
			break
		}
		out = append(out, b[pos:pos+n])
		pos += n
	}
	return out
}

// EncodeFields packs fields into the length-prefixed payload format every
// variant's Payload uses. Exported for the RPC layer and tests that need to
// construct transactions.
func EncodeFields(fields ...[]byte) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, f := range fields {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}

// EncodeU32 big-endian encodes v for use as an EncodeFields field.
func EncodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
