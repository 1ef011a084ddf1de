package execution

import (
	"crypto/ed25519"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/compliance"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/oracle"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
	"github.com/aureum-chain/aureum-node/pkg/vm"
)

type account struct {
	addr string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newAccount(t *testing.T) account {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := crypto.GenerateAddress(pub)
	if err != nil {
		t.Fatalf("generate address: %v", err)
	}
	return account{addr: addr, priv: priv, pub: pub}
}

func (a account) newTx(txType types.TxType, receiver string, amount, nonce, fee uint64, payload []byte) *types.Transaction {
	tx := &types.Transaction{
		Sender: a.addr, Receiver: receiver, Amount: amount, Nonce: nonce, Fee: fee,
		PubKey: a.pub, Type: txType, Payload: payload,
	}
	tx.Signature = crypto.Sign(a.priv, codec.EncodeTransactionSignable(tx))
	return tx
}

func newTestPipeline(t *testing.T) (*Pipeline, *storage.Store) {
	t.Helper()
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))
	p := New(s, compliance.NewEngine(), vm.NewDeterministicVM(), oracle.NewOracle(nil), nil)
	return p, s
}

// S1: Transfer scenario from §8.
func TestApplyBlock_S1Transfer(t *testing.T) {
	p, s := newTestPipeline(t)
	g := newAccount(t)
	a := newAccount(t)

	if err := s.SetBalance(g.addr, 1_000_000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := s.SaveChainState(&types.ChainState{TotalSupply: 21_000_000_000}); err != nil {
		t.Fatalf("seed chain state: %v", err)
	}

	tx := g.newTx(types.TxTransfer, a.addr, 500_000, 0, 100, nil)
	outcomes, totalFees, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Applied {
		t.Fatalf("expected tx applied, got %+v", outcomes)
	}
	if totalFees != 100 {
		t.Fatalf("expected total fees 100, got %d", totalFees)
	}

	gBal, _ := s.GetBalance(g.addr)
	aBal, _ := s.GetBalance(a.addr)
	if gBal != 499_900 {
		t.Errorf("expected G balance 499900, got %d", gBal)
	}
	if aBal != 500_000 {
		t.Errorf("expected A balance 500000, got %d", aBal)
	}
	gNonce, _ := s.GetNonce(g.addr)
	if gNonce != 1 {
		t.Errorf("expected G nonce 1, got %d", gNonce)
	}
	cs, _ := s.GetChainState()
	if cs.BurnedFees != 50 {
		t.Errorf("expected burned fees 50, got %d", cs.BurnedFees)
	}
}

// S2: Property + Visa scenario from §8.
func TestApplyBlock_S2PropertyAndVisa(t *testing.T) {
	p, s := newTestPipeline(t)
	a := newAccount(t)
	if err := s.SetBalance(a.addr, 1_000_000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	tokenizeTx := a.newTx(types.TxTokenizeProperty, "", 350_000, 0, 0, nil)
	outcomes, _, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tokenizeTx})
	if err != nil {
		t.Fatalf("apply tokenize: %v", err)
	}
	if !outcomes[0].Applied {
		t.Fatalf("expected tokenize applied: %+v", outcomes[0].Err)
	}

	propID := TxHashHex(tokenizeTx)
	prop, err := s.GetProperty(propID)
	if err != nil {
		t.Fatalf("get property: %v", err)
	}
	if prop.ValuationEUR != 350_000 {
		t.Errorf("expected valuation 350000, got %d", prop.ValuationEUR)
	}
	if prop.VisaProgramEligible {
		t.Errorf("expected visa ineligible below 500000 threshold")
	}

	// The Portugal program is gated by the Portugal compliance rule: a stored,
	// verified KYC-2 profile whose holding period has elapsed at `now`.
	if err := s.SaveComplianceProfile(&types.ComplianceProfile{
		Address: a.addr, Jurisdiction: types.JurisdictionPortugal, KYCLevel: 2, IsVerified: true, LastUpdated: 0,
	}); err != nil {
		t.Fatalf("seed compliance profile: %v", err)
	}
	visaPayload := EncodeFields([]byte(propID), []byte(types.VisaProgramPortugal))
	visaTx := a.newTx(types.TxApplyForVisa, "", 0, 1, 0, visaPayload)
	outcomes, _, _, err = p.ApplyBlock(2, 157_680_000, []*types.Transaction{visaTx})
	if err != nil {
		t.Fatalf("apply visa: %v", err)
	}
	if !outcomes[0].Applied {
		t.Fatalf("expected visa application applied: %+v", outcomes[0].Err)
	}

	app, err := s.GetVisaApplication(a.addr)
	if err != nil {
		t.Fatalf("get visa application: %v", err)
	}
	if app.Status != types.ApplicationPending {
		t.Errorf("expected pending status, got %s", app.Status)
	}
}

// S6: Compliance reject scenario from §8.
func TestApplyBlock_S6ComplianceReject(t *testing.T) {
	p, s := newTestPipeline(t)
	sender := newAccount(t)
	receiver := newAccount(t)

	if err := s.SetBalance(sender.addr, 1_000_000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := s.SaveComplianceProfile(&types.ComplianceProfile{
		Address: sender.addr, Jurisdiction: types.JurisdictionPortugal, KYCLevel: 1, IsVerified: true,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	// Transfer itself is evaluated under Global jurisdiction by default;
	// force a Portugal-gated path via RegisterCompliance self-jurisdiction
	// isn't applicable here, so this test targets ApplyForVisa's Portugal
	// gating directly, matching §8's compliance-reject scenario intent.
	propID := "nonexistent-property"
	visaPayload := EncodeFields([]byte(propID), []byte(types.VisaProgramPortugal))
	tx := sender.newTx(types.TxApplyForVisa, "", 0, 0, 0, visaPayload)

	outcomes, _, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if outcomes[0].Applied {
		t.Fatalf("expected rejection for insufficient KYC level under Portugal")
	}
	if outcomes[0].Err != ErrComplianceReject {
		t.Fatalf("expected ErrComplianceReject, got %v", outcomes[0].Err)
	}

	nonce, _ := s.GetNonce(sender.addr)
	if nonce != 0 {
		t.Errorf("expected nonce unchanged on rejection, got %d", nonce)
	}
	_ = receiver
}

// Stake must debit amount+fee from the sender's balance, not mint stake for
// free; Unstake must credit the released amount back to the sender's
// balance net of the fee.
func TestApplyBlock_StakeDebitsSenderBalance(t *testing.T) {
	p, s := newTestPipeline(t)
	v := newAccount(t)
	if err := s.SetBalance(v.addr, 10_000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := s.SaveValidatorSet(&types.ValidatorSet{
		Validators: []*types.Validator{{Address: v.addr, PubKey: v.pub, Stake: 1_000, Role: types.RoleStandard}},
		TotalStake: 1_000,
	}); err != nil {
		t.Fatalf("seed validator set: %v", err)
	}

	tx := v.newTx(types.TxStake, "", 2_000, 0, 100, nil)
	outcomes, totalFees, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if !outcomes[0].Applied {
		t.Fatalf("expected stake applied: %+v", outcomes[0].Err)
	}
	if totalFees != 100 {
		t.Fatalf("expected total fees 100, got %d", totalFees)
	}

	bal, _ := s.GetBalance(v.addr)
	if bal != 10_000-2_000-100 {
		t.Errorf("expected sender balance debited by amount+fee, got %d", bal)
	}
	vs, err := s.GetValidatorSet()
	if err != nil {
		t.Fatalf("get validator set: %v", err)
	}
	got := vs.ByAddress(v.addr)
	if got == nil || got.Stake != 3_000 {
		t.Errorf("expected stake 3000, got %+v", got)
	}
	if vs.TotalStake != 3_000 {
		t.Errorf("expected total stake 3000, got %d", vs.TotalStake)
	}
}

func TestApplyBlock_UnstakeCreditsSenderBalance(t *testing.T) {
	p, s := newTestPipeline(t)
	v := newAccount(t)
	if err := s.SetBalance(v.addr, 500); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := s.SaveValidatorSet(&types.ValidatorSet{
		Validators: []*types.Validator{{Address: v.addr, PubKey: v.pub, Stake: 3_000, Role: types.RoleStandard}},
		TotalStake: 3_000,
	}); err != nil {
		t.Fatalf("seed validator set: %v", err)
	}

	tx := v.newTx(types.TxUnstake, "", 1_000, 0, 50, nil)
	outcomes, _, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if !outcomes[0].Applied {
		t.Fatalf("expected unstake applied: %+v", outcomes[0].Err)
	}

	bal, _ := s.GetBalance(v.addr)
	if bal != 500+1_000-50 {
		t.Errorf("expected sender balance credited by amount minus fee, got %d", bal)
	}
	vs, err := s.GetValidatorSet()
	if err != nil {
		t.Fatalf("get validator set: %v", err)
	}
	got := vs.ByAddress(v.addr)
	if got == nil || got.Stake != 2_000 {
		t.Errorf("expected stake 2000, got %+v", got)
	}
}

func TestApplyBlock_NonceMismatchRejected(t *testing.T) {
	p, s := newTestPipeline(t)
	a := newAccount(t)
	if err := s.SetBalance(a.addr, 1000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := a.newTx(types.TxTransfer, newAccount(t).addr, 100, 5, 0, nil) // wrong nonce
	outcomes, _, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if outcomes[0].Applied || outcomes[0].Err != ErrNonceMismatch {
		t.Fatalf("expected ErrNonceMismatch, got %+v", outcomes[0])
	}
}

func TestApplyBlock_InvalidSignatureRejected(t *testing.T) {
	p, _ := newTestPipeline(t)
	a := newAccount(t)
	tx := a.newTx(types.TxTransfer, newAccount(t).addr, 100, 0, 0, nil)
	tx.Signature[0] ^= 0xFF

	outcomes, _, _, err := p.ApplyBlock(1, 0, []*types.Transaction{tx})
	if err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if outcomes[0].Applied || outcomes[0].Err != ErrSignatureInvalid {
		t.Fatalf("expected ErrSignatureInvalid, got %+v", outcomes[0])
	}
}
