package oracle

import (
	"crypto/ed25519"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/codec"
	"github.com/aureum-chain/aureum-node/pkg/crypto"
	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/types"
)

type reporter struct {
	addr string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newReporter(t *testing.T) reporter {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr, err := crypto.GenerateAddress(pub)
	if err != nil {
		t.Fatalf("generate address: %v", err)
	}
	return reporter{addr: addr, priv: priv, pub: pub}
}

func (r reporter) sign(assetID string, price uint64, ts int64) *types.OracleReport {
	report := &types.OracleReport{AssetID: assetID, PriceEUR: price, Timestamp: ts, Reporter: r.addr, PubKey: r.pub}
	report.Signature = crypto.Sign(r.priv, codec.EncodeOracleReportSignable(report))
	return report
}

func TestSubmitReport_MedianFinalization(t *testing.T) {
	r1, r2, r3, r4 := newReporter(t), newReporter(t), newReporter(t), newReporter(t)
	o := NewOracle([]string{r1.addr, r2.addr, r3.addr, r4.addr})
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))

	if err := o.SubmitReport(s, r1.sign("asset1", 100, 1)); err != nil {
		t.Fatalf("submit r1: %v", err)
	}
	if _, err := s.GetPrice("asset1"); err != storage.ErrNotFound {
		t.Fatalf("expected no price yet, got err=%v", err)
	}

	if err := o.SubmitReport(s, r2.sign("asset1", 110, 2)); err != nil {
		t.Fatalf("submit r2: %v", err)
	}
	if _, err := s.GetPrice("asset1"); err != storage.ErrNotFound {
		t.Fatalf("expected no price yet after 2 reports, got err=%v", err)
	}

	// threshold for n=4 authorized reporters is floor(4/2)+1 = 3
	if err := o.SubmitReport(s, r3.sign("asset1", 90, 3)); err != nil {
		t.Fatalf("submit r3: %v", err)
	}
	price, err := s.GetPrice("asset1")
	if err != nil {
		t.Fatalf("expected finalized price: %v", err)
	}
	if price != 100 {
		t.Fatalf("expected median 100, got %d", price)
	}

	// A duplicate submission from r1 after finalization starts a fresh round
	// rather than being silently ignored against the old round, since the
	// asset's pending slot was cleared.
	if o.PendingCount("asset1") != 0 {
		t.Fatalf("expected pending slot cleared after finalization")
	}
}

func TestSubmitReport_DuplicateReporterRejected(t *testing.T) {
	r1, r2 := newReporter(t), newReporter(t)
	o := NewOracle([]string{r1.addr, r2.addr})
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))

	if err := o.SubmitReport(s, r1.sign("asset1", 100, 1)); err != nil {
		t.Fatalf("submit r1: %v", err)
	}
	if err := o.SubmitReport(s, r1.sign("asset1", 105, 2)); err != ErrDuplicateReport {
		t.Fatalf("expected ErrDuplicateReport, got %v", err)
	}
}

func TestSubmitReport_UnauthorizedRejected(t *testing.T) {
	r1, outsider := newReporter(t), newReporter(t)
	o := NewOracle([]string{r1.addr})
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))

	if err := o.SubmitReport(s, outsider.sign("asset1", 100, 1)); err != ErrUnauthorizedReporter {
		t.Fatalf("expected ErrUnauthorizedReporter, got %v", err)
	}
}

func TestSubmitReport_InvalidSignatureRejected(t *testing.T) {
	r1 := newReporter(t)
	o := NewOracle([]string{r1.addr})
	s := storage.NewStore(kvdb.NewKVAdapter(dbm.NewMemDB()))

	report := r1.sign("asset1", 100, 1)
	report.Signature[0] ^= 0xFF
	if err := o.SubmitReport(s, report); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
