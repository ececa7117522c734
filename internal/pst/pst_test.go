package pst

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/walletrpc"
	"github.com/escrowd/coordinator/internal/webhook"
)

// testTxid returns a syntactically valid 64-hex-char txid built by repeating b.
func testTxid(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return hex.EncodeToString(buf)
}

// samplePSBT builds a minimal, structurally valid (but unsigned) one-input,
// one-output PST and returns its base64 encoding. It exercises the same
// btcutil/psbt construction path used to sanity-check wallet responses.
func samplePSBT(t *testing.T, txid string, vout uint32) string {
	t.Helper()
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		t.Fatalf("NewHashFromStr() error = %v", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, vout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(50000, []byte{0x00, 0x14}))

	p, err := btcpsbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx() error = %v", err)
	}
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// rpcStub dispatches JSON-RPC method names to pre-recorded JSON results,
// mimicking the wallet node the coordinator talks to over walletrpc.Client.
// A method stubbed with setSequence returns its results in order, one per
// call, and repeats the last one once exhausted — used where a single
// operation calls the same RPC method more than once with different
// expected responses (e.g. bumpfee/finalize decoding both the staged and
// the signed PST).
type rpcStub struct {
	results  map[string]json.RawMessage
	sequence map[string][]json.RawMessage
	calls    map[string]int
}

func newRPCStub() *rpcStub {
	return &rpcStub{
		results:  map[string]json.RawMessage{},
		sequence: map[string][]json.RawMessage{},
		calls:    map[string]int{},
	}
}

func (s *rpcStub) set(method string, v interface{}) {
	b, _ := json.Marshal(v)
	s.results[method] = b
}

func (s *rpcStub) setSequence(method string, vs ...interface{}) {
	seq := make([]json.RawMessage, len(vs))
	for i, v := range vs {
		b, _ := json.Marshal(v)
		seq[i] = b
	}
	s.sequence[method] = seq
}

func (s *rpcStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		var result json.RawMessage
		if seq, ok := s.sequence[req.Method]; ok && len(seq) > 0 {
			idx := s.calls[req.Method]
			if idx >= len(seq) {
				idx = len(seq) - 1
			}
			result = seq[idx]
			s.calls[req.Method]++
		} else if r, ok := s.results[req.Method]; ok {
			result = r
		} else {
			t.Fatalf("rpcStub: no stubbed result for method %q", req.Method)
		}

		resp := map[string]interface{}{"id": req.ID, "result": json.RawMessage(result), "error": nil}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(t *testing.T, stub *rpcStub) *walletrpc.Client {
	t.Helper()
	srv := stub.server(t)
	t.Cleanup(srv.Close)
	cfg := &config.Config{BTCCoreURL: srv.URL, BTCCoreWallet: "escrow", BTCCoreUser: "u", BTCCorePass: "p"}
	return walletrpc.New(cfg)
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testPipeline(t *testing.T, stub *rpcStub) (*Pipeline, *db.DB) {
	t.Helper()
	store := testDB(t)
	cfg := &config.Config{SigningDeadlineDays: 3}
	engine := orders.New(store, cfg)
	wh := webhook.New(&config.Config{}, store)
	return New(testClient(t, stub), store, engine, cfg, wh), store
}

func insertOrder(t *testing.T, store *db.DB, o *models.Order) {
	t.Helper()
	if o.Partials == nil {
		o.Partials = []string{}
	}
	if o.Outputs == nil {
		o.Outputs = map[string]int64{}
	}
	if o.RBFPartials == nil {
		o.RBFPartials = []string{}
	}
	if o.Network == "" {
		o.Network = models.NetworkTestnet
	}
	if err := store.UpsertOrder(context.Background(), o); err != nil {
		t.Fatalf("UpsertOrder() error = %v", err)
	}
}
