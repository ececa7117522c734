package handlers

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
	"github.com/escrowd/coordinator/internal/pst"
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
// one-output PST and returns its base64 encoding.
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
type rpcStub struct {
	results map[string]json.RawMessage
	fail    map[string]bool
}

func newRPCStub() *rpcStub {
	return &rpcStub{results: map[string]json.RawMessage{}, fail: map[string]bool{}}
}

func (s *rpcStub) set(method string, v interface{}) {
	b, _ := json.Marshal(v)
	s.results[method] = b
}

func (s *rpcStub) failOn(method string) {
	s.fail[method] = true
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
		if s.fail[req.Method] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		result, ok := s.results[req.Method]
		if !ok {
			t.Fatalf("rpcStub: no stubbed result for method %q", req.Method)
		}
		resp := map[string]interface{}{"id": req.ID, "result": json.RawMessage(result), "error": nil}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

// testDeps wires a full Deps bundle against an in-memory sqlite store and a
// stub wallet node, mirroring how cmd/server/main.go assembles the real one.
func testDeps(t *testing.T, stub *rpcStub) *Deps {
	t.Helper()
	srv := stub.server(t)
	t.Cleanup(srv.Close)

	store, err := db.New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		BTCCoreURL:          srv.URL,
		BTCCoreWallet:       "escrow",
		BTCCoreUser:         "u",
		BTCCorePass:         "p",
		SigningDeadlineDays: 3,
	}
	wc := walletrpc.New(cfg)
	engine := orders.New(store, cfg)
	wh := webhook.New(cfg, store)
	pipeline := pst.New(wc, store, engine, cfg, wh)

	return &Deps{DB: store, WC: wc, Engine: engine, PST: pipeline, Webhook: wh, Cfg: cfg}
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

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal response body: %v (body=%s)", err, w.Body.String())
	}
}
