package deadline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/pst"
	"github.com/escrowd/coordinator/internal/walletrpc"
	"github.com/escrowd/coordinator/internal/webhook"
)

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

// setSequence returns its results in order, one per call, repeating the
// last once exhausted — used where the same RPC method is called twice
// with different expected responses (decoding before and after signing).
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

func testWorker(t *testing.T, stub *rpcStub) (*Worker, *db.DB) {
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
		BTCCoreURL: srv.URL, BTCCoreWallet: "escrow", BTCCoreUser: "u", BTCCorePass: "p",
		StuckOrderHours: 48, StuckCheckInterval: 600, SigningDeadlineDays: 3,
	}
	wc := walletrpc.New(cfg)
	engine := orders.New(store, cfg)
	wh := webhook.New(&config.Config{}, store)
	p := pst.New(wc, store, engine, cfg, wh)
	return New(store, wc, p, cfg), store
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

func TestSweepFlagsStuckOrder(t *testing.T) {
	stub := newRPCStub()
	w, store := testWorker(t, stub)

	order := &models.Order{
		OrderID:   "order1",
		Network:   models.NetworkTestnet,
		Label:     models.LabelForOrder("order1"),
		State:     models.StateAwaitingDeposit,
		CreatedAt: time.Now().Add(-72 * time.Hour).Unix(),
	}
	insertOrder(t, store, order)

	w.Sweep(context.Background())

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != models.StateAwaitingDeposit {
		t.Errorf("state = %s, want unchanged awaiting_deposit", got.State)
	}
}

func TestSweepEscalatesWatchOnlySigner(t *testing.T) {
	stub := newRPCStub()
	merged := "merged-psbt"
	stub.set("combinepsbt", merged)
	decoded := map[string]interface{}{
		"tx":      map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"inputs":  []map[string]interface{}{{"partial_signatures": map[string]interface{}{"aa": "bb"}}},
		"outputs": []interface{}{},
	}
	stub.set("decodepsbt", decoded)
	stub.set("walletprocesspsbt", map[string]interface{}{"psbt": merged, "complete": false})

	w, store := testWorker(t, stub)

	order := &models.Order{
		OrderID:    "order1",
		Network:    models.NetworkTestnet,
		Label:      models.LabelForOrder("order1"),
		State:      models.StateSigning,
		DeadlineTS: time.Now().Add(-1 * time.Hour).Unix(),
		Partials:   []string{"frag1"},
	}
	insertOrder(t, store, order)

	w.Sweep(context.Background())

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != models.StateDispute {
		t.Errorf("state = %s, want dispute", got.State)
	}
}

func TestSweepSkipsInsufficientSignatures(t *testing.T) {
	stub := newRPCStub()
	merged := "merged-psbt"
	stub.set("combinepsbt", merged)
	decodedPre := map[string]interface{}{
		"tx":      map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"inputs":  []map[string]interface{}{{"partial_signatures": map[string]interface{}{}}},
		"outputs": []interface{}{},
	}
	decodedPost := map[string]interface{}{
		"tx":      map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"inputs":  []map[string]interface{}{{"partial_signatures": map[string]interface{}{"aa": "bb"}}},
		"outputs": []interface{}{},
	}
	stub.setSequence("decodepsbt", decodedPre, decodedPost)
	stub.set("walletprocesspsbt", map[string]interface{}{"psbt": merged, "complete": false})

	w, store := testWorker(t, stub)

	order := &models.Order{
		OrderID:    "order1",
		Network:    models.NetworkTestnet,
		Label:      models.LabelForOrder("order1"),
		State:      models.StateSigning,
		DeadlineTS: time.Now().Add(-1 * time.Hour).Unix(),
		Partials:   []string{"frag1"},
	}
	insertOrder(t, store, order)

	w.Sweep(context.Background())

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != models.StateSigning {
		t.Errorf("state = %s, want unchanged signing", got.State)
	}
}

func TestSweepSkipsOrderWithoutPartials(t *testing.T) {
	stub := newRPCStub()
	w, store := testWorker(t, stub)

	order := &models.Order{
		OrderID:    "order1",
		Network:    models.NetworkTestnet,
		Label:      models.LabelForOrder("order1"),
		State:      models.StateSigning,
		DeadlineTS: time.Now().Add(-1 * time.Hour).Unix(),
	}
	insertOrder(t, store, order)

	// No RPC stubs set at all: if Sweep tried to call the wallet it would
	// fail the test via rpcStub's t.Fatalf, proving the empty-partials
	// short-circuit fired.
	w.Sweep(context.Background())

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != models.StateSigning {
		t.Errorf("state = %s, want unchanged signing", got.State)
	}
}
