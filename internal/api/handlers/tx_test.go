package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/escrowd/coordinator/internal/pst"
)

func TestBroadcastWiresRequestToPipeline(t *testing.T) {
	stub := newRPCStub()
	stub.set("sendrawtransaction", "txid123")
	deps := testDeps(t, stub)

	r := chi.NewRouter()
	r.Post("/tx/broadcast", Broadcast(deps))

	w := postJSON(t, r, "/tx/broadcast", BroadcastReq{Hex: "deadbeef"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	var res pst.BroadcastResult
	decodeBody(t, w, &res)
	if res.Txid != "txid123" {
		t.Errorf("Txid = %q, want txid123", res.Txid)
	}
}

func TestBroadcastRejectsUnknownOrder(t *testing.T) {
	stub := newRPCStub()
	stub.set("sendrawtransaction", "txid123")
	deps := testDeps(t, stub)
	r := chi.NewRouter()
	r.Post("/tx/broadcast", Broadcast(deps))

	w := postJSON(t, r, "/tx/broadcast", BroadcastReq{OrderID: "does-not-exist", Hex: "deadbeef", State: "completed"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
	}
}
