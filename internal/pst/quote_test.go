package pst

import (
	"context"
	"testing"
)

func TestQuoteReturnsFeeWithoutMutatingOrder(t *testing.T) {
	order := fundedOrder("order1")
	stub := newRPCStub()
	stubUnspent(stub, order.Label, 0.00051)
	stagedPSBT := samplePSBT(t, testTxid(0x01), 0)
	stub.set("walletcreatefundedpsbt", map[string]interface{}{"psbt": stagedPSBT, "fee": 0.00001, "changepos": -1})
	stub.set("decodepsbt", map[string]interface{}{
		"tx":      map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"outputs": []map[string]interface{}{{"amount": 0.0005, "scriptPubKey": map[string]interface{}{"address": testPayoutAddr}}},
		"fee":     -0.00001,
	})

	p, store := testPipeline(t, stub)
	insertOrder(t, store, order)

	result, err := p.Quote(context.Background(), "order1", QuoteRequest{Address: testPayoutAddr, ConfTarget: 6})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if result.FeeSat != 1000 {
		t.Errorf("FeeSat = %d, want 1000", result.FeeSat)
	}

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != order.State {
		t.Errorf("state = %s, want unchanged %s", got.State, order.State)
	}
	if len(got.Outputs) != 0 {
		t.Errorf("outputs = %v, want empty (quote must not persist)", got.Outputs)
	}
}
