package pst

import (
	"context"
	"errors"
	"testing"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
)

const testPayoutAddr = "tb1qexampleaddress0000000000000000000"

func fundedOrder(orderID string) *models.Order {
	return &models.Order{
		OrderID:   orderID,
		Network:   models.NetworkTestnet,
		Label:     models.LabelForOrder(orderID),
		MinConf:   1,
		AmountSat: 51000,
		FeeEstSat: 1000,
		State:     models.StateEscrowFunded,
	}
}

func stubUnspent(stub *rpcStub, label string, amountBTC float64) {
	stub.set("listunspent", []map[string]interface{}{
		{"txid": testTxid(0x01), "vout": 0, "address": "tb1qfunding", "label": label, "amount": amountBTC, "confirmations": 3, "spendable": true, "solvable": true},
	})
}

func TestBuildPayoutHappyPath(t *testing.T) {
	stub := newRPCStub()
	order := fundedOrder("order1")
	stubUnspent(stub, order.Label, 0.001)
	stub.set("walletcreatefundedpsbt", map[string]interface{}{
		"psbt":      samplePSBT(t, testTxid(0x01), 0),
		"fee":       0.00001,
		"changepos": -1,
	})
	stub.set("decodepsbt", map[string]interface{}{
		"tx": map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"outputs": []map[string]interface{}{
			{"amount": 0.0005, "scriptPubKey": map[string]interface{}{"address": testPayoutAddr}},
		},
		"fee": -0.00001,
	})

	p, store := testPipeline(t, stub)
	insertOrder(t, store, order)

	result, err := p.BuildPayout(context.Background(), "order1", BuildPayoutRequest{
		Outputs: map[string]int64{testPayoutAddr: 51000},
	})
	if err != nil {
		t.Fatalf("BuildPayout() error = %v", err)
	}
	if result.PSBT == "" {
		t.Fatal("expected non-empty psbt")
	}

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.State != models.StateSigning {
		t.Errorf("state = %s, want signing", got.State)
	}
	if got.OutputType != models.OutputPayout {
		t.Errorf("output_type = %s, want payout", got.OutputType)
	}
}

func TestBuildPayoutRejectsChangeOutput(t *testing.T) {
	stub := newRPCStub()
	order := fundedOrder("order1")
	stubUnspent(stub, order.Label, 0.001)
	stub.set("walletcreatefundedpsbt", map[string]interface{}{
		"psbt":      samplePSBT(t, testTxid(0x01), 0),
		"fee":       0.00001,
		"changepos": 1,
	})

	p, store := testPipeline(t, stub)
	insertOrder(t, store, order)

	_, err := p.BuildPayout(context.Background(), "order1", BuildPayoutRequest{
		Outputs: map[string]int64{testPayoutAddr: 51000},
	})
	if !errors.Is(err, apperr.ErrUnexpectedChange) {
		t.Fatalf("error = %v, want ErrUnexpectedChange", err)
	}
}

func TestBuildPayoutRejectsInsufficientFunds(t *testing.T) {
	stub := newRPCStub()
	order := fundedOrder("order1")
	stubUnspent(stub, order.Label, 0.0001) // 10,000 sat, less than requested 51,000

	p, store := testPipeline(t, stub)
	insertOrder(t, store, order)

	_, err := p.BuildPayout(context.Background(), "order1", BuildPayoutRequest{
		Outputs: map[string]int64{testPayoutAddr: 51000},
	})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
}

func TestBuildRefundHappyPath(t *testing.T) {
	stub := newRPCStub()
	order := fundedOrder("order1")
	stubUnspent(stub, order.Label, 0.001)
	stub.set("walletcreatefundedpsbt", map[string]interface{}{
		"psbt":      samplePSBT(t, testTxid(0x01), 0),
		"fee":       0.00001,
		"changepos": -1,
	})
	stub.set("decodepsbt", map[string]interface{}{
		"tx": map[string]interface{}{"vin": []interface{}{}, "vout": []interface{}{}},
		"outputs": []map[string]interface{}{
			{"amount": 0.00051, "scriptPubKey": map[string]interface{}{"address": testPayoutAddr}},
		},
		"fee": -0.00001,
	})

	p, store := testPipeline(t, stub)
	insertOrder(t, store, order)

	result, err := p.BuildRefund(context.Background(), "order1", BuildRefundRequest{Address: testPayoutAddr})
	if err != nil {
		t.Fatalf("BuildRefund() error = %v", err)
	}
	if result.PSBT == "" {
		t.Fatal("expected non-empty psbt")
	}

	got, err := store.GetOrder(context.Background(), "order1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.OutputType != models.OutputRefund {
		t.Errorf("output_type = %s, want refund", got.OutputType)
	}
}
