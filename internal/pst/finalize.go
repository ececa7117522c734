package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
)

// maxSequenceReplaceable is the signaling threshold from BIP 125: any input
// sequence at or above this value opts the transaction out of replacement.
const maxSequenceReplaceable = 0xfffffffe

// FinalizeRequest is the body of POST /psbt/finalize.
type FinalizeRequest struct {
	OrderID string            `json:"order_id,omitempty"`
	PSBT    string            `json:"psbt"`
	State   models.OrderState `json:"state"`
}

// FinalizeResult is the response of POST /psbt/finalize.
type FinalizeResult struct {
	Hex    string `json:"hex"`
	FeeSat int64  `json:"fee_sat"`
}

// Finalize is the validator: it runs every monetary and structural invariant
// before calling finalizepsbt. Apart from the empty-PST dispute close, which
// advances the order to dispute, it performs no state mutation of its own —
// broadcast is where a terminal state is committed, so that state and
// broadcast succeed or fail together.
func (p *Pipeline) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	if err := orders.ValidateBase64(req.PSBT); err != nil {
		return nil, err
	}
	if err := sanityCheckPSBT(req.PSBT); err != nil {
		return nil, fmt.Errorf("%w: malformed psbt: %v", apperr.ErrValidation, err)
	}

	decoded, err := p.WC.DecodePSBT(ctx, req.PSBT)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt: %v", apperr.ErrUpstreamError, err)
	}

	// Step 1: an empty body with an explicit dispute close is the escape
	// hatch for abandoning an order without ever producing a broadcastable
	// transaction.
	if len(decoded.Inputs) == 0 && req.State == models.StateDispute && req.OrderID != "" {
		if err := p.advanceToDispute(ctx, req.OrderID); err != nil {
			return nil, err
		}
		return &FinalizeResult{Hex: ""}, nil
	}

	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id required unless closing an empty dispute PST", apperr.ErrValidation)
	}

	order, err := p.Store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	// Step 2: load the outputs commitment.
	if len(order.Outputs) == 0 {
		return nil, fmt.Errorf("%w: order has no outputs commitment", apperr.ErrOutputsMismatch)
	}

	// Step 3: validate every input against its funding transaction and
	// accumulate in_total.
	var inTotal int64
	for i, in := range decoded.Tx.Vin {
		tx, err := p.WC.GetTransaction(ctx, in.Txid)
		if err != nil {
			return nil, fmt.Errorf("%w: gettransaction %s: %v", apperr.ErrUpstreamError, in.Txid, err)
		}
		matched := false
		for _, d := range tx.Details {
			if d.Vout == in.Vout && d.Label == order.Label {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: input %d (%s:%d) does not carry order label", apperr.ErrValidation, i, in.Txid, in.Vout)
		}
		if in.Sequence >= maxSequenceReplaceable {
			return nil, apperr.ErrRBFDisabled
		}

		out, err := p.WC.GetTxOut(ctx, in.Txid, in.Vout)
		if err != nil {
			return nil, fmt.Errorf("%w: gettxout %s:%d: %v", apperr.ErrUpstreamError, in.Txid, in.Vout, err)
		}
		if out == nil {
			return nil, fmt.Errorf("%w: %s:%d", apperr.ErrMissingInputValue, in.Txid, in.Vout)
		}
		inTotal += btcToSat(out.Value)
	}

	// Step 4-5: decoded outputs must equal the order's commitment exactly.
	decodedOutputs, err := outputsAsSat(decoded)
	if err != nil {
		return nil, err
	}
	if err := outputsEqual(decodedOutputs, order.Outputs); err != nil {
		return nil, err
	}

	// Step 6: fee must be non-negative and agree with the decoded PST's own
	// fee field within 1 sat of rounding tolerance.
	var outTotal int64
	for _, sat := range order.Outputs {
		outTotal += sat
	}
	fee := inTotal - outTotal
	if fee < 0 {
		return nil, apperr.ErrNegativeFee
	}
	if decoded.Fee != nil {
		feeDecoded := btcToSat(-*decoded.Fee)
		if diff := feeDecoded - fee; diff > 1 || diff < -1 {
			return nil, fmt.Errorf("%w: decoded fee %d sat vs computed %d sat", apperr.ErrFeeMismatch, feeDecoded, fee)
		}
	}

	// Step 7: outputs plus fee must not exceed the currently funded total.
	unspent, err := p.WC.ListUnspent(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: listunspent: %v", apperr.ErrUpstreamError, err)
	}
	var fundedTotal int64
	for _, u := range unspent {
		if u.Label == order.Label {
			fundedTotal += btcToSat(u.Amount)
		}
	}
	if outTotal+fee > fundedTotal {
		return nil, apperr.ErrExceedsFunding
	}

	// Step 8: finalize.
	final, err := p.WC.FinalizePSBT(ctx, req.PSBT)
	if err != nil {
		return nil, fmt.Errorf("%w: finalizepsbt: %v", apperr.ErrUpstreamError, err)
	}
	if !final.Complete {
		return nil, fmt.Errorf("%w: finalizepsbt did not complete", apperr.ErrNotEnoughSignatures)
	}

	return &FinalizeResult{Hex: final.Hex, FeeSat: fee}, nil
}

func (p *Pipeline) advanceToDispute(ctx context.Context, orderID string) error {
	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return p.Engine.Advance(ctx, orderID, order.State, models.StateDispute, nil)
}

// outputsEqual requires set equality including amounts between a decoded
// PST's outputs and the order's persisted commitment.
func outputsEqual(decoded, committed map[string]int64) error {
	if len(decoded) != len(committed) {
		return fmt.Errorf("%w: decoded %d outputs, committed %d", apperr.ErrOutputsMismatch, len(decoded), len(committed))
	}
	for addr, sat := range committed {
		got, ok := decoded[addr]
		if !ok || got != sat {
			return fmt.Errorf("%w: output %s decoded %d sat, committed %d sat", apperr.ErrOutputsMismatch, addr, got, sat)
		}
	}
	return nil
}
