package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// BumpFeeRequest is the body of POST /tx/bumpfee.
type BumpFeeRequest struct {
	ConfTarget int `json:"conf_target"`
}

// BumpFeeResult is the response of POST /tx/bumpfee.
type BumpFeeResult struct {
	PSBT string `json:"psbt"`
}

// BumpFee stages a fee-bump round on the order's current payout_txid,
// entering rbf_signing and recording the state to restore on completion.
func (p *Pipeline) BumpFee(ctx context.Context, orderID string, req BumpFeeRequest) (*BumpFeeResult, error) {
	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PayoutTxid == "" {
		return nil, fmt.Errorf("%w: order has no payout_txid to bump", apperr.ErrValidation)
	}

	result, err := p.WC.BumpFee(ctx, order.PayoutTxid, req.ConfTarget)
	if err != nil {
		return nil, fmt.Errorf("%w: bumpfee: %v", apperr.ErrUpstreamError, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: bumpfee: %v", apperr.ErrUpstreamError, result.Errors)
	}
	if err := sanityCheckPSBT(result.PSBT); err != nil {
		return nil, fmt.Errorf("%w: malformed psbt returned by wallet: %v", apperr.ErrValidation, err)
	}

	if err := p.Store.StartRBF(ctx, orderID, result.PSBT, order.State); err != nil {
		return nil, err
	}

	return &BumpFeeResult{PSBT: result.PSBT}, nil
}

// BumpFeeFinalizeRequest is the body of POST /tx/bumpfee/finalize.
type BumpFeeFinalizeRequest struct {
	PSBT string `json:"psbt"`
}

// BumpFeeFinalizeResult is the response of POST /tx/bumpfee/finalize.
type BumpFeeFinalizeResult struct {
	Txid string `json:"txid"`
}

// BumpFeeFinalize validates and broadcasts a signed fee-bump round, then
// restores the order to its pre-RBF state. Any failure leaves the order in
// rbf_signing for the caller to retry or abandon.
func (p *Pipeline) BumpFeeFinalize(ctx context.Context, orderID string, req BumpFeeFinalizeRequest) (*BumpFeeFinalizeResult, error) {
	if err := orders.ValidateBase64(req.PSBT); err != nil {
		return nil, err
	}
	if err := sanityCheckPSBT(req.PSBT); err != nil {
		return nil, fmt.Errorf("%w: malformed psbt: %v", apperr.ErrValidation, err)
	}

	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != models.StateRBFSigning {
		return nil, fmt.Errorf("%w: order %s is not in rbf_signing", apperr.ErrInvalidTransition, orderID)
	}

	staged, err := p.Store.GetRBFPSBT(ctx, orderID)
	if err != nil {
		return nil, err
	}
	stagedDecoded, err := p.WC.DecodePSBT(ctx, staged)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt staged: %v", apperr.ErrUpstreamError, err)
	}
	signedDecoded, err := p.WC.DecodePSBT(ctx, req.PSBT)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt signed: %v", apperr.ErrUpstreamError, err)
	}

	if err := inputsEqual(stagedDecoded, signedDecoded); err != nil {
		return nil, err
	}
	for i, in := range signedDecoded.Tx.Vin {
		if in.Sequence >= maxSequenceReplaceable {
			return nil, fmt.Errorf("%w: input %d is not replaceable", apperr.ErrRBFDisabled, i)
		}
	}

	decodedOutputs, err := outputsAsSat(signedDecoded)
	if err != nil {
		return nil, err
	}
	if err := outputsEqual(decodedOutputs, order.Outputs); err != nil {
		return nil, err
	}

	final, err := p.WC.FinalizePSBT(ctx, req.PSBT)
	if err != nil {
		return nil, fmt.Errorf("%w: finalizepsbt: %v", apperr.ErrUpstreamError, err)
	}
	if !final.Complete {
		return nil, fmt.Errorf("%w: finalizepsbt did not complete", apperr.ErrNotEnoughSignatures)
	}

	txid, err := p.WC.SendRawTransaction(ctx, final.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: sendrawtransaction: %v", apperr.ErrUpstreamError, err)
	}

	if err := p.Store.SetPayoutTxid(ctx, orderID, txid); err != nil {
		return nil, err
	}
	if err := p.Store.ClearRBF(ctx, orderID); err != nil {
		return nil, err
	}

	return &BumpFeeFinalizeResult{Txid: txid}, nil
}

// inputsEqual requires the ordered (txid,vout) pairs of two decoded PSTs to
// match exactly — the fee-bump round must not smuggle in unrelated inputs.
func inputsEqual(a, b *walletrpc.DecodedPSBT) error {
	if len(a.Tx.Vin) != len(b.Tx.Vin) {
		return fmt.Errorf("%w: staged psbt has %d inputs, signed has %d", apperr.ErrOutputsMismatch, len(a.Tx.Vin), len(b.Tx.Vin))
	}
	for i := range a.Tx.Vin {
		if a.Tx.Vin[i].Txid != b.Tx.Vin[i].Txid || a.Tx.Vin[i].Vout != b.Tx.Vin[i].Vout {
			return fmt.Errorf("%w: input %d does not match staged fee-bump psbt", apperr.ErrOutputsMismatch, i)
		}
	}
	return nil
}
