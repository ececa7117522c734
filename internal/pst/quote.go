package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/orders"
)

// QuoteRequest is the body of POST /orders/{id}/payout_quote.
type QuoteRequest struct {
	Address    string
	RBF        bool
	ConfTarget int
}

// QuoteResult carries the dry-run fee estimate.
type QuoteResult struct {
	FeeSat int64
}

// Quote estimates the fee a single-output payout to Address would incur by
// running the same walletcreatefundedpsbt call build_refund uses, without
// persisting any outputs commitment or advancing the order's state — a pure
// read exercised independently of the build pipeline.
func (p *Pipeline) Quote(ctx context.Context, orderID string, req QuoteRequest) (*QuoteResult, error) {
	if err := orders.ValidateAddress(req.Address); err != nil {
		return nil, err
	}

	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := orders.ValidateAddressNetwork(req.Address, string(order.Network)); err != nil {
		return nil, err
	}

	outputsParam := []map[string]interface{}{{req.Address: satToBTC(order.AmountSat + order.FeeEstSat)}}

	confTarget := req.ConfTarget
	if confTarget == 0 {
		confTarget = 6
	}
	psbtB64, err := p.fundAndValidate(ctx, order, outputsParam, req.RBF, confTarget)
	if err != nil {
		return nil, err
	}

	decoded, err := p.WC.DecodePSBT(ctx, psbtB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt: %v", apperr.ErrUpstreamError, err)
	}
	if decoded.Fee == nil {
		return nil, fmt.Errorf("%w: wallet returned no fee estimate", apperr.ErrUpstreamError)
	}

	return &QuoteResult{FeeSat: btcToSat(-*decoded.Fee)}, nil
}
