package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// DecodeRequest is the body of POST /psbt/decode.
type DecodeRequest struct {
	PSBT string `json:"psbt"`
}

// DecodeResult is observability-only: it mutates nothing.
type DecodeResult struct {
	SignCount int              `json:"sign_count"`
	Outputs   map[string]int64 `json:"outputs"`
	FeeSat    int64            `json:"fee_sat"`
}

// Decode reports a PST's signature count, committed outputs, and fee without
// any side effects.
func (p *Pipeline) Decode(ctx context.Context, req DecodeRequest) (*DecodeResult, error) {
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

	outputs, err := outputsAsSat(decoded)
	if err != nil {
		return nil, err
	}

	var feeSat int64
	if decoded.Fee != nil {
		feeSat = btcToSat(-*decoded.Fee)
	}

	return &DecodeResult{
		SignCount: countSignatures(decoded),
		Outputs:   outputs,
		FeeSat:    feeSat,
	}, nil
}

// countSignatures sums the number of partial signatures present across all
// inputs of a decoded PST.
func countSignatures(decoded *walletrpc.DecodedPSBT) int {
	total := 0
	for _, in := range decoded.Inputs {
		total += len(in.PartialSignatures)
	}
	return total
}
