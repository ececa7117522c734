package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/orders"
)

// MergeRequest is the body of POST /psbt/merge. OrderID is optional: when
// present, the submitted fragments are appended to (and deduped against) the
// order's persisted partial set before combining.
type MergeRequest struct {
	OrderID  string   `json:"order_id,omitempty"`
	Partials []string `json:"partials"`
}

// MergeResult is the response of POST /psbt/merge.
type MergeResult struct {
	PSBT string `json:"psbt"`
}

// Merge combines PST fragments via combinepsbt, persisting the deduped
// partial set against an order when one is attached. It performs no state
// transition.
func (p *Pipeline) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if len(req.Partials) == 0 {
		return nil, fmt.Errorf("%w: partials must not be empty", apperr.ErrValidation)
	}
	for _, frag := range req.Partials {
		if err := orders.ValidateBase64(frag); err != nil {
			return nil, err
		}
		if err := sanityCheckPSBT(frag); err != nil {
			return nil, fmt.Errorf("%w: malformed psbt fragment: %v", apperr.ErrValidation, err)
		}
	}

	all := req.Partials
	if req.OrderID != "" {
		existing, err := p.Store.GetPartials(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		all = dedupAppend(existing, req.Partials)
		if err := p.Store.SavePartials(ctx, req.OrderID, all); err != nil {
			return nil, err
		}
	}

	merged, err := p.WC.CombinePSBT(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("%w: combinepsbt: %v", apperr.ErrUpstreamError, err)
	}

	return &MergeResult{PSBT: merged}, nil
}

// dedupAppend appends newFrags to existing, skipping any fragment already
// present (compared as an exact base64 string match).
func dedupAppend(existing, newFrags []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, len(existing))
	copy(out, existing)
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range newFrags {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
