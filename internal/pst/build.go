package pst

import (
	"context"
	"fmt"
	"sort"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// BuildPayoutRequest is the body of POST /psbt/build.
type BuildPayoutRequest struct {
	Outputs    map[string]int64 `json:"outputs"`
	RBF        bool             `json:"rbf"`
	ConfTarget int              `json:"conf_target"`
}

// BuildRefundRequest is the body of POST /psbt/build_refund.
type BuildRefundRequest struct {
	Address    string `json:"address"`
	RBF        bool   `json:"rbf"`
	ConfTarget int    `json:"conf_target"`
}

// BuildResult is shared by both build endpoints.
type BuildResult struct {
	PSBT string `json:"psbt"`
}

// BuildPayout funds the order's committed multi-output set from its escrowed
// UTXOs and advances the order to signing.
func (p *Pipeline) BuildPayout(ctx context.Context, orderID string, req BuildPayoutRequest) (*BuildResult, error) {
	if len(req.Outputs) == 0 {
		return nil, fmt.Errorf("%w: outputs must not be empty", apperr.ErrValidation)
	}
	addrs := make([]string, 0, len(req.Outputs))
	for addr, sat := range req.Outputs {
		if err := orders.ValidateAddress(addr); err != nil {
			return nil, err
		}
		if err := orders.ValidateSatoshiAmount(sat); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	order, err := p.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if err := orders.ValidateAddressNetwork(addr, string(order.Network)); err != nil {
			return nil, err
		}
	}

	outputsParam := make([]map[string]interface{}, len(addrs))
	for i, addr := range addrs {
		outputsParam[i] = map[string]interface{}{addr: satToBTC(req.Outputs[addr])}
	}

	psbtB64, err := p.fundAndValidate(ctx, order, outputsParam, req.RBF, req.ConfTarget)
	if err != nil {
		return nil, err
	}

	decoded, err := p.WC.DecodePSBT(ctx, psbtB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt: %v", apperr.ErrUpstreamError, err)
	}
	decodedOutputs, err := outputsAsSat(decoded)
	if err != nil {
		return nil, err
	}
	if err := matchRequestedOutputs(decodedOutputs, req.Outputs); err != nil {
		return nil, err
	}
	// With a single requested output, that fee-subtracted output must equal
	// the order's amount_sat minus the decoded fee. With several outputs this
	// check is not applied.
	fee := int64(0)
	if decoded.Fee != nil {
		fee = btcToSat(-*decoded.Fee)
	}
	if got, want := decodedOutputs[addrs[0]], order.AmountSat-fee; len(addrs) == 1 && got != want {
		return nil, fmt.Errorf("%w: payout output %d sat, want %d after fee subtraction", apperr.ErrOutputsMismatch, got, want)
	}

	if err := p.Store.SetOutputs(ctx, orderID, decodedOutputs, models.OutputPayout); err != nil {
		return nil, err
	}
	if err := p.Engine.Advance(ctx, orderID, models.StateEscrowFunded, models.StateSigning, nil); err != nil {
		return nil, err
	}

	return &BuildResult{PSBT: psbtB64}, nil
}

// BuildRefund funds the entire escrow balance, minus fees, to a single
// destination address and advances the order to signing.
func (p *Pipeline) BuildRefund(ctx context.Context, orderID string, req BuildRefundRequest) (*BuildResult, error) {
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

	psbtB64, err := p.fundAndValidate(ctx, order, outputsParam, req.RBF, req.ConfTarget)
	if err != nil {
		return nil, err
	}

	decoded, err := p.WC.DecodePSBT(ctx, psbtB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decodepsbt: %v", apperr.ErrUpstreamError, err)
	}
	if len(decoded.Outputs) != 1 {
		return nil, fmt.Errorf("%w: refund PST must have exactly one output, got %d", apperr.ErrOutputsMismatch, len(decoded.Outputs))
	}
	decodedOutputs, err := outputsAsSat(decoded)
	if err != nil {
		return nil, err
	}
	if _, ok := decodedOutputs[req.Address]; !ok {
		return nil, fmt.Errorf("%w: refund output address does not match request", apperr.ErrOutputsMismatch)
	}

	if err := p.Store.SetOutputs(ctx, orderID, decodedOutputs, models.OutputRefund); err != nil {
		return nil, err
	}
	if err := p.Engine.Advance(ctx, orderID, models.StateEscrowFunded, models.StateSigning, nil); err != nil {
		return nil, err
	}

	return &BuildResult{PSBT: psbtB64}, nil
}

// fundAndValidate runs the shared funding pre-check and walletcreatefundedpsbt
// call used by both build payout and build refund, rejecting any result that
// carries a change output — escrow drains to its committed output set only.
func (p *Pipeline) fundAndValidate(ctx context.Context, order *models.Order, outputsParam []map[string]interface{}, rbf bool, confTarget int) (string, error) {
	unspent, err := p.WC.ListUnspent(ctx, order.MinConf)
	if err != nil {
		return "", fmt.Errorf("%w: listunspent: %v", apperr.ErrUpstreamError, err)
	}

	var inTotal int64
	for _, u := range unspent {
		if u.Label != order.Label {
			continue
		}
		inTotal += btcToSat(u.Amount)
	}
	if inTotal == 0 {
		return "", apperr.ErrNoFundedUtxo
	}

	var reqTotal int64
	for _, out := range outputsParam {
		for _, amtBTC := range out {
			reqTotal += btcToSat(amtBTC.(float64))
		}
	}
	if inTotal < reqTotal {
		return "", apperr.ErrInsufficientFunds
	}

	result, err := p.WC.WalletCreateFundedPSBT(ctx, nil, outputsParam, walletrpc.FundedPSBTOptions{
		IncludeWatching:        true,
		Replaceable:            rbf,
		ConfTarget:             confTarget,
		SubtractFeeFromOutputs: []int{0},
	})
	if err != nil {
		return "", fmt.Errorf("%w: walletcreatefundedpsbt: %v", apperr.ErrUpstreamError, err)
	}
	if result.ChangePos != -1 {
		return "", apperr.ErrUnexpectedChange
	}
	if err := sanityCheckPSBT(result.PSBT); err != nil {
		return "", fmt.Errorf("%w: malformed psbt returned by wallet: %v", apperr.ErrValidation, err)
	}

	return result.PSBT, nil
}

// outputsAsSat converts a decodepsbt response's outputs into an address→sat
// map, rejecting any output whose script does not resolve to a single address.
func outputsAsSat(decoded *walletrpc.DecodedPSBT) (map[string]int64, error) {
	out := make(map[string]int64, len(decoded.Outputs))
	for _, o := range decoded.Outputs {
		addr := o.ScriptPubKey.Address
		if addr == "" && len(o.ScriptPubKey.Addresses) == 1 {
			addr = o.ScriptPubKey.Addresses[0]
		}
		if addr == "" {
			return nil, fmt.Errorf("%w: output script does not resolve to exactly one address", apperr.ErrOutputsMismatch)
		}
		out[addr] = btcToSat(o.Amount)
	}
	return out, nil
}

// matchRequestedOutputs requires the decoded output set to carry exactly the
// requested addresses, with no extras and none missing.
func matchRequestedOutputs(decoded, requested map[string]int64) error {
	if len(decoded) != len(requested) {
		return fmt.Errorf("%w: wallet returned %d outputs, requested %d", apperr.ErrOutputsMismatch, len(decoded), len(requested))
	}
	for addr := range requested {
		if _, ok := decoded[addr]; !ok {
			return fmt.Errorf("%w: requested address %s missing from built PST", apperr.ErrOutputsMismatch, addr)
		}
	}
	return nil
}
