package walletrpc

import "context"

// Unspent is one entry returned by listunspent.
type Unspent struct {
	Txid          string  `json:"txid"`
	Vout          int     `json:"vout"`
	Address       string  `json:"address"`
	Label         string  `json:"label"`
	Amount        float64 `json:"amount"` // BTC, per wallet-node convention
	Confirmations int     `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
	Solvable      bool    `json:"solvable"`
}

// ListUnspent calls listunspent with the given minconf and no address
// filter. The wallet node's native label filter is unreliable (per the
// funding watcher's design) so callers filter the result client-side.
func (c *Client) ListUnspent(ctx context.Context, minConf int) ([]Unspent, error) {
	var out []Unspent
	err := c.Call(ctx, "listunspent", []interface{}{minConf, 9999999}, &out)
	return out, err
}

// Transaction is the relevant subset of gettransaction's response.
type Transaction struct {
	Txid          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	Hex           string `json:"hex"`
	Details       []struct {
		Address string `json:"address"`
		Category string `json:"category"`
		Vout    int    `json:"vout"`
		Label   string `json:"label"`
	} `json:"details"`
}

// GetTransaction calls gettransaction for a wallet-known txid.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var out Transaction
	if err := c.Call(ctx, "gettransaction", []interface{}{txid}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TxOut is the response of gettxout, nil-able when the output is spent/unknown.
type TxOut struct {
	BestBlock     string  `json:"bestblock"`
	Confirmations int     `json:"confirmations"`
	Value         float64 `json:"value"` // BTC
	ScriptPubKey  struct {
		Address string `json:"address"`
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

// GetTxOut calls gettxout(txid, vout). A nil result with no error means the
// output is spent or unknown.
func (c *Client) GetTxOut(ctx context.Context, txid string, vout int) (*TxOut, error) {
	var out *TxOut
	if err := c.Call(ctx, "gettxout", []interface{}{txid, vout, true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DescriptorInfo is the response of getdescriptorinfo.
type DescriptorInfo struct {
	Descriptor string `json:"descriptor"`
	Checksum   string `json:"checksum"`
	IsRange    bool   `json:"isrange"`
	IsSolvable bool   `json:"issolvable"`
}

// GetDescriptorInfo validates a descriptor and returns its checksummed form.
func (c *Client) GetDescriptorInfo(ctx context.Context, descriptor string) (*DescriptorInfo, error) {
	var out DescriptorInfo
	if err := c.Call(ctx, "getdescriptorinfo", []interface{}{descriptor}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportDescriptorRequest is one entry of the importdescriptors array argument.
type ImportDescriptorRequest struct {
	Descriptor string `json:"desc"`
	Label      string `json:"label,omitempty"`
	Range      [2]int `json:"range"`
	Timestamp  string `json:"timestamp"`
	Watchonly  bool   `json:"watchonly"`
	Internal   bool   `json:"internal"`
}

type importDescriptorsResult struct {
	Success bool `json:"success"`
}

// ImportDescriptors imports a watch-only range descriptor labelled for this
// order, so the coordinator can later enumerate its UTXOs by label.
func (c *Client) ImportDescriptors(ctx context.Context, reqs []ImportDescriptorRequest) error {
	var out []importDescriptorsResult
	if err := c.Call(ctx, "importdescriptors", []interface{}{reqs}, &out); err != nil {
		return err
	}
	return nil
}

// DeriveAddresses calls deriveaddresses(descriptor[, range]).
func (c *Client) DeriveAddresses(ctx context.Context, descriptor string, rng *[2]int) ([]string, error) {
	var out []string
	params := []interface{}{descriptor}
	if rng != nil {
		params = append(params, *rng)
	}
	if err := c.Call(ctx, "deriveaddresses", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateSmartFee calls estimatesmartfee(conf_target).
func (c *Client) EstimateSmartFee(ctx context.Context, confTarget int) (feeRateBTCPerKB float64, err error) {
	var out struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := c.Call(ctx, "estimatesmartfee", []interface{}{confTarget}, &out); err != nil {
		return 0, err
	}
	return out.FeeRate, nil
}

// FundedPSBTOptions mirrors walletcreatefundedpsbt's options object.
type FundedPSBTOptions struct {
	IncludeWatching         bool    `json:"includeWatching"`
	Replaceable              bool    `json:"replaceable"`
	ConfTarget               int     `json:"conf_target,omitempty"`
	SubtractFeeFromOutputs   []int   `json:"subtractFeeFromOutputs,omitempty"`
}

// FundedPSBTResult is walletcreatefundedpsbt's response.
type FundedPSBTResult struct {
	PSBT      string  `json:"psbt"`
	Fee       float64 `json:"fee"`
	ChangePos int     `json:"changepos"`
}

// WalletCreateFundedPSBT calls walletcreatefundedpsbt(inputs, outputs, locktime, options).
func (c *Client) WalletCreateFundedPSBT(ctx context.Context, inputs []map[string]interface{}, outputs []map[string]interface{}, options FundedPSBTOptions) (*FundedPSBTResult, error) {
	var out FundedPSBTResult
	err := c.Call(ctx, "walletcreatefundedpsbt", []interface{}{inputs, outputs, 0, options}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePSBT calls createpsbt(inputs, outputs).
func (c *Client) CreatePSBT(ctx context.Context, inputs []map[string]interface{}, outputs []map[string]interface{}) (string, error) {
	var out string
	err := c.Call(ctx, "createpsbt", []interface{}{inputs, outputs}, &out)
	return out, err
}

// CombinePSBT calls combinepsbt(psbts[]) and returns the merged PST.
func (c *Client) CombinePSBT(ctx context.Context, psbts []string) (string, error) {
	var out string
	err := c.Call(ctx, "combinepsbt", []interface{}{psbts}, &out)
	return out, err
}

// DecodedPSBTInput is the relevant subset of a decodepsbt input entry.
type DecodedPSBTInput struct {
	PartialSignatures map[string]string `json:"partial_signatures"`
	WitnessUTXO       *struct {
		Amount       float64 `json:"amount"`
		ScriptPubKey struct {
			Address string `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"witness_utxo"`
}

// DecodedPSBTOutput is the relevant subset of a decodepsbt output entry.
type DecodedPSBTOutput struct {
	Amount       float64 `json:"amount"`
	ScriptPubKey struct {
		Address   string   `json:"address"`
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

// DecodedPSBTTx mirrors the "tx" sub-object of decodepsbt, carrying the
// unsigned transaction's inputs (with sequence numbers) and vout count.
type DecodedPSBTTx struct {
	Vin []struct {
		Txid     string `json:"txid"`
		Vout     int    `json:"vout"`
		Sequence uint32 `json:"sequence"`
	} `json:"vin"`
	Vout []struct {
		Value        float64 `json:"value"`
		ScriptPubKey struct {
			Address string `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

// DecodedPSBT is decodepsbt's response, trimmed to fields the pipeline uses.
type DecodedPSBT struct {
	Tx      DecodedPSBTTx       `json:"tx"`
	Inputs  []DecodedPSBTInput  `json:"inputs"`
	Outputs []DecodedPSBTOutput `json:"outputs"`
	Fee     *float64            `json:"fee"`
}

// DecodePSBT calls decodepsbt(psbt).
func (c *Client) DecodePSBT(ctx context.Context, psbt string) (*DecodedPSBT, error) {
	var out DecodedPSBT
	if err := c.Call(ctx, "decodepsbt", []interface{}{psbt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzePSBTResult is analyzepsbt's response, trimmed.
type AnalyzePSBTResult struct {
	Inputs []struct {
		HasUTXO bool `json:"has_utxo"`
		IsFinal bool `json:"is_final"`
	} `json:"inputs"`
	NextRole string `json:"next"`
}

// AnalyzePSBT calls analyzepsbt(psbt).
func (c *Client) AnalyzePSBT(ctx context.Context, psbt string) (*AnalyzePSBTResult, error) {
	var out AnalyzePSBTResult
	if err := c.Call(ctx, "analyzepsbt", []interface{}{psbt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WalletProcessPSBTResult is walletprocesspsbt's response.
type WalletProcessPSBTResult struct {
	PSBT     string `json:"psbt"`
	Complete bool   `json:"complete"`
}

// WalletProcessPSBT calls walletprocesspsbt(psbt) asking the wallet to add
// any signatures it can produce. On a pure watch-only wallet this is a no-op
// (returns the same PST unchanged), which the deadline worker uses to detect
// a watch-only signer.
func (c *Client) WalletProcessPSBT(ctx context.Context, psbt string) (*WalletProcessPSBTResult, error) {
	var out WalletProcessPSBTResult
	if err := c.Call(ctx, "walletprocesspsbt", []interface{}{psbt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizePSBTResult is finalizepsbt's response.
type FinalizePSBTResult struct {
	PSBT     string `json:"psbt"`
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// FinalizePSBT calls finalizepsbt(psbt).
func (c *Client) FinalizePSBT(ctx context.Context, psbt string) (*FinalizePSBTResult, error) {
	var out FinalizePSBTResult
	if err := c.Call(ctx, "finalizepsbt", []interface{}{psbt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendRawTransaction calls sendrawtransaction(hex) and returns the txid.
func (c *Client) SendRawTransaction(ctx context.Context, hex string) (string, error) {
	var out string
	err := c.Call(ctx, "sendrawtransaction", []interface{}{hex}, &out)
	return out, err
}

// BumpFeeOptions mirrors bumpfee's options object.
type BumpFeeOptions struct {
	ConfTarget int  `json:"conf_target,omitempty"`
	PSBT       bool `json:"psbt"`
}

// BumpFeeResult is bumpfee's response when psbt=true.
type BumpFeeResult struct {
	PSBT    string  `json:"psbt"`
	OrigFee float64 `json:"origfee"`
	Fee     float64 `json:"fee"`
	Errors  []string `json:"errors"`
}

// BumpFee calls bumpfee(txid, options) with psbt=true.
func (c *Client) BumpFee(ctx context.Context, txid string, confTarget int) (*BumpFeeResult, error) {
	var out BumpFeeResult
	err := c.Call(ctx, "bumpfee", []interface{}{txid, BumpFeeOptions{ConfTarget: confTarget, PSBT: true}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockchainInfo is getblockchaininfo's response, trimmed.
type BlockchainInfo struct {
	Chain  string `json:"chain"`
	Blocks int64  `json:"blocks"`
}

// GetBlockchainInfo calls getblockchaininfo, used as a liveness probe for
// GET /health's "rpc" field.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var out BlockchainInfo
	if err := c.Call(ctx, "getblockchaininfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
