// Package pst implements the collaborative-sign pipeline: build (payout or
// refund), merge, decode, and finalize, plus the nested RBF fee-bump round.
// It carries the monetary invariants that protect escrowed funds: outputs
// must match what the order committed to, fees must stay within tolerance,
// and nothing finalizes without the signature threshold.
package pst

import (
	"bytes"
	"encoding/base64"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/walletrpc"
	"github.com/escrowd/coordinator/internal/webhook"
)

// Pipeline bundles the collaborators every PST operation needs.
type Pipeline struct {
	WC      *walletrpc.Client
	Store   *db.DB
	Engine  *orders.Engine
	Cfg     *config.Config
	Webhook *webhook.Dispatcher
}

// New constructs a PST pipeline.
func New(wc *walletrpc.Client, store *db.DB, engine *orders.Engine, cfg *config.Config, wh *webhook.Dispatcher) *Pipeline {
	return &Pipeline{WC: wc, Store: store, Engine: engine, Cfg: cfg, Webhook: wh}
}

// sanityCheckPSBT is the defense-in-depth structural pre-flight: a PST
// fragment that doesn't even parse as a valid PSBT fails fast with a
// ValidationError instead of an opaque upstream 500. It does not replace
// wallet-side validation — the wallet node remains the source of truth for
// everything that follows.
func sanityCheckPSBT(b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return err
	}
	_, err = btcpsbt.NewFromRawBytes(bytes.NewReader(raw), false)
	return err
}

// satToBTC converts satoshis to the float BTC amount the wallet RPC expects.
func satToBTC(sat int64) float64 {
	return float64(sat) / float64(config.SatoshisPerBTC)
}

// btcToSat converts a wallet-node BTC float amount back to satoshis.
func btcToSat(btc float64) int64 {
	return int64(btc*config.SatoshisPerBTC + 0.5)
}
