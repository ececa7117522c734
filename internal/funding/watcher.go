// Package funding implements the pull-based funding watcher: on
// every status read it reconciles on-chain UTXOs carrying an order's label
// against the expected deposit and, the first time the deposit clears,
// promotes the order to escrow_funded.
package funding

import (
	"context"
	"fmt"
	"math"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// BTCToSat converts a wallet-node BTC amount to satoshis.
func BTCToSat(btc float64) int64 {
	return int64(math.Round(btc * config.SatoshisPerBTC))
}

// Reconcile lists unspent outputs at min_conf=0, filters them client-side by
// the order's label (the wallet's native label filter is unreliable), and
// returns the aggregated snapshot.
func Reconcile(ctx context.Context, wc *walletrpc.Client, order *models.Order) (*models.FundingSnapshot, error) {
	unspent, err := wc.ListUnspent(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}

	snap := &models.FundingSnapshot{MinConf: -1}
	for _, u := range unspent {
		if u.Label != order.Label {
			continue
		}
		sat := BTCToSat(u.Amount)
		snap.UTXOs = append(snap.UTXOs, models.UTXO{
			Txid:          u.Txid,
			Vout:          u.Vout,
			AmountSat:     sat,
			Confirmations: u.Confirmations,
		})
		snap.TotalSat += sat
		if snap.MinConf == -1 || u.Confirmations < snap.MinConf {
			snap.MinConf = u.Confirmations
		}
	}
	if snap.MinConf == -1 {
		snap.MinConf = 0
	}

	expected := order.AmountSat + order.FeeEstSat
	if snap.TotalSat < expected {
		snap.ShortfallSat = expected - snap.TotalSat
	}

	return snap, nil
}

// Tolerance returns floor(expected * 0.005), the allowed shortfall below the
// expected gross deposit that still counts as funded.
func Tolerance(expected int64) int64 {
	return int64(math.Floor(float64(expected) * 0.005))
}

// ShouldPromote reports whether the snapshot clears the order's funding bar:
// min_conf satisfied and total_sat within tolerance of the expected deposit.
func ShouldPromote(order *models.Order, snap *models.FundingSnapshot) bool {
	if snap.MinConf < order.MinConf {
		return false
	}
	expected := order.AmountSat + order.FeeEstSat
	return snap.TotalSat+Tolerance(expected) >= expected
}
