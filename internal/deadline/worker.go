// Package deadline implements the periodic stuck-order sweep: it flags
// orders that have sat too long in a non-terminal state and, for orders
// whose signing deadline has elapsed, drives the watch-only-detection and
// auto-finalize logic.
package deadline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/metrics"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/pst"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// Worker periodically sweeps orders for staleness and deadline expiry.
type Worker struct {
	Store *db.DB
	WC    *walletrpc.Client
	PST   *pst.Pipeline
	Cfg   *config.Config
}

// New constructs a deadline worker.
func New(store *db.DB, wc *walletrpc.Client, p *pst.Pipeline, cfg *config.Config) *Worker {
	return &Worker{Store: store, WC: wc, PST: p, Cfg: cfg}
}

// Run blocks, sweeping every STUCK_CHECK_INTERVAL seconds until ctx is
// cancelled. A minimum floor applies regardless of configuration, so a
// misconfigured interval cannot turn this into a busy loop.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Duration(w.Cfg.StuckCheckInterval) * time.Second
	if interval < config.DeadlineSweepMinInterval {
		interval = config.DeadlineSweepMinInterval
	}

	t := ticker.New(interval)
	t.Resume()
	defer t.Stop()

	slog.Info("deadline worker running", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("deadline worker stopped", "reason", ctx.Err())
			return
		case <-t.Ticks():
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every order in awaiting_deposit or signing.
// Individual order failures are logged and counted, never abort the sweep.
func (w *Worker) Sweep(ctx context.Context) {
	orders, err := w.Store.ListOrdersByStates(ctx, []models.OrderState{models.StateAwaitingDeposit, models.StateSigning})
	if err != nil {
		slog.Error("deadline sweep: list orders failed", "error", err)
		return
	}

	if pending, err := w.Store.CountPendingSignatures(ctx); err != nil {
		slog.Error("deadline sweep: count pending signatures failed", "error", err)
	} else {
		metrics.PendingSignatures.Set(float64(pending))
	}

	now := time.Now()
	stuckAfter := time.Duration(w.Cfg.StuckOrderHours) * time.Hour

	for _, order := range orders {
		age := now.Sub(time.Unix(order.CreatedAt, 0))
		if age > stuckAfter {
			metrics.StuckOrders.WithLabelValues(string(order.State)).Inc()
			slog.Warn("order stuck", "order_id", order.OrderID, "state", order.State, "age_hours", age.Hours())
		}

		if order.State != models.StateSigning || order.DeadlineTS == 0 || now.Unix() < order.DeadlineTS {
			continue
		}

		if err := w.handleExpiredSigningDeadline(ctx, order); err != nil {
			slog.Error("deadline sweep: expired order handling failed", "order_id", order.OrderID, "error", err)
		}
	}
}

// handleExpiredSigningDeadline runs the signing-deadline escalation:
// combine persisted partials, ask the wallet to add its own signature, and
// use the delta to distinguish a watch-only signer (escalate to dispute)
// from a simply-incomplete signing round (wait for the next tick).
func (w *Worker) handleExpiredSigningDeadline(ctx context.Context, order *models.Order) error {
	partials, err := w.Store.GetPartials(ctx, order.OrderID)
	if err != nil {
		return err
	}
	if len(partials) == 0 {
		return nil
	}

	merged, err := w.WC.CombinePSBT(ctx, partials)
	if err != nil {
		return fmt.Errorf("combinepsbt: %w", err)
	}
	mergedDecoded, err := w.WC.DecodePSBT(ctx, merged)
	if err != nil {
		return fmt.Errorf("decodepsbt pre: %w", err)
	}
	preSig := countSignatures(mergedDecoded)

	processed, err := w.WC.WalletProcessPSBT(ctx, merged)
	if err != nil {
		return fmt.Errorf("walletprocesspsbt: %w", err)
	}
	processedDecoded, err := w.WC.DecodePSBT(ctx, processed.PSBT)
	if err != nil {
		return fmt.Errorf("decodepsbt post: %w", err)
	}
	postSig := countSignatures(processedDecoded)

	if postSig == preSig {
		metrics.DeadlineEscalations.WithLabelValues("watch_only").Inc()
		if err := w.PST.Engine.Advance(ctx, order.OrderID, order.State, models.StateDispute, nil); err != nil {
			return fmt.Errorf("advance to dispute: %w", err)
		}
		if w.PST.Webhook != nil {
			w.PST.Webhook.Enqueue(models.WebhookEvent{OrderID: order.OrderID, Event: models.EventDisputeOpened})
		}
		return nil
	}

	if postSig < config.MultisigM {
		metrics.DeadlineEscalations.WithLabelValues("insufficient_signatures").Inc()
		slog.Info("order past deadline with insufficient signatures", "order_id", order.OrderID, "post_sig", postSig)
		return nil
	}

	finalState := models.StateCompleted
	if order.OutputType == models.OutputRefund {
		finalState = models.StateRefunded
	}

	finalized, err := w.PST.Finalize(ctx, pst.FinalizeRequest{OrderID: order.OrderID, PSBT: processed.PSBT, State: finalState})
	if err != nil {
		metrics.DeadlineEscalations.WithLabelValues("finalize_failed").Inc()
		return fmt.Errorf("%w: finalize", err)
	}
	if _, err := w.PST.Broadcast(ctx, pst.BroadcastRequest{OrderID: order.OrderID, Hex: finalized.Hex, State: finalState}); err != nil {
		metrics.DeadlineEscalations.WithLabelValues("broadcast_failed").Inc()
		return fmt.Errorf("%w: broadcast", err)
	}

	metrics.DeadlineEscalations.WithLabelValues("auto_finalized").Inc()
	return nil
}

// countSignatures sums the partial-signature counts across all inputs of a
// decoded PST — duplicated from the pst package's unexported helper since
// this is the only other caller and the two packages should not share
// private surface.
func countSignatures(decoded *walletrpc.DecodedPSBT) int {
	total := 0
	for _, in := range decoded.Inputs {
		total += len(in.PartialSignatures)
	}
	return total
}
