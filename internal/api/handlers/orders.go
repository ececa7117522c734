package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/funding"
	"github.com/escrowd/coordinator/internal/httputil"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/pst"
	"github.com/escrowd/coordinator/internal/walletrpc"
)

// CreateOrderReq is the POST /orders body.
type CreateOrderReq struct {
	OrderID    string `json:"order_id"`
	Network    string `json:"network"`
	XpubBuyer  string `json:"xpub_buyer"`
	XpubSeller string `json:"xpub_seller"`
	XpubEscrow string `json:"xpub_escrow"`
	MinConf    *int   `json:"min_conf"`
	AmountSat  int64  `json:"amount_sat"`
	FeeEstSat  int64  `json:"fee_est_sat"`
	Index      *int   `json:"index"`
}

// CreateOrderRes is the POST /orders response.
type CreateOrderRes struct {
	OrderID            string `json:"order_id"`
	Descriptor         string `json:"descriptor"`
	DescriptorChecksum string `json:"descriptor_checksum"`
	Address            string `json:"address,omitempty"`
	Label              string `json:"label"`
	State              string `json:"state"`
}

// CreateOrder handles POST /orders. Creation is idempotent on order_id: a
// repeat call with an order_id that already exists returns the existing
// row's descriptor rather than erroring.
func CreateOrder(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req CreateOrderReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		if err := orders.ValidateOrderID(req.OrderID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if req.Network != string(models.NetworkMainnet) && req.Network != string(models.NetworkTestnet) {
			httputil.WriteError(w, fmt.Errorf("%w: network must be mainnet or testnet", apperr.ErrValidation))
			return
		}
		if req.XpubBuyer == "" || req.XpubSeller == "" || req.XpubEscrow == "" {
			httputil.WriteError(w, fmt.Errorf("%w: xpub_buyer, xpub_seller, and xpub_escrow are required", apperr.ErrValidation))
			return
		}
		if err := orders.ValidateSatoshiAmount(req.AmountSat); err != nil {
			httputil.WriteError(w, err)
			return
		}
		minConf := 2
		if req.MinConf != nil {
			minConf = *req.MinConf
		}
		if err := orders.ValidateMinConf(minConf); err != nil {
			httputil.WriteError(w, err)
			return
		}

		if existing, err := deps.DB.GetOrder(ctx, req.OrderID); err == nil {
			httputil.WriteJSON(w, http.StatusOK, CreateOrderRes{
				OrderID:            existing.OrderID,
				Descriptor:         orders.WithChecksum(existing.Descriptor, existing.DescriptorChecksum),
				DescriptorChecksum: existing.DescriptorChecksum,
				Label:              existing.Label,
				State:              string(existing.State),
			})
			return
		}

		idx := 0
		if req.Index != nil {
			idx = *req.Index
		} else {
			next, err := deps.DB.NextIndex(ctx)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			idx = next
		}

		bare := orders.BuildDescriptor(req.XpubBuyer, req.XpubSeller, req.XpubEscrow, idx)
		info, err := deps.WC.GetDescriptorInfo(ctx, bare)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		descriptor := orders.WithChecksum(bare, info.Checksum)
		label := models.LabelForOrder(req.OrderID)
		rng := orders.ImportRange(idx)

		addr, err := importAndDeriveAddress(ctx, deps, descriptor, label, rng)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		order := &models.Order{
			OrderID:            req.OrderID,
			Network:            models.Network(req.Network),
			XpubBuyer:          req.XpubBuyer,
			XpubSeller:         req.XpubSeller,
			XpubEscrow:         req.XpubEscrow,
			Descriptor:         bare,
			DescriptorChecksum: info.Checksum,
			Index:              idx,
			Label:              label,
			MinConf:            minConf,
			AmountSat:          req.AmountSat,
			FeeEstSat:          req.FeeEstSat,
			State:              models.StateAwaitingDeposit,
			Partials:           []string{},
			Outputs:            map[string]int64{},
			RBFPartials:        []string{},
			CreatedAt:          time.Now().Unix(),
		}
		if err := deps.DB.UpsertOrder(ctx, order); err != nil {
			httputil.WriteError(w, err)
			return
		}

		httputil.WriteJSON(w, http.StatusCreated, CreateOrderRes{
			OrderID:            order.OrderID,
			Descriptor:         descriptor,
			DescriptorChecksum: order.DescriptorChecksum,
			Address:            addr,
			Label:              order.Label,
			State:              string(order.State),
		})
	}
}

// importAndDeriveAddress imports the order's watch-only range descriptor
// labelled for later UTXO lookups, then derives its single deposit address.
func importAndDeriveAddress(ctx context.Context, deps *Deps, descriptor, label string, rng [2]int) (string, error) {
	err := deps.WC.ImportDescriptors(ctx, []walletrpc.ImportDescriptorRequest{{
		Descriptor: descriptor,
		Label:      label,
		Range:      rng,
		Timestamp:  "now",
		Watchonly:  true,
	}})
	if err != nil {
		return "", fmt.Errorf("%w: importdescriptors: %v", apperr.ErrUpstreamError, err)
	}

	addresses, err := deps.WC.DeriveAddresses(ctx, descriptor, &rng)
	if err != nil {
		return "", fmt.Errorf("%w: deriveaddresses: %v", apperr.ErrUpstreamError, err)
	}
	if len(addresses) == 0 {
		return "", fmt.Errorf("%w: wallet derived no address for descriptor", apperr.ErrUpstreamError)
	}
	return addresses[0], nil
}

// StatusRes is the GET /orders/{id}/status response.
type StatusRes struct {
	Order   *models.Order           `json:"order"`
	Funding *models.FundingSnapshot `json:"funding,omitempty"`
}

// Status handles GET /orders/{id}/status: reconciles funding against the
// order's expected deposit and, on first clearing the bar, promotes the
// order to escrow_funded and emits the escrow_funded webhook exactly once.
func Status(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID := chi.URLParam(r, "id")

		order, err := deps.DB.GetOrder(ctx, orderID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		if order.State != models.StateAwaitingDeposit && order.State != models.StateEscrowFunded {
			httputil.WriteJSON(w, http.StatusOK, StatusRes{Order: order})
			return
		}

		snap, err := funding.Reconcile(ctx, deps.WC, order)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		if len(snap.UTXOs) > 0 {
			first := snap.UTXOs[0]
			if err := deps.DB.UpdateFunding(ctx, orderID, first.Txid, first.Vout, snap.MinConf); err != nil {
				slog.Error("failed to persist funding snapshot", "order_id", orderID, "error", err)
			}
		}

		switch {
		case order.State == models.StateAwaitingDeposit && funding.ShouldPromote(order, snap):
			confirmations := snap.MinConf
			if err := deps.Engine.Advance(ctx, orderID, models.StateAwaitingDeposit, models.StateEscrowFunded, &confirmations); err != nil {
				httputil.WriteError(w, err)
				return
			}
			deps.Webhook.Enqueue(models.WebhookEvent{
				OrderID:  orderID,
				Event:    models.EventEscrowFunded,
				UTXOs:    snap.UTXOs,
				TotalSat: snap.TotalSat,
				Confs:    snap.MinConf,
			})
			order, err = deps.DB.GetOrder(ctx, orderID)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
		case order.State == models.StateEscrowFunded:
			if err := deps.DB.UpdateConfirmationsOnly(ctx, orderID, snap.MinConf); err != nil {
				slog.Error("failed to refresh confirmations", "order_id", orderID, "error", err)
			}
			order.Confirmations = snap.MinConf
		}

		httputil.WriteJSON(w, http.StatusOK, StatusRes{Order: order, Funding: snap})
	}
}

// PayoutQuoteReq is the POST /orders/{id}/payout_quote body.
type PayoutQuoteReq struct {
	Address    string `json:"address"`
	RBF        bool   `json:"rbf"`
	ConfTarget int    `json:"target_conf"`
}

// PayoutQuote handles POST /orders/{id}/payout_quote: a dry-run fee
// estimate that never mutates order state.
func PayoutQuote(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID := chi.URLParam(r, "id")

		var req PayoutQuoteReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}

		result, err := deps.PST.Quote(ctx, orderID, pst.QuoteRequest{
			Address:    req.Address,
			RBF:        req.RBF,
			ConfTarget: req.ConfTarget,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]int64{"fee_sat": result.FeeSat})
	}
}
