package handlers

import (
	"net/http"

	"github.com/escrowd/coordinator/internal/httputil"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/pst"
)

// BroadcastReq is the POST /tx/broadcast body.
type BroadcastReq struct {
	OrderID string `json:"order_id"`
	Hex     string `json:"hex"`
	State   string `json:"state"`
}

// Broadcast handles POST /tx/broadcast.
func Broadcast(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BroadcastReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.Broadcast(r.Context(), pst.BroadcastRequest{
			OrderID: req.OrderID, Hex: req.Hex, State: models.OrderState(req.State),
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// BumpFeeReq is the POST /tx/bumpfee body.
type BumpFeeReq struct {
	OrderID    string `json:"order_id"`
	ConfTarget int    `json:"target_conf"`
}

// BumpFee handles POST /tx/bumpfee.
func BumpFee(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BumpFeeReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.BumpFee(r.Context(), req.OrderID, pst.BumpFeeRequest{ConfTarget: req.ConfTarget})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// BumpFeeFinalizeReq is the POST /tx/bumpfee/finalize body.
type BumpFeeFinalizeReq struct {
	OrderID string `json:"order_id"`
	PSBT    string `json:"psbt"`
}

// BumpFeeFinalize handles POST /tx/bumpfee/finalize.
func BumpFeeFinalize(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BumpFeeFinalizeReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.BumpFeeFinalize(r.Context(), req.OrderID, pst.BumpFeeFinalizeRequest{PSBT: req.PSBT})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}
