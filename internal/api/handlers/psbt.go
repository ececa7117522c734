package handlers

import (
	"net/http"

	"github.com/escrowd/coordinator/internal/httputil"
	"github.com/escrowd/coordinator/internal/models"
	"github.com/escrowd/coordinator/internal/pst"
)

// PSBTBuildReq is the POST /psbt/build body.
type PSBTBuildReq struct {
	OrderID    string           `json:"order_id"`
	Outputs    map[string]int64 `json:"outputs"`
	RBF        bool             `json:"rbf"`
	ConfTarget int              `json:"conf_target"`
}

// BuildPayout handles POST /psbt/build.
func BuildPayout(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PSBTBuildReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.BuildPayout(r.Context(), req.OrderID, pst.BuildPayoutRequest{
			Outputs: req.Outputs, RBF: req.RBF, ConfTarget: req.ConfTarget,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// PSBTRefundReq is the POST /psbt/build_refund body.
type PSBTRefundReq struct {
	OrderID    string `json:"order_id"`
	Address    string `json:"address"`
	RBF        bool   `json:"rbf"`
	ConfTarget int    `json:"conf_target"`
}

// BuildRefund handles POST /psbt/build_refund.
func BuildRefund(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PSBTRefundReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.BuildRefund(r.Context(), req.OrderID, pst.BuildRefundRequest{
			Address: req.Address, RBF: req.RBF, ConfTarget: req.ConfTarget,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// MergeReq is the POST /psbt/merge body.
type MergeReq struct {
	OrderID  string   `json:"order_id"`
	Partials []string `json:"partials"`
}

// Merge handles POST /psbt/merge.
func Merge(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MergeReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.Merge(r.Context(), pst.MergeRequest{OrderID: req.OrderID, Partials: req.Partials})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// DecodeReq is the POST /psbt/decode body.
type DecodeReq struct {
	PSBT string `json:"psbt"`
}

// Decode handles POST /psbt/decode.
func Decode(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DecodeReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.Decode(r.Context(), pst.DecodeRequest{PSBT: req.PSBT})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// FinalizeReq is the POST /psbt/finalize body.
type FinalizeReq struct {
	OrderID string `json:"order_id"`
	PSBT    string `json:"psbt"`
	State   string `json:"state"`
}

// Finalize handles POST /psbt/finalize.
func Finalize(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FinalizeReq
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := deps.PST.Finalize(r.Context(), pst.FinalizeRequest{
			OrderID: req.OrderID, PSBT: req.PSBT, State: models.OrderState(req.State),
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}
