package handlers

import (
	"net/http"

	"github.com/escrowd/coordinator/internal/httputil"
)

// Health handles GET /health: a deeper readiness probe covering the order
// store, the wallet node, and the webhook dispatcher. Any component failure
// responds 503 so a load balancer can route around this instance.
func Health(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		dbOK := true
		if err := deps.DB.Healthy(ctx); err != nil {
			dbOK = false
		}

		rpcOK := true
		if _, err := deps.WC.GetBlockchainInfo(ctx); err != nil {
			rpcOK = false
		}

		queueDepth := deps.Webhook.QueueDepth()

		status := http.StatusOK
		if !dbOK || !rpcOK {
			status = http.StatusServiceUnavailable
		}

		httputil.WriteJSON(w, status, map[string]interface{}{
			"ok":            dbOK && rpcOK,
			"db":            dbOK,
			"rpc":           rpcOK,
			"webhook_queue": queueDepth,
		})
	}
}
