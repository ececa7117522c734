package handlers

import (
	"net/http"

	"github.com/escrowd/coordinator/internal/httputil"
)

// Live handles GET /live: a bare liveness probe that never touches the
// database or the wallet node.
func Live() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
