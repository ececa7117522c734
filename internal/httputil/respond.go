// Package httputil holds the small set of JSON response helpers shared by
// every API handler.
package httputil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
)

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// WriteError maps err to its HTTP status and stable code (per
// apperr.HTTPStatus) and writes the standard APIError body.
func WriteError(w http.ResponseWriter, err error) {
	status, code := apperr.HTTPStatus(err)
	WriteJSON(w, status, models.APIError{
		Error: models.APIErrorDetail{Code: code, Message: err.Error()},
	})
}

// DecodeJSON decodes the request body into v, returning a validation error
// on malformed JSON.
func DecodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", apperr.ErrValidation, err)
	}
	return nil
}
