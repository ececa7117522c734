// Package orders implements the escrow order lifecycle: the state machine
// (transition table, deadline assignment) and the descriptor/address
// validation shared by every handler that mutates an order.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/models"
)

// transitions is the closed transition table. rbf_signing is
// deliberately absent: it is entered and exited via the dedicated
// StartRBF/ClearRBF store operations, not through Advance.
var transitions = map[models.OrderState][]models.OrderState{
	models.StateAwaitingDeposit: {models.StateEscrowFunded},
	models.StateEscrowFunded:    {models.StateSigning, models.StateDispute},
	models.StateSigning:         {models.StateCompleted, models.StateRefunded, models.StateDispute},
}

// CanTransition reports whether `from -> to` is a legal advance.
func CanTransition(from, to models.OrderState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DeadlineFor returns the deadline_ts to stamp when entering state `to`.
// Entering escrow_funded or signing starts a fresh signing-round deadline;
// every other transition clears it.
func DeadlineFor(to models.OrderState, cfg *config.Config) int64 {
	switch to {
	case models.StateEscrowFunded, models.StateSigning:
		return time.Now().Add(time.Duration(cfg.SigningDeadlineDays) * 24 * time.Hour).Unix()
	default:
		return 0
	}
}

// Engine is the sole mutator of order state.
type Engine struct {
	Store *db.DB
	Cfg   *config.Config
}

// New constructs a state machine engine bound to a store and config.
func New(store *db.DB, cfg *config.Config) *Engine {
	return &Engine{Store: store, Cfg: cfg}
}

// Advance validates and persists `from -> to`. Persistence happens before
// any side effect the caller issues afterwards (e.g. a webhook enqueue), so
// a crash between commit and notification never leaves state ahead of what
// was recorded. A disallowed transition returns apperr.ErrInvalidTransition
// and never mutates state.
func (e *Engine) Advance(ctx context.Context, orderID string, from, to models.OrderState, confirmations *int) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, from, to)
	}
	deadline := DeadlineFor(to, e.Cfg)
	return e.Store.UpdateState(ctx, orderID, from, to, confirmations, deadline)
}
