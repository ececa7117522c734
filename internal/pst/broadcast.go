package pst

import (
	"context"
	"fmt"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/metrics"
	"github.com/escrowd/coordinator/internal/models"
)

// BroadcastRequest is the body of POST /tx/broadcast.
type BroadcastRequest struct {
	OrderID string            `json:"order_id,omitempty"`
	Hex     string            `json:"hex"`
	State   models.OrderState `json:"state,omitempty"`
}

// BroadcastResult is the response of POST /tx/broadcast.
type BroadcastResult struct {
	Txid string `json:"txid"`
}

// Broadcast sends a finalized transaction to the network. When an order_id
// is attached, a successful broadcast commits the terminal state advance
// deferred by Finalize and enqueues the matching webhook exactly once.
func (p *Pipeline) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	txid, err := p.WC.SendRawTransaction(ctx, req.Hex)
	if err != nil {
		metrics.BroadcastFailures.Inc()
		return nil, fmt.Errorf("%w: sendrawtransaction: %v", apperr.ErrUpstreamError, err)
	}

	if req.OrderID == "" {
		return &BroadcastResult{Txid: txid}, nil
	}

	order, err := p.Store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := p.Store.SetPayoutTxid(ctx, req.OrderID, txid); err != nil {
		return nil, err
	}

	switch req.State {
	case models.StateCompleted, models.StateRefunded, models.StateDispute:
	default:
		return nil, fmt.Errorf("%w: state must be one of completed|refunded|dispute", apperr.ErrValidation)
	}
	if err := p.Engine.Advance(ctx, req.OrderID, order.State, req.State, nil); err != nil {
		return nil, err
	}

	if order.LastWebhookTS == 0 && p.Webhook != nil {
		ev := models.EventRefunded
		if req.State == models.StateCompleted {
			ev = models.EventSettled
		} else if req.State == models.StateDispute {
			ev = models.EventDispute
		}
		p.Webhook.Enqueue(models.WebhookEvent{OrderID: req.OrderID, Event: ev})
	}

	return &BroadcastResult{Txid: txid}, nil
}
