// Package webhook implements the queued, signed, retrying outbound
// notification dispatcher: a single in-memory queue
// with one consumer goroutine, HMAC-signed payloads, exponential backoff,
// and terminal-event dedup keyed by last_webhook_ts.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/metrics"
	"github.com/escrowd/coordinator/internal/models"
)

// Dispatcher owns the outbound event queue and its single consumer.
type Dispatcher struct {
	queue      chan models.WebhookEvent
	httpClient *http.Client
	store      *db.DB
	url        string
	secret     string
	retries    int
	backoff    int
}

// New creates a dispatcher. It does not start consuming until Run is called.
func New(cfg *config.Config, store *db.DB) *Dispatcher {
	return &Dispatcher{
		queue:      make(chan models.WebhookEvent, config.WebhookQueueBuffer),
		httpClient: &http.Client{Timeout: config.WebhookRequestTimeout},
		store:      store,
		url:        cfg.WooCallbackURL,
		secret:     cfg.WooHMACSecret,
		retries:    cfg.WebhookRetries,
		backoff:    cfg.WebhookBackoff,
	}
}

// Enqueue buffers an event for delivery. If the queue is full the event is
// dropped and logged — the queue is advisory, not a durable outbox.
func (d *Dispatcher) Enqueue(ev models.WebhookEvent) {
	select {
	case d.queue <- ev:
		metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
	default:
		slog.Error("webhook queue full, dropping event", "order_id", ev.OrderID, "event", ev.Event)
		metrics.WebhookDeliveries.WithLabelValues(string(ev.Event), "dropped_queue_full").Inc()
	}
}

// Run is the single consumer goroutine; it blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("webhook dispatcher running")
	for {
		select {
		case <-ctx.Done():
			slog.Info("webhook dispatcher stopped", "reason", ctx.Err())
			return
		case ev := <-d.queue:
			metrics.WebhookQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, ev)
		}
	}
}

// QueueDepth returns the number of events currently buffered, surfaced by
// GET /health's "webhook_queue" field.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.WebhookEvent) {
	if d.url == "" {
		slog.Debug("webhook callback url not configured, skipping delivery", "order_id", ev.OrderID, "event", ev.Event)
		return
	}

	// Terminal dedup: escrow_funded is always delivered; every other event
	// is dropped before delivery if this order already has a stamped
	// successful terminal delivery.
	if ev.Event != models.EventEscrowFunded {
		if order, err := d.store.GetOrder(ctx, ev.OrderID); err == nil && order.LastWebhookTS > 0 {
			slog.Debug("webhook deduped, already delivered", "order_id", ev.OrderID, "event", ev.Event)
			metrics.WebhookDeliveries.WithLabelValues(string(ev.Event), "deduped").Inc()
			return
		}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "order_id", ev.OrderID, "error", err)
		return
	}

	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			wait := backoffDuration(d.backoff, attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		if err := d.send(ctx, body); err != nil {
			slog.Warn("webhook delivery attempt failed", "order_id", ev.OrderID, "event", ev.Event, "attempt", attempt, "error", err)
			continue
		}

		metrics.WebhookDeliveries.WithLabelValues(string(ev.Event), "delivered").Inc()
		if ev.Event != models.EventEscrowFunded {
			if err := d.store.SetLastWebhookTS(ctx, ev.OrderID, time.Now().Unix()); err != nil {
				slog.Error("failed to stamp last_webhook_ts", "order_id", ev.OrderID, "error", err)
			}
		}
		return
	}

	slog.Error("webhook delivery exhausted retries", "order_id", ev.OrderID, "event", ev.Event, "retries", d.retries)
	metrics.WebhookDeliveries.WithLabelValues(string(ev.Event), "exhausted").Inc()
}

func backoffDuration(backoff, attempt int) time.Duration {
	seconds := math.Pow(float64(backoff), float64(attempt))
	d := time.Duration(seconds * float64(time.Second))
	if d > config.WebhookBackoffCap {
		return config.WebhookBackoffCap
	}
	return d
}

func (d *Dispatcher) send(ctx context.Context, body []byte) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := sign(d.secret, ts, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-weo-sign", sig)
	req.Header.Set("x-weo-ts", ts)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// sign computes HMAC-SHA256(secret, timestamp || body) hex-encoded.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
