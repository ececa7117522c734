package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDeliverSignsPayload(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("x-weo-sign")
		gotTS = r.Header.Get("x-weo-ts")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := setupTestDB(t)
	cfg := &config.Config{WooCallbackURL: srv.URL, WooHMACSecret: "secret", WebhookRetries: 2, WebhookBackoff: 2}
	d := New(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(models.WebhookEvent{OrderID: "order1", Event: models.EventEscrowFunded})

	deadline := time.Now().Add(2 * time.Second)
	for gotBody == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if gotSig == "" || gotTS == "" {
		t.Fatal("expected signature and timestamp headers to be set")
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(gotTS))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature mismatch: got %s want %s", gotSig, want)
	}
}

func TestTerminalEventDedupAfterDelivery(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := setupTestDB(t)
	ctx := context.Background()
	order := &models.Order{OrderID: "order1", State: models.StateCompleted, Outputs: map[string]int64{}, Partials: []string{}}
	if err := store.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("UpsertOrder() error = %v", err)
	}

	cfg := &config.Config{WooCallbackURL: srv.URL, WooHMACSecret: "secret", WebhookRetries: 1, WebhookBackoff: 2}
	d := New(cfg, store)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(runCtx)

	d.Enqueue(models.WebhookEvent{OrderID: "order1", Event: models.EventSettled})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&count) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	d.Enqueue(models.WebhookEvent{OrderID: "order1", Event: models.EventSettled})
	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("expected exactly 1 delivery for terminal event dedup, got %d", got)
	}
}

func TestEscrowFundedAlwaysDelivered(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := setupTestDB(t)
	ctx := context.Background()
	order := &models.Order{OrderID: "order1", State: models.StateEscrowFunded, Outputs: map[string]int64{}, Partials: []string{}, LastWebhookTS: time.Now().Unix()}
	if err := store.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("UpsertOrder() error = %v", err)
	}

	cfg := &config.Config{WooCallbackURL: srv.URL, WooHMACSecret: "secret", WebhookRetries: 1, WebhookBackoff: 2}
	d := New(cfg, store)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(runCtx)

	d.Enqueue(models.WebhookEvent{OrderID: "order1", Event: models.EventEscrowFunded})
	d.Enqueue(models.WebhookEvent{OrderID: "order1", Event: models.EventEscrowFunded})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&count) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("escrow_funded should always be delivered, got %d deliveries, want 2", got)
	}
}
