// Package walletrpc is a thin, synchronous client over the wallet node's
// JSON-RPC interface. The coordinator never holds private keys; every
// cryptographic operation (script construction, PST signing/finalizing) is
// delegated to this external wallet.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/metrics"
)

// Client wraps HTTP+basic-auth calls to "<base>/wallet/<wallet_name>".
type Client struct {
	httpClient *http.Client
	baseURL    string
	walletName string
	user       string
	pass       string
	breaker    *CircuitBreaker
}

// New creates a wallet RPC client for the wallet named by cfg.BTCCoreWallet.
func New(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: config.WalletRPCTimeout},
		baseURL:    cfg.BTCCoreURL,
		walletName: cfg.BTCCoreWallet,
		user:       cfg.BTCCoreUser,
		pass:       cfg.BTCCorePass,
		breaker:    NewCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

// Call invokes method with params against the wallet endpoint and decodes the
// result into out (if non-nil). Transport/parse failures map to
// apperr.ErrUpstreamUnavailable; RPC-level error objects map to
// apperr.ErrUpstreamError carrying the node's message. No retries are
// performed here — the caller decides idempotency.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	start := time.Now()

	if !c.breaker.Allow() {
		metrics.WalletRPCLatency.WithLabelValues(method, "circuit_open").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: circuit open for method %s", apperr.ErrUpstreamUnavailable, method)
	}

	err := c.call(ctx, method, params, out)

	elapsed := time.Since(start)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		metrics.WalletRPCLatency.WithLabelValues(method, "ok").Observe(elapsed.Seconds())
	case errors.Is(err, apperr.ErrUpstreamError):
		// RPC-level logical errors do not imply the node is unhealthy.
		c.breaker.RecordSuccess()
		metrics.WalletRPCLatency.WithLabelValues(method, "rpc_error").Observe(elapsed.Seconds())
	default:
		c.breaker.RecordFailure()
		metrics.WalletRPCLatency.WithLabelValues(method, "unavailable").Observe(elapsed.Seconds())
	}

	return err
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "escrowd",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal request for %s: %v", apperr.ErrUpstreamUnavailable, method, err)
	}

	url := fmt.Sprintf("%s/wallet/%s", c.baseURL, c.walletName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("%w: build request for %s: %v", apperr.ErrUpstreamUnavailable, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("wallet rpc transport error", "method", method, "error", err)
		return fmt.Errorf("%w: %s: %v", apperr.ErrUpstreamUnavailable, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response for %s: %v", apperr.ErrUpstreamUnavailable, method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%w: decode response for %s: %v", apperr.ErrUpstreamUnavailable, method, err)
	}

	if rpcResp.Error != nil {
		slog.Warn("wallet rpc logical error", "method", method, "code", rpcResp.Error.Code, "message", rpcResp.Error.Message)
		return fmt.Errorf("%w: %s: %s", apperr.ErrUpstreamError, method, rpcResp.Error.Message)
	}

	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decode result for %s: %v", apperr.ErrUpstreamUnavailable, method, err)
		}
	}

	return nil
}

// Healthy reports whether the circuit breaker is not open.
func (c *Client) Healthy() bool {
	return c.breaker.State() != config.CircuitOpen
}
