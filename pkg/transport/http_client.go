package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPClient handles HTTP communication between nodes
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
	// retry configuration; disabled unless WithRetry is called
	maxRetries int
	retryDelay time.Duration
	propagator propagation.TextMapPropagator
}

// NewHTTPClient creates a new HTTP client with timeout
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// WithRetry configures retry attempts for transient failures (5xx or transport errors).
// The last response is returned as-is so callers can still read its code.
func (c *HTTPClient) WithRetry(maxRetries int, retryDelay time.Duration) *HTTPClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay < 0 {
		retryDelay = 0
	}

	c.maxRetries = maxRetries
	c.retryDelay = retryDelay
	return c
}

// WithPropagator sets how trace context is written to request headers.
// Without one the otel global propagator is used.
func (c *HTTPClient) WithPropagator(p propagation.TextMapPropagator) *HTTPClient {
	c.propagator = p
	return c
}

// DefaultHTTPClient creates a client with default 5 second timeout
func DefaultHTTPClient() *HTTPClient {
	return NewHTTPClient(5 * time.Second)
}

// HealthCheck checks if a node is alive
func (c *HTTPClient) HealthCheck(ctx context.Context, addr string) (*protocol.HealthResponse, error) {
	var health protocol.HealthResponse
	if err := c.getJSON(ctx, addr, "health", &health); err != nil {
		return nil, errors.Wrap(err, "health check")
	}
	return &health, nil
}

// GetRole gets the current role of a node
func (c *HTTPClient) GetRole(ctx context.Context, addr string) (*protocol.RoleResponse, error) {
	var role protocol.RoleResponse
	if err := c.getJSON(ctx, addr, "role", &role); err != nil {
		return nil, errors.Wrap(err, "get role")
	}
	return &role, nil
}

// ClusterNodes fetches the member table as seen by addr
func (c *HTTPClient) ClusterNodes(ctx context.Context, addr string) (*protocol.ClusterInfoResponse, error) {
	var info protocol.ClusterInfoResponse
	if err := c.getJSON(ctx, addr, "cluster/nodes", &info); err != nil {
		return nil, errors.Wrap(err, "cluster nodes")
	}
	return &info, nil
}

// ActiveTx lists the transactions registered on the master at addr
func (c *HTTPClient) ActiveTx(ctx context.Context, addr string) (*protocol.ActiveTxResponse, error) {
	var active protocol.ActiveTxResponse
	if err := c.getJSON(ctx, addr, "tx/active", &active); err != nil {
		return nil, errors.Wrap(err, "active transactions")
	}
	return &active, nil
}

// InitializeTx asks the master at addr to begin a transaction for rc.
// A refusal is reported in the response code, not as an error.
func (c *HTTPClient) InitializeTx(ctx context.Context, addr string, rc protocol.RequestContext) (*protocol.TxResponse, error) {
	return c.postTx(ctx, addr, "tx/initialize", protocol.InitializeTxRequest{Context: rc})
}

// FinishTx commits (success) or rolls back the transaction for rc
func (c *HTTPClient) FinishTx(ctx context.Context, addr string, rc protocol.RequestContext, success bool) (*protocol.TxResponse, error) {
	return c.postTx(ctx, addr, "tx/finish", protocol.FinishTxRequest{Context: rc, Success: success})
}

// KeepAlive resets the idle timer of the transaction for rc
func (c *HTTPClient) KeepAlive(ctx context.Context, addr string, rc protocol.RequestContext) (*protocol.TxResponse, error) {
	return c.postTx(ctx, addr, "tx/keepalive", protocol.InitializeTxRequest{Context: rc})
}

func (c *HTTPClient) postTx(ctx context.Context, addr, path string, payload any) (*protocol.TxResponse, error) {
	resp, err := c.postJSON(ctx, addr, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var txResp protocol.TxResponse
	if err := json.NewDecoder(resp.Body).Decode(&txResp); err != nil {
		return nil, errors.Wrapf(err, "decode %s response (status %d)", path, resp.StatusCode)
	}
	if txResp.Code == "" {
		return nil, fmt.Errorf("%s: status %d without code", path, resp.StatusCode)
	}
	return &txResp, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, addr, path string, out any) error {
	resp, err := c.doWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/%s", addr, path), nil)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed with status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, addr, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return c.doWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/%s", addr, path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		c.textMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
		return c.client.Do(req)
	})
}

func (c *HTTPClient) textMapPropagator() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}

func (c *HTTPClient) doWithRetry(do func() (*http.Response, error)) (*http.Response, error) {
	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		last := attempt == attempts-1

		resp, err := do()
		if err == nil && (resp.StatusCode < http.StatusInternalServerError || last) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("transient status: %d", resp.StatusCode)
			// Ensure we drain/close to avoid leaking connections
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if last {
			break
		}

		if c.retryDelay > 0 {
			time.Sleep(c.retryDelay)
		}
	}

	return nil, lastErr
}
