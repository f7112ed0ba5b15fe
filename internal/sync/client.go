// Package sync drives convergence between the local store and the remote
// Moneta service.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/linchiayu/moneta/internal/models"
)

// RemoteTransaction is the wire shape of a transaction as the remote
// service returns it.
type RemoteTransaction struct {
	ID       string                 `json:"id"`
	Amount   decimal.Decimal        `json:"amount"`
	Kind     models.TransactionKind `json:"kind"`
	Category string                 `json:"category"`
	Note     string                 `json:"note,omitempty"`
	Occurred int64                  `json:"occurred"`
}

// CreatePayload is the body of a create call: domain payload only, no
// identity fields. The server assigns the ID.
type CreatePayload struct {
	Amount   decimal.Decimal        `json:"amount"`
	Kind     models.TransactionKind `json:"kind"`
	Category string                 `json:"category"`
	Note     string                 `json:"note,omitempty"`
	Occurred int64                  `json:"occurred"`
}

// RemoteClient is the remote collection resource the engine drains against.
type RemoteClient interface {
	// Create creates one transaction and returns it with its
	// server-assigned ID.
	Create(ctx context.Context, payload CreatePayload) (*RemoteTransaction, error)

	// Update partially updates an existing transaction.
	Update(ctx context.Context, serverID string, patch models.TransactionPatch) error

	// Delete removes a transaction. Deleting an already-gone transaction
	// is a success.
	Delete(ctx context.Context, serverID string) error

	// List returns the caller's full collection.
	List(ctx context.Context) ([]RemoteTransaction, error)
}

// HTTPClient implements RemoteClient over the Moneta REST API. The HTTP
// client it is handed is already authenticated; this layer does not manage
// credentials.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	deviceID string
}

// NewHTTPClient creates an HTTPClient for the service at baseURL.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

// SetDeviceID attaches a stable per-install identifier to every request so
// the server can tell which device originated a mutation.
func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

// HealthURL returns the liveness probe endpoint for the network monitor.
func (c *HTTPClient) HealthURL() string {
	return c.baseURL + "/health"
}

// Create implements RemoteClient.
func (c *HTTPClient) Create(ctx context.Context, payload CreatePayload) (*RemoteTransaction, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/transactions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError("create", resp)
	}

	var created RemoteTransaction
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return &created, nil
}

// Update implements RemoteClient.
func (c *HTTPClient) Update(ctx context.Context, serverID string, patch models.TransactionPatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode update patch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPatch, c.baseURL+"/transactions/"+serverID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError("update", resp)
	}
	return nil
}

// Delete implements RemoteClient. A 404 is treated as success: the record
// is already gone.
func (c *HTTPClient) Delete(ctx context.Context, serverID string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/transactions/"+serverID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError("delete", resp)
	}
	return nil
}

// List implements RemoteClient.
func (c *HTTPClient) List(ctx context.Context) ([]RemoteTransaction, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/transactions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError("list", resp)
	}

	var items []RemoteTransaction
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}
	return items, nil
}

// do builds and sends one request with a JSON body.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, url, err)
	}
	return resp, nil
}

// httpError drains a bounded amount of the body for the error message.
func httpError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote %s failed: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}
