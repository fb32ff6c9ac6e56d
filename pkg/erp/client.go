// Package erp talks to the ERP system's REST API on behalf of dispatched
// capabilities.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

// Client is the interface capability handlers use to reach the ERP backend.
type Client interface {
	// Get performs a read against the ERP API with query parameters.
	Get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error)
	// Post performs a write against the ERP API with a JSON body.
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// RESTClient implements Client over HTTP with bearer authentication.
type RESTClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTClient creates an ERP REST client.
func NewRESTClient(baseURL, apiKey string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) Get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeInternal, "failed to build erp request", err)
	}
	return c.do(req)
}

func (c *RESTClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeInvalidInput, "failed to marshal erp request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeInternal, "failed to build erp request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *RESTClient) do(req *http.Request) (json.RawMessage, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure, "erp api call failed", err).
			WithContext("path", req.URL.Path).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure, "failed to read erp response", err).
			WithContext("path", req.URL.Path)
	}

	if resp.StatusCode >= 400 {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure,
			fmt.Sprintf("erp api returned status %d", resp.StatusCode), nil).
			WithContext("path", req.URL.Path).
			WithContext("body", string(data)).
			WithRecoverable(resp.StatusCode >= 500)
	}

	return json.RawMessage(data), nil
}

var _ Client = (*RESTClient)(nil)
