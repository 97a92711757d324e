package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/netbirdio/qzmanager/client/server"
	"github.com/netbirdio/qzmanager/version"
)

const apiTimeout = 10 * time.Second

// apiClient talks to the control API of a running qzmanager service
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base:   "http://" + addr,
		client: &http.Client{},
	}
}

func (c *apiClient) status(ctx context.Context) (*server.StatusResponse, error) {
	var resp server.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) restart(ctx context.Context) (*server.StatusResponse, error) {
	var resp server.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/restart", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to the qzmanager service: %v\n"+
			"If the service is not running please run:\n"+
			"\nqzmanager service install\nqzmanager service start\n", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr server.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s failed: %s", path, apiErr.Message)
		}
		return fmt.Errorf("%s failed with HTTP status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
