package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/splitpost/internal/experiment"
	"github.com/haasonsaas/splitpost/internal/server"
)

// apiClient talks to a running splitpost server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *apiClient) createExperiment(ctx context.Context, req server.CreateRequest) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	if err := c.do(ctx, http.MethodPost, "/v1/experiments", req, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *apiClient) getExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	if err := c.do(ctx, http.MethodGet, "/v1/experiments/"+url.PathEscape(id), nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *apiClient) listExperiments(ctx context.Context, campaignID string) ([]*experiment.Experiment, error) {
	var list []*experiment.Experiment
	path := "/v1/experiments?campaign=" + url.QueryEscape(campaignID)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *apiClient) cancelExperiment(ctx context.Context, id string) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	path := "/v1/experiments/" + url.PathEscape(id) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *apiClient) status(ctx context.Context) (*server.StatusResponse, error) {
	var status server.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
