package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kalambet/reviewiq/internal/config"
)

type apiClient struct {
	rc *resty.Client
}

func newClient(baseURL, token string) *apiClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &apiClient{rc: rc}
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port), cfg.API.AdminToken), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("server not reachable, is reviewiq running? (%w)", err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// responseError unwraps the API error envelope when there is one.
func responseError(resp *resty.Response) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), envelope.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode(), resp.String())
}
