package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchlab/planhub/pkg/replay"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

type planhubClient struct {
	baseURL string
	secret  string
	tenant  string
	site    string
	actor   string
	http    *http.Client
}

func newClient() *planhubClient {
	return &planhubClient{
		baseURL: resolvedServer(),
		secret:  resolvedSecret(),
		tenant:  resolvedTenant(),
		site:    resolvedSite(),
		actor:   resolvedActor(),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// scopeHeaders stamps the tenancy headers on a request.
func (c *planhubClient) scopeHeaders(req *http.Request) {
	if c.tenant != "" {
		req.Header.Set(tenancy.TenantHeader, c.tenant)
	}
	if c.site != "" {
		req.Header.Set(tenancy.SiteHeader, c.site)
	}
	if c.actor != "" {
		req.Header.Set(tenancy.ActorHeader, c.actor)
	}
}

// getJSON performs a GET request and decodes the response.
func (c *planhubClient) getJSON(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	c.scopeHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// getRaw performs a GET request and returns the raw JSON.
func (c *planhubClient) getRaw(path string) (map[string]any, error) {
	var result map[string]any
	if err := c.getJSON(path, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// sendSigned performs a mutating request with a signed body. The signature
// token covers the exact bytes sent; the server consumes its nonce once, so
// a retry needs a fresh call.
func (c *planhubClient) sendSigned(method, path string, body any, v any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	if c.secret == "" {
		return fmt.Errorf("a signing secret is required for %s %s (set --secret, PLANHUB_SIGNING_SECRET, or secret in ~/.planhubctl.yaml)", method, path)
	}
	token, err := replay.SignRequest([]byte(c.secret), data, time.Now(), uuid.New().String())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(replay.SignatureHeader, token)
	c.scopeHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// postSigned performs a signed POST request.
func (c *planhubClient) postSigned(path string, body any, v any) error {
	return c.sendSigned(http.MethodPost, path, body, v)
}

// putSigned performs a signed PUT request.
func (c *planhubClient) putSigned(path string, body any, v any) error {
	return c.sendSigned(http.MethodPut, path, body, v)
}

// deleteSigned performs a signed DELETE request with an empty body.
func (c *planhubClient) deleteSigned(path string, v any) error {
	return c.sendSigned(http.MethodDelete, path, nil, v)
}
