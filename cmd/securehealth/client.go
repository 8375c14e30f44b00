package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	v1 "github.com/dmehra2102/prod-golang-projects/securehealth/internal/handler/v1"
)

// apiClient talks to a running "securehealth serve".
type apiClient struct {
	base string
	http *http.Client
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
	Code    string
	Fields  []string
	Details map[string]string
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (HTTP %d", e.Message, e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, ", %s", e.Code)
	}
	b.WriteString(")")
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "\n  - %s", f)
	}
	for k, v := range e.Details {
		fmt.Fprintf(&b, "\n  %s: %s", k, v)
	}
	return b.String()
}

func newAPIClient(opts *globalOptions) *apiClient {
	return &apiClient{
		base: strings.TrimRight(opts.server, "/") + "/api/v1",
		http: &http.Client{Timeout: opts.timeout},
	}
}

// call sends body and decodes the response envelope into out. It returns the HTTP status
// so callers can tell an applied mutation from an unknown outcome (202).
func (c *apiClient) call(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(v1.HeaderClient, "securehealth-cli")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("contacting %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, "", decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return resp.StatusCode, "", nil
	}

	env := v1.APIResponse[json.RawMessage]{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decoding response data: %w", err)
	}
	return resp.StatusCode, env.Message, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	_, _, err := c.call(ctx, http.MethodGet, path, nil, "", out)
	return err
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) (int, string, error) {
	if in == nil {
		return c.call(ctx, http.MethodPost, path, nil, "", out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return 0, "", err
	}
	return c.call(ctx, http.MethodPost, path, bytes.NewReader(b), "application/json", out)
}

// download fetches a raw body, returning it with its response headers.
func (c *apiClient) download(ctx context.Context, path string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("contacting %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, nil, decodeAPIError(resp.StatusCode, raw)
	}
	return raw, resp.Header, nil
}

func decodeAPIError(status int, raw []byte) error {
	var body struct {
		v1.ErrorResponse
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &apiError{Status: status, Message: strings.TrimSpace(string(raw))}
	}
	return &apiError{
		Status:  status,
		Message: body.Error,
		Code:    body.Code,
		Fields:  body.Fields,
		Details: body.Details,
	}
}
