package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

const maxErrorBody = 4 << 10

// APIClient calls the banking REST API. Callers get typed errors, never status codes:
// errors.ErrSessionExpired for 401, *InsufficientRoleError for 403, *APIError otherwise.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient sends requests to baseURL through transport, normally a *Transport
func NewAPIClient(baseURL string, transport http.RoundTripper) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// Do sends in as JSON (when not nil) and decodes a 2xx body into out (when not nil)
func (c *APIClient) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[APIClient Do] encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("[APIClient Do] build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("[APIClient Do] %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("[APIClient Do] %s %s: %w", method, path, errors.ErrSessionExpired)
	case resp.StatusCode == http.StatusForbidden:
		return &InsufficientRoleError{Method: method, Path: path, Message: errorMessage(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("[APIClient Do] decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls "message" or "error" out of a JSON error body, falling back to the raw text
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
