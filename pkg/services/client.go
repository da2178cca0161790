// Package services holds the HTTP clients for the external collaborators
// the coordinator consumes: the conversation service, the preference
// service, and the message pipeline. The coordinator owns no wire formats
// of its own; these clients speak the chat backend's JSON API.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/odvcencio/switchboard/pkg/errors"
)

// Client is the shared HTTP plumbing for backend calls.
type Client struct {
	baseURL string
	http    *http.Client

	// RequestHook mutates outbound requests before send; the chat
	// backend uses it to attach the CSRF header.
	RequestHook func(*http.Request)
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.http = client
	}
}

// doJSON performs a request and decodes a JSON response into out (when out
// is non-nil). Transport failures and non-2xx statuses map to NETWORK
// errors; callers decide whether to recover or surface.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "encoding request body")
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.RequestHook != nil {
		c.RequestHook(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeNetwork, "request failed").
			WithContext("path", path).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(errors.ErrCodeNetwork, fmt.Sprintf("backend returned %d", resp.StatusCode)).
			WithContext("path", path).
			WithRetryable(resp.StatusCode >= 500)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeNetwork, "decoding response").
			WithContext("path", path)
	}
	return nil
}
