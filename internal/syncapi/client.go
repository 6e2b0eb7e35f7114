// Package syncapi is the client for the notebook sync endpoint of the
// notes API. Pull reads a notebook's current revision (and optionally its
// notes); Push applies an ordered batch of operations against a base
// revision.
package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Pulls with notes can
	// be large, so this is higher than a typical JSON API limit.
	maxAPIResponseBytes = 32 * 1024 * 1024
)

// Client talks to the notebook sync endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a sync client for the API rooted at baseURL. If
// httpClient is nil, a client with a 30-second timeout is used. token is
// sent as a bearer token when non-empty.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// Pull fetches the notebook's current revision and snapshot hash. When
// withNotes is set the full note set is included.
func (c *Client) Pull(ctx context.Context, notebookID, clientID string, withNotes bool) (*PullResponse, error) {
	q := url.Values{}
	q.Set("clientId", clientID)
	q.Set("withNotes", strconv.FormatBool(withNotes))

	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, notebookID, syncPath(notebookID)+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("pulling notebook %s: %w", notebookID, err)
	}

	return &resp, nil
}

// Push sends operations to be applied atomically against req.BaseRevision.
// A stale base revision yields a *ConflictError.
func (c *Client) Push(ctx context.Context, notebookID string, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, notebookID, syncPath(notebookID), req, &resp); err != nil {
		return nil, fmt.Errorf("pushing %d operations to notebook %s: %w", len(req.Operations), notebookID, err)
	}

	return &resp, nil
}

func syncPath(notebookID string) string {
	return "/notebooks/" + url.PathEscape(notebookID) + "/sync"
}

// do sends a JSON request and decodes the response into result.
func (c *Client) do(ctx context.Context, method, notebookID, endpoint string, body, result any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return &TransientError{Err: fmt.Errorf("sending request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		he := NewHTTPError(resp.StatusCode, respBody)
		if isConflictStatus(resp.StatusCode) {
			return &ConflictError{NotebookID: notebookID, StatusCode: resp.StatusCode, Message: he.Message}
		}

		return he
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// NewHTTPError builds an HTTPError from a failed response, preferring the
// message from a JSON error body and falling back to the sanitized body.
func NewHTTPError(status int, body []byte) *HTTPError {
	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Error
	}

	if msg == "" {
		msg = sanitizeResponseBody(body)
	}

	if msg == "" {
		msg = http.StatusText(status)
	}

	return &HTTPError{StatusCode: status, Code: apiErr.Code, Message: msg}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
