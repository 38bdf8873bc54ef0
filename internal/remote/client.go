// Package remote wraps the hosted backend: per-table CRUD, remote procedure
// calls, auth passthrough and the realtime change feed.
//
// The client hides credential and initialization failure behind
// IsAvailable(); every other method assumes the repository layer checked
// availability first and surfaces backend errors to its caller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds the connection settings for the hosted backend.
type Config struct {
	BaseURL     string
	APIKey      string
	RedirectURL string // OAuth redirect target for this deployment
	Timeout     time.Duration
}

// Client is the single configured connection to the remote backend.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	available  bool

	mu            sync.RWMutex
	session       *Session
	authListeners map[int]func(event string, session *Session)
	nextListener  int
}

// NewClient builds a client from config. Missing or malformed credentials
// leave the client constructed but unavailable; no method panics.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		authListeners: make(map[int]func(string, *Session)),
	}

	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return c
	}

	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return c
	}

	c.baseURL = parsed
	c.available = true
	return c
}

// IsAvailable reports whether the client was configured with usable
// credentials. Never returns an error.
func (c *Client) IsAvailable() bool {
	return c != nil && c.available
}

// Table returns a query scoped to a named remote table.
func (c *Client) Table(name string) *TableQuery {
	return &TableQuery{client: c, name: name}
}

// RPC invokes a named remote procedure with the given arguments.
func (c *Client) RPC(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("remote client is not available")
	}

	body, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+name, nil, args, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", name, err)
	}
	return body, nil
}

// TableQuery builds CRUD calls against one remote table.
type TableQuery struct {
	client *Client
	name   string
}

// Select fetches rows matching the given column=value filters.
func (q *TableQuery) Select(ctx context.Context, filters map[string]string) ([]map[string]any, error) {
	query := url.Values{}
	query.Set("select", "*")
	for column, value := range filters {
		query.Set(column, "eq."+value)
	}

	body, err := q.client.do(ctx, http.MethodGet, q.path(), query, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.name, err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("select %s: decode response: %w", q.name, err)
	}
	return rows, nil
}

// SelectOne fetches a single row by column equality, or an error if no row
// matches.
func (q *TableQuery) SelectOne(ctx context.Context, column, value string) (map[string]any, error) {
	rows, err := q.Select(ctx, map[string]string{column: value})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("select %s: no row with %s=%s", q.name, column, value)
	}
	return rows[0], nil
}

// Insert creates a row and returns the stored representation.
func (q *TableQuery) Insert(ctx context.Context, row map[string]any) (map[string]any, error) {
	headers := map[string]string{"Prefer": "return=representation"}
	body, err := q.client.do(ctx, http.MethodPost, q.path(), nil, row, headers)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", q.name, err)
	}
	return firstRow(body)
}

// Upsert creates a row, merging into an existing one on key conflict.
// Used for replaying queued inserts so a redelivered operation cannot
// duplicate a row.
func (q *TableQuery) Upsert(ctx context.Context, row map[string]any) (map[string]any, error) {
	headers := map[string]string{
		"Prefer": "return=representation,resolution=merge-duplicates",
	}
	body, err := q.client.do(ctx, http.MethodPost, q.path(), nil, row, headers)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", q.name, err)
	}
	return firstRow(body)
}

// Update patches rows matching column=value and returns the first updated
// representation.
func (q *TableQuery) Update(ctx context.Context, column, value string, patch map[string]any) (map[string]any, error) {
	query := url.Values{}
	query.Set(column, "eq."+value)
	headers := map[string]string{"Prefer": "return=representation"}

	body, err := q.client.do(ctx, http.MethodPatch, q.path(), query, patch, headers)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", q.name, err)
	}
	return firstRow(body)
}

// Delete removes rows matching column=value.
func (q *TableQuery) Delete(ctx context.Context, column, value string) error {
	query := url.Values{}
	query.Set(column, "eq."+value)

	if _, err := q.client.do(ctx, http.MethodDelete, q.path(), query, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", q.name, err)
	}
	return nil
}

func (q *TableQuery) path() string {
	return "/rest/v1/" + q.name
}

// do performs one backend request and returns the raw response body.
// Backend-reported errors are raised to the caller; the repository layer is
// responsible for catching them.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, headers map[string]string) ([]byte, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("remote client is not available")
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendError(resp.StatusCode, body)
	}
	return body, nil
}

// bearerToken prefers the signed-in user's access token over the API key.
func (c *Client) bearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.cfg.APIKey
}

// backendError extracts a usable message from a backend error body.
func backendError(status int, body []byte) error {
	var parsed struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, msg := range []string{parsed.Message, parsed.Msg, parsed.ErrorDescription} {
			if msg != "" {
				return fmt.Errorf("backend error (status %d): %s", status, msg)
			}
		}
	}
	return fmt.Errorf("backend error: unexpected status %d", status)
}

// firstRow decodes a representation response, which the backend returns as
// either a single object or a one-element array.
func firstRow(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}

	var row map[string]any
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("decode representation: %w", err)
	}
	return row, nil
}
