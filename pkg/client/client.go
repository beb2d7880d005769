package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// ErrNotFound is matched by an *APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	State      string // frame state for seal failures: "rejected" or "pending"
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("windchill: %d (%s): %s", e.StatusCode, e.State, e.Message)
	}
	return fmt.Sprintf("windchill: %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) true for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Entry is a sealed ledger entry as served by the API. Digests are
// lowercase hex.
type Entry struct {
	SequenceID      uint64  `json:"sequence_id"`
	EntryType       string  `json:"entry_type"`
	Timestamp       float64 `json:"timestamp"`
	SceneID         string  `json:"scene_id"`
	FrameCommitment string  `json:"frame_commitment"`
	MerkleRoot      string  `json:"merkle_root"`
}

// SealRequest is the payload for Seal. Set Payload for raw frame bytes or
// Content for structured data that the daemon canonicalises before hashing.
type SealRequest struct {
	SceneID   string          `json:"scene_id"`
	EntryType string          `json:"entry_type,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
	Payload   []byte          `json:"payload,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Overview is the ledger summary returned by GET /api/v1/ledger.
type Overview struct {
	Entries uint64 `json:"entries"`
	Root    string `json:"root"`
}

// Verdict is the result of a chain or entry verification.
type Verdict struct {
	Valid      bool   `json:"valid"`
	SequenceID uint64 `json:"sequence_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EntryPage is one page of GET /api/v1/ledger/entries.
type EntryPage struct {
	Entries []Entry `json:"entries"`
	Total   uint64  `json:"total"`
	Next    *uint64 `json:"next,omitempty"`
}

// Client is the Windchill SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	pageSize    int
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a producer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithPageSize sets the page size used by All.
func WithPageSize(n int) Option {
	return func(c *Client) error {
		if n < 1 || n > 1000 {
			return fmt.Errorf("page size must be between 1 and 1000, got %d", n)
		}
		c.pageSize = n
		return nil
	}
}

// New creates a Client for the daemon at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pageSize:   100,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Seal submits a frame and returns the entry it was sealed into.
func (c *Client) Seal(ctx context.Context, req SealRequest) (*Entry, error) {
	var e Entry
	if err := c.call(ctx, http.MethodPost, "/api/v1/seals", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Overview returns the ledger length and chain root.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Verify asks the daemon to verify the whole chain.
func (c *Client) Verify(ctx context.Context) (*Verdict, error) {
	var v Verdict
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// VerifyEntry checks entry seq against its predecessor only.
func (c *Client) VerifyEntry(ctx context.Context, seq uint64) (*Verdict, error) {
	var v Verdict
	path := "/api/v1/ledger/entries/" + strconv.FormatUint(seq, 10) + "/verify"
	if err := c.call(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Entry fetches a single entry.
func (c *Client) Entry(ctx context.Context, seq uint64) (*Entry, error) {
	var e Entry
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/entries/"+strconv.FormatUint(seq, 10), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Entries fetches up to limit entries starting at from.
func (c *Client) Entries(ctx context.Context, from uint64, limit int) (*EntryPage, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(from, 10))
	q.Set("limit", strconv.Itoa(limit))
	var p EntryPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/entries?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// All ranges over every entry, fetching pages lazily.
func (c *Client) All(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var from uint64
		for {
			page, err := c.Entries(ctx, from, c.pageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			from = *page.Next
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Error string `json:"error"`
			State string `json:"state"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.State = payload.State
		}
		return nil, apiErr
	}
	return body, nil
}
