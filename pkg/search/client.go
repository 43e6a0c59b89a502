// Package search exposes the gateway's three backend operations — index
// submission, term search, and top-N frequent terms — as typed, blocking
// calls over the correlation bridge.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scholarindex/gateway/pkg/bridge"
)

// Invoker is the slice of bridge.Caller the client needs; satisfied by
// *bridge.Caller and by test doubles.
type Invoker interface {
	Call(ctx context.Context, topics bridge.TopicPair, fields map[string]any, timeout time.Duration) (json.RawMessage, error)
}

// Topics holds the request/response topic pair for each operation.
type Topics struct {
	Index    bridge.TopicPair
	Search   bridge.TopicPair
	TopTerms bridge.TopicPair
}

// IndexReceipt is the backend's acknowledgment of an index submission.
type IndexReceipt struct {
	Status string `json:"status"`
}

// TermHit is one document matching a searched term.
type TermHit struct {
	DocID         string `json:"doc_id"`
	URL           string `json:"url"`
	CitationCount int    `json:"citation_count"`
	DocName       string `json:"doc_name"`
	TermFrequency int    `json:"term_frequency"`
}

// SearchResult is the backend's reply to a term search.
type SearchResult struct {
	Results       []TermHit `json:"results"`
	ExecutionTime float64   `json:"execution_time"`
}

// TermCount is one entry in a top-N frequent terms reply.
type TermCount struct {
	Term           string `json:"term"`
	TotalFrequency int64  `json:"total_frequency"`
}

// TopTermsResult is the backend's reply to a top-N request.
type TopTermsResult struct {
	Results []TermCount `json:"results"`
}

// Client validates operation payloads, dispatches them over the bridge, and
// decodes matched response envelopes into their declared result shapes.
type Client struct {
	caller  Invoker
	topics  Topics
	timeout time.Duration
}

// NewClient creates a search client. timeout is the default response
// deadline applied to every call.
func NewClient(caller Invoker, topics Topics, timeout time.Duration) *Client {
	return &Client{caller: caller, topics: topics, timeout: timeout}
}

// SubmitIndex asks the backend to fetch and index the document source at
// sourceURL, blocking until the backend acknowledges or the deadline passes.
func (c *Client) SubmitIndex(ctx context.Context, sourceURL string) (*IndexReceipt, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, &bridge.ValidationError{Field: "source_url", Reason: "must not be empty"}
	}

	raw, err := c.caller.Call(ctx, c.topics.Index, map[string]any{"source_url": sourceURL}, c.timeout)
	if err != nil {
		return nil, err
	}

	var receipt IndexReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode index reply: %w", err)
	}
	return &receipt, nil
}

// SearchTerm runs a term search against the index.
func (c *Client) SearchTerm(ctx context.Context, term string) (*SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &bridge.ValidationError{Field: "term", Reason: "must not be empty"}
	}

	raw, err := c.caller.Call(ctx, c.topics.Search, map[string]any{"term": term}, c.timeout)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode search reply: %w", err)
	}
	return &result, nil
}

// TopTerms returns the n most frequent terms across the index.
func (c *Client) TopTerms(ctx context.Context, n int) (*TopTermsResult, error) {
	if n <= 0 {
		return nil, &bridge.ValidationError{Field: "n", Reason: "must be a positive integer"}
	}

	raw, err := c.caller.Call(ctx, c.topics.TopTerms, map[string]any{"n": n}, c.timeout)
	if err != nil {
		return nil, err
	}

	var result TopTermsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode top terms reply: %w", err)
	}
	return &result, nil
}
