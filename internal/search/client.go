// Package search queries the persona knowledge base.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/personatwin/internal/config"
	"github.com/ent0n29/personatwin/internal/reliability"
)

const apiVersion = "2023-11-01"

var ErrNotConfigured = errors.New("search: endpoint, index or api key not configured")

// StatusError is a non-2xx answer from the search service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search http status %d: %s", e.StatusCode, e.Body)
}

// Searcher returns a formatted text blob of ranked results. Zero results is
// not an error.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Client is an Azure AI Search REST client.
type Client struct {
	endpoint     string
	apiKey       string
	index        string
	contentField string
	top          int
	retry        reliability.Policy
	client       *http.Client
}

func NewClient(cfg config.SearchConfig) *Client {
	top := cfg.Top
	if top <= 0 {
		top = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	field := strings.TrimSpace(cfg.ContentField)
	if field == "" {
		field = "content"
	}
	return &Client{
		endpoint:     strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		index:        strings.TrimSpace(cfg.Index),
		contentField: field,
		top:          top,
		retry: reliability.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			Base:        200 * time.Millisecond,
			Cap:         2 * time.Second,
			Retryable:   isRetryable,
		},
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether endpoint, index and key are all present.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.index != "" && c.apiKey != ""
}

type searchRequest struct {
	Search     string `json:"search"`
	Top        int    `json:"top"`
	Select     string `json:"select"`
	QueryType  string `json:"queryType"`
	SearchMode string `json:"searchMode"`
}

type searchResponse struct {
	Value []map[string]any `json:"value"`
}

func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	docs, err := c.documents(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(query, docs), nil
}

func (c *Client) documents(ctx context.Context, query string) ([]string, error) {
	payload, err := json.Marshal(searchRequest{
		Search:     query,
		Top:        c.top,
		Select:     c.contentField,
		QueryType:  "simple",
		SearchMode: "any",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", c.endpoint, c.index, apiVersion)

	var docs []string
	err = c.retry.Do(ctx, func(int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("api-key", c.apiKey)

		res, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		var decoded searchResponse
		if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		docs = docs[:0]
		for _, v := range decoded.Value {
			if s, ok := v[c.contentField].(string); ok {
				docs = append(docs, s)
			} else {
				docs = append(docs, "")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.StatusCode)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Format renders documents the way the grounding template expects them.
func Format(query string, docs []string) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No relevant documents found for query: %q. Try rephrasing the question.", query)
	}
	var b strings.Builder
	for i, content := range docs {
		fmt.Fprintf(&b, "[Document %d: %s]\n%s\n---\n\n", i+1, preview(content), content)
	}
	plural := ""
	if len(docs) > 1 {
		plural = "s"
	}
	return fmt.Sprintf("Found %d relevant document%s for query: %q\n\n%s", len(docs), plural, query, b.String())
}

func preview(content string) string {
	if content == "" {
		return "Knowledge base document"
	}
	r := []rune(content)
	if len(r) > 100 {
		r = r[:100]
	}
	return strings.TrimSpace(strings.ReplaceAll(string(r), "\n", " ")) + "..."
}
