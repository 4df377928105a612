// Package auth resolves the credentials used to open a realtime session.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("API key not configured")

// Provider exchanges stored credentials for an API key.
type Provider interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey serves a key read from configuration.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(k))
	if key == "" {
		return "", ErrNotConfigured
	}
	return key, nil
}

// Remote fetches a key from a token endpoint that answers
// {"apiKey": "..."}.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string) *Remote {
	return &Remote{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	APIKey    string `json:"apiKey"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r *Remote) APIKey(ctx context.Context) (string, error) {
	if r.url == "" {
		return "", ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var decoded tokenResponse
	_ = json.Unmarshal(body, &decoded)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if decoded.Error != "" {
			return "", fmt.Errorf("auth http status %d: %s", res.StatusCode, decoded.Error)
		}
		return "", fmt.Errorf("auth http status %d", res.StatusCode)
	}
	if strings.TrimSpace(decoded.APIKey) == "" {
		return "", ErrNotConfigured
	}
	return decoded.APIKey, nil
}

// Select picks the remote endpoint when configured, else the static key.
func Select(authURL, apiKey string) Provider {
	if strings.TrimSpace(authURL) != "" {
		return NewRemote(authURL)
	}
	return StaticKey(apiKey)
}
