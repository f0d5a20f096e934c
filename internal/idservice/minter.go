// Package idservice mints node identifiers. Submissions that omit an id
// get one from a Minter: locally generated UUIDs, or an index service
// reached over HTTP.
package idservice

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

	"github.com/google/uuid"

	"github.com/roach88/vgraph/internal/retry"
)

// Minter returns a fresh, globally unique node id.
type Minter interface {
	Mint(ctx context.Context) (string, error)
}

// UUIDMinter mints random (version 4) UUIDs.
type UUIDMinter struct{}

// Mint implements Minter.
func (UUIDMinter) Mint(context.Context) (string, error) {
	return uuid.NewString(), nil
}

// HTTPMinter mints ids from an index service: POST {BaseURL}/index/
// answers {"did": "<id>"}.
type HTTPMinter struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPMinter creates a minter for baseURL with a per-request timeout.
func NewHTTPMinter(baseURL string, timeout time.Duration) *HTTPMinter {
	return &HTTPMinter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type mintRequest struct {
	Form string `json:"form"`
}

type mintResponse struct {
	DID string `json:"did"`
}

// Mint implements Minter.
func (m *HTTPMinter) Mint(ctx context.Context) (string, error) {
	body, err := json.Marshal(mintRequest{Form: "object"})
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/index/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("mint: index service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mint: decoding response: %w", err)
	}
	if out.DID == "" {
		return "", errors.New("mint: index service returned an empty id")
	}
	return out.DID, nil
}

// ping reports whether the service answers at all. Any HTTP response
// counts as alive.
func (m *HTTPMinter) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL+"/", nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// WaitAlive blocks until the service answers, within the policy's bounds.
func (m *HTTPMinter) WaitAlive(ctx context.Context, p retry.Policy) error {
	if err := p.Do(ctx, func(ctx context.Context, _ int) error {
		return m.ping(ctx)
	}); err != nil {
		return fmt.Errorf("index service %s not alive: %w", m.BaseURL, err)
	}
	return nil
}

// WaitGone blocks until the service stops answering, within the policy's
// bounds. Used when tearing a test service down.
func (m *HTTPMinter) WaitGone(ctx context.Context, p retry.Policy) error {
	if err := p.Do(ctx, func(ctx context.Context, _ int) error {
		if err := m.ping(ctx); err == nil {
			return errors.New("still answering")
		}
		return nil
	}); err != nil {
		return fmt.Errorf("index service %s still alive: %w", m.BaseURL, err)
	}
	return nil
}

// New returns an HTTPMinter for a non-empty url and a UUIDMinter
// otherwise.
func New(url string, timeout time.Duration) Minter {
	if url == "" {
		return UUIDMinter{}
	}
	return NewHTTPMinter(url, timeout)
}
