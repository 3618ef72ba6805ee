package peerhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/usecase"
)

const maxBundleBytes = 1 << 20

// Client fetches signed trust bundles from peer bundle endpoints. The
// caller's context carries the per-peer deadline.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) FetchBundle(ctx context.Context, endpoint string) (domain.SignedBundle, error) {
	url := strings.TrimRight(endpoint, "/") + "/v1/trust-bundle"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.SignedBundle{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.SignedBundle{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.SignedBundle{}, fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes))
	if err != nil {
		return domain.SignedBundle{}, err
	}
	var signed domain.SignedBundle
	if err := json.Unmarshal(body, &signed); err != nil {
		return domain.SignedBundle{}, fmt.Errorf("malformed bundle response: %w", err)
	}
	return signed, nil
}

var _ usecase.PeerClient = (*Client)(nil)
