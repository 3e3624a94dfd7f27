package blocktime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ExplorerLookup resolves timestamps through an Etherscan-compatible
// getblocknobytime endpoint.
type ExplorerLookup struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
	chainID uint64
}

func NewExplorerLookup(baseURL, apiKey string, chainID uint64) *ExplorerLookup {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.Logger = nil
	return &ExplorerLookup{client: client, baseURL: baseURL, apiKey: apiKey, chainID: chainID}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (e *ExplorerLookup) BlockNoByTime(ctx context.Context, t time.Time) (uint64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(t.Unix(), 10))
	params.Set("closest", "before")
	if e.chainID != 0 {
		params.Set("chainid", strconv.FormatUint(e.chainID, 10))
	}
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var parsed explorerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode explorer response: %w", err)
	}
	var result string
	if err := json.Unmarshal(parsed.Result, &result); err != nil {
		return 0, fmt.Errorf("unexpected explorer result %s", string(parsed.Result))
	}
	if parsed.Status != "1" {
		return 0, fmt.Errorf("explorer error: %s: %s", parsed.Message, result)
	}
	number, err := strconv.ParseUint(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("explorer returned non-numeric block %q", result)
	}
	return number, nil
}
