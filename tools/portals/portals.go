// Package portals searches tokens through the Portals API.
package portals

import (
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

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/internal/util"
	"github.com/shapeshift/agentic-chat/tool"
)

// Search limits.
const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// Config configures the Portals client.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Token is one search hit.
type Token struct {
	Address     string  `json:"address"`
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Decimals    int     `json:"decimals"`
	ChainID     int64   `json:"chainId,omitempty"`
	Network     string  `json:"network,omitempty"`
	LogoURI     string  `json:"logoURI,omitempty"`
	VolumeUsd7d float64 `json:"volumeUsd7d"`
	PriceUsd    float64 `json:"price,omitempty"`
}

// SearchResult is the tool output.
type SearchResult struct {
	Tokens []Token `json:"tokens"`
	Total  int     `json:"total"`
}

// SearchParams are the search criteria.
type SearchParams struct {
	Search  string
	Network string
	Limit   int
}

// Client calls the Portals API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client. A nil httpClient uses a client with a 15s
// timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// Search returns tokens matching p, sorted by 7-day USD volume.
func (c *Client) Search(ctx context.Context, p SearchParams) (SearchResult, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return SearchResult{}, errors.New("portals base url and api key must be configured")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	q := url.Values{}
	q.Set("search", p.Search)
	if p.Network != "" {
		q.Add("networks", p.Network)
	}
	q.Add("platforms", "basic")
	q.Add("platforms", "native")
	q.Set("sortBy", "volumeUsd7d")
	q.Set("sortDirection", "desc")
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/tokens?"+q.Encode(), nil)
	if err != nil {
		return SearchResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("portals request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SearchResult{}, fmt.Errorf("portals search failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SearchResult{}, fmt.Errorf("decode portals response: %w", err)
	}
	if out.Tokens == nil {
		out.Tokens = []Token{}
	}
	return out, nil
}

// SearchTool exposes Client.Search as the tokensSearch tool.
type SearchTool struct {
	client *Client
}

// NewSearchTool creates the tokensSearch tool.
func NewSearchTool(client *Client) *SearchTool { return &SearchTool{client: client} }

func (t *SearchTool) Name() string { return "tokensSearch" }

func (t *SearchTool) Description() string {
	return `Search for tokens using the Portals API. Returns tokens matching the search term, sorted by 7-day USD volume.
The user may mention a network, which should be passed as the network parameter. When omitted, all networks are searched.`
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search": map[string]any{
				"type":        "string",
				"description": "Search term for the token, e.g. symbol, name, or address",
			},
			"network": map[string]any{
				"type":        "string",
				"description": "Network to search on. Use text proximity, e.g. Binance Smart Chain means bsc and Avax means avalanche.",
				"enum":        []string{"avalanche", "ethereum", "polygon", "bsc", "optimism", "arbitrum", "gnosis", "base"},
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default 10, max 50)",
				"minimum":     1,
				"maximum":     MaxLimit,
			},
		},
		"required": []string{"search"},
	}
}

func (t *SearchTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	search := strings.TrimSpace(tool.StringArg(args, "search", ""))
	if search == "" {
		return nil, tool.NewToolError(t.Name(), "search is required", tool.CodeValidation)
	}
	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		return nil, tool.NewToolError(t.Name(), err.Error(), tool.CodeValidation)
	}

	res, err := t.client.Search(toolCtx.Context(), SearchParams{
		Search:  search,
		Network: tool.StringArg(args, "network", ""),
		Limit:   tool.IntArg(args, "limit", DefaultLimit),
	})
	if err != nil {
		return nil, err
	}
	toolCtx.LogDebug("portals.search", "search", search, "total", res.Total, "returned", len(res.Tokens))
	return res, nil
}
