// Package bebop fetches swap quotes from the Bebop router.
package bebop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shapeshift/agentic-chat/tools/units"
)

// Router constants.
const (
	DefaultBaseURL = "https://api.bebop.xyz"
	// NativeMarker is the address Bebop uses for a chain's native asset.
	NativeMarker = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	// DefaultTaker is used when the caller did not supply a sell address.
	DefaultTaker = "0x0000000000000000000000000000000000000001"
)

var chainNames = map[string]string{
	"ethereum":  "ethereum",
	"polygon":   "polygon",
	"arbitrum":  "arbitrum",
	"base":      "base",
	"avalanche": "avalanche",
	"optimism":  "optimism",
	"bsc":       "bsc",
}

// Config configures the Bebop client.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Asset identifies a token in a quote request.
type Asset struct {
	Address   string `json:"address"`
	Precision int    `json:"precision"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
}

// QuoteRequest asks for the amount of ToAsset received for Amount of
// FromAsset.
type QuoteRequest struct {
	Chain       string
	FromAsset   Asset
	ToAsset     Asset
	Amount      string
	FromAddress string
}

// Token is one side of a quote as returned by the router.
type Token struct {
	Amount   json.Number `json:"amount"`
	Symbol   string      `json:"symbol"`
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	Decimals int         `json:"decimals"`
}

// Quote is the first route of a router response.
type Quote struct {
	ChainID        int64            `json:"chainId"`
	BuyTokens      map[string]Token `json:"buyTokens"`
	SellTokens     map[string]Token `json:"sellTokens"`
	ApprovalTarget string           `json:"approvalTarget,omitempty"`
	Tx             json.RawMessage  `json:"tx,omitempty"`
}

type routerResponse struct {
	Routes []struct {
		Quote *json.RawMessage `json:"quote"`
	} `json:"routes"`
}

// QuoteAsset describes an asset of a rate in CAIP form.
type QuoteAsset struct {
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Precision int    `json:"precision"`
	ChainID   string `json:"chainId"`
	AssetID   string `json:"assetId"`
}

// Rate is the display summary of a quote, the part shown to the model.
type Rate struct {
	SellAmountCryptoPrecision string          `json:"sellAmountCryptoPrecision"`
	BuyAmountCryptoPrecision  string          `json:"buyAmountCryptoPrecision"`
	SellAsset                 QuoteAsset      `json:"sellAsset"`
	BuyAsset                  QuoteAsset      `json:"buyAsset"`
	TxData                    json.RawMessage `json:"txData,omitempty"`
}

// RateArtifact is the full machine-usable quote, kept out of the model
// context.
type RateArtifact struct {
	SwapperName               string           `json:"swapperName"`
	SellAmountCryptoBaseUnit  string           `json:"sellAmountCryptoBaseUnit"`
	SellAmountCryptoPrecision string           `json:"sellAmountCryptoPrecision"`
	BuyAmountCryptoBaseUnit   string           `json:"buyAmountCryptoBaseUnit"`
	BuyAmountCryptoPrecision  string           `json:"buyAmountCryptoPrecision"`
	ApprovalTarget            string           `json:"approvalTarget,omitempty"`
	SellAsset                 QuoteAsset       `json:"sellAsset"`
	BuyAsset                  QuoteAsset       `json:"buyAsset"`
	TxData                    json.RawMessage  `json:"txData,omitempty"`
	BuyTokens                 map[string]Token `json:"buyTokens"`
	SellTokens                map[string]Token `json:"sellTokens"`
	Quote                     json.RawMessage  `json:"quote"`
}

// Client calls the Bebop router.
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
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, http: httpClient}
}

// Rate fetches a quote and splits it into its display summary and artifact.
func (c *Client) Rate(ctx context.Context, req QuoteRequest) (Rate, RateArtifact, error) {
	sellBase, err := units.ToBaseUnit(req.Amount, req.FromAsset.Precision)
	if err != nil {
		return Rate{}, RateArtifact{}, fmt.Errorf("sell amount: %w", err)
	}
	sellToken, err := tokenAddress(req.FromAsset)
	if err != nil {
		return Rate{}, RateArtifact{}, err
	}
	buyToken, err := tokenAddress(req.ToAsset)
	if err != nil {
		return Rate{}, RateArtifact{}, err
	}
	taker := DefaultTaker
	if req.FromAddress != "" {
		if !common.IsHexAddress(req.FromAddress) {
			return Rate{}, RateArtifact{}, fmt.Errorf("invalid from address %q", req.FromAddress)
		}
		taker = common.HexToAddress(req.FromAddress).Hex()
	}

	chain := req.Chain
	if mapped, ok := chainNames[strings.ToLower(chain)]; ok {
		chain = mapped
	}

	q := url.Values{}
	q.Set("sell_tokens", sellToken)
	q.Set("buy_tokens", buyToken)
	q.Set("sell_amounts", sellBase)
	q.Set("taker_address", taker)
	q.Set("approval_type", "Standard")
	q.Set("skip_validation", "true")
	q.Set("gasless", "false")
	q.Set("source", "shapeshift")

	endpoint := fmt.Sprintf("%s/router/%s/v1/quote?%s", c.baseURL, url.PathEscape(chain), q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Rate{}, RateArtifact{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("source-auth", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Rate{}, RateArtifact{}, fmt.Errorf("bebop request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Rate{}, RateArtifact{}, fmt.Errorf("failed to fetch Bebop rate: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var data routerResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Rate{}, RateArtifact{}, fmt.Errorf("decode bebop response: %w", err)
	}
	if len(data.Routes) == 0 || data.Routes[0].Quote == nil {
		return Rate{}, RateArtifact{}, errors.New("no routes found in Bebop response")
	}
	rawQuote := *data.Routes[0].Quote

	var quote Quote
	if err := json.Unmarshal(rawQuote, &quote); err != nil {
		return Rate{}, RateArtifact{}, fmt.Errorf("decode bebop quote: %w", err)
	}

	bought, ok := lookupToken(quote.BuyTokens, buyToken)
	if !ok {
		return Rate{}, RateArtifact{}, fmt.Errorf("quote has no buy amount for %s", buyToken)
	}
	sold, ok := lookupToken(quote.SellTokens, sellToken)
	if !ok {
		return Rate{}, RateArtifact{}, fmt.Errorf("quote has no sell token %s", sellToken)
	}

	buyBase := bought.Amount.String()
	buyPrecision, err := units.FromBaseUnit(buyBase, req.ToAsset.Precision)
	if err != nil {
		return Rate{}, RateArtifact{}, fmt.Errorf("buy amount: %w", err)
	}

	chainID := fmt.Sprintf("eip155:%d", quote.ChainID)
	sellAsset := quoteAsset(chainID, sold)
	buyAsset := quoteAsset(chainID, bought)

	rate := Rate{
		SellAmountCryptoPrecision: req.Amount,
		BuyAmountCryptoPrecision:  buyPrecision,
		SellAsset:                 sellAsset,
		BuyAsset:                  buyAsset,
		TxData:                    quote.Tx,
	}
	artifact := RateArtifact{
		SwapperName:               "bebop",
		SellAmountCryptoBaseUnit:  sellBase,
		SellAmountCryptoPrecision: req.Amount,
		BuyAmountCryptoBaseUnit:   buyBase,
		BuyAmountCryptoPrecision:  buyPrecision,
		ApprovalTarget:            quote.ApprovalTarget,
		SellAsset:                 sellAsset,
		BuyAsset:                  buyAsset,
		TxData:                    quote.Tx,
		BuyTokens:                 quote.BuyTokens,
		SellTokens:                quote.SellTokens,
		Quote:                     rawQuote,
	}
	return rate, artifact, nil
}

// tokenAddress returns the checksummed router address of a, mapping ETH to
// the native marker.
func tokenAddress(a Asset) (string, error) {
	if strings.EqualFold(strings.TrimSpace(a.Symbol), "ETH") {
		return common.HexToAddress(NativeMarker).Hex(), nil
	}
	if !common.IsHexAddress(a.Address) {
		return "", fmt.Errorf("invalid token address %q for %s", a.Address, a.Symbol)
	}
	return common.HexToAddress(a.Address).Hex(), nil
}

func lookupToken(tokens map[string]Token, address string) (Token, bool) {
	if t, ok := tokens[address]; ok {
		return t, true
	}
	for k, t := range tokens {
		if strings.EqualFold(k, address) {
			return t, true
		}
	}
	return Token{}, false
}

func quoteAsset(chainID string, t Token) QuoteAsset {
	return QuoteAsset{
		Name:      t.Name,
		Symbol:    t.Symbol,
		Precision: t.Decimals,
		ChainID:   chainID,
		AssetID:   chainID + "/erc20:" + t.Address,
	}
}
