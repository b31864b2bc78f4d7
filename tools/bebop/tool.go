package bebop

import (
	"fmt"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/internal/util"
	"github.com/shapeshift/agentic-chat/tool"
)

// RateTool exposes Client.Rate as the bebopRate tool. The display summary is
// the tool content and the full quote is the artifact.
type RateTool struct {
	client *Client
}

// NewRateTool creates the bebopRate tool.
func NewRateTool(client *Client) *RateTool { return &RateTool{client: client} }

func (t *RateTool) Name() string { return "bebopRate" }

func (t *RateTool) Description() string {
	return `Fetches a swap rate from Bebop and displays it to the user.

Returns sellAmountCryptoPrecision and buyAmountCryptoPrecision, the amounts in human-readable precision, plus the buy and sell asset descriptions.
Only display the precision values to the user. Do not display base unit values or transaction data unless the user asks for technical details.`
}

func assetSchema(description string) map[string]any {
	return map[string]any{
		"type":        "object",
		"description": description,
		"properties": map[string]any{
			"address":   map[string]any{"type": "string"},
			"precision": map[string]any{"type": "integer", "minimum": 0, "maximum": 77},
			"name":      map[string]any{"type": "string"},
			"symbol":    map[string]any{"type": "string"},
		},
		"required": []string{"address", "precision", "name", "symbol"},
	}
}

func (t *RateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chain": map[string]any{
				"type":        "string",
				"description": "Chain name, e.g. ethereum, arbitrum, polygon",
			},
			"fromAsset": assetSchema("Asset to sell"),
			"toAsset":   assetSchema("Asset to buy"),
			"amount": map[string]any{
				"type":        "string",
				"description": "Amount in human format, e.g. 1 for 1 ETH",
			},
			"fromAddress": map[string]any{
				"type":        "string",
				"description": "The address the user is swapping from. Get it with the getAddress tool if not explicitly provided.",
			},
		},
		"required": []string{"chain", "fromAsset", "toAsset", "amount"},
	}
}

func (t *RateTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		return nil, tool.NewToolError(t.Name(), fmt.Sprintf("parameter validation failed: %v", err), tool.CodeValidation)
	}

	req := QuoteRequest{
		Chain:       tool.StringArg(args, "chain", ""),
		FromAsset:   assetArg(args, "fromAsset"),
		ToAsset:     assetArg(args, "toAsset"),
		Amount:      tool.StringArg(args, "amount", ""),
		FromAddress: tool.StringArg(args, "fromAddress", ""),
	}

	rate, artifact, err := t.client.Rate(toolCtx.Context(), req)
	if err != nil {
		return nil, err
	}
	toolCtx.LogDebug("bebop.rate", "chain", req.Chain, "sell", rate.SellAsset.Symbol, "buy", rate.BuyAsset.Symbol)

	return tool.Result{Content: rate, Artifact: artifact}, nil
}

func assetArg(args map[string]any, key string) Asset {
	m, _ := args[key].(map[string]any)
	return Asset{
		Address:   tool.StringArg(m, "address", ""),
		Precision: tool.IntArg(m, "precision", 0),
		Name:      tool.StringArg(m, "name", ""),
		Symbol:    tool.StringArg(m, "symbol", ""),
	}
}
