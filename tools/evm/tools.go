package evm

import (
	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/tool"
)

func chainParam() map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": "The chain ID, e.g. 1 for Ethereum or 42161 for Arbitrum",
		"enum":        []any{1, 10, 56, 100, 137, 8453, 42161, 43114},
	}
}

func addressParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Tools returns getAddress, getNativeBalance, getErc20Balance and
// getAllowance bound to k.
func (k *Kit) Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionTool(
			"getAddress",
			"Get the address of the current account.",
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"chainId": chainParam()},
				"required":   []string{"chainId"},
			},
			func(_ *core.ToolContext, _ map[string]any) (any, error) {
				return k.Address(), nil
			},
		),
		tool.NewFunctionTool(
			"getNativeBalance",
			"Get the native token balance of the current account, in wei (1e18).",
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"chainId": chainParam()},
				"required":   []string{"chainId"},
			},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				v, err := k.NativeBalance(tc.Context(), int64(tool.IntArg(args, "chainId", 0)))
				if err != nil {
					return nil, err
				}
				return v.String(), nil
			},
		),
		tool.NewFunctionTool(
			"getErc20Balance",
			"Get the ERC20 token balance of the current account in base units. Use the token precision from token search to display it in human-readable format.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"token":   addressParam("The ERC20 token contract address"),
					"chainId": chainParam(),
				},
				"required": []string{"token", "chainId"},
			},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				v, err := k.ERC20Balance(tc.Context(), int64(tool.IntArg(args, "chainId", 0)), tool.StringArg(args, "token", ""))
				if err != nil {
					return nil, err
				}
				return v.String(), nil
			},
		),
		tool.NewFunctionTool(
			"getAllowance",
			"Check the ERC20 token allowance for a spender address. Returns the allowance in base units.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"token":   addressParam("The ERC20 token contract address"),
					"spender": addressParam("The spender address to check allowance for"),
					"chainId": chainParam(),
				},
				"required": []string{"token", "spender", "chainId"},
			},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				v, err := k.Allowance(tc.Context(), int64(tool.IntArg(args, "chainId", 0)),
					tool.StringArg(args, "token", ""), tool.StringArg(args, "spender", ""))
				if err != nil {
					return nil, err
				}
				return v.String(), nil
			},
		),
	}
}
