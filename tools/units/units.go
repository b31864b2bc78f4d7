// Package units converts between human-readable token amounts and integer
// base units (e.g. ETH and wei) without floating point.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/tool"
)

// MaxPrecision bounds the accepted token precision.
const MaxPrecision = 77

// FromBaseUnit divides value by 10^precision. The result has no trailing
// zeros and no exponent, e.g. ("1500000", 6) -> "1.5".
func FromBaseUnit(value string, precision int) (string, error) {
	if err := checkPrecision(precision); err != nil {
		return "", err
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return "", fmt.Errorf("invalid base unit value %q", value)
	}

	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if precision > 0 {
		if len(digits) <= precision {
			digits = strings.Repeat("0", precision-len(digits)+1) + digits
		}
		split := len(digits) - precision
		whole, frac := digits[:split], strings.TrimRight(digits[split:], "0")
		digits = whole
		if frac != "" {
			digits += "." + frac
		}
	}

	if neg && digits != "0" {
		return "-" + digits, nil
	}
	return digits, nil
}

// ToBaseUnit multiplies a decimal value by 10^precision. A value with more
// fractional digits than precision is rejected rather than truncated.
func ToBaseUnit(value string, precision int) (string, error) {
	if err := checkPrecision(precision); err != nil {
		return "", err
	}
	s := strings.TrimSpace(value)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if (whole == "" && frac == "") || !isDigits(whole) || !isDigits(frac) {
		return "", fmt.Errorf("invalid decimal value %q", value)
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > precision {
		return "", fmt.Errorf("value %q has more than %d decimal places", value, precision)
	}

	v, _ := new(big.Int).SetString("0"+whole+frac+strings.Repeat("0", precision-len(frac)), 10)
	if neg {
		v.Neg(v)
	}
	return v.String(), nil
}

func checkPrecision(p int) error {
	if p < 0 || p > MaxPrecision {
		return fmt.Errorf("precision %d out of range [0, %d]", p, MaxPrecision)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var conversionParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"value": map[string]any{
			"type":        "string",
			"description": "The value to convert",
		},
		"precision": map[string]any{
			"type":        "integer",
			"description": "The precision of the token (e.g. 18 for ETH, 6 for USDC)",
			"minimum":     0,
			"maximum":     MaxPrecision,
		},
	},
	"required": []string{"value", "precision"},
}

// Tools returns the fromBaseUnit and toBaseUnit tools.
func Tools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionTool(
			"fromBaseUnit",
			"Convert a value from base units (e.g. wei) to human-readable units (e.g. ETH).",
			conversionParams,
			func(_ *core.ToolContext, args map[string]any) (any, error) {
				return FromBaseUnit(tool.StringArg(args, "value", ""), tool.IntArg(args, "precision", 0))
			},
		),
		tool.NewFunctionTool(
			"toBaseUnit",
			"Convert a value from human-readable units (e.g. ETH) to base units (e.g. wei).",
			conversionParams,
			func(_ *core.ToolContext, args map[string]any) (any, error) {
				return ToBaseUnit(tool.StringArg(args, "value", ""), tool.IntArg(args, "precision", 0))
			},
		),
	}
}
