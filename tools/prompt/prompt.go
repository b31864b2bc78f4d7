// Package prompt holds the system prompt of the trading agent.
package prompt

import (
	_ "embed"

	"github.com/shapeshift/agentic-chat/flow"
)

//go:embed system_prompt.md
var systemPrompt string

// SystemPrompt returns the raw prompt template.
func SystemPrompt() string { return systemPrompt }

// Instruction returns the prompt as a loop instruction. It is rendered per
// invocation so the current date stays accurate.
func Instruction() flow.Instruction {
	return flow.NewInstructionFromText(systemPrompt)
}
