package flow

import (
	"context"
	"time"

	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/internal/util"
)

// InstructionContext is the data available to instruction providers and to
// instruction templates ({{.ThreadID}}, {{.Now}}, ...).
type InstructionContext struct {
	Context  context.Context `json:"-"`
	ThreadID string
	RunID    string
	Step     int
	Messages []core.Message
	Now      time.Time
}

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(InstructionContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(InstructionContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ic InstructionContext) (string, error) { return f(ic) }

// Instruction represents either a static instruction string or a dynamic
// provider. Instructions are prepended to every model request and never enter
// the persisted log.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(InstructionContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed, and
// renders template markers against ic.
func (i Instruction) Resolve(ic InstructionContext) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		if text, err = i.provider.Instruction(ic); err != nil {
			return "", err
		}
	}

	return util.RenderTemplate(text, map[string]any{
		"ThreadID": ic.ThreadID,
		"RunID":    ic.RunID,
		"Step":     ic.Step,
		"Messages": ic.Messages,
		"Now":      ic.Now,
	})
}
