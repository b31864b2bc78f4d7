// Package model defines the provider-agnostic abstractions for driving a
// language model from the control loop.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Speak the core message log directly (core.Message, core.ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic, Gemini) implement Model in sub-packages so the
// loop remains decoupled from vendor SDKs.
package model
