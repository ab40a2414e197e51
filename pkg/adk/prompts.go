package adk

import (
	_ "embed"
)

//go:embed prompts/system_prompt.md
var systemPrompt string

// SystemPrompt returns the instruction sent ahead of every generation request.
func SystemPrompt() string {
	return systemPrompt
}
