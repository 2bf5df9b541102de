package services

// LLMParameters holds optional sampling parameters. A nil field means the provider default is
// used.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
}

func withSystemPrompt(systemPrompt, system string) string {
	switch {
	case systemPrompt == "":
		return system
	case system == "":
		return systemPrompt
	default:
		return systemPrompt + "\n\n" + system
	}
}
