package providers

import (
	"fmt"

	"caseflow/botengine"
	"caseflow/config"
)

// ForAPI builds the provider matching an agent's API tag from the configured
// keys.
func ForAPI(api string, cfg config.AgentConfig) (botengine.Provider, error) {
	switch api {
	case "openai":
		return NewOpenAICompat(api, cfg.OpenAIKey)
	case "openrouter":
		return NewOpenAICompat(api, cfg.OpenRouterKey)
	case "mistral":
		return NewOpenAICompat(api, cfg.MistralKey)
	case "gemini":
		return NewGemini(cfg.GeminiKey)
	}
	return nil, fmt.Errorf("providers: unsupported api %q", api)
}
