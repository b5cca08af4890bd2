package llm

import (
	"os"
	"strings"
)

// Provider identifies a language-model provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderNone      Provider = "none"
)

// ParseModelString parses a model string into provider and model name.
//
// Supported formats:
//
//	"ollama/llama3.2"          → (ollama, "llama3.2")
//	"openai/gpt-4o"            → (openai, "gpt-4o")
//	"gemini/gemini-2.0-flash"  → (gemini, "gemini-2.0-flash")
//	"claude-sonnet-4-20250514" → (anthropic, "claude-sonnet-4-20250514")
//	"gpt-4o"                   → (openai, "gpt-4o")
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		name := model[i+1:]
		switch prefix {
		case "ollama":
			return ProviderOllama, name
		case "openai":
			return ProviderOpenAI, name
		case "gemini", "google":
			return ProviderGemini, name
		case "anthropic":
			return ProviderAnthropic, name
		}
	}

	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "claude") {
		return ProviderAnthropic, model
	}
	if strings.HasPrefix(lower, "gemini") {
		return ProviderGemini, model
	}
	if strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") {
		return ProviderOpenAI, model
	}

	if os.Getenv("OLLAMA_HOST") != "" {
		return ProviderOllama, model
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI, model
	}

	return ProviderAnthropic, model
}

// NewClientForModel creates the appropriate client based on the model string.
// An empty model string yields (nil, ProviderNone): the caller must run on
// the deterministic fallback responder alone.
//
// Environment variables used:
//
//	ANTHROPIC_API_KEY  — Anthropic API key (read by SDK automatically)
//	GEMINI_API_KEY     — Google Gemini API key
//	OPENAI_API_KEY     — OpenAI API key
//	OPENAI_BASE_URL    — Custom OpenAI-compatible base URL
//	OLLAMA_HOST        — Ollama server address (default: http://localhost:11434)
func NewClientForModel(model string) (Client, Provider, string) {
	if model == "" {
		return nil, ProviderNone, ""
	}
	provider, modelName := ParseModelString(model)

	switch provider {
	case ProviderOllama:
		host := os.Getenv("OLLAMA_HOST")
		return NewOllamaClient(host), provider, modelName

	case ProviderGemini:
		client, err := NewGeminiClient(os.Getenv("GEMINI_API_KEY"))
		if err != nil {
			return nil, ProviderNone, modelName
		}
		return client, provider, modelName

	case ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		baseURL := os.Getenv("OPENAI_BASE_URL")
		if baseURL != "" {
			return NewOpenAICompatibleClient(baseURL, apiKey), provider, modelName
		}
		return NewOpenAIClient(apiKey), provider, modelName

	default: // ProviderAnthropic
		return NewAnthropicClient(), provider, modelName
	}
}
