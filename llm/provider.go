package llm

import (
	"os"
	"strings"
)

// Provider identifies which API serves a model.
type Provider string

// Supported providers.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// ParseModelString resolves a configured model string, as written in the
// engine's summarizer config, to the provider serving it and the bare
// model name. An explicit "provider/name" prefix wins. Without one the
// name's shape decides: claude* is Anthropic, gpt-*/o1/o3/o4 are OpenAI.
// Otherwise the environment breaks the tie (OLLAMA_HOST, then
// OPENAI_API_KEY), falling back to Anthropic.
func ParseModelString(model string) (Provider, string) {
	if prefix, name, ok := strings.Cut(model, "/"); ok && prefix != "" {
		switch Provider(strings.ToLower(prefix)) {
		case ProviderAnthropic:
			return ProviderAnthropic, name
		case ProviderOpenAI:
			return ProviderOpenAI, name
		case ProviderOllama:
			return ProviderOllama, name
		}
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic, model
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
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

// NewClientForModel builds the client for a model string and returns it
// with the bare model name to pass in requests. Credentials come from
// the environment: ANTHROPIC_API_KEY (read by the SDK), OPENAI_API_KEY
// plus optional OPENAI_BASE_URL for compatible endpoints, and
// OLLAMA_HOST (default http://localhost:11434).
func NewClientForModel(model string) (Client, string) {
	provider, name := ParseModelString(model)
	switch provider {
	case ProviderOllama:
		return NewOllamaClient(os.Getenv("OLLAMA_HOST")), name
	case ProviderOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			return NewOpenAICompatibleClient(base, key), name
		}
		return NewOpenAIClient(key), name
	}
	return NewAnthropicClient(), name
}
