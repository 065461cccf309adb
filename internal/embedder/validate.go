package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// knownChatModelPrefixes identify chat/completion models which are NOT
// suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateConfig is a pre-flight check run by the commands before building
// the Provider. Missing credentials for a remote backend are an error; a
// chat-looking EMBEDDING_MODEL or a non-default dimension with the local
// backend only warn.
func ValidateConfig(log *slog.Logger) error {
	backend := strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "local"))

	switch backend {
	case "local", "ollama", "none":
	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=openai but no API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=azure but no API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: EMBEDDING_PROVIDER=azure but no endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q (valid: local, ollama, openai, azure, none)", backend)
	}

	if backend == "none" {
		log.Warn("embedder: disabled, search will use lexical matching only")
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, text-embedding-3-small"),
		)
	}
	return nil
}
