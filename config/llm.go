package config

import (
	"sync"
	"time"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

type LLMConfig struct {
	OllamaEndpoint string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string
	Timeout        time.Duration
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()

		llmConfig = &LLMConfig{
			OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
			OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.1"),
			GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
			GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			Timeout:        getEnvDuration("LLM_TIMEOUT", 120*time.Second),
		}
	})
	return llmConfig
}
