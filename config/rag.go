package config

import (
	"sync"
)

var (
	ragOnce   sync.Once
	ragConfig *RAGConfig
)

// RAGConfig tunes exemplar retrieval for extraction prompts.
type RAGConfig struct {
	Enabled       bool
	TopK          int
	MinSimilarity float64
	Index         string // "memory" or "redis"
	VerifiedBoost float64
}

func GetRAGConfig() *RAGConfig {
	ragOnce.Do(func() {
		loadEnv()

		ragConfig = &RAGConfig{
			Enabled:       getEnvBool("RAG_ENABLED", true),
			TopK:          getEnvInt("RAG_TOP_K", 3),
			MinSimilarity: getEnvFloat("RAG_MIN_SIMILARITY", 0.55),
			Index:         getEnv("RAG_INDEX", "memory"),
			VerifiedBoost: getEnvFloat("RAG_VERIFIED_BOOST", 0.05),
		}
	})
	return ragConfig
}
