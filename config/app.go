package config

import (
	"sync"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

// AppConfig selects the top-level wiring: how jobs are dispatched, where
// job state lives, and which provider backs each external dependency.
type AppConfig struct {
	ServerAddr  string
	ProcessMode string // "inline" or "queue"
	JobStore    string // "memory" or "redis"
	StorageType string // "minio" or "s3"
	OCRProvider string // "tesseract" or "textract"
	LLMProvider string // "ollama" or "gemini"

	MaxUploadSizeMB int64
	WorkerCount     int
}

func GetAppConfig() *AppConfig {
	appOnce.Do(func() {
		loadEnv()

		appConfig = &AppConfig{
			ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
			ProcessMode:     getEnv("PROCESS_MODE", "inline"),
			JobStore:        getEnv("JOB_STORE", "memory"),
			StorageType:     getEnv("STORAGE_TYPE", "minio"),
			OCRProvider:     getEnv("OCR_PROVIDER", "tesseract"),
			LLMProvider:     getEnv("LLM_PROVIDER", "ollama"),
			MaxUploadSizeMB: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 50)),
			WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		}
	})
	return appConfig
}
